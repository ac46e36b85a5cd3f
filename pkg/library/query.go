package library

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"villa/pkg/core"
	"villa/pkg/meta"
	"villa/pkg/types"
)

// FileSummary 是文件列表中的一行
type FileSummary struct {
	ID        types.Hash
	Name      string
	FileType  core.FileType
	Branches  int
	Tags      int
	DateAdded int64
}

func summarize(f *core.File) FileSummary {
	return FileSummary{
		ID:        f.ID(),
		Name:      f.Name,
		FileType:  f.FileType,
		Branches:  len(f.Branches),
		Tags:      len(f.Tags),
		DateAdded: f.DateAdded,
	}
}

// Summaries 列出 Vault 中的所有文件，最早添加的在前
// 目录与文件引用一致时直接查目录；否则逐个读取 Vault 中的 File 记录
func (l *Library) Summaries(ctx context.Context) ([]FileSummary, error) {
	if l.catalog != nil {
		out, fresh, err := l.catalogSummaries(ctx)
		if err != nil {
			l.logger.WarnContext(ctx, "catalog query failed, reading vault records", slog.Any("error", err))
		} else if fresh {
			return out, nil
		}
	}

	files, err := l.Files(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FileSummary, 0, len(files))
	for _, f := range files {
		out = append(out, summarize(f))
	}
	slices.SortStableFunc(out, func(a, b FileSummary) int {
		return cmp.Or(cmp.Compare(a.DateAdded, b.DateAdded), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

// catalogSummaries 从目录读出文件列表
// fresh=false 表示目录落后于 Vault (缺文件，或某个文件的记录不是最新的)
func (l *Library) catalogSummaries(ctx context.Context) ([]FileSummary, bool, error) {
	list, err := l.refs.List()
	if err != nil {
		return nil, false, err
	}
	targets := make(map[string]string, len(list))
	for _, r := range list {
		targets[r.FileID.String()] = r.Target.String()
	}

	rows, err := l.catalog.ListFiles(ctx, l.store.Name())
	if err != nil {
		return nil, false, err
	}
	if len(rows) != len(targets) {
		l.logger.DebugContext(ctx, "catalog is stale",
			slog.Int("catalog", len(rows)), slog.Int("refs", len(targets)))
		return nil, false, nil
	}
	for _, row := range rows {
		if targets[row.FileID] != row.Record {
			l.logger.DebugContext(ctx, "catalog is stale", slog.String("file", row.FileID))
			return nil, false, nil
		}
	}

	tagCounts, err := l.catalog.TagCounts(ctx, l.store.Name())
	if err != nil {
		return nil, false, err
	}

	out := make([]FileSummary, 0, len(rows))
	for _, row := range rows {
		s, err := summaryFromRow(row)
		if err != nil {
			return nil, false, err
		}
		s.Tags = tagCounts[row.FileID]
		out = append(out, s)
	}
	return out, true, nil
}

func summaryFromRow(row meta.FileModel) (FileSummary, error) {
	id, err := types.ParseHash(row.FileID)
	if err != nil {
		return FileSummary{}, fmt.Errorf("bad file id in catalog: %w", err)
	}
	var branches map[string]string
	if len(row.Branches) > 0 {
		if err := json.Unmarshal(row.Branches, &branches); err != nil {
			return FileSummary{}, fmt.Errorf("bad branches in catalog: %w", err)
		}
	}
	return FileSummary{
		ID:        id,
		Name:      row.Name,
		FileType:  core.FileType(row.FileType),
		Branches:  len(branches),
		DateAdded: row.DateAdded,
	}, nil
}

// catalogFile 返回目录中与 Vault 一致的文件行；目录缺失或过期时返回 false
func (l *Library) catalogFile(ctx context.Context, fileID types.Hash) (*meta.FileModel, bool) {
	if l.catalog == nil {
		return nil, false
	}
	row, err := l.catalog.GetFile(ctx, l.store.Name(), fileID)
	if err != nil {
		if !errors.Is(err, meta.ErrFileNotFound) {
			l.logger.WarnContext(ctx, "catalog query failed", slog.Any("error", err))
		}
		return nil, false
	}
	target, err := l.refs.Get(fileID)
	if err != nil || target.String() != row.Record {
		return nil, false
	}
	return row, true
}

// Summary 返回单个文件的摘要
func (l *Library) Summary(ctx context.Context, fileID types.Hash) (FileSummary, error) {
	if row, ok := l.catalogFile(ctx, fileID); ok {
		s, err := l.summaryFromCatalog(ctx, *row)
		if err == nil {
			return s, nil
		}
		l.logger.WarnContext(ctx, "catalog query failed, reading vault records", slog.Any("error", err))
	}

	f, err := l.File(ctx, fileID)
	if err != nil {
		return FileSummary{}, err
	}
	return summarize(f), nil
}

func (l *Library) summaryFromCatalog(ctx context.Context, row meta.FileModel) (FileSummary, error) {
	s, err := summaryFromRow(row)
	if err != nil {
		return FileSummary{}, err
	}
	tags, err := l.catalog.TagsForFile(ctx, s.ID)
	if err != nil {
		return FileSummary{}, err
	}
	s.Tags = len(tags)
	return s, nil
}

// TagsByCommit 按提交 id 汇总文件的标签名
func (l *Library) TagsByCommit(ctx context.Context, fileID types.Hash) (map[types.Hash][]string, error) {
	out := make(map[types.Hash][]string)

	if _, ok := l.catalogFile(ctx, fileID); ok {
		tags, err := l.catalog.TagsForFile(ctx, fileID)
		if err == nil {
			for _, t := range tags {
				commit, err := types.ParseHash(t.CommitHash)
				if err != nil {
					return nil, fmt.Errorf("bad tag %s in catalog: %w", t.Name, err)
				}
				out[commit] = append(out[commit], t.Name)
			}
			for _, names := range out {
				slices.Sort(names)
			}
			return out, nil
		}
		l.logger.WarnContext(ctx, "catalog query failed, reading vault records", slog.Any("error", err))
	}

	f, err := l.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	for _, t := range f.Tags {
		out[t.Commit.Hash] = append(out[t.Commit.Hash], t.Name)
	}
	for _, names := range out {
		slices.Sort(names)
	}
	return out, nil
}

// CommitTimes 返回目录记录的各提交时间
// 提交对象本身不带时间戳，没有目录时结果为空
func (l *Library) CommitTimes(ctx context.Context, fileID types.Hash) (map[types.Hash]time.Time, error) {
	out := make(map[types.Hash]time.Time)
	if l.catalog == nil {
		return out, nil
	}
	commits, err := l.catalog.CommitsForFile(ctx, fileID, 0)
	if err != nil {
		return nil, err
	}
	for _, c := range commits {
		h, err := types.ParseHash(c.Hash)
		if err != nil {
			return nil, fmt.Errorf("bad commit in catalog: %w", err)
		}
		out[h] = c.CreatedAt
	}
	return out, nil
}
