package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"villa/pkg/core"
	"villa/pkg/types"
)

var (
	ErrRefNotFound      = errors.New("reference not found")
	ErrConcurrentUpdate = errors.New("concurrent update detected (CAS failed)")
	ErrFileNotFound     = errors.New("file not found in catalog")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// RefName 拼出分支指针的名字
func RefName(vault string, fileID types.Hash, branch string) string {
	return vault + "/" + fileID.String() + "/" + branch
}

// -----------------------------------------------------------------------------
// 1. 分支指针 (CAS)
// -----------------------------------------------------------------------------

func (r *Repository) GetRef(ctx context.Context, name string) (*Ref, error) {
	var ref Ref
	err := r.db.GetConn().WithContext(ctx).
		Where("name = ?", name).
		First(&ref).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// UpdateRef 原子更新引用 (CAS - Compare And Swap)
// oldVersion: 之前读到的版本号，0 表示创建。版本号不匹配说明有人抢先改了。
func (r *Repository) UpdateRef(ctx context.Context, name string, newHash types.Hash, oldVersion int64) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 场景 A: 第一次创建 (Create)
		if oldVersion == 0 {
			ref := Ref{
				Name:       name,
				CommitHash: newHash.String(),
				Version:    1,
			}
			if err := tx.Create(&ref).Error; err != nil {
				// 兼容性: 处理不同数据库 (PG 与 SQLite) 的唯一约束错误
				if errors.Is(err, gorm.ErrDuplicatedKey) ||
					strings.Contains(err.Error(), "UNIQUE constraint failed") {
					return ErrConcurrentUpdate
				}
				return fmt.Errorf("failed to create ref: %w", err)
			}
			return nil
		}

		// 场景 B: 更新现有引用
		// SQL: UPDATE refs SET commit_hash = ?, version = version + 1 WHERE name = ? AND version = ?
		result := tx.Model(&Ref{}).
			Where("name = ? AND version = ?", name, oldVersion).
			Updates(map[string]any{
				"commit_hash": newHash.String(),
				"version":     gorm.Expr("version + 1"),
				"updated_at":  time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}

		// 影响行数为 0，说明 version 不匹配
		if result.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		return nil
	})
}

// -----------------------------------------------------------------------------
// 2. 文件
// -----------------------------------------------------------------------------

// IndexFile 写入或刷新文件投影 (以 vault + file id 为键)
func (r *Repository) IndexFile(ctx context.Context, vault string, f *core.File) error {
	branches := make(map[string]string, len(f.Branches))
	for _, b := range f.Branches {
		branches[b.Name] = b.Head.Hash.String()
	}
	branchesJSON, err := json.Marshal(branches)
	if err != nil {
		return fmt.Errorf("failed to marshal branches: %w", err)
	}

	model := FileModel{
		Vault:     vault,
		FileID:    f.ID().String(),
		Name:      f.Name,
		FileType:  string(f.FileType),
		DateAdded: f.DateAdded,
		Record:    f.ContentID().String(),
		Branches:  datatypes.JSON(branchesJSON),
	}

	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vault"}, {Name: "file_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "record", "branches", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index file: %w", err)
	}
	return nil
}

func (r *Repository) GetFile(ctx context.Context, vault string, fileID types.Hash) (*FileModel, error) {
	var f FileModel
	err := r.db.GetConn().WithContext(ctx).
		Where("vault = ? AND file_id = ?", vault, fileID.String()).
		First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFiles 按添加时间列出文件；vault 为空时列出所有 Vault
func (r *Repository) ListFiles(ctx context.Context, vault string) ([]FileModel, error) {
	var files []FileModel
	q := r.db.GetConn().WithContext(ctx)
	if vault != "" {
		q = q.Where("vault = ?", vault)
	}
	err := q.Order("date_added ASC").Order("name ASC").Find(&files).Error
	return files, err
}

// -----------------------------------------------------------------------------
// 3. 提交索引 (Commit Indexing)
// -----------------------------------------------------------------------------

type entryJSON struct {
	File   string `json:"file"`
	Parent string `json:"parent,omitempty"`
	Blob   string `json:"blob"`
}

// IndexCommit 将 core.Commit 对象 "投影" 到 SQL 数据库中 (幂等)
func (r *Repository) IndexCommit(ctx context.Context, vault string, c *core.Commit) error {
	entries := make([]entryJSON, 0, len(c.Entries))
	rows := make([]CommitEntryModel, 0, len(c.Entries))
	for _, e := range c.Entries {
		ej := entryJSON{File: e.FileID.String(), Blob: e.Blob.Hash.String()}
		if p, ok := e.ParentID(); ok {
			ej.Parent = p.String()
		}
		entries = append(entries, ej)
		rows = append(rows, CommitEntryModel{
			CommitHash: c.ID().String(),
			FileID:     ej.File,
			ParentHash: ej.Parent,
			BlobHash:   ej.Blob,
		})
	}
	entriesJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	model := CommitModel{
		Hash:    c.ID().String(),
		Vault:   vault,
		Message: c.Message,
		Entries: datatypes.JSON(entriesJSON),
	}

	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 如果 Hash 已存在，则什么都不做 (Do Nothing)
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoNothing: true,
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("failed to index commit: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("failed to index commit entries: %w", err)
		}
		return nil
	})
}

// CommitsForFile 返回涉及某个文件的所有提交，最新的在前
func (r *Repository) CommitsForFile(ctx context.Context, fileID types.Hash, limit int) ([]CommitModel, error) {
	var commits []CommitModel
	q := r.db.GetConn().WithContext(ctx).
		Joins("JOIN commit_entries ON commit_entries.commit_hash = commits.hash").
		Where("commit_entries.file_id = ?", fileID.String()).
		Order("commits.created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&commits).Error
	return commits, err
}

// -----------------------------------------------------------------------------
// 4. 标签
// -----------------------------------------------------------------------------

func (r *Repository) IndexTag(ctx context.Context, vault string, fileID types.Hash, t *core.Tag) error {
	model := TagModel{
		TagID:      t.ID().String(),
		Vault:      vault,
		FileID:     fileID.String(),
		Name:       t.Name,
		CommitHash: t.Commit.Hash.String(),
	}
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tag_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index tag: %w", err)
	}
	return nil
}

func (r *Repository) TagsForFile(ctx context.Context, fileID types.Hash) ([]TagModel, error) {
	var tags []TagModel
	err := r.db.GetConn().WithContext(ctx).
		Where("file_id = ?", fileID.String()).
		Order("name ASC").
		Find(&tags).Error
	return tags, err
}

// TagCounts 统计某个 Vault 中每个文件的标签数，键为文件 id
func (r *Repository) TagCounts(ctx context.Context, vault string) (map[string]int, error) {
	var rows []struct {
		FileID string
		N      int
	}
	err := r.db.GetConn().WithContext(ctx).
		Model(&TagModel{}).
		Select("file_id, count(*) AS n").
		Where("vault = ?", vault).
		Group("file_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.FileID] = row.N
	}
	return counts, nil
}
