package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"villa/pkg/core"
	"villa/pkg/meta"
	"villa/pkg/refs"
	"villa/pkg/types"
)

var (
	ErrUnknownFile   = errors.New("unknown file")
	ErrAmbiguousFile = errors.New("ambiguous file id prefix")
	ErrHistoryCycle  = errors.New("commit history contains a cycle")
)

const (
	InitialMessage = "Initial Commit"
	UpdateMessage  = "Update"
)

// Store 是 Library 需要的对象存储；*vault.Vault 满足这个接口
type Store interface {
	core.ObjectStore
	Name() string
}

// Library 在单个 Vault 上实现文件的版本化：导入、更新、打标签、查看历史
// Vault 中的记录是权威数据，catalog 只是可重建的查询投影 (可以为 nil)。
type Library struct {
	store   Store
	refs    *refs.Manager
	catalog *meta.Repository
	logger  *slog.Logger
}

type Option func(*Library)

// WithCatalog 把每次修改同步投影到 SQL 目录
func WithCatalog(repo *meta.Repository) Option {
	return func(l *Library) { l.catalog = repo }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

func New(store Store, refMgr *refs.Manager, opts ...Option) *Library {
	l := &Library{
		store:  store,
		refs:   refMgr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("vault", store.Name()))
	return l
}

// Import 导入一个新文件：存储内容，创建根提交与 master 分支
func (l *Library) Import(ctx context.Context, name string, data []byte) (*core.File, *core.Commit, error) {
	// 1. 内容
	blob, err := l.store.Store(ctx, data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store content: %w", err)
	}

	// 2. 文件与根提交
	f, err := core.NewFile(name)
	if err != nil {
		return nil, nil, err
	}
	c, err := core.NewCommit(InitialMessage, []core.CommitEntry{core.NewEntry(f.ID(), nil, blob)})
	if err != nil {
		return nil, nil, err
	}
	if _, err := core.Put(ctx, l.store, c); err != nil {
		return nil, nil, fmt.Errorf("failed to store commit: %w", err)
	}

	// 3. 分支
	if _, err := f.AddBranch(core.DefaultBranch, c.ID()); err != nil {
		return nil, nil, err
	}
	if err := l.saveFile(ctx, f); err != nil {
		return nil, nil, err
	}

	l.project(ctx, f, c, core.DefaultBranch)
	l.logger.InfoContext(ctx, "file imported",
		slog.String("name", name),
		slog.String("file", f.ID().Short()),
		slog.String("blob", blob.Short()))
	return f, c, nil
}

// Update 在分支上提交新内容，新提交的 parent 是分支当前的 head
func (l *Library) Update(ctx context.Context, fileID types.Hash, branch string, data []byte, message string) (*core.Commit, error) {
	f, err := l.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	b, ok := f.Branch(branch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoBranch, branch)
	}
	if message == "" {
		message = UpdateMessage
	}

	blob, err := l.store.Store(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	parent := b.Head.Hash
	c, err := core.NewCommit(message, []core.CommitEntry{core.NewEntry(f.ID(), &parent, blob)})
	if err != nil {
		return nil, err
	}
	if _, err := core.Put(ctx, l.store, c); err != nil {
		return nil, fmt.Errorf("failed to store commit: %w", err)
	}

	if err := f.SetHead(branch, c.ID()); err != nil {
		return nil, err
	}
	if err := l.saveFile(ctx, f); err != nil {
		return nil, err
	}

	l.project(ctx, f, c, branch)
	l.logger.InfoContext(ctx, "file updated",
		slog.String("file", f.ID().Short()),
		slog.String("branch", branch),
		slog.String("commit", c.ID().Short()))
	return c, nil
}

// CreateBranch 从已有分支的 head 分叉出一个新分支
func (l *Library) CreateBranch(ctx context.Context, fileID types.Hash, name, from string) (*core.Branch, error) {
	f, err := l.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	src, ok := f.Branch(from)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoBranch, from)
	}
	b, err := f.AddBranch(name, src.Head.Hash)
	if err != nil {
		return nil, err
	}
	if err := l.saveFile(ctx, f); err != nil {
		return nil, err
	}

	l.project(ctx, f, nil, name)
	return b, nil
}

// Tag 给文件的某个提交打标签；commitID 为零值时使用 master 的 head
func (l *Library) Tag(ctx context.Context, fileID types.Hash, name string, commitID types.Hash) (*core.Tag, error) {
	f, err := l.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if commitID.IsZero() {
		b, ok := f.Branch(core.DefaultBranch)
		if !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrNoBranch, core.DefaultBranch)
		}
		commitID = b.Head.Hash
	}

	// 提交必须存在并且涉及这个文件
	c, err := core.LoadCommit(ctx, l.store, commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", commitID.Short(), err)
	}
	if _, ok := c.Entry(f.ID()); !ok {
		return nil, fmt.Errorf("%w: commit %s does not touch file %s", ErrUnknownFile, commitID.Short(), f.ID().Short())
	}

	t, err := f.AddTag(name, commitID)
	if err != nil {
		return nil, err
	}
	if _, err := core.Put(ctx, l.store, t); err != nil {
		return nil, fmt.Errorf("failed to store tag: %w", err)
	}
	if err := l.saveFile(ctx, f); err != nil {
		return nil, err
	}

	if l.catalog != nil {
		if err := l.catalog.IndexTag(ctx, l.store.Name(), f.ID(), t); err != nil {
			l.logger.WarnContext(ctx, "catalog projection failed", slog.Any("error", err))
			return t, nil
		}
	}
	l.project(ctx, f, nil, "")
	return t, nil
}

// File 读取文件的最新记录
func (l *Library) File(ctx context.Context, fileID types.Hash) (*core.File, error) {
	target, err := l.refs.Get(fileID)
	if errors.Is(err, refs.ErrNoRef) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, fileID.Short())
	}
	if err != nil {
		return nil, err
	}
	return core.LoadFile(ctx, l.store, target)
}

// Files 返回 Vault 中的所有文件 (按文件 id 排序)
func (l *Library) Files(ctx context.Context) ([]*core.File, error) {
	list, err := l.refs.List()
	if err != nil {
		return nil, err
	}
	out := make([]*core.File, 0, len(list))
	for _, r := range list {
		f, err := core.LoadFile(ctx, l.store, r.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to load file %s: %w", r.FileID.Short(), err)
		}
		out = append(out, f)
	}
	return out, nil
}

// ResolveFile 把十六进制前缀解析为唯一的文件 id
func (l *Library) ResolveFile(prefix types.HashPrefix) (types.Hash, error) {
	if err := prefix.Validate(); err != nil {
		return types.Hash{}, err
	}
	list, err := l.refs.List()
	if err != nil {
		return types.Hash{}, err
	}

	var found []types.Hash
	for _, r := range list {
		if r.FileID.HasPrefix(prefix) {
			found = append(found, r.FileID)
		}
	}
	switch len(found) {
	case 0:
		return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownFile, prefix)
	case 1:
		return found[0], nil
	default:
		return types.Hash{}, fmt.Errorf("%w: %s", ErrAmbiguousFile, prefix)
	}
}

// History 沿着该文件的 parent 链从分支 head 走到根修订，最新的在前
func (l *Library) History(ctx context.Context, fileID types.Hash, branch string) ([]*core.Commit, error) {
	f, err := l.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	b, ok := f.Branch(branch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoBranch, branch)
	}

	var history []*core.Commit
	seen := make(map[types.Hash]struct{})
	next, more := b.Head.Hash, true
	for more {
		if _, dup := seen[next]; dup {
			return nil, fmt.Errorf("%w at %s", ErrHistoryCycle, next.Short())
		}
		seen[next] = struct{}{}

		c, err := core.LoadCommit(ctx, l.store, next)
		if err != nil {
			return nil, fmt.Errorf("failed to load commit %s: %w", next.Short(), err)
		}
		history = append(history, c)

		e, ok := c.Entry(fileID)
		if !ok {
			return nil, fmt.Errorf("%w: commit %s does not touch file %s", ErrUnknownFile, next.Short(), fileID.Short())
		}
		next, more = e.ParentID()
	}
	return history, nil
}

// Read 返回分支 head 上该文件的内容
func (l *Library) Read(ctx context.Context, fileID types.Hash, branch string) ([]byte, error) {
	f, err := l.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	b, ok := f.Branch(branch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoBranch, branch)
	}
	return l.ReadAt(ctx, fileID, b.Head.Hash)
}

// ReadAt 返回某个提交中该文件的内容
func (l *Library) ReadAt(ctx context.Context, fileID, commitID types.Hash) ([]byte, error) {
	c, err := core.LoadCommit(ctx, l.store, commitID)
	if err != nil {
		return nil, err
	}
	e, ok := c.Entry(fileID)
	if !ok {
		return nil, fmt.Errorf("%w: commit %s does not touch file %s", ErrUnknownFile, commitID.Short(), fileID.Short())
	}
	return l.store.Load(ctx, e.Blob.Hash)
}

// saveFile 存储新的 File 记录并移动文件引用
func (l *Library) saveFile(ctx context.Context, f *core.File) error {
	if _, err := core.Put(ctx, l.store, f); err != nil {
		return fmt.Errorf("failed to store file record: %w", err)
	}
	if err := l.refs.Set(f.ID(), f.ContentID()); err != nil {
		return fmt.Errorf("failed to update file ref: %w", err)
	}
	return nil
}

// project 把修改同步到 catalog
// 失败只记日志：Vault 已经落盘，目录可以之后重建
// 文件行最后写入：它的 Record 与文件引用一致，就说明之前的提交和标签都已投影
func (l *Library) project(ctx context.Context, f *core.File, c *core.Commit, branch string) {
	if l.catalog == nil {
		return
	}
	vaultName := l.store.Name()

	if c != nil {
		if err := l.catalog.IndexCommit(ctx, vaultName, c); err != nil {
			l.logger.WarnContext(ctx, "catalog projection failed", slog.Any("error", err))
			return
		}
	}
	if err := l.catalog.IndexFile(ctx, vaultName, f); err != nil {
		l.logger.WarnContext(ctx, "catalog projection failed", slog.Any("error", err))
	}

	b, ok := f.Branch(branch)
	if !ok {
		return
	}
	name := meta.RefName(vaultName, f.ID(), branch)
	var version int64
	if ref, err := l.catalog.GetRef(ctx, name); err == nil {
		version = ref.Version
	}
	if err := l.catalog.UpdateRef(ctx, name, b.Head.Hash, version); err != nil {
		l.logger.WarnContext(ctx, "catalog ref update failed", slog.String("ref", name), slog.Any("error", err))
	}
}

// Reindex 根据 Vault 中的记录重建目录投影
func (l *Library) Reindex(ctx context.Context) (int, error) {
	if l.catalog == nil {
		return 0, nil
	}
	files, err := l.Files(ctx)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		for _, b := range f.Branches {
			history, err := l.History(ctx, f.ID(), b.Name)
			if err != nil {
				return 0, err
			}
			for _, c := range history {
				if err := l.catalog.IndexCommit(ctx, l.store.Name(), c); err != nil {
					return 0, err
				}
			}
		}
		for _, t := range f.Tags {
			if err := l.catalog.IndexTag(ctx, l.store.Name(), f.ID(), t); err != nil {
				return 0, err
			}
		}
		if err := l.catalog.IndexFile(ctx, l.store.Name(), f); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}
