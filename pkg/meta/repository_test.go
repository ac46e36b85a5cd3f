package meta

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"villa/pkg/core"
)

// setupTestRepo 构建隔离的测试环境
func setupTestRepo(t *testing.T) *Repository {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	metaDB := NewWithConn(db)
	require.NoError(t, metaDB.AutoMigrate(Models()...))

	return NewRepository(metaDB)
}

// -----------------------------------------------------------------------------
// 测试用例
// -----------------------------------------------------------------------------

func TestRepository_CommitLifecycle(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	fileID := mockHash("file")
	parent := mockHash("parent")
	c := mustNewCommit(t, fileID, &parent, mockHash("blob"), "Update", "Failed to create commit")

	mustIndexCommit(t, repo, "photos", c, "First index should succeed")

	found, err := repo.CommitsForFile(ctx, fileID, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	stored := found[0]
	assert.Equal(t, c.ID().String(), stored.Hash)
	assert.Equal(t, "photos", stored.Vault)
	assert.Equal(t, "Update", stored.Message)

	expectedJSON := fmt.Sprintf(`[{"file":"%s","parent":"%s","blob":"%s"}]`, fileID, parent, mockHash("blob"))
	assert.JSONEq(t, expectedJSON, string(stored.Entries))

	none, err := repo.CommitsForFile(ctx, mockHash("missing"), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_IndexCommit_Idempotency(t *testing.T) {
	repo := setupTestRepo(t)
	c := mustNewCommit(t, mockHash("f"), nil, mockHash("b"), "Initial Commit")

	mustIndexCommit(t, repo, "v", c, "1st write failed")
	mustIndexCommit(t, repo, "v", c, "2nd write (idempotency check) failed")

	var count int64
	err := repo.db.GetConn().Model(&CommitModel{}).Where("hash = ?", c.ID().String()).Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "Should have exactly 1 record after duplicate inserts")

	err = repo.db.GetConn().Model(&CommitEntryModel{}).Where("commit_hash = ?", c.ID().String()).Count(&count).Error
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRepository_CommitsForFile(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	fileA, fileB := mockHash("a"), mockHash("b")
	c1 := mustNewCommit(t, fileA, nil, mockHash("a1"), "a1")
	c1ID := c1.ID()
	c2 := mustNewCommit(t, fileA, &c1ID, mockHash("a2"), "a2")
	c3 := mustNewCommit(t, fileB, nil, mockHash("b1"), "b1")

	// 一个同时涉及两个文件的变更集
	both, err := core.NewCommit("both", []core.CommitEntry{
		core.NewEntry(fileA, nil, mockHash("a3")),
		core.NewEntry(fileB, nil, mockHash("b2")),
	})
	require.NoError(t, err)

	for _, c := range []*core.Commit{c1, c2, c3, both} {
		mustIndexCommit(t, repo, "v", c)
	}

	results, err := repo.CommitsForFile(ctx, fileA, 0)
	require.NoError(t, err)
	var hashes []string
	for _, r := range results {
		hashes = append(hashes, r.Hash)
	}
	assert.ElementsMatch(t, []string{c1.ID().String(), c2.ID().String(), both.ID().String()}, hashes)

	limited, err := repo.CommitsForFile(ctx, fileB, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRepository_Files(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	f, err := core.NewFile("paper.pdf")
	require.NoError(t, err)
	_, err = f.AddBranch(core.DefaultBranch, mockHash("c1"))
	require.NoError(t, err)
	require.NoError(t, repo.IndexFile(ctx, "docs", f))

	got, err := repo.GetFile(ctx, "docs", f.ID())
	require.NoError(t, err)
	assert.Equal(t, "paper.pdf", got.Name)
	assert.Equal(t, string(core.FilePDF), got.FileType)
	assert.Equal(t, f.ContentID().String(), got.Record)
	assert.JSONEq(t, fmt.Sprintf(`{"master":"%s"}`, mockHash("c1")), string(got.Branches))

	// 刷新投影
	require.NoError(t, f.SetHead(core.DefaultBranch, mockHash("c2")))
	require.NoError(t, repo.IndexFile(ctx, "docs", f))
	got, err = repo.GetFile(ctx, "docs", f.ID())
	require.NoError(t, err)
	assert.Equal(t, f.ContentID().String(), got.Record)

	other, err := core.NewFile("notes.md")
	require.NoError(t, err)
	require.NoError(t, repo.IndexFile(ctx, "notes", other))

	all, err := repo.ListFiles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	docs, err := repo.ListFiles(ctx, "docs")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, f.ID().String(), docs[0].FileID)

	_, err = repo.GetFile(ctx, "docs", other.ID())
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestRepository_Tags(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	fileID := mockHash("f")
	tag, err := core.NewTag("v1", mockHash("c1"))
	require.NoError(t, err)

	require.NoError(t, repo.IndexTag(ctx, "v", fileID, tag))
	require.NoError(t, repo.IndexTag(ctx, "v", fileID, tag), "重复写入是幂等的")

	tags, err := repo.TagsForFile(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "v1", tags[0].Name)
	assert.Equal(t, mockHash("c1").String(), tags[0].CommitHash)

	tag2, err := core.NewTag("v2", mockHash("c2"))
	require.NoError(t, err)
	require.NoError(t, repo.IndexTag(ctx, "v", fileID, tag2))
	other, err := core.NewTag("v1", mockHash("c9"))
	require.NoError(t, err)
	require.NoError(t, repo.IndexTag(ctx, "elsewhere", mockHash("g"), other))

	counts, err := repo.TagCounts(ctx, "v")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{fileID.String(): 2}, counts)
}

func TestRepository_Ref_CAS(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	refName := RefName("v", mockHash("f"), core.DefaultBranch)
	hashV1 := mockHash("v1")
	hashV2 := mockHash("v2")

	// 1. 首次创建
	mustUpdateRef(t, repo, refName, hashV1, 0, "Initial creation failed")

	ref, err := repo.GetRef(ctx, refName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.Version)

	// 2. 模拟并发冲突
	err = repo.UpdateRef(ctx, refName, hashV2, 999)
	assert.ErrorIs(t, err, ErrConcurrentUpdate, "Should fail when version mismatches")

	// 3. 正常更新
	mustUpdateRef(t, repo, refName, hashV2, 1, "Valid update failed")

	ref, err = repo.GetRef(ctx, refName)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ref.Version)
	assert.Equal(t, hashV2.String(), ref.CommitHash)

	_, err = repo.GetRef(ctx, "nope")
	assert.ErrorIs(t, err, ErrRefNotFound)
}

func TestRepository_Ref_ConcurrentCreate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	refName := RefName("v", mockHash("f"), core.DefaultBranch)

	// 1. 用户 A 抢先创建成功
	mustUpdateRef(t, repo, refName, mockHash("A"), 0)

	// 2. 用户 B 晚了一步，但也以为 oldVersion 是 0
	err := repo.UpdateRef(ctx, refName, mockHash("B"), 0)
	assert.ErrorIs(t, err, ErrConcurrentUpdate, "Concurrent creation should return CAS error")
}

func TestNewDB_Sqlite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")

	db, err := NewDB(ctx, Config{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	defer db.Close()
	assert.FileExists(t, path)

	repo := NewRepository(db)
	mustIndexCommit(t, repo, "v", mustNewCommit(t, mockHash("f"), nil, mockHash("b"), "m"))

	_, err = NewDB(ctx, Config{Driver: "mysql"})
	assert.ErrorContains(t, err, "unsupported catalog driver")
	_, err = NewDB(ctx, Config{Driver: "sqlite"})
	assert.ErrorContains(t, err, "path is required")
}
