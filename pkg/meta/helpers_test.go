package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"villa/pkg/core"
	"villa/pkg/types"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

func mockHash(input string) types.Hash {
	return types.Compute([]byte(input))
}

// mustNewCommit 创建只含一个文件修订的 Commit
func mustNewCommit(t *testing.T, fileID types.Hash, parent *types.Hash, blob types.Hash, msg string, msgAndArgs ...any) *core.Commit {
	t.Helper()
	c, err := core.NewCommit(msg, []core.CommitEntry{core.NewEntry(fileID, parent, blob)})
	require.NoError(t, err, msgAndArgs...)
	return c
}

// mustIndexCommit 强制索引 Commit，失败则终止
func mustIndexCommit(t *testing.T, repo *Repository, vault string, c *core.Commit, msgAndArgs ...any) {
	t.Helper()
	err := repo.IndexCommit(context.Background(), vault, c)
	require.NoError(t, err, msgAndArgs...)
}

// mustUpdateRef 强制更新引用，失败则终止
func mustUpdateRef(t *testing.T, repo *Repository, name string, newHash types.Hash, oldVersion int64, msgAndArgs ...any) {
	t.Helper()
	err := repo.UpdateRef(context.Background(), name, newHash, oldVersion)
	require.NoError(t, err, msgAndArgs...)
}
