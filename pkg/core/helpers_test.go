package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"villa/pkg/storage"
	"villa/pkg/types"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// mockHash 生成一个确定性的哈希，用于构造引用
func mockHash(input string) types.Hash {
	return types.Compute([]byte(input))
}

// memStore 是一个内存版 ObjectStore，行为与明文 Vault 一致
type memStore struct {
	objects map[types.Hash][]byte
	// tamper 非空时，Load 返回它而不是真实数据
	tamper func([]byte) []byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[types.Hash][]byte)}
}

func (m *memStore) Store(_ context.Context, data []byte) (types.Hash, error) {
	h := types.BlobHash(data)
	m.objects[h] = append([]byte(nil), data...)
	return h, nil
}

func (m *memStore) Load(_ context.Context, h types.Hash) ([]byte, error) {
	data, ok := m.objects[h]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if m.tamper != nil {
		return m.tamper(data), nil
	}
	return data, nil
}

// mustNewCommit 创建 Commit，如果失败直接终止测试
func mustNewCommit(t *testing.T, msg string, entries []CommitEntry, msgAndArgs ...any) *Commit {
	t.Helper()
	c, err := NewCommit(msg, entries)
	require.NoError(t, err, msgAndArgs...)
	return c
}

func mustNewFile(t *testing.T, name string) *File {
	t.Helper()
	f, err := NewFile(name)
	require.NoError(t, err)
	return f
}

func mustPut(t *testing.T, s ObjectStore, obj Storable) types.Hash {
	t.Helper()
	h, err := Put(context.Background(), s, obj)
	require.NoError(t, err)
	return h
}
