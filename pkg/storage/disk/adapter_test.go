package disk

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villa/pkg/storage"
	"villa/pkg/types"
)

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录 (真实文件系统)
	tmpDir := t.TempDir()
	store, err := NewAdapter(nil, tmpDir)
	require.NoError(t, err)

	ctx := context.Background()
	hash := types.MustParseHash("ab12" + strings.Repeat("0", 58) + "ef")

	// 2. 测试 Put
	require.NoError(t, store.Put(ctx, hash, []byte("hello world")))

	// 验证文件是否真的存在于物理磁盘
	// 路径应该是 tmpDir/ab/12...ef
	expectedPath := filepath.Join(tmpDir, "ab", "12"+strings.Repeat("0", 58)+"ef")
	_, err = os.Stat(expectedPath)
	assert.NoError(t, err, "文件应该存在于 Sharding 目录中")
	assert.Equal(t, expectedPath, store.Path(hash))

	// 3. 测试 Has
	exists, err := store.Has(ctx, hash)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Has(ctx, types.Compute([]byte("missing")))
	assert.NoError(t, err)
	assert.False(t, exists)

	// 4. 测试 Get
	reader, err := store.Get(ctx, hash)
	require.NoError(t, err)
	defer reader.Close()

	content, err := io.ReadAll(reader)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello world"), content)

	// 5. 不存在的对象
	_, err = store.Get(ctx, types.Compute([]byte("missing")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDiskAdapter_PutIsIdempotent(t *testing.T) {
	store, err := NewAdapter(afero.NewMemMapFs(), "/vault/db")
	require.NoError(t, err)
	ctx := context.Background()

	h := types.Compute([]byte("A"))
	require.NoError(t, store.Put(ctx, h, []byte("first")))
	require.NoError(t, store.Put(ctx, h, []byte("second")))

	data, err := storage.ReadAll(ctx, store, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data, "CAS: 已存在的对象不会被覆盖")

	// 临时文件不能残留
	entries, err := afero.ReadDir(store.fs, filepath.Dir(store.Path(h)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiskAdapter_Walk(t *testing.T) {
	store, err := NewAdapter(afero.NewMemMapFs(), "/db")
	require.NoError(t, err)
	ctx := context.Background()

	want := []types.Hash{
		types.Compute([]byte("A")),
		types.Compute([]byte("B")),
		types.Compute([]byte("C")),
	}
	for _, h := range want {
		require.NoError(t, store.Put(ctx, h, []byte("x")))
	}
	// 干扰项：不是合法哈希的文件
	require.NoError(t, afero.WriteFile(store.fs, "/db/zz/garbage", []byte("x"), 0o644))

	var got []types.Hash
	require.NoError(t, store.Walk(ctx, func(h types.Hash) error {
		got = append(got, h)
		return nil
	}))
	assert.ElementsMatch(t, want, got)

	// 提前终止
	count := 0
	require.NoError(t, store.Walk(ctx, func(types.Hash) error {
		count++
		return storage.ErrStopWalk
	}))
	assert.Equal(t, 1, count)
}

func TestLayout(t *testing.T) {
	h := types.MustParseHash("ab12" + strings.Repeat("3", 58) + "ef")
	assert.Equal(t, "ab/12"+strings.Repeat("3", 58)+"ef", storage.Layout(h))
}
