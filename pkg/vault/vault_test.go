package vault

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villa/pkg/keys"
	"villa/pkg/storage"
	"villa/pkg/storage/disk"
	"villa/pkg/types"
)

const testPassword = "correct-horse"

// mustCreate 在临时目录下创建一个加密 Vault
func mustCreate(t *testing.T, dir string) *Vault {
	t.Helper()
	v, err := Create(dir, "photos", testPassword, keys.AES128)
	require.NoError(t, err, "failed to create vault")
	return v
}

// mustReopen 关闭并重新打开 Vault，加载索引并解锁
func mustReopen(t *testing.T, v *Vault, opts ...Option) *Vault {
	t.Helper()
	require.NoError(t, v.Close())

	v2, err := Open(v.Path(), opts...)
	require.NoError(t, err)
	require.NoError(t, v2.LoadIndex())
	if v2.Encrypted() {
		ok, err := v2.Unlock(testPassword)
		require.NoError(t, err)
		require.True(t, ok)
	}
	return v2
}

func TestVault_PlainRoundTrip(t *testing.T) {
	ctx := context.Background()
	v, err := CreatePlain(t.TempDir(), "notes")
	require.NoError(t, err)
	defer v.Close()

	cases := [][]byte{
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xff, 0x00}, 4096),
		[]byte("#starts-with-a-hash"),
	}
	for _, data := range cases {
		h, err := v.Store(ctx, data)
		require.NoError(t, err)
		assert.Equal(t, types.BlobHash(data), h)

		got, err := v.Load(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}

	// 明文 Vault 不维护索引
	assert.Empty(t, v.Entries())
}

func TestVault_EncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := mustCreate(t, t.TempDir())

	data := []byte("the quick brown fox")
	h, err := v.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, types.BlobHash(data), h, "对外的内容哈希与加密无关")

	got, err := v.Load(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// 磁盘上的字节不是明文
	path, err := v.ObjectFile(h)
	require.NoError(t, err)
	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, append([]byte(types.BlobHeader), data...), onDisk)
	assert.NotContains(t, string(onDisk), string(data))
	assert.True(t, bytes.HasPrefix(onDisk, []byte(types.SealedBlobHeader)))

	// 重新打开后依旧可读
	v2 := mustReopen(t, v)
	defer v2.Close()
	got, err = v2.Load(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestVault_EncryptionIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	v := mustCreate(t, t.TempDir())
	defer v.Close()

	data := []byte("same bytes twice")
	h1, err := v.Store(ctx, data)
	require.NoError(t, err)
	h2, err := v.Store(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	entries := v.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].PT, entries[1].PT)
	assert.NotEqual(t, entries[0].CT, entries[1].CT, "每次加密的 nonce 不同，存储哈希也不同")

	got, err := v.Load(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// 两份密文都能各自解回原文
	for i, e := range entries {
		got, err := v.unseal(ctx, e.CT)
		require.NoError(t, err, "entry %d", i)
		assert.Equal(t, data, got, "entry %d", i)
	}

	// 重新打开后，最新的一份胜出，较早的一份仍然可读
	v2 := mustReopen(t, v)
	defer v2.Close()
	entries = v2.Entries()
	require.Len(t, entries, 2)
	got, err = v2.Load(ctx, h1)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	got, err = v2.unseal(ctx, entries[0].CT)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestVault_IntegrityViolation(t *testing.T) {
	ctx := context.Background()

	for _, encrypted := range []bool{true, false} {
		dir := t.TempDir()
		var v *Vault
		var err error
		if encrypted {
			v = mustCreate(t, dir)
		} else {
			v, err = CreatePlain(dir, "plain")
			require.NoError(t, err)
		}

		h, err := v.Store(ctx, []byte("precious data"))
		require.NoError(t, err)

		path, err := v.ObjectFile(h)
		require.NoError(t, err)
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0x01
		require.NoError(t, os.WriteFile(path, raw, 0o600))

		_, err = v.Load(ctx, h)
		assert.ErrorIs(t, err, ErrIntegrityViolation, "encrypted=%v", encrypted)
		require.NoError(t, v.Close())
	}
}

func TestVault_Sharding(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	v, err := CreatePlain(dir, "plain")
	require.NoError(t, err)
	defer v.Close()

	h, err := v.Store(ctx, []byte("shard me"))
	require.NoError(t, err)

	hexStr := h.String()
	expected := filepath.Join(dir, ObjectDir, hexStr[:2], hexStr[2:])
	path, err := v.ObjectFile(h)
	require.NoError(t, err)
	assert.Equal(t, expected, path)
	assert.FileExists(t, expected)
}

func TestVault_StateMachine(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	v, err := Create("/vaults/a", "a", testPassword, keys.AES256, WithFs(fsys))
	require.NoError(t, err)
	assert.Equal(t, StateReady, v.State())
	h, err := v.Store(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, v.Close())
	assert.Equal(t, StateClosed, v.State())
	require.NoError(t, v.Close(), "重复 Close 是空操作")

	_, err = v.Store(ctx, []byte("y"))
	assert.ErrorIs(t, err, ErrVaultNotReady)

	// Open 之后：密钥已加载但仍锁定，索引未加载
	v2, err := Open("/vaults/a", WithFs(fsys))
	require.NoError(t, err)
	defer v2.Close()
	assert.Equal(t, StateKeyLoaded, v2.State())
	assert.True(t, v2.Key().Locked())

	_, err = v2.Load(ctx, h)
	assert.ErrorIs(t, err, ErrHashIndexNotLoaded)
	assert.ErrorIs(t, err, ErrVaultNotReady)

	require.NoError(t, v2.LoadIndex())
	assert.Equal(t, StateReady, v2.State())

	// 索引就绪但密钥锁定
	_, err = v2.Load(ctx, h)
	assert.ErrorIs(t, err, keys.ErrKeyLocked)
	_, err = v2.Store(ctx, []byte("y"))
	assert.ErrorIs(t, err, keys.ErrKeyLocked)

	ok, err := v2.Unlock("wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = v2.Unlock(testPassword)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err := v2.Load(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}

func TestVault_OpenErrors(t *testing.T) {
	fsys := afero.NewMemMapFs()

	_, err := Open("/missing", WithFs(fsys))
	assert.ErrorIs(t, err, ErrVaultNotFound)

	require.NoError(t, fsys.MkdirAll("/empty", 0o700))
	_, err = Open("/empty", WithFs(fsys))
	assert.ErrorIs(t, err, ErrVaultDescriptorMissing)

	v, err := Create("/enc", "enc", testPassword, keys.AES128, WithFs(fsys))
	require.NoError(t, err)
	require.NoError(t, v.Close())

	require.NoError(t, fsys.Remove("/enc/"+HashIndexFile))
	v2, err := Open("/enc", WithFs(fsys))
	require.NoError(t, err)
	assert.ErrorIs(t, v2.LoadIndex(), ErrHashIndexMissing)

	require.NoError(t, fsys.Remove("/enc/"+KeyFile))
	_, err = Open("/enc", WithFs(fsys))
	assert.ErrorIs(t, err, ErrKeyFileMissing)

	_, err = Create("/enc", "again", testPassword, keys.AES128, WithFs(fsys))
	assert.ErrorIs(t, err, ErrVaultExists)
}

func TestVault_PlainVaultRejectsUnlock(t *testing.T) {
	v, err := CreatePlain("/p", "p", WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	defer v.Close()

	_, err = v.Unlock(testPassword)
	assert.ErrorIs(t, err, ErrEncryptionNotEnabled)
	assert.Nil(t, v.Key())
}

func TestVault_DescriptorFormat(t *testing.T) {
	fsys := afero.NewMemMapFs()
	v, err := Create("/v", "photos", testPassword, keys.AES128, WithFs(fsys))
	require.NoError(t, err)
	require.NoError(t, v.Close())

	raw, err := afero.ReadFile(fsys, "/v/"+DescriptorFile)
	require.NoError(t, err)
	assert.YAMLEq(t, "name: photos\nencrypt: true\n", string(raw))

	exists, err := afero.Exists(fsys, "/v/"+KeyFile)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestVault_UnknownHash(t *testing.T) {
	ctx := context.Background()
	v := mustCreate(t, t.TempDir())
	defer v.Close()

	_, err := v.Load(ctx, types.Compute([]byte("never stored")))
	assert.ErrorIs(t, err, ErrUnknownContentHash)

	ok, err := v.Has(ctx, types.Compute([]byte("never stored")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVault_Resolve(t *testing.T) {
	ctx := context.Background()

	for _, encrypted := range []bool{true, false} {
		var v *Vault
		var err error
		if encrypted {
			v = mustCreate(t, t.TempDir())
		} else {
			v, err = CreatePlain(t.TempDir(), "plain")
			require.NoError(t, err)
		}

		h, err := v.Store(ctx, []byte("resolve me"))
		require.NoError(t, err)

		got, err := v.Resolve(ctx, types.HashPrefix(h.String()[:8]))
		require.NoError(t, err)
		assert.Equal(t, h, got)

		_, err = v.Resolve(ctx, types.HashPrefix("ab"))
		assert.ErrorIs(t, err, types.ErrMalformedHash)

		unknown := "0000"
		if h.HasPrefix(types.HashPrefix(unknown)) {
			unknown = "ffff"
		}
		_, err = v.Resolve(ctx, types.HashPrefix(unknown))
		assert.ErrorIs(t, err, ErrUnknownContentHash)
		require.NoError(t, v.Close())
	}
}

// closingStore 记录 Close 被调用的次数
type closingStore struct {
	storage.Store
	closed int
	err    error
}

func (s *closingStore) Close() error {
	s.closed++
	return s.err
}

func TestVault_CloseReleasesObjectStore(t *testing.T) {
	fsys := afero.NewMemMapFs()
	backend, err := disk.NewAdapter(fsys, "/objects")
	require.NoError(t, err)

	objects := &closingStore{Store: backend}
	v, err := CreatePlain("/v", "v", WithFs(fsys), WithStore(objects))
	require.NoError(t, err)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
	assert.Equal(t, 1, objects.closed)

	broken := &closingStore{Store: backend, err: errors.New("connection reset")}
	v2, err := Open("/v", WithFs(fsys), WithStore(broken))
	require.NoError(t, err)
	assert.ErrorContains(t, v2.Close(), "connection reset")
	assert.Equal(t, 1, broken.closed)

	// 打开失败时传入的存储也会被释放
	orphan := &closingStore{Store: backend}
	_, err = Open("/nowhere", WithFs(fsys), WithStore(orphan))
	assert.ErrorIs(t, err, ErrVaultNotFound)
	assert.Equal(t, 1, orphan.closed)
}
