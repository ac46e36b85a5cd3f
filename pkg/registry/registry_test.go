package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villa/pkg/keys"
	"villa/pkg/types"
	"villa/pkg/vault"
)

const (
	home     = "/home/alice"
	cfgPath  = "/home/alice/.villa/config"
	password = "correct-horse"
)

func mustOpen(t *testing.T, fsys afero.Fs) *Registry {
	t.Helper()
	r, err := Open(context.Background(), cfgPath, WithFs(fsys), WithHome(home))
	require.NoError(t, err, "failed to open registry")
	return r
}

func readConfig(t *testing.T, fsys afero.Fs) []string {
	t.Helper()
	raw, err := afero.ReadFile(fsys, cfgPath)
	require.NoError(t, err)
	var cfg struct {
		Vaults []string `json:"vaults"`
	}
	require.NoError(t, json.Unmarshal(raw, &cfg))
	return cfg.Vaults
}

func TestRegistry_EmptyOnFirstRun(t *testing.T) {
	r := mustOpen(t, afero.NewMemMapFs())
	defer r.Close()

	assert.Empty(t, r.Vaults())
	assert.Empty(t, r.Unavailable())
	assert.Empty(t, r.Keys())
}

func TestRegistry_CreateAndReopen(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	r := mustOpen(t, fsys)
	_, err := r.CreateVault(ctx, "~/vaults/photos", "photos", password, keys.AES128)
	require.NoError(t, err)
	_, err = r.CreatePlainVault(ctx, "/srv/notes", "notes")
	require.NoError(t, err)

	// 配置按顺序保存，家目录下的路径以 ~/ 缩写
	assert.Equal(t, []string{"~/vaults/photos", "/srv/notes"}, readConfig(t, fsys))

	_, err = r.CreatePlainVault(ctx, "/srv/other", "notes")
	assert.ErrorIs(t, err, ErrDuplicateVault)
	_, err = r.CreatePlainVault(ctx, "/srv/notes", "again")
	assert.ErrorIs(t, err, ErrDuplicateVault)
	require.NoError(t, r.Close())

	r2 := mustOpen(t, fsys)
	defer r2.Close()
	vs := r2.Vaults()
	require.Len(t, vs, 2)
	assert.Equal(t, "photos", vs[0].Name())
	assert.Equal(t, "notes", vs[1].Name())

	ks := r2.Keys()
	require.Len(t, ks, 1)
	assert.Equal(t, "photos", ks[0].Vault)
	assert.Equal(t, keys.AES128, ks[0].Variant)
	assert.True(t, ks[0].Locked, "重新打开后密钥需要解锁")
	assert.Len(t, ks[0].ShortHash, 7)

	ok, err := r2.Unlock("photos", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r2.Unlock("photos", password)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r2.Unlock("notes", password)
	assert.ErrorIs(t, err, vault.ErrEncryptionNotEnabled)
}

func TestRegistry_PartialIngest(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	r := mustOpen(t, fsys)
	_, err := r.CreatePlainVault(ctx, "/vaults/a", "a")
	require.NoError(t, err)
	_, err = r.CreateVault(ctx, "/vaults/b", "b", password, keys.AES256)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// 重新打开：b 的密钥处于锁定状态，写入必然失败
	r = mustOpen(t, fsys)
	defer r.Close()

	data := []byte("one payload, many vaults")
	res := r.Ingest(ctx, data, []string{"a", "b"})

	assert.Equal(t, types.BlobHash(data), res.Hash)
	require.Contains(t, res.Succeeded, "a")
	assert.Equal(t, res.Hash, res.Succeeded["a"])
	require.Contains(t, res.Failed, "b")
	assert.ErrorIs(t, res.Failed["b"], keys.ErrKeyLocked)
	assert.ErrorIs(t, res.Err(), keys.ErrKeyLocked)
	assert.ErrorContains(t, res.Err(), "vault b")

	// a 的写入没有被回滚
	va, err := r.Vault("a")
	require.NoError(t, err)
	got, err := va.Load(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestRegistry_UnavailableVault(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	r := mustOpen(t, fsys)
	_, err := r.CreatePlainVault(ctx, "/vaults/a", "a")
	require.NoError(t, err)
	_, err = r.CreateVault(ctx, "/vaults/b", "b", password, keys.AES128)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	require.NoError(t, fsys.Remove("/vaults/b/"+vault.KeyFile))

	r = mustOpen(t, fsys)
	defer r.Close()
	require.Len(t, r.Vaults(), 1)
	unavailable := r.Unavailable()
	require.Contains(t, unavailable, "/vaults/b")
	assert.ErrorIs(t, unavailable["/vaults/b"], vault.ErrKeyFileMissing)

	// 按名称或路径写入 b 都会得到打开时的具体原因
	res := r.Ingest(ctx, []byte("x"), []string{"a", "b", "/vaults/b", "ghost"})
	assert.Contains(t, res.Succeeded, "a")
	for _, target := range []string{"b", "/vaults/b"} {
		require.Contains(t, res.Failed, target)
		assert.ErrorIs(t, res.Failed[target], ErrVaultUnavailable, target)
		assert.ErrorIs(t, res.Failed[target], vault.ErrKeyFileMissing, target)
	}
	assert.ErrorIs(t, res.Failed["ghost"], ErrUnknownVault)
	assert.NotErrorIs(t, res.Failed["ghost"], ErrVaultUnavailable)
	assert.ErrorIs(t, res.Err(), vault.ErrKeyFileMissing)

	_, err = r.Unlock("b", password)
	assert.ErrorIs(t, err, vault.ErrKeyFileMissing)

	// 名称仍被占用，修好之前不能再用
	_, err = r.CreatePlainVault(ctx, "/vaults/c", "b")
	assert.ErrorIs(t, err, ErrDuplicateVault)

	// 不可用的 Vault 仍保留在配置中
	require.NoError(t, r.RemoveVault(ctx, "a"))
	assert.Equal(t, []string{"/vaults/b"}, readConfig(t, fsys))
	require.NoError(t, r.RemoveVault(ctx, "b"))
	assert.Empty(t, readConfig(t, fsys))

	assert.ErrorIs(t, r.RemoveVault(ctx, "ghost"), ErrUnknownVault)
}

func TestRegistry_DuplicatePathsSkipped(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	_, err := vault.CreatePlain("/home/alice/v", "v", vault.WithFs(fsys))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fsys, cfgPath,
		[]byte(`{"vaults":["~/v","/home/alice/v"]}`), 0o600))

	r := mustOpen(t, fsys)
	defer r.Close()
	assert.Len(t, r.Vaults(), 1)

	_, err = r.AddVault(ctx, "/home/alice/v")
	assert.ErrorIs(t, err, ErrDuplicateVault)
}

func TestRegistry_AddExisting(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()

	v, err := vault.Create("/mnt/usb/vault", "usb", password, keys.AES192, vault.WithFs(fsys))
	require.NoError(t, err)
	require.NoError(t, v.Close())

	r := mustOpen(t, fsys)
	defer r.Close()
	added, err := r.AddVault(ctx, "/mnt/usb/vault")
	require.NoError(t, err)
	assert.Equal(t, "usb", added.Name())
	assert.Equal(t, []string{"/mnt/usb/vault"}, readConfig(t, fsys))

	_, err = r.AddVault(ctx, "/mnt/nothing")
	assert.ErrorIs(t, err, vault.ErrVaultNotFound)
}

func TestRegistry_IngestAllByDefault(t *testing.T) {
	ctx := context.Background()
	r := mustOpen(t, afero.NewMemMapFs())
	defer r.Close()

	_, err := r.CreatePlainVault(ctx, "/a", "a")
	require.NoError(t, err)
	_, err = r.CreateVault(ctx, "/b", "b", password, keys.AES128)
	require.NoError(t, err)

	res := r.Ingest(ctx, []byte("everywhere"), nil)
	assert.NoError(t, res.Err())
	assert.Len(t, res.Succeeded, 2)
}

func TestAbbreviate(t *testing.T) {
	r := &Registry{opts: options{home: home}}
	assert.Equal(t, "~/x/y", r.abbreviate("/home/alice/x/y"))
	assert.Equal(t, "~", r.abbreviate("/home/alice"))
	assert.Equal(t, "/home/alicex", r.abbreviate("/home/alicex"))
	assert.Equal(t, "/tmp/z", r.abbreviate("/tmp/z"))
	assert.Equal(t, "/home/alice/x/y", r.expand("~/x/y"))
	assert.Equal(t, "/tmp/z", r.expand("/tmp/z"))
}
