package vault

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"villa/pkg/index"
	"villa/pkg/keys"
	"villa/pkg/storage"
	"villa/pkg/storage/disk"
)

// Vault 目录下的固定文件名
const (
	DescriptorFile = "vault.yml"
	KeyFile        = "key.json"
	HashIndexFile  = "hash_index.json"
	ObjectDir      = "db"
)

// State 是 Vault 的生命周期状态
//
//	Opened -> [KeyLoaded] -> Ready -> Closed
//
// Ready 即 "索引已加载"。Closed 是终态。
type State int

const (
	StateOpened State = iota + 1
	StateKeyLoaded
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateKeyLoaded:
		return "key-loaded"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unopened"
	}
}

// descriptor 对应 vault.yml
type descriptor struct {
	Name    string `yaml:"name"`
	Encrypt bool   `yaml:"encrypt"`
}

// Vault 是一个目录支撑的对象仓库，可选加密
// 设计为单进程独占：没有文件锁，也不支持多个进程同时打开同一路径。
type Vault struct {
	name    string
	path    string
	encrypt bool

	key     *keys.Key    // encrypt=false 时为 nil
	index   *index.Index // LoadIndex 之前为 nil
	objects storage.Store

	fs     afero.Fs
	logger *slog.Logger
	state  State
}

type options struct {
	fs      afero.Fs
	objects storage.Store
	logger  *slog.Logger
}

// Option 配置 Vault 的依赖
type Option func(*options)

// WithFs 指定元数据文件 (以及默认对象存储) 所在的文件系统
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

// WithStore 替换默认的 db/ 磁盘对象存储 (例如 S3)
func WithStore(s storage.Store) Option {
	return func(o *options) { o.objects = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func newVault(path, name string, encrypt bool, o options) (*Vault, error) {
	objects := o.objects
	if objects == nil {
		var err error
		objects, err = disk.NewAdapter(o.fs, filepath.Join(path, ObjectDir))
		if err != nil {
			return nil, err
		}
	}
	return &Vault{
		name:    name,
		path:    path,
		encrypt: encrypt,
		objects: objects,
		fs:      o.fs,
		logger:  o.logger.With(slog.String("vault", name)),
	}, nil
}

// Create 创建一个加密的 Vault，返回时索引和已解锁的密钥都已在内存中
func Create(path, name, password string, variant keys.Variant, opts ...Option) (*Vault, error) {
	o := buildOptions(opts)
	if err := prepareDir(o.fs, path); err != nil {
		return nil, err
	}

	key, err := keys.Generate(name, variant, password)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	v, err := newVault(path, name, true, o)
	if err != nil {
		key.Wipe()
		return nil, err
	}
	v.key = key
	if err := v.initialize(); err != nil {
		key.Wipe()
		return nil, err
	}

	v.logger.Info("vault created", slog.String("path", path), slog.String("cipher", variant.String()))
	return v, nil
}

// CreatePlain 创建一个不加密的 Vault
func CreatePlain(path, name string, opts ...Option) (*Vault, error) {
	o := buildOptions(opts)
	if err := prepareDir(o.fs, path); err != nil {
		return nil, err
	}

	v, err := newVault(path, name, false, o)
	if err != nil {
		return nil, err
	}
	if err := v.initialize(); err != nil {
		return nil, err
	}

	v.logger.Info("vault created", slog.String("path", path), slog.String("cipher", "none"))
	return v, nil
}

func prepareDir(fsys afero.Fs, path string) error {
	if _, err := fsys.Stat(filepath.Join(path, DescriptorFile)); err == nil {
		return fmt.Errorf("%w: %s", ErrVaultExists, path)
	}
	if err := fsys.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create vault directory: %w", err)
	}
	return nil
}

// initialize 写出 vault.yml / key.json / 空的 hash_index.json
func (v *Vault) initialize() error {
	v.index = index.New(v.fs, v.indexPath())
	if err := v.writeDescriptor(); err != nil {
		return err
	}
	if err := v.writeKey(); err != nil {
		return err
	}
	if err := v.index.Save(); err != nil {
		return fmt.Errorf("failed to write hash index: %w", err)
	}
	v.state = StateReady
	return nil
}

// Open 读取 vault.yml 以及 (加密时) key.json
// 索引需要单独调用 LoadIndex 加载，密钥需要 Unlock
func Open(path string, opts ...Option) (_ *Vault, err error) {
	o := buildOptions(opts)
	defer func() {
		// 打开失败时由这里释放传入的对象存储
		if err != nil {
			_ = closeStore(o.objects)
		}
	}()

	info, err := o.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	desc, err := readDescriptor(o.fs, path)
	if err != nil {
		return nil, err
	}

	v, err := newVault(path, desc.Name, desc.Encrypt, o)
	if err != nil {
		return nil, err
	}
	v.state = StateOpened

	if desc.Encrypt {
		keyData, err := afero.ReadFile(o.fs, v.keyPath())
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrKeyFileMissing, v.keyPath())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		v.key, err = keys.DecodeRecord(keyData)
		if err != nil {
			return nil, err
		}
		v.state = StateKeyLoaded
	}

	v.logger.Debug("vault opened", slog.String("path", path), slog.Bool("encrypt", desc.Encrypt))
	return v, nil
}

// PeekName 只读取 vault.yml 里的名称，不加载密钥和索引
// 用于在 Vault 打不开时仍能按名称报告原因
func PeekName(path string, opts ...Option) (string, error) {
	o := buildOptions(opts)
	desc, err := readDescriptor(o.fs, path)
	if err != nil {
		return "", err
	}
	return desc.Name, nil
}

func readDescriptor(fsys afero.Fs, path string) (descriptor, error) {
	raw, err := afero.ReadFile(fsys, filepath.Join(path, DescriptorFile))
	if errors.Is(err, os.ErrNotExist) {
		return descriptor{}, fmt.Errorf("%w: %s", ErrVaultDescriptorMissing, path)
	}
	if err != nil {
		return descriptor{}, fmt.Errorf("failed to read vault descriptor: %w", err)
	}

	var desc descriptor
	if err := yaml.Unmarshal(raw, &desc); err != nil {
		return descriptor{}, fmt.Errorf("corrupted vault descriptor: %w", err)
	}
	return desc, nil
}

// LoadIndex 加载 hash_index.json，Vault 进入 Ready 状态
func (v *Vault) LoadIndex() error {
	if v.state == StateClosed {
		return ErrVaultNotReady
	}
	if v.index != nil {
		return nil
	}

	idx, err := index.Load(v.fs, v.indexPath())
	if errors.Is(err, index.ErrMissing) {
		return fmt.Errorf("%w: %s", ErrHashIndexMissing, v.indexPath())
	}
	if err != nil {
		return err
	}
	v.index = idx
	v.state = StateReady
	return nil
}

// Unlock 用口令解锁密钥。口令错误返回 (false, nil)。
func (v *Vault) Unlock(password string) (bool, error) {
	if v.state == StateClosed {
		return false, ErrVaultNotReady
	}
	if !v.encrypt {
		return false, ErrEncryptionNotEnabled
	}
	return v.key.Unlock(password)
}

// Lock 擦除内存中的主密钥
func (v *Vault) Lock() error {
	if !v.encrypt {
		return ErrEncryptionNotEnabled
	}
	v.key.Wipe()
	return nil
}

// Close 把 vault.yml / key.json / hash_index.json 写回磁盘，并擦除密钥
// 只有第一次调用生效，之后的调用是空操作
func (v *Vault) Close() error {
	if v.state == StateClosed {
		return nil
	}

	var err error
	err = multierr.Append(err, v.writeDescriptor())
	err = multierr.Append(err, v.writeKey())
	if v.index != nil {
		err = multierr.Append(err, v.index.Save())
	}
	if v.key != nil {
		v.key.Wipe()
	}
	err = multierr.Append(err, closeStore(v.objects))
	v.state = StateClosed

	v.logger.Debug("vault closed", slog.Int("entries", v.indexLen()))
	return err
}

// closeStore 释放对象存储持有的连接 (例如 Redis 缓存)
func closeStore(s storage.Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (v *Vault) writeDescriptor() error {
	data, err := yaml.Marshal(descriptor{Name: v.name, Encrypt: v.encrypt})
	if err != nil {
		return err
	}
	if err := afero.WriteFile(v.fs, filepath.Join(v.path, DescriptorFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write vault descriptor: %w", err)
	}
	return nil
}

func (v *Vault) writeKey() error {
	if v.key == nil {
		return nil
	}
	data, err := v.key.MarshalJSON()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(v.fs, v.keyPath(), data, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

func (v *Vault) keyPath() string   { return filepath.Join(v.path, KeyFile) }
func (v *Vault) indexPath() string { return filepath.Join(v.path, HashIndexFile) }

func (v *Vault) indexLen() int {
	if v.index == nil {
		return 0
	}
	return v.index.Len()
}

func (v *Vault) Name() string      { return v.name }
func (v *Vault) Path() string      { return v.path }
func (v *Vault) Encrypted() bool   { return v.encrypt }
func (v *Vault) State() State      { return v.state }
func (v *Vault) Key() *keys.Key    { return v.key }
func (v *Vault) IndexLoaded() bool { return v.index != nil }

// Entries 返回索引快照；索引未加载时为 nil
func (v *Vault) Entries() []index.Entry {
	if v.index == nil {
		return nil
	}
	return v.index.Snapshot()
}
