package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"villa/pkg/keys"
	"villa/pkg/types"
	"villa/pkg/vault"
)

var (
	ErrUnknownVault   = errors.New("unknown vault")
	ErrDuplicateVault = errors.New("vault already registered")

	// ErrVaultUnavailable 包装 Vault 在打开时的失败原因 (例如缺少 key.json)
	ErrVaultUnavailable = errors.New("vault unavailable")
)

// configKey 是配置文件里保存 Vault 路径列表的键
const configKey = "vaults"

// Registry 持有所有已知 Vault，并负责把写入路由到它们
// 由调用方显式构造 (Open) 和销毁 (Close)，没有全局单例。
type Registry struct {
	cfgPath string
	cfg     *viper.Viper

	// paths 保持配置文件中的顺序 (绝对路径)
	paths       []string
	open        map[string]*vault.Vault
	unavailable map[string]error

	// unavailableNames 记录打不开但 vault.yml 可读的 Vault 名称 (path -> name)
	unavailableNames map[string]string

	opts options
}

type options struct {
	fs        afero.Fs
	logger    *slog.Logger
	home      string
	vaultOpts func(path string) ([]vault.Option, error)
}

type Option func(*options)

// WithFs 指定配置文件以及各 Vault 元数据所在的文件系统
func WithFs(fsys afero.Fs) Option {
	return func(o *options) { o.fs = fsys }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHome 覆盖用于 "~/" 缩写的家目录
func WithHome(home string) Option {
	return func(o *options) { o.home = home }
}

// WithVaultOptions 为每个 Vault 追加额外选项 (例如替换对象存储后端)
func WithVaultOptions(fn func(path string) ([]vault.Option, error)) Option {
	return func(o *options) { o.vaultOpts = fn }
}

// Open 读取配置文件并打开其中列出的每个 Vault
// 打不开的 Vault 记录在 Unavailable() 中，不会让整个 Registry 失败。
// 加密 Vault 打开后仍处于锁定状态，需要 Unlock。
func Open(ctx context.Context, cfgPath string, opts ...Option) (*Registry, error) {
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
	if o.home == "" {
		o.home, _ = os.UserHomeDir()
	}

	r := &Registry{
		cfgPath:          cfgPath,
		cfg:              viper.New(),
		open:             make(map[string]*vault.Vault),
		unavailable:      make(map[string]error),
		unavailableNames: make(map[string]string),
		opts:             o,
	}
	r.cfg.SetFs(o.fs)
	r.cfg.SetConfigFile(cfgPath)
	r.cfg.SetConfigType("json")

	if err := r.cfg.ReadInConfig(); err != nil {
		exists, statErr := afero.Exists(o.fs, cfgPath)
		if statErr != nil || exists {
			return nil, fmt.Errorf("failed to read registry config: %w", err)
		}
		// 第一次运行：配置文件还不存在
		o.logger.DebugContext(ctx, "registry config not found, starting empty", slog.String("path", cfgPath))
	}

	for _, p := range r.cfg.GetStringSlice(configKey) {
		path := r.expand(p)
		if slices.Contains(r.paths, path) {
			o.logger.WarnContext(ctx, "duplicate vault path in config, skipping", slog.String("path", p))
			continue
		}
		r.paths = append(r.paths, path)

		v, err := r.openVault(path)
		if err != nil {
			o.logger.WarnContext(ctx, "vault unavailable", slog.String("path", path), slog.Any("error", err))
			r.unavailable[path] = err
			if name, err := vault.PeekName(path, vault.WithFs(o.fs)); err == nil && name != "" {
				r.unavailableNames[path] = name
			}
			continue
		}
		r.open[path] = v
	}
	return r, nil
}

func (r *Registry) vaultOptions(path string) ([]vault.Option, error) {
	vopts := []vault.Option{vault.WithFs(r.opts.fs), vault.WithLogger(r.opts.logger)}
	if r.opts.vaultOpts != nil {
		extra, err := r.opts.vaultOpts(path)
		if err != nil {
			return nil, err
		}
		vopts = append(vopts, extra...)
	}
	return vopts, nil
}

func (r *Registry) openVault(path string) (*vault.Vault, error) {
	vopts, err := r.vaultOptions(path)
	if err != nil {
		return nil, err
	}
	v, err := vault.Open(path, vopts...)
	if err != nil {
		return nil, err
	}
	if err := v.LoadIndex(); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}

// CreateVault 创建一个加密 Vault 并登记到配置中
func (r *Registry) CreateVault(ctx context.Context, path, name, password string, variant keys.Variant) (*vault.Vault, error) {
	path, err := r.checkNew(path, name)
	if err != nil {
		return nil, err
	}
	vopts, err := r.vaultOptions(path)
	if err != nil {
		return nil, err
	}
	v, err := vault.Create(path, name, password, variant, vopts...)
	if err != nil {
		return nil, err
	}
	return v, r.register(ctx, path, v)
}

// CreatePlainVault 创建一个不加密的 Vault 并登记到配置中
func (r *Registry) CreatePlainVault(ctx context.Context, path, name string) (*vault.Vault, error) {
	path, err := r.checkNew(path, name)
	if err != nil {
		return nil, err
	}
	vopts, err := r.vaultOptions(path)
	if err != nil {
		return nil, err
	}
	v, err := vault.CreatePlain(path, name, vopts...)
	if err != nil {
		return nil, err
	}
	return v, r.register(ctx, path, v)
}

// AddVault 登记一个磁盘上已存在的 Vault
func (r *Registry) AddVault(ctx context.Context, path string) (*vault.Vault, error) {
	path, err := r.checkNew(path, "")
	if err != nil {
		return nil, err
	}
	v, err := r.openVault(path)
	if err != nil {
		return nil, err
	}
	if r.nameTaken(v.Name()) {
		_ = v.Close()
		return nil, fmt.Errorf("%w: name %q", ErrDuplicateVault, v.Name())
	}
	return v, r.register(ctx, path, v)
}

func (r *Registry) checkNew(path, name string) (string, error) {
	path, err := filepath.Abs(r.expand(path))
	if err != nil {
		return "", err
	}
	if slices.Contains(r.paths, path) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateVault, r.abbreviate(path))
	}
	if name != "" && r.nameTaken(name) {
		return "", fmt.Errorf("%w: name %q", ErrDuplicateVault, name)
	}
	return path, nil
}

func (r *Registry) register(ctx context.Context, path string, v *vault.Vault) error {
	r.paths = append(r.paths, path)
	r.open[path] = v
	r.opts.logger.InfoContext(ctx, "vault registered", slog.String("name", v.Name()), slog.String("path", path))
	return r.save()
}

// RemoveVault 按名称或路径注销一个 Vault (不删除磁盘数据)
func (r *Registry) RemoveVault(ctx context.Context, nameOrPath string) error {
	path, err := r.resolve(nameOrPath)
	if err != nil {
		return err
	}

	if v, ok := r.open[path]; ok {
		err = v.Close()
		delete(r.open, path)
	}
	delete(r.unavailable, path)
	delete(r.unavailableNames, path)
	r.paths = slices.DeleteFunc(r.paths, func(p string) bool { return p == path })

	r.opts.logger.InfoContext(ctx, "vault removed", slog.String("path", path))
	return multierr.Append(err, r.save())
}

// Unlock 解锁指定 Vault 的密钥。口令错误返回 (false, nil)。
func (r *Registry) Unlock(name, password string) (bool, error) {
	v, err := r.Vault(name)
	if err != nil {
		return false, err
	}
	return v.Unlock(password)
}

// Vault 按名称或路径查找一个已打开的 Vault
// 登记过但打不开的 Vault 返回 ErrVaultUnavailable，并带上打开时的原因
func (r *Registry) Vault(nameOrPath string) (*vault.Vault, error) {
	path, err := r.resolve(nameOrPath)
	if err != nil {
		return nil, err
	}
	if v, ok := r.open[path]; ok {
		return v, nil
	}
	cause := r.unavailable[path]
	if cause == nil {
		cause = errors.New("not opened")
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrVaultUnavailable, nameOrPath, cause)
}

// find 按名称查找已打开的 Vault，返回其路径
func (r *Registry) find(name string) (string, bool) {
	for _, p := range r.paths {
		if v, ok := r.open[p]; ok && v.Name() == name {
			return p, true
		}
	}
	return "", false
}

// resolve 按名称或路径找到登记过的 Vault (包括打不开的)
func (r *Registry) resolve(nameOrPath string) (string, error) {
	if p, ok := r.find(nameOrPath); ok {
		return p, nil
	}
	for _, p := range r.paths {
		if _, open := r.open[p]; !open && r.unavailableNames[p] == nameOrPath {
			return p, nil
		}
	}
	if abs, err := filepath.Abs(r.expand(nameOrPath)); err == nil && slices.Contains(r.paths, abs) {
		return abs, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVault, nameOrPath)
}

func (r *Registry) nameTaken(name string) bool {
	if _, ok := r.find(name); ok {
		return true
	}
	for _, n := range r.unavailableNames {
		if n == name {
			return true
		}
	}
	return false
}

// Vaults 按配置顺序返回所有已打开的 Vault
func (r *Registry) Vaults() []*vault.Vault {
	out := make([]*vault.Vault, 0, len(r.open))
	for _, p := range r.paths {
		if v, ok := r.open[p]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Unavailable 返回打不开的 Vault 路径及原因
func (r *Registry) Unavailable() map[string]error {
	return maps.Clone(r.unavailable)
}

// KeyInfo 是 `villa key list` 展示的一行
type KeyInfo struct {
	Vault     string
	Name      string
	Variant   keys.Variant
	ShortHash string
	Locked    bool
}

// Keys 列出所有加密 Vault 的密钥信息 (不含任何密钥材料)
func (r *Registry) Keys() []KeyInfo {
	var out []KeyInfo
	for _, v := range r.Vaults() {
		k := v.Key()
		if k == nil {
			continue
		}
		out = append(out, KeyInfo{
			Vault:     v.Name(),
			Name:      k.Name(),
			Variant:   k.Variant(),
			ShortHash: k.ShortHash(),
			Locked:    k.Locked(),
		})
	}
	return out
}

// IngestResult 汇总一次多 Vault 写入的结果
type IngestResult struct {
	Hash      types.Hash
	Succeeded map[string]types.Hash
	Failed    map[string]error
}

// Err 合并所有失败；全部成功时为 nil
func (r *IngestResult) Err() error {
	var err error
	for _, name := range slices.Sorted(maps.Keys(r.Failed)) {
		err = multierr.Append(err, fmt.Errorf("vault %s: %w", name, r.Failed[name]))
	}
	return err
}

// Ingest 把同一份数据写入多个 Vault
// 每个目标独立执行，某个目标失败不会回滚其它目标已经写入的内容。
// targets 为空时写入所有已打开的 Vault。
func (r *Registry) Ingest(ctx context.Context, data []byte, targets []string) *IngestResult {
	res := &IngestResult{
		Hash:      types.BlobHash(data),
		Succeeded: make(map[string]types.Hash),
		Failed:    make(map[string]error),
	}

	if len(targets) == 0 {
		for _, v := range r.Vaults() {
			targets = append(targets, v.Name())
		}
	}

	for _, name := range targets {
		v, err := r.Vault(name)
		if err != nil {
			res.Failed[name] = err
			continue
		}
		h, err := v.Store(ctx, data)
		if err != nil {
			r.opts.logger.WarnContext(ctx, "ingest failed", slog.String("vault", name), slog.Any("error", err))
			res.Failed[name] = err
			continue
		}
		res.Succeeded[name] = h
	}
	return res
}

// Close 关闭所有 Vault (落盘索引并擦除密钥)
func (r *Registry) Close() error {
	var err error
	for _, p := range r.paths {
		if v, ok := r.open[p]; ok {
			err = multierr.Append(err, v.Close())
		}
	}
	clear(r.open)
	return err
}

// save 按顺序写回配置，路径以 "~/" 缩写
func (r *Registry) save() error {
	list := make([]string, 0, len(r.paths))
	for _, p := range r.paths {
		list = append(list, r.abbreviate(p))
	}
	r.cfg.Set(configKey, list)

	if err := r.opts.fs.MkdirAll(filepath.Dir(r.cfgPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := r.cfg.WriteConfigAs(r.cfgPath); err != nil {
		return fmt.Errorf("failed to write registry config: %w", err)
	}
	return nil
}

func (r *Registry) expand(p string) string {
	if r.opts.home == "" {
		return p
	}
	if p == "~" {
		return r.opts.home
	}
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return filepath.Join(r.opts.home, rest)
	}
	return p
}

func (r *Registry) abbreviate(p string) string {
	if r.opts.home == "" {
		return p
	}
	rel, err := filepath.Rel(r.opts.home, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return p
	}
	if rel == "." {
		return "~"
	}
	return "~/" + filepath.ToSlash(rel)
}
