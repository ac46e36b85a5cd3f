// pkg/app/app.go
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"villa/pkg/library"
	"villa/pkg/meta"
	"villa/pkg/refs"
	"villa/pkg/registry"
	"villa/pkg/storage"
	"villa/pkg/storage/cache"
	"villa/pkg/storage/disk"
	"villa/pkg/storage/s3"
	"villa/pkg/vault"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Registry *registry.Registry
	// Catalog 为 nil 表示目录被关闭，Library 只依赖 Vault 本身
	Catalog *meta.Repository
	Logger  *slog.Logger

	catalogDB *meta.DB
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	logger := NewLogger(viper.GetString("log.level"))

	// 1. 打开 Registry；每个 Vault 的对象存储由配置决定
	cfgPath := viper.GetString("registry.config")
	if cfgPath == "" {
		return nil, fmt.Errorf("registry config path not set")
	}
	reg, err := registry.Open(ctx, cfgPath,
		registry.WithLogger(logger),
		registry.WithVaultOptions(func(path string) ([]vault.Option, error) {
			store, err := initStore(ctx, path)
			if err != nil {
				return nil, err
			}
			return []vault.Option{vault.WithStore(store)}, nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	a := &App{Registry: reg, Logger: logger}

	// 2. 目录是可选的投影，打不开只影响查询速度
	if viper.GetBool("catalog.enabled") {
		db, err := meta.NewDB(ctx, catalogConfig())
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		a.catalogDB = db
		a.Catalog = meta.NewRepository(db)
	}

	for path, cause := range reg.Unavailable() {
		logger.Warn("vault unavailable", slog.String("path", path), slog.Any("err", cause))
	}
	return a, nil
}

// Library 为某个 Vault 组装版本化对象模型
func (a *App) Library(v *vault.Vault) *library.Library {
	opts := []library.Option{library.WithLogger(a.Logger)}
	if a.Catalog != nil {
		opts = append(opts, library.WithCatalog(a.Catalog))
	}
	return library.New(v, refs.NewManager(nil, v.Path()), opts...)
}

// Close 关闭所有 Vault (擦除内存中的密钥) 以及目录连接
func (a *App) Close() error {
	err := a.Registry.Close()
	if a.catalogDB != nil {
		err = multierr.Append(err, a.catalogDB.Close())
	}
	return err
}

// NewLogger 根据配置的级别创建输出到 stderr 的结构化日志
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func catalogConfig() meta.Config {
	return meta.Config{
		Driver:   viper.GetString("catalog.driver"),
		Path:     viper.GetString("catalog.path"),
		Host:     viper.GetString("catalog.host"),
		Port:     viper.GetInt("catalog.port"),
		User:     viper.GetString("catalog.user"),
		Password: viper.GetString("catalog.password"),
		DBName:   viper.GetString("catalog.dbname"),
		SSLMode:  viper.GetString("catalog.sslmode"),
		LogSQL:   viper.GetBool("catalog.log_sql"),
	}
}

// initStore 根据 storage.type 为一个 Vault 创建对象存储
// vault.yml / key.json / hash_index.json 始终留在 vaultPath 下
func initStore(ctx context.Context, vaultPath string) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)

	switch t := viper.GetString("storage.type"); t {
	case "", "disk":
		store, err = disk.NewAdapter(nil, filepath.Join(vaultPath, vault.ObjectDir))
		if err != nil {
			return nil, fmt.Errorf("failed to init disk storage: %w", err)
		}
	case "s3":
		// 每个 Vault 用目录名作为 key 前缀，彼此隔离
		prefix := filepath.Base(filepath.Clean(vaultPath))
		if p := viper.GetString("storage.s3.prefix"); p != "" {
			prefix = p + "/" + prefix
		}
		store, err = s3.NewAdapter(ctx, s3.Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			Prefix:          prefix + "/" + vault.ObjectDir,
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 storage: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", t)
	}

	// 可选：Redis 存在性缓存
	if url := viper.GetString("cache.redis_url"); url != "" {
		cached, err := cache.NewCachedStore(store, cache.Config{
			RedisURL:  url,
			TTL:       viper.GetDuration("cache.ttl"),
			Namespace: filepath.Base(filepath.Clean(vaultPath)),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis cache: %w", err)
		}
		store = cached
	}
	return store, nil
}
