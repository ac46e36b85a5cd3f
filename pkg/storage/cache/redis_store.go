package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"villa/pkg/storage"
	"villa/pkg/types"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
type CachedStore struct {
	backend   storage.Store // 被装饰的底层存储 (如 S3)
	client    *redis.Client
	ttl       time.Duration
	namespace string
}

type Config struct {
	RedisURL string        // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 过期时间
	// Namespace 区分不同 Vault 的键空间，通常是 Vault 名
	Namespace string
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newCachedStore(backend, client, cfg), nil
}

func newCachedStore(backend storage.Store, client *redis.Client, cfg Config) *CachedStore {
	return &CachedStore{
		backend:   backend,
		client:    client,
		ttl:       cfg.TTL,
		namespace: cfg.Namespace,
	}
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(hash types.Hash) string {
	return "villa:obj:" + s.namespace + ":" + hash.String()
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, hash types.Hash) (bool, error) {
	key := s.cacheKey(hash)

	val, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		// 缓存故障降级：退化为无缓存模式，直接查底层
		slog.Warn("redis exists failed, falling back to backend", slog.Any("err", err))
	} else if val > 0 {
		return true, nil
	}

	found, err := s.backend.Has(ctx, hash)
	if err != nil {
		return false, err
	}

	// 缓存回填 (同步执行，Vault 的操作本身就是串行的)
	if found {
		if err := s.client.Set(ctx, key, "1", s.ttl).Err(); err != nil {
			slog.Warn("redis fill failed", slog.Any("err", err))
		}
	}
	return found, nil
}

// Put 利用 Has 的缓存能力进行预检
func (s *CachedStore) Put(ctx context.Context, hash types.Hash, data []byte) error {
	exists, err := s.Has(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if err := s.backend.Put(ctx, hash, data); err != nil {
		return err
	}

	// 只有底层写成功了，才写 Redis；失败不影响主流程
	if err := s.client.Set(ctx, s.cacheKey(hash), "1", s.ttl).Err(); err != nil {
		slog.Warn("redis set failed", slog.Any("err", err))
	}
	return nil
}

// Get 透传 - 不缓存对象数据，只缓存存在性
func (s *CachedStore) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	return s.backend.Get(ctx, hash)
}

// Walk 透传
func (s *CachedStore) Walk(ctx context.Context, fn storage.WalkFunc) error {
	return s.backend.Walk(ctx, fn)
}

// Close 释放 Redis 连接
func (s *CachedStore) Close() error {
	return s.client.Close()
}
