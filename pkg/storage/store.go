package storage

import (
	"context"
	"errors"
	"io"
	"path"

	"villa/pkg/types"
)

var (
	ErrNotFound = errors.New("object not found")
	// ErrStopWalk 由 WalkFunc 返回时提前结束遍历，Walk 本身返回 nil
	ErrStopWalk = errors.New("stop walk")
)

// WalkFunc 在遍历时对每个已存储的对象调用一次
type WalkFunc func(hash types.Hash) error

// Store defines the interface for an object backend.
// Vault 只把 "帧头 ++ 载荷" 的原始字节交给它，Hash 由调用者计算。
type Store interface {
	// Put 以 hash 为键持久化 data。已存在时直接返回 (CAS 幂等)
	Put(ctx context.Context, hash types.Hash, data []byte) error

	// Get 根据 Hash 读取原始数据
	// 返回 io.ReadCloser 而不是 []byte，方便后端流式读取
	Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error)

	// Has 检查对象是否存在
	Has(ctx context.Context, hash types.Hash) (bool, error)

	// Walk 枚举所有对象 (用于短哈希展开)
	Walk(ctx context.Context, fn WalkFunc) error
}

// Layout 返回哈希对应的分片路径
// 策略：使用前 2 个字符作为子目录 (Sharding)
// Example: hash "ab12...ef" -> "ab/12...ef"
func Layout(hash types.Hash) string {
	hex := hash.String()
	return path.Join(hex[:2], hex[2:])
}

// ReadAll 是 Get + io.ReadAll 的便捷封装
func ReadAll(ctx context.Context, s Store, hash types.Hash) ([]byte, error) {
	r, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
