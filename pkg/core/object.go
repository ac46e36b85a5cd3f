package core

import (
	"context"
	"errors"
	"fmt"

	"villa/pkg/types"
)

// ObjectType 是记录里的类型标识
type ObjectType string

const (
	TypeFile   ObjectType = "file"
	TypeBranch ObjectType = "branch"
	TypeCommit ObjectType = "commit"
	TypeTag    ObjectType = "tag"
)

var (
	ErrIDMismatch   = errors.New("object id mismatch")
	ErrTypeMismatch = errors.New("object type mismatch")
)

// Storable 是所有可以存进 Vault 的记录的通用接口
type Storable interface {
	Type() ObjectType

	// ContentID 返回序列化形式的内容哈希，即 Vault.Store 会返回的值
	ContentID() types.Hash

	// Bytes 返回序列化数据 (用于存储)
	Bytes() []byte
}

// ObjectStore 只处理原始字节和哈希；*vault.Vault 满足这个接口
type ObjectStore interface {
	Store(ctx context.Context, data []byte) (types.Hash, error)
	Load(ctx context.Context, hash types.Hash) ([]byte, error)
}

// sealed 记录在构造或修改后重新计算 hash 与 rawBytes
type sealed interface {
	Storable
	seal() error
}

// Put 存储一个记录，并校验存储层返回的哈希与记录自己的 ContentID 一致
func Put(ctx context.Context, s ObjectStore, obj Storable) (types.Hash, error) {
	h, err := s.Store(ctx, obj.Bytes())
	if err != nil {
		return types.Hash{}, err
	}
	if h != obj.ContentID() {
		return types.Hash{}, fmt.Errorf("%w: stored %s as %s, expected %s", ErrIDMismatch, obj.Type(), h.Short(), obj.ContentID().Short())
	}
	return h, nil
}

// get 读取、解码、重新编码并校验
// 除了 Vault 自身的完整性校验之外，再确认记录的规范编码仍然落在同一个 id 上
func get(ctx context.Context, s ObjectStore, id types.Hash, want ObjectType, out sealed) error {
	data, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	if types.BlobHash(data) != id {
		return fmt.Errorf("%w: loaded bytes hash to %s, expected %s", ErrIDMismatch, types.BlobHash(data).Short(), id.Short())
	}

	got, err := PeekType(data)
	if err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", want, id.Short(), err)
	}
	if got != want {
		return fmt.Errorf("%w: %s is a %s, expected %s", ErrTypeMismatch, id.Short(), got, want)
	}

	if err := DecodeObject(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", want, id.Short(), err)
	}
	if err := out.seal(); err != nil {
		return err
	}
	if out.ContentID() != id {
		return fmt.Errorf("%w: %s re-encodes to %s", ErrIDMismatch, id.Short(), out.ContentID().Short())
	}
	return nil
}

func LoadFile(ctx context.Context, s ObjectStore, id types.Hash) (*File, error) {
	f := &File{}
	if err := get(ctx, s, id, TypeFile, f); err != nil {
		return nil, err
	}
	for _, b := range f.Branches {
		if err := b.seal(); err != nil {
			return nil, err
		}
	}
	for _, t := range f.Tags {
		if err := t.seal(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func LoadCommit(ctx context.Context, s ObjectStore, id types.Hash) (*Commit, error) {
	c := &Commit{}
	if err := get(ctx, s, id, TypeCommit, c); err != nil {
		return nil, err
	}
	return c, nil
}

func LoadBranch(ctx context.Context, s ObjectStore, id types.Hash) (*Branch, error) {
	b := &Branch{}
	if err := get(ctx, s, id, TypeBranch, b); err != nil {
		return nil, err
	}
	return b, nil
}

func LoadTag(ctx context.Context, s ObjectStore, id types.Hash) (*Tag, error) {
	t := &Tag{}
	if err := get(ctx, s, id, TypeTag, t); err != nil {
		return nil, err
	}
	return t, nil
}
