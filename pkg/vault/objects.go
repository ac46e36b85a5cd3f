package vault

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"villa/pkg/keys"
	"villa/pkg/storage"
	"villa/pkg/types"
)

func (v *Vault) checkReady() error {
	if v.state == StateClosed {
		return ErrVaultNotReady
	}
	if v.index == nil {
		return ErrHashIndexNotLoaded
	}
	return nil
}

// Store 写入一个对象，返回明文内容哈希 BlobHash(plaintext)
//
// 加密 Vault 的落盘载荷为 "blob#" ++ nonce ++ ciphertext，
// 存储键是载荷本身的哈希，并在索引中追加 (明文哈希, 存储键)。
// 同样的明文写两次会产生两份密文 (nonce 不同)，索引以最新为准。
func (v *Vault) Store(ctx context.Context, plaintext []byte) (types.Hash, error) {
	if err := v.checkReady(); err != nil {
		return types.Hash{}, err
	}
	tag := types.BlobHash(plaintext)

	if !v.encrypt {
		payload := make([]byte, 0, len(types.BlobHeader)+len(plaintext))
		payload = append(payload, types.BlobHeader...)
		payload = append(payload, plaintext...)
		if err := v.objects.Put(ctx, tag, payload); err != nil {
			return types.Hash{}, fmt.Errorf("failed to write object: %w", err)
		}
		v.logger.Debug("object stored", slog.String("hash", tag.Short()), slog.Int("size", len(plaintext)))
		return tag, nil
	}

	ct, nonce, err := v.key.Encrypt(plaintext)
	if err != nil {
		return types.Hash{}, err
	}

	payload := make([]byte, 0, len(types.SealedBlobHeader)+len(nonce)+len(ct))
	payload = append(payload, types.SealedBlobHeader...)
	payload = append(payload, nonce...)
	payload = append(payload, ct...)
	stored := types.Compute(payload)

	// 先落盘再登记索引，索引里永远不会出现指向缺失对象的记录
	if err := v.objects.Put(ctx, stored, payload); err != nil {
		return types.Hash{}, fmt.Errorf("failed to write object: %w", err)
	}
	v.index.Append(tag, stored)

	v.logger.Debug("object stored",
		slog.String("hash", tag.Short()),
		slog.String("stored", stored.Short()),
		slog.Int("size", len(plaintext)))
	return tag, nil
}

// Load 读取一个对象并返回明文
// 任何一步哈希对不上都会返回 ErrIntegrityViolation
func (v *Vault) Load(ctx context.Context, tag types.Hash) ([]byte, error) {
	if err := v.checkReady(); err != nil {
		return nil, err
	}

	stored, err := v.storedHash(tag)
	if err != nil {
		return nil, err
	}
	plaintext, err := v.unseal(ctx, stored)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContentHash, tag)
	}
	if err != nil {
		return nil, err
	}

	// 端到端校验：解出的内容必须回到请求的内容哈希
	if types.BlobHash(plaintext) != tag {
		return nil, fmt.Errorf("%w: decrypted content does not match %s", ErrIntegrityViolation, tag)
	}
	return plaintext, nil
}

// unseal 按存储键读出载荷，校验载荷哈希并去掉头部 (加密 Vault 还要解密)
// 同一明文的每一份密文都可以单独用它读回
func (v *Vault) unseal(ctx context.Context, stored types.Hash) ([]byte, error) {
	payload, err := storage.ReadAll(ctx, v.objects, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	// 1. 载荷完整性
	if types.Compute(payload) != stored {
		return nil, fmt.Errorf("%w: object %s", ErrIntegrityViolation, stored)
	}

	if !v.encrypt {
		body, ok := bytes.CutPrefix(payload, []byte(types.BlobHeader))
		if !ok {
			return nil, fmt.Errorf("%w: object %s has no blob header", ErrIntegrityViolation, stored)
		}
		return body, nil
	}

	// 2. 解封
	body, ok := bytes.CutPrefix(payload, []byte(types.SealedBlobHeader))
	if !ok || len(body) < keys.NonceLen {
		return nil, fmt.Errorf("%w: object %s is not a sealed blob", ErrIntegrityViolation, stored)
	}
	return v.key.Decrypt(body[keys.NonceLen:], body[:keys.NonceLen])
}

// Has 判断内容哈希是否已知
func (v *Vault) Has(ctx context.Context, tag types.Hash) (bool, error) {
	if err := v.checkReady(); err != nil {
		return false, err
	}
	if v.encrypt {
		_, ok := v.index.Lookup(tag)
		return ok, nil
	}
	return v.objects.Has(ctx, tag)
}

// Resolve 把十六进制前缀解析为唯一的内容哈希
func (v *Vault) Resolve(ctx context.Context, prefix types.HashPrefix) (types.Hash, error) {
	if err := v.checkReady(); err != nil {
		return types.Hash{}, err
	}
	if err := prefix.Validate(); err != nil {
		return types.Hash{}, err
	}

	matches := make(map[types.Hash]struct{})
	if v.encrypt {
		for _, e := range v.index.Snapshot() {
			if e.PT.HasPrefix(prefix) {
				matches[e.PT] = struct{}{}
			}
		}
	} else {
		err := v.objects.Walk(ctx, func(h types.Hash) error {
			if h.HasPrefix(prefix) {
				matches[h] = struct{}{}
				if len(matches) > 1 {
					return storage.ErrStopWalk
				}
			}
			return nil
		})
		if err != nil {
			return types.Hash{}, err
		}
	}

	switch len(matches) {
	case 0:
		return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownContentHash, prefix)
	case 1:
		for h := range matches {
			return h, nil
		}
	}
	return types.Hash{}, fmt.Errorf("%w: %s", ErrAmbiguousHash, prefix)
}

// ObjectFile 返回内容哈希对应载荷在默认磁盘布局下的路径
// 只对 db/ 磁盘存储有意义
func (v *Vault) ObjectFile(tag types.Hash) (string, error) {
	if err := v.checkReady(); err != nil {
		return "", err
	}
	stored, err := v.storedHash(tag)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.path, ObjectDir, filepath.FromSlash(storage.Layout(stored))), nil
}

func (v *Vault) storedHash(tag types.Hash) (types.Hash, error) {
	if !v.encrypt {
		return tag, nil
	}
	stored, ok := v.index.Lookup(tag)
	if !ok {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrUnknownContentHash, tag)
	}
	return stored, nil
}
