package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"villa/pkg/storage"
	"villa/pkg/types"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	fs       afero.Fs
	rootPath string // 比如: /home/user/vaults/photos/db
}

// NewAdapter 创建一个新的磁盘存储适配器
// fsys 为 nil 时使用真实文件系统
func NewAdapter(fsys afero.Fs, root string) (*Adapter, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	// 确保根目录存在
	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{fs: fsys, rootPath: root}, nil
}

// Path 返回哈希对应的物理路径: root/ab/12...ef
func (s *Adapter) Path(hash types.Hash) string {
	return filepath.Join(s.rootPath, filepath.FromSlash(storage.Layout(hash)))
}

func (s *Adapter) Put(ctx context.Context, hash types.Hash, data []byte) error {
	targetPath := s.Path(hash)

	// 1. 检查是否存在 (幂等性)
	if _, err := s.fs.Stat(targetPath); err == nil {
		return nil
	}

	// 2. 准备目录
	dir := filepath.Dir(targetPath)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 3. 原子写入：先写临时文件，再 Rename
	// 这样保证要么文件不存在，要么文件是完整的。
	tempFile, err := afero.TempFile(s.fs, dir, "temp-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer s.fs.Remove(tempName) // Rename 成功后这里是无害的

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil { // 必须先关闭才能 Rename
		return err
	}

	// 4. 移动到最终位置
	return s.fs.Rename(tempName, targetPath)
}

func (s *Adapter) Get(ctx context.Context, hash types.Hash) (io.ReadCloser, error) {
	f, err := s.fs.Open(s.Path(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Adapter) Has(ctx context.Context, hash types.Hash) (bool, error) {
	_, err := s.fs.Stat(s.Path(hash))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Walk 遍历 root/xx/yyyy 两层目录结构，跳过临时文件和无法解析的名字
func (s *Adapter) Walk(ctx context.Context, fn storage.WalkFunc) error {
	shards, err := afero.ReadDir(s.fs, s.rootPath)
	if err != nil {
		return fmt.Errorf("failed to read storage root: %w", err)
	}

	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		entries, err := afero.ReadDir(s.fs, filepath.Join(s.rootPath, shard.Name()))
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, err := types.ParseHash(shard.Name() + entry.Name())
			if err != nil {
				continue
			}
			if err := fn(h); err != nil {
				if errors.Is(err, storage.ErrStopWalk) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}
