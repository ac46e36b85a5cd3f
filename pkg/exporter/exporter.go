package exporter

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"villa/pkg/core"
	"villa/pkg/library"
	"villa/pkg/types"
)

type Exporter struct {
	lib *library.Library
	fs  afero.Fs
}

// NewExporter 创建导出器；fsys 为 nil 时写真实文件系统
func NewExporter(lib *library.Library, fsys afero.Fs) *Exporter {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Exporter{lib: lib, fs: fsys}
}

// ExportFile 把文件某个分支的当前内容写入 writer
func (e *Exporter) ExportFile(ctx context.Context, fileID types.Hash, branch string, writer io.Writer) error {
	data, err := e.lib.Read(ctx, fileID, branch)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("failed to write file %s: %w", fileID.Short(), err)
	}
	return nil
}

type RestoreCallback func(path string, fileID types.Hash, size int64)

// RestoreFiles 把 Vault 中所有文件在 branch 上的内容还原到目标目录
// 没有该分支的文件被跳过；同名文件追加短 ID 以免互相覆盖
func (e *Exporter) RestoreFiles(ctx context.Context, targetDir, branch string, onRestore RestoreCallback) (int, error) {
	files, err := e.lib.Files(ctx)
	if err != nil {
		return 0, err
	}
	if err := e.fs.MkdirAll(targetDir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create dir %s: %w", targetDir, err)
	}

	used := make(map[string]bool, len(files))
	restored := 0
	for _, f := range files {
		if _, ok := f.Branch(branch); !ok {
			continue
		}

		name := restoreName(f, used)
		used[name] = true
		fullPath := filepath.Join(targetDir, name)

		// 【技巧】使用匿名函数构建一个 Scope，保证文件句柄及时关闭
		size, err := func() (int64, error) {
			data, err := e.lib.Read(ctx, f.ID(), branch)
			if err != nil {
				return 0, err
			}
			out, err := e.fs.Create(fullPath)
			if err != nil {
				return 0, fmt.Errorf("failed to create file %s: %w", fullPath, err)
			}
			defer out.Close()
			n, err := out.Write(data)
			return int64(n), err
		}()
		if err != nil {
			return restored, err
		}

		restored++
		if onRestore != nil {
			onRestore(fullPath, f.ID(), size)
		}
	}
	return restored, nil
}

// restoreName 只取文件名的最后一段，防止记录里的名字逃出目标目录
func restoreName(f *core.File, used map[string]bool) string {
	name := filepath.Base(filepath.Clean("/" + f.Name))
	if name == "/" || name == "." {
		name = f.ID().Short()
	}
	if !used[name] {
		return name
	}
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "-" + f.ID().Short() + ext
}
