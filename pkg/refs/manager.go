package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"villa/pkg/types"
)

var ErrNoRef = errors.New("ref not found")

// Dir 是 Vault 目录下存放文件引用的子目录
const Dir = "refs/files"

// Ref 把文件 id 指向该文件最新一份 File 记录的内容哈希
type Ref struct {
	FileID types.Hash
	Target types.Hash
}

// Manager 负责管理文件引用
// 每个文件一个小文件: refs/files/<fileID hex>，内容是目标哈希
type Manager struct {
	fs       afero.Fs
	rootPath string
}

func NewManager(fsys afero.Fs, vaultPath string) *Manager {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Manager{fs: fsys, rootPath: filepath.Join(vaultPath, filepath.FromSlash(Dir))}
}

func (m *Manager) refPath(fileID types.Hash) string {
	return filepath.Join(m.rootPath, fileID.String())
}

// Get 读取文件引用；不存在时返回 ErrNoRef
func (m *Manager) Get(fileID types.Hash) (types.Hash, error) {
	data, err := afero.ReadFile(m.fs, m.refPath(fileID))
	if errors.Is(err, os.ErrNotExist) {
		return types.Hash{}, fmt.Errorf("%w: %s", ErrNoRef, fileID.Short())
	}
	if err != nil {
		return types.Hash{}, fmt.Errorf("failed to read ref: %w", err)
	}

	// 清理换行符 (vim 编辑时可能会自动加 \n)
	return types.ParseHash(strings.TrimSpace(string(data)))
}

// Set 更新文件引用
// 先写临时文件再 Rename，读者不会看到写了一半的引用
func (m *Manager) Set(fileID, target types.Hash) error {
	if err := m.fs.MkdirAll(m.rootPath, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(m.fs, m.rootPath, "ref-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(target.String() + "\n"); err != nil {
		tmp.Close()
		m.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		m.fs.Remove(tmpName)
		return err
	}
	if err := m.fs.Rename(tmpName, m.refPath(fileID)); err != nil {
		m.fs.Remove(tmpName)
		return fmt.Errorf("failed to update ref: %w", err)
	}
	return nil
}

// Remove 删除文件引用
func (m *Manager) Remove(fileID types.Hash) error {
	err := m.fs.Remove(m.refPath(fileID))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNoRef, fileID.Short())
	}
	return err
}

// List 按文件 id 排序返回所有引用
func (m *Manager) List() ([]Ref, error) {
	entries, err := afero.ReadDir(m.fs, m.rootPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Ref
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		// 跳过临时文件等非引用文件
		fileID, err := types.ParseHash(e.Name())
		if err != nil {
			continue
		}
		target, err := m.Get(fileID)
		if err != nil {
			return nil, err
		}
		out = append(out, Ref{FileID: fileID, Target: target})
	}
	slices.SortFunc(out, func(a, b Ref) int { return strings.Compare(a.FileID.String(), b.FileID.String()) })
	return out, nil
}
