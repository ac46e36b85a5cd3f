// pkg/index/index.go
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/spf13/afero"

	"villa/pkg/types"
)

var ErrMissing = errors.New("hash index file does not exist")

// Entry 代表索引中的一条记录
type Entry struct {
	PT types.Hash `json:"pt"` // 明文哈希 (对外可见)
	CT types.Hash `json:"ct"` // 实际存储载荷的哈希 (可能是密文)
}

// Index 管理一个 Vault 的 明文哈希 -> 存储哈希 映射
// 有序列表保持写入顺序；同一个 pt 可以出现多次 (每次加密的 nonce 不同)，查询时最新的一条生效
type Index struct {
	fs      afero.Fs
	path    string
	Entries []Entry `json:"entries"`
	lookup  map[types.Hash]types.Hash
	mu      sync.RWMutex
}

// New 创建一个空的 Index (尚未落盘)
func New(fsys afero.Fs, indexPath string) *Index {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Index{
		fs:      fsys,
		path:    indexPath,
		Entries: []Entry{},
		lookup:  make(map[types.Hash]types.Hash),
	}
}

// Load 从磁盘读取 Index；文件不存在时返回 ErrMissing
func Load(fsys afero.Fs, indexPath string) (*Index, error) {
	idx := New(fsys, indexPath)

	data, err := afero.ReadFile(idx.fs, indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, fmt.Errorf("corrupted index file: %w", err)
	}
	if idx.Entries == nil {
		idx.Entries = []Entry{}
	}
	for _, e := range idx.Entries {
		idx.lookup[e.PT] = e.CT
	}
	return idx, nil
}

// Append 追加一条记录
func (i *Index) Append(pt, ct types.Hash) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.Entries = append(i.Entries, Entry{PT: pt, CT: ct})
	i.lookup[pt] = ct
}

// Lookup 根据明文哈希查找存储哈希
func (i *Index) Lookup(pt types.Hash) (types.Hash, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	ct, ok := i.lookup[pt]
	return ct, ok
}

// Len 返回记录条数 (包含同一 pt 的重复记录)
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.Entries)
}

// Snapshot 返回当前 Entry 的副本，用于并发安全的读取
func (i *Index) Snapshot() []Entry {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return slices.Clone(i.Entries)
}

// Save 将索引持久化到磁盘
func (i *Index) Save() error {
	i.mu.RLock()
	defer i.mu.RUnlock()

	// 格式化输出 (Indented)，方便人工检查
	data, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		return err
	}
	return afero.WriteFile(i.fs, i.path, data, 0o600)
}

// Path 返回索引文件路径
func (i *Index) Path() string { return i.path }
