package ignore

import (
	"io/fs"
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是用户自定义忽略规则所在的文件
const FileName = ".villaignore"

// Matcher 判断一个文件是否应该在批量导入时被跳过
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化忽略匹配器
// rootPath: 导入的根目录 (用于查找 .villaignore 文件)
func NewMatcher(rootPath string) (*Matcher, error) {
	// 1. 系统级默认规则，强制生效
	defaultRules := []string{
		// --- Vault 自身的文件 ---
		// 把一个 Vault 导入另一个 Vault 只会得到一堆密文
		".villa",
		"vault.yml",
		"key.json",
		"hash_index.json",
		".git",

		// --- 安全与配置 ---
		"villa.yaml", // 可能含有 S3 / 数据库口令
		".env",
		FileName,

		// --- 常见垃圾文件 ---
		".DS_Store", // macOS
		"Thumbs.db", // Windows
	}

	// 2. 用户规则与默认规则合并编译
	ignoreFilePath := filepath.Join(rootPath, FileName)
	if _, err := os.Stat(ignoreFilePath); err == nil {
		ignorer, err := gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
		if err != nil {
			return nil, err
		}
		return &Matcher{ignorer: ignorer}, nil
	}
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(defaultRules...)}, nil
}

// Matches 检查给定的路径是否匹配忽略规则
// path: 相对于导入根目录的路径 (例如 "papers/draft.pdf")
func (m *Matcher) Matches(path string) bool {
	if m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}

// Collect 递归列出 root 下所有未被忽略的普通文件 (相对路径，按字典序)
// 被忽略的目录整体跳过，不再深入
func (m *Matcher) Collect(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if m.Matches(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}
