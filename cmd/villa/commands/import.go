package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"villa/pkg/ignore"
)

// 并发读取文件的上限
const readConcurrency = 8

type importItem struct {
	name string // 记录在 File 里的名字
	path string // 磁盘上的路径
}

var importCmd = &cobra.Command{
	Use:   "import [vault] [path...]",
	Short: "Import files as new versioned documents",
	Long: `Import each file as a new document on the master branch.
Directories are walked recursively; .villaignore in the directory root is honoured.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lib, _, err := openLibrary(args[0], "")
		if err != nil {
			return err
		}
		start := time.Now()

		// 1. 收集文件
		var items []importItem
		for _, target := range args[1:] {
			found, err := collect(target)
			if err != nil {
				return err
			}
			items = append(items, found...)
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "⚠️  No files imported.")
			return nil
		}

		// 2. 并发读入内存；写 Vault 必须串行 (索引不是并发安全的)
		contents := make([][]byte, len(items))
		var g errgroup.Group
		g.SetLimit(readConcurrency)
		for i, it := range items {
			g.Go(func() error {
				data, err := os.ReadFile(it.path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", it.path, err)
				}
				contents[i] = data
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// 3. 逐个导入
		var total int64
		for i, it := range items {
			f, _, err := lib.Import(ctx, it.name, contents[i])
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", it.path, err)
			}
			total += int64(len(contents[i]))
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", f.ID().Short(), it.name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Imported %d files (%d bytes) in %s\n", len(items), total, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// collect 展开一个命令行参数：普通文件取文件名，目录取相对路径
func collect(target string) ([]importItem, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []importItem{{name: filepath.Base(target), path: target}}, nil
	}

	matcher, err := ignore.NewMatcher(target)
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}
	rels, err := matcher.Collect(target)
	if err != nil {
		return nil, fmt.Errorf("walk failed: %w", err)
	}
	items := make([]importItem, 0, len(rels))
	for _, rel := range rels {
		items = append(items, importItem{name: filepath.ToSlash(rel), path: filepath.Join(target, rel)})
	}
	return items, nil
}

func init() {
	rootCmd.AddCommand(importCmd)
}
