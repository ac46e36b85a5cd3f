package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"villa/pkg/library"
	"villa/pkg/types"
)

// setupIntegrationEnv 搭建一个使用 真实文件系统 + SQLite 目录 的集成环境
// 所有状态都在临时 HOME 下，口令通过 VILLA_PASSWORD 提供
func setupIntegrationEnv(t *testing.T) string {
	viper.Reset()
	t.Cleanup(viper.Reset)

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("VILLA_PASSWORD", "correct-horse")
	return home
}

// resetFlags 把所有命令的参数恢复成默认值，cobra 在多次 Execute 之间不会自动清理
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runVilla 模拟一次进程调用：villa <args...>
func runVilla(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	cachedPassword = nil

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runVilla(t, args...)
	require.NoError(t, err, "villa %s\n%s", strings.Join(args, " "), out)
	return out
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// shortIDFor 从 import 的输出中找到某个文件名对应的短 ID
func shortIDFor(t *testing.T, out, name string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == name {
			return fields[0]
		}
	}
	t.Fatalf("file %s not found in output:\n%s", name, out)
	return ""
}

func TestIntegration_VaultLifecycle(t *testing.T) {
	home := setupIntegrationEnv(t)
	docs := filepath.Join(home, "vaults", "docs")
	pub := filepath.Join(home, "vaults", "pub")

	// 1. 创建一个加密 Vault 和一个明文 Vault
	out := mustRun(t, "vault", "create", docs)
	assert.Contains(t, out, "Created encrypted vault docs")
	out = mustRun(t, "vault", "create", "--plain", "--name", "public", pub)
	assert.Contains(t, out, "Created plain vault public")

	out = mustRun(t, "vault", "list")
	assert.Contains(t, out, "docs")
	assert.Contains(t, out, "public")

	out = mustRun(t, "key", "list")
	assert.Contains(t, out, "AES-256")
	assert.Contains(t, out, "locked")

	// 2. 同一份内容写入所有 Vault，哈希相同
	src := filepath.Join(home, "note.txt")
	writeFile(t, src, "meet at noon")
	want := types.BlobHash([]byte("meet at noon")).String()

	out = mustRun(t, "store", src)
	assert.Contains(t, out, want)
	assert.Contains(t, out, "✅ docs")
	assert.Contains(t, out, "✅ public")

	// 3. 新进程中按短哈希读回 (哈希索引已在上一次退出时落盘)
	out = mustRun(t, "cat", "docs", want[:10])
	assert.Equal(t, "meet at noon", out)
	out = mustRun(t, "cat", "public", want[:10])
	assert.Equal(t, "meet at noon", out)

	// 4. 重复路径不能再登记
	_, err := runVilla(t, "vault", "add", docs)
	assert.Error(t, err)

	// 5. 忘记 Vault 之后它就不在列表中了
	mustRun(t, "vault", "remove", "public")
	out = mustRun(t, "vault", "list")
	assert.NotContains(t, out, "public")
}

func TestIntegration_DocumentFlow(t *testing.T) {
	home := setupIntegrationEnv(t)
	docs := filepath.Join(home, "vaults", "docs")
	mustRun(t, "vault", "create", "--cipher", "aes128", docs)

	// 1. 批量导入，.villaignore 生效
	srcDir := filepath.Join(home, "papers")
	writeFile(t, filepath.Join(srcDir, "a.txt"), "alpha v1")
	writeFile(t, filepath.Join(srcDir, "notes", "b.md"), "# beta")
	writeFile(t, filepath.Join(srcDir, "debug.log"), "noise")
	writeFile(t, filepath.Join(srcDir, ".villaignore"), "*.log\n")

	out := mustRun(t, "import", "docs", srcDir)
	assert.Contains(t, out, "Imported 2 files")
	assert.NotContains(t, out, "debug.log")
	aID := shortIDFor(t, out, "a.txt")
	shortIDFor(t, out, "notes/b.md")

	out = mustRun(t, "ls", "docs")
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "notes/b.md")

	// 2. 新版本与历史
	v2 := filepath.Join(home, "a-v2.txt")
	writeFile(t, v2, "alpha v2")
	out = mustRun(t, "update", "docs", aID, v2, "-m", "second draft")
	assert.Contains(t, out, "[master ")
	assert.Contains(t, out, "second draft")

	out = mustRun(t, "log", "docs", aID)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[len(lines)-2], "second draft")
	assert.Contains(t, lines[len(lines)-1], library.InitialMessage)

	// 3. 标签与分支
	out = mustRun(t, "tag", "docs", aID, "v2")
	assert.Contains(t, out, "v2 ->")
	out = mustRun(t, "branch", "docs", aID, "review")
	assert.Contains(t, out, "review ->")
	_, err := runVilla(t, "branch", "docs", aID, "review")
	assert.Error(t, err)

	// log 在被标记的提交上显示标签名，ls 显示标签数
	out = mustRun(t, "log", "docs", aID)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines[len(lines)-2], "v2")
	assert.NotContains(t, lines[len(lines)-1], "v2")
	out = mustRun(t, "ls", "docs")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "a.txt") {
			assert.Equal(t, []string{"2", "1"}, strings.Fields(line)[3:5], "branches, tags")
		}
	}

	// 4. 导出当前版本
	outDir := filepath.Join(home, "out")
	out = mustRun(t, "export", "docs", outDir)
	assert.Contains(t, out, "Exported 2 files")
	data, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha v2", string(data))

	// 5. 目录可以从 Vault 重建
	out = mustRun(t, "reindex", "docs")
	assert.Contains(t, out, "Reindexed 2 files")
}

func TestIntegration_WrongPassword(t *testing.T) {
	home := setupIntegrationEnv(t)
	mustRun(t, "vault", "create", filepath.Join(home, "vaults", "docs"))

	t.Setenv("VILLA_PASSWORD", "wrong")
	_, err := runVilla(t, "ls", "docs")
	assert.ErrorContains(t, err, "wrong password")

	// 口令文件优先于环境变量
	pwFile := filepath.Join(home, "pw")
	writeFile(t, pwFile, "correct-horse\n")
	out := mustRun(t, "key", "check", "--password-file", pwFile, "docs")
	assert.Contains(t, out, "Password OK")
}
