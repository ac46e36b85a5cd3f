package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"villa/pkg/library"
	"villa/pkg/types"
	"villa/pkg/vault"
)

var errNoTerminal = errors.New("no terminal available for password prompt (use --password-file or VILLA_PASSWORD)")

// 从文件或 stdin 读到的口令只读一次，多个 Vault 共用
var cachedPassword *string

// readPassword 依次尝试 --password-file、VILLA_PASSWORD、交互式输入
func readPassword(prompt string) (string, error) {
	if cachedPassword != nil {
		return *cachedPassword, nil
	}

	if passwordFile != "" {
		pw, err := readPasswordFile(passwordFile)
		if err != nil {
			return "", err
		}
		cachedPassword = &pw
		return pw, nil
	}

	if pw := viper.GetString("password"); pw != "" {
		return pw, nil
	}

	// 交互式输入，关闭回显
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// readPasswordFile 读取第一行，去掉结尾的换行 ("-" 表示 stdin)
func readPasswordFile(path string) (string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		defer f.Close()
	}
	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password from %s: %w", path, err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("password file %s is empty", path)
	}
	return pw, nil
}

// unlockVault 在需要时解锁加密 Vault 的密钥
func unlockVault(v *vault.Vault) error {
	if !v.Encrypted() || !v.Key().Locked() {
		return nil
	}
	pw, err := readPassword(fmt.Sprintf("Password for %s: ", v.Name()))
	if err != nil {
		return err
	}
	ok, err := v.Unlock(pw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("wrong password for vault %s", v.Name())
	}
	return nil
}

// openVault 按名称取出 Vault 并解锁
func openVault(name string) (*vault.Vault, error) {
	v, err := V.Registry.Vault(name)
	if err != nil {
		return nil, err
	}
	if err := unlockVault(v); err != nil {
		return nil, err
	}
	return v, nil
}

// openLibrary 打开 Vault 并把用户输入的短 ID 解析成完整的文件 ID
func openLibrary(vaultName, filePrefix string) (*library.Library, types.Hash, error) {
	v, err := openVault(vaultName)
	if err != nil {
		return nil, types.Hash{}, err
	}
	lib := V.Library(v)
	if filePrefix == "" {
		return lib, types.Hash{}, nil
	}
	fileID, err := lib.ResolveFile(types.HashPrefix(filePrefix))
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("invalid file argument '%s': %w", filePrefix, err)
	}
	return lib, fileID, nil
}

// resolveObject 把短哈希展开为 Vault 中的完整内容哈希
func resolveObject(ctx context.Context, v *vault.Vault, prefix string) (types.Hash, error) {
	h, err := v.Resolve(ctx, types.HashPrefix(prefix))
	if err != nil {
		return types.Hash{}, fmt.Errorf("invalid hash argument '%s': %w", prefix, err)
	}
	return h, nil
}
