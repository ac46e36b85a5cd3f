package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"villa/pkg/app"
	"villa/pkg/config"
)

var (
	cfgFile      string
	passwordFile string
	// 全局应用实例，供子命令使用
	V *app.App
)

var rootCmd = &cobra.Command{
	Use:          "villa",
	Short:        "Villa: encrypted, content-addressed document vaults",
	SilenceUsage: true,
	// PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if V != nil {
			return nil
		}
		var err error
		V, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize villa: %w", err)
		}
		return nil
	},
}

// Execute 是入口
// 不论命令成功与否都要关闭 App：Vault 的哈希索引只在 Close 时落盘
func Execute() error {
	err := rootCmd.Execute()
	if V != nil {
		err = multierr.Append(err, V.Close())
		V = nil
	}
	return err
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.villa/villa.yaml)")
	rootCmd.PersistentFlags().StringVar(&passwordFile, "password-file", "", "read the vault password from a file ('-' for stdin)")

	// 2. 允许用命令行覆盖配置文件中的值
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("storage-type", "", "object storage backend (disk, s3)")
	for key, flag := range map[string]string{
		"log.level":    "log-level",
		"storage.type": "storage-type",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Println("Failed to bind flag:", err)
			os.Exit(1)
		}
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
