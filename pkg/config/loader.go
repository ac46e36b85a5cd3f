package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HomeDir 是 villa 默认的状态目录名 (位于用户主目录下)
const HomeDir = ".villa"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	// 1. 设置默认值 (Defaults)
	setDefaults(home)

	// 2. 配置搜索路径
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .villa
		viper.AddConfigPath(HomeDir)
		// 3. 用户主目录下的 .villa
		viper.AddConfigPath(filepath.Join(home, HomeDir))

		viper.SetConfigType("yaml")
		// 找 villa.yaml；~/.villa/config 是 Registry 的 JSON 文件，不能同名
		viper.SetConfigName("villa")
	}

	// 3. 读取环境变量 (VILLA_CATALOG_DRIVER 等)
	viper.SetEnvPrefix("VILLA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错，可能全靠默认值和环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("⚠️  No config file found, using defaults/env vars")
	} else {
		slog.Debug("🔧 Using config file", slog.String("path", viper.ConfigFileUsed()))
	}

	return nil
}

func setDefaults(home string) {
	base := filepath.Join(home, HomeDir)

	// Registry 默认值
	viper.SetDefault("registry.config", filepath.Join(base, "config"))

	// 目录 (Catalog) 默认值
	viper.SetDefault("catalog.enabled", true)
	viper.SetDefault("catalog.driver", "sqlite")
	viper.SetDefault("catalog.path", filepath.Join(base, "catalog.db"))
	viper.SetDefault("catalog.host", "localhost")
	viper.SetDefault("catalog.port", 5432)
	viper.SetDefault("catalog.sslmode", "disable")

	// 对象存储默认值
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("cache.ttl", 24*time.Hour)

	viper.SetDefault("log.level", "info")
}
