package main

import (
	"context"
	"fmt"
	"os"

	"elexis-pipeline/internal/config"
	appCoreLogger "elexis-pipeline/internal/logger"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"            //nolint:gochecknoglobals
	serviceName = "elexis-pipeline" //nolint:gochecknoglobals
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           serviceName,
	Short:         "Elexis async pipeline coordinator",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to config file")
}

func main() {
	bindGlobalFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(serveCmd(), sweepCmd(), enqueueCmd(), uploadStatusCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志，hertz 的 hlog 通过适配器复用同一个 zerolog
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	appCoreLogger.Logger = appCoreLogger.Logger.With().Str("service", serviceName).Logger()

	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
	glog.Info("配置加载成功")
	return cfg, nil
}
