package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"elexis-pipeline/internal/api/handler"
	"elexis-pipeline/internal/api/router"
	"elexis-pipeline/internal/config"
	appCoreLogger "elexis-pipeline/internal/logger"
	"elexis-pipeline/internal/outbox"
	"elexis-pipeline/internal/pipeline"

	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var noHTTP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Consume the pipeline queue, relay the outbox and serve the ops API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg, !noHTTP)
		},
	}
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "do not start the ops HTTP server")
	return cmd
}

func serve(cfg *config.Config, withHTTP bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	relay := outbox.NewMessageRelay(a.storage.MySQL.DB(), a.storage.RabbitMQ, cfg.Outbox, appCoreLogger.Component("outbox"))
	relay.Start(ctx)
	glog.Info("消息中继服务已启动")

	dispatcher := pipeline.NewDispatcher(a.pipeline, a.locks, pipeline.DispatcherConfigFromConfig(cfg), appCoreLogger.Component("dispatcher"))
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx, a.storage.RabbitMQ)
	}()

	if cfg.Sweep.Enabled {
		sweeper := pipeline.NewSweeper(a.pipeline, a.locks, config.GetDuration(cfg.Sweep.Interval, 5*time.Minute), appCoreLogger.Component("sweeper"))
		go sweeper.Run(ctx)
	}

	var h interface {
		Shutdown(context.Context) error
	}
	if withHTTP && cfg.Server.Address != "" {
		ops := handler.NewOpsHandler(a.pipeline, a.storage.RabbitMQ, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey,
			appCoreLogger.Component("ops"), handler.WithSignedURLTTL(config.GetDuration(cfg.MinIO.SignedURLTTL, 0)))
		srv := router.NewServer(cfg.Server.Address, ops, cfg.Server.APIKeys)
		h = srv
		glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		go func() {
			if err := srv.Run(); err != nil {
				glog.Errorf("HTTP服务器退出: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	if h != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := h.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("服务器关闭失败: %v", err)
		}
	}

	cancel()
	<-dispatcherDone
	relay.Stop()
	glog.Info("优雅退出完成")
	return nil
}
