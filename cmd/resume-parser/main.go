// resume-parser HTTP 服务入口
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"github.com/devil3515/resume-parser/internal/api/handler"
	"github.com/devil3515/resume-parser/internal/api/router"
	"github.com/devil3515/resume-parser/internal/config"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/outbox"
	"github.com/devil3515/resume-parser/internal/tracing"
)

func main() {
	var (
		configPath  string
		storageMode string
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时在默认位置查找")
	pflag.StringVar(&storageMode, "storage", storageMySQL, "存储后端: mysql 或 memory")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logCloser, err := initLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	if err := run(cfg, storageMode); err != nil {
		logger.Error().Err(err).Msg("服务异常退出")
		os.Exit(1)
	}
}

// initLogger 初始化全局 zerolog，并让 Hertz 的 hlog 复用同一个实例
func initLogger(cfg config.LoggerConfig) (io.Closer, error) {
	closer, err := logger.Init(logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
		File:         cfg.File,
	})
	if err != nil {
		return nil, err
	}
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	if cfg.Level == "debug" {
		hlog.SetLevel(hlog.LevelDebug)
	} else {
		hlog.SetLevel(hlog.LevelInfo)
	}
	return closer, nil
}

func run(cfg *config.Config, storageMode string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	deps, err := newBackends(ctx, cfg, storageMode)
	if err != nil {
		return err
	}
	defer deps.close()

	svcs, err := newServices(ctx, cfg, deps)
	if err != nil {
		return err
	}

	var relay *outbox.MessageRelay
	if deps.store != nil && deps.store.RabbitMQ != nil && cfg.Outbox.Enabled {
		relay = outbox.NewMessageRelay(deps.store.MySQL.DB(), deps.store.RabbitMQ,
			outbox.WithPollingInterval(config.GetDuration(cfg.Outbox.PollInterval, 5*time.Second)),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithMaxRetryCount(cfg.Outbox.MaxRetries),
		)
		relay.Start(ctx)
		logger.Info().Msg("发件箱中继已启动")
	} else {
		logger.Info().Msg("发件箱中继未启用")
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		// 留出 multipart 边界和表单字段的余量
		server.WithMaxRequestBodySize(int(cfg.Upload.MaxSizeBytes())+1<<20),
		server.WithExitWaitTime(config.GetDuration(cfg.Server.ShutdownTimeout, 10*time.Second)),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))

	router.RegisterRoutes(h, router.Handlers{
		Health:  handler.NewHealthHandler(deps.health),
		Resume:  handler.NewResumeHandler(svcs.resumes, svcs.matches),
		Auth:    handler.NewAuthHandler(svcs.auth),
		Billing: handler.NewBillingHandler(svcs.billing),
	}, svcs.tokens, cfg.Server.AllowOrigins)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Server.Address).Str("storage", storageMode).Msg("HTTP 服务启动")
		errCh <- h.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("接收到终止信号，正在优雅退出")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务退出: %w", err)
		}
	}

	if relay != nil {
		relay.Stop()
		logger.Info().Msg("发件箱中继已停止")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		config.GetDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer shutdownCancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("关闭 HTTP 服务失败: %w", err)
	}
	logger.Info().Msg("优雅退出完成")
	return nil
}
