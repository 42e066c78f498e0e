package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gltrack/telemetry-server/internal/api"
	"github.com/gltrack/telemetry-server/internal/bus"
	"github.com/gltrack/telemetry-server/internal/config"
	"github.com/gltrack/telemetry-server/internal/live"
	"github.com/gltrack/telemetry-server/internal/metrics"
	"github.com/gltrack/telemetry-server/internal/publisher"
	"github.com/gltrack/telemetry-server/internal/server"
	"github.com/gltrack/telemetry-server/internal/storage"
)

func main() {
	// 命令行参数
	configPath := pflag.StringP("config", "c", "config/data-server.yml", "配置文件路径")
	validateOnly := pflag.Bool("validate", false, "仅验证配置文件")
	showConfig := pflag.Bool("show-config", false, "显示配置并退出")
	migrateOnly := pflag.Bool("migrate", false, "执行数据库迁移后退出")
	pflag.Parse()

	// 设置日志
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("加载配置失败")
	}

	setupLogging(cfg.Log)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("✅ 配置文件验证通过")
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Str("database", cfg.Database.Driver).
		Str("bus", cfg.Bus.Backend).
		Msg("Data Server 启动")

	// 连接数据库
	store, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("连接数据库失败")
	}
	defer store.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx)
	cancelMigrate()
	if err != nil {
		log.Fatal().Err(err).Msg("数据库迁移失败")
	}
	if *migrateOnly {
		fmt.Println("✅ 数据库迁移完成")
		return
	}

	// 连接消息总线
	b, err := bus.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Bus.Backend).Msg("连接消息总线失败")
	}
	defer b.Close()
	if b.Name() == "memory" {
		log.Warn().Msg("内存总线只在进程内有效，收不到接入服务的事件")
	}

	m := metrics.New()

	// 创建组件
	sessions := server.NewSessionTracker(cfg.Consumer.SessionName)
	events := publisher.NewEventPublisher(b, m)
	consumer := server.NewIngestConsumer(cfg, b, store, events, sessions, m)
	hub := live.NewHub(b, cfg.Bus.Channels.Frontend, m)

	rest := api.NewRESTServer(cfg, api.Options{
		Store:    store,
		Bus:      b,
		Sessions: sessions,
		Live:     hub,
		Metrics:  m,
	})

	// 处理系统信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return consumer.Start(gctx) })
	g.Go(func() error { return hub.Start(gctx) })
	g.Go(func() error {
		if err := rest.ListenAndServe(cfg.API.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("rest api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rest.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("服务异常退出")
		os.Exit(1)
	}

	log.Info().Msg("Data Server 已关闭")
}

// setupLogging 按配置设置日志级别和输出格式
func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("无效的日志级别，使用info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
