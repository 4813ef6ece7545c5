// Package app 提供应用程序的初始化和配置功能：存储、业务服务、调度器、合并 worker 与 HTTP 引擎的组装.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/handle"
	"github.com/yeisme/panvault/pkg/internal/jobs"
	"github.com/yeisme/panvault/pkg/internal/router"
	"github.com/yeisme/panvault/pkg/internal/storage"
	"github.com/yeisme/panvault/pkg/internal/worker"
	"github.com/yeisme/panvault/pkg/log"
	"github.com/yeisme/panvault/pkg/metrics"
	"github.com/yeisme/panvault/pkg/middleware"
	"github.com/yeisme/panvault/pkg/queue"
	"github.com/yeisme/panvault/pkg/scheduler"
	"github.com/yeisme/panvault/pkg/tracing"
)

// defaultShutdownTimeout 未配置 server.shutdown_timeout 时使用.
const defaultShutdownTimeout = 15 * time.Second

// Bootstrap 加载配置并初始化日志、追踪与监控.
func Bootstrap(configPath string) (*configs.AppConfig, error) {
	if err := configs.InitConfig(configPath); err != nil {
		return nil, fmt.Errorf("init config: %w", err)
	}

	cfg := configs.GetConfig()
	log.Setup(cfg.Log, cfg.Server.Debug)

	if err := tracing.InitTracer(cfg.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := metrics.InitMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return cfg, nil
}

// App API 进程：HTTP 接入、合并结果消费、定时任务，以及可选的内嵌 worker.
type App struct {
	Engine    *gin.Engine
	config    *configs.AppConfig
	storage   *storage.Manager
	services  *Services
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// NewApp 组装 API 进程.
func NewApp(ctx context.Context, cfg *configs.AppConfig) (*App, error) {
	// gochannel 只在进程内投递，独立 worker 收不到合并任务
	if cfg.MQ.GetMQType() == configs.MQTypeGoChannel && !cfg.Worker.Embedded {
		return nil, fmt.Errorf("mq type %s requires worker.embedded", configs.MQTypeGoChannel)
	}

	opts := []storage.Option{storage.WithDB(), storage.WithKV(), storage.WithMQ()}
	if cfg.Worker.Embedded && cfg.Worker.Sink == "s3" {
		opts = append(opts, storage.WithS3())
	}

	mgr, err := storage.Open(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, storage: mgr, logger: log.Logger().With().Str("component", "app").Logger()}

	if err := a.init(); err != nil {
		_ = mgr.Close()
		return nil, err
	}

	return a, nil
}

func (a *App) init() error {
	svc, err := NewServices(a.storage, a.config, "panvault-api")
	if err != nil {
		return err
	}

	a.services = svc

	mq := a.storage.MQ
	mq.Handle("finalize.result.succeeded", queue.TopicFinalizeSucceeded, svc.Uploads.HandleFinalizeResult)
	mq.Handle("finalize.result.failed", queue.TopicFinalizeFailed, svc.Uploads.HandleFinalizeResult)

	if a.config.Worker.Embedded {
		blobs, err := NewBlobStore(a.storage, a.config.Worker)
		if err != nil {
			return err
		}

		w := worker.New(blobs, mq.Publisher())
		mq.Handle("finalize.worker", queue.TopicFinalizeRequested, w.Handle)
	}

	sched, err := scheduler.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	a.scheduler = sched

	err = jobs.RegisterJobs(sched, jobs.Deps{
		Store:     svc.Store,
		Ledger:    svc.Ledger,
		Uploads:   svc.Uploads,
		Lifecycle: svc.Lifecycle,
	}, a.config)
	if err != nil {
		return err
	}

	a.Engine = a.newEngine()

	return nil
}

func (a *App) newEngine() *gin.Engine {
	l := log.Logger()
	gin.DefaultWriter = log.NewGinWriter(l, zerolog.InfoLevel)
	gin.DefaultErrorWriter = log.NewGinWriter(l, zerolog.ErrorLevel)

	engine := gin.New()
	engine.MaxMultipartMemory = a.config.Upload.MaxChunkBytes()

	engine.Use(
		gin.Recovery(),
		middleware.CORSMiddleware(a.config.Server),
		middleware.TracingMiddleware(),
		middleware.GinLoggerMiddleware(),
		middleware.PrometheusMiddleware(),
		middleware.CircuitBreakerMiddleware(a.config.CircuitBreaker),
		middleware.StorageMiddleware(a.storage),
		middleware.SchedulerMiddleware(a.scheduler),
	)

	if a.config.Server.Gzip {
		engine.Use(gzip.Gzip(gzip.DefaultCompression))
	}

	h := handle.New(a.services.Uploads, a.services.Ledger, a.services.Lifecycle)

	root := engine.Group("/")
	router.RegisterHealthCheckRoute(root)
	router.RegisterSchedulerRoutes(root)
	router.RegisterAPIRoutes(engine.Group("/api/v1"), h, a.config)

	_ = metrics.StartMetricsServer(a.config.Metrics, engine)

	return engine
}

// Run 启动消息路由、调度器与 HTTP 服务，ctx 取消后优雅退出.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mqErr := make(chan error, 1)

	go func() {
		if err := a.storage.MQ.Run(ctx); err != nil {
			mqErr <- fmt.Errorf("mq router: %w", err)
		}

		close(mqErr)
	}()

	a.scheduler.Start()

	srv := &http.Server{
		Addr:              a.config.Server.Addr(),
		Handler:           a.Engine,
		ReadHeaderTimeout: a.config.Server.ReadHeaderTimeout,
		IdleTimeout:       a.config.Server.IdleTimeout,
	}

	srvErr := make(chan error, 1)

	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("http server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}

		close(srvErr)
	}()

	var runErr error

	select {
	case <-ctx.Done():
	case err, ok := <-srvErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err, ok := <-mqErr:
		if ok {
			runErr = err
		}
	}

	return errors.Join(runErr, a.shutdown(srv))
}

func (a *App) shutdown(srv *http.Server) error {
	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.logger.Info().Msg("shutting down")

	return errors.Join(
		srv.Shutdown(ctx),
		a.scheduler.Stop(),
		a.storage.Close(),
		tracing.ShutdownTracer(ctx),
	)
}
