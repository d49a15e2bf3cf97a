// Package main runs the promo video API server: bundle CRUD, status checks,
// the clip-ready webhook, and WebSocket progress push, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/promoreel/backend/config"
	"github.com/promoreel/backend/internal/analyzer"
	"github.com/promoreel/backend/internal/bundles"
	"github.com/promoreel/backend/internal/clipgen"
	"github.com/promoreel/backend/internal/clips"
	"github.com/promoreel/backend/internal/middleware"
	"github.com/promoreel/backend/internal/realtime"
	"github.com/promoreel/backend/internal/renderfarm"
	"github.com/promoreel/backend/internal/renders"
	"github.com/promoreel/backend/internal/script"
	"github.com/promoreel/backend/internal/worker"
	"github.com/promoreel/backend/pkg/database"
	"github.com/promoreel/backend/pkg/queue"
	"github.com/promoreel/backend/pkg/redis"
	"github.com/promoreel/backend/pkg/resilience"
	"github.com/promoreel/backend/pkg/response"
	"github.com/promoreel/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			OutputsBucket:        cfg.AWS.OutputsBucket,
			ScreenshotsBucket:    cfg.AWS.ScreenshotsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	res := resilience.NewRegistry(resilienceOptions(cfg.Pipeline), logger)

	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Repositories
	bundleRepo := bundles.NewRepository(pool, res)
	clipRepo := clips.NewRepository(pool, res)
	renderRepo := renders.NewRepository(pool, res)

	// External collaborators
	analyzerClient := analyzer.NewClient(&cfg.Analyzer, logger)
	composer := script.NewComposer(cfg.Script, logger)
	clipClient := clipgen.NewClient(&cfg.ClipGen)
	farmClient := renderfarm.NewClient(&cfg.RenderFarm)

	// Pipeline components
	callbackURL := cfg.Server.PublicBaseURL + "/webhooks/clip-ready"
	clipDispatcher := clips.NewDispatcher(clipRepo, clipClient, callbackURL, logger)
	clipReconciler := clips.NewReconciler(clipRepo, clipClient, logger)
	renderDispatcher := renders.NewDispatcher(renderRepo, farmClient, logger)
	renderPoller := renders.NewPoller(renderRepo, farmClient, logger)
	finalizer := bundles.NewFinalizer(bundleRepo, logger)

	service := bundles.NewService(bundles.ServiceDeps{
		Bundles:          bundleRepo,
		Clips:            clipRepo,
		Renders:          renderRepo,
		ClipDispatcher:   clipDispatcher,
		ClipReconciler:   clipReconciler,
		RenderDispatcher: renderDispatcher,
		RenderPoller:     renderPoller,
		Finalizer:        finalizer,
		Analyzer:         analyzerClient,
		Composer:         composer,
		S3:               s3Client,
		Hub:              realtime.NewProgressBroadcaster(hub),
	}, logger)

	bundleHandler := bundles.NewHandler(service, logger)
	clipWebhook := clips.NewWebhookHandler(clipReconciler, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Bundles
	router.POST("/bundles", bundleHandler.Create)
	router.GET("/bundles", bundleHandler.List)
	router.GET("/bundles/:id", bundleHandler.Get)
	router.GET("/bundles/:id/status", bundleHandler.Status)

	// Webhooks
	router.POST("/webhooks/clip-ready", clipWebhook.ClipReady)

	// WebSocket progress push
	router.GET("/ws/bundles/:id", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process queue consumer so webhook-triggered advances run even without
	// a separate worker deployment. Advance passes are idempotent, so running
	// both is safe.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go worker.NewAdvanceProcessor(service, jobQueue, logger).Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func resilienceOptions(p config.PipelineConfig) resilience.Options {
	opts := resilience.DefaultOptions()
	if p.RetryMaxAttempts > 0 {
		opts.MaxAttempts = p.RetryMaxAttempts
	}
	if p.RetryBaseMs > 0 {
		opts.BaseDelay = time.Duration(p.RetryBaseMs) * time.Millisecond
	}
	if p.RetryMaxDelayMs > 0 {
		opts.MaxDelay = time.Duration(p.RetryMaxDelayMs) * time.Millisecond
	}
	if p.OperationTimeoutSec > 0 {
		opts.Timeout = time.Duration(p.OperationTimeoutSec) * time.Second
	}
	if p.BreakerThreshold > 0 {
		opts.BreakerThreshold = p.BreakerThreshold
	}
	if p.BreakerWindowSec > 0 {
		opts.BreakerWindow = time.Duration(p.BreakerWindowSec) * time.Second
	}
	if p.BreakerCooldownSec > 0 {
		opts.BreakerCooldown = time.Duration(p.BreakerCooldownSec) * time.Second
	}
	return opts
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
