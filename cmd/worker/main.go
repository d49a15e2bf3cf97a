// Package main runs the pipeline worker: the queue consumer for
// webhook-triggered advance jobs and the periodic sweep that polls external
// services for stalled bundles.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/promoreel/backend/config"
	"github.com/promoreel/backend/internal/analyzer"
	"github.com/promoreel/backend/internal/bundles"
	"github.com/promoreel/backend/internal/clipgen"
	"github.com/promoreel/backend/internal/clips"
	"github.com/promoreel/backend/internal/realtime"
	"github.com/promoreel/backend/internal/renderfarm"
	"github.com/promoreel/backend/internal/renders"
	"github.com/promoreel/backend/internal/script"
	"github.com/promoreel/backend/internal/worker"
	"github.com/promoreel/backend/pkg/database"
	"github.com/promoreel/backend/pkg/queue"
	"github.com/promoreel/backend/pkg/redis"
	"github.com/promoreel/backend/pkg/resilience"
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

	// No local WebSocket clients here; the hub only relays progress through
	// Redis so server instances can push it to their subscribers.
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, nil)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	bundleRepo := bundles.NewRepository(pool, res)
	clipRepo := clips.NewRepository(pool, res)
	renderRepo := renders.NewRepository(pool, res)

	analyzerClient := analyzer.NewClient(&cfg.Analyzer, logger)
	composer := script.NewComposer(cfg.Script, logger)
	clipClient := clipgen.NewClient(&cfg.ClipGen)
	farmClient := renderfarm.NewClient(&cfg.RenderFarm)

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

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.NewAdvanceProcessor(service, jobQueue, logger).Run(runCtx)
	go worker.NewSweeper(service, time.Duration(cfg.Pipeline.SweepIntervalSec)*time.Second, logger).Run(runCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	logger.Info("worker stopped")
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
