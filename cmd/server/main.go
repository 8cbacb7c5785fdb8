// Package main runs the sports DVR HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sports-dvr/backend/config"
	"github.com/sports-dvr/backend/internal/middleware"
	"github.com/sports-dvr/backend/internal/realtime"
	"github.com/sports-dvr/backend/internal/recorder"
	"github.com/sports-dvr/backend/internal/recordings"
	"github.com/sports-dvr/backend/internal/worker"
	"github.com/sports-dvr/backend/pkg/queue"
	"github.com/sports-dvr/backend/pkg/redis"
	"github.com/sports-dvr/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config depends on cfg; fall back to production defaults
		newLogger(false).Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Server.Debug)
	defer logger.Sync()

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	svc := recorder.NewService(recorder.Config{
		OutputRoot:      cfg.Recording.OutputPath,
		MaxConcurrent:   cfg.Recording.MaxConcurrent,
		FFmpegPath:      cfg.Recording.FFmpegPath,
		FFmpegOptions:   cfg.Recording.FFmpegArgs(),
		SegmentSeconds:  cfg.Recording.SegmentDuration,
		TimeshiftPrefix: cfg.Recording.TimeshiftURLPrefix,
		MonitorInterval: cfg.Recording.MonitorInterval(),
		StopTimeout:     cfg.Recording.StopTimeout(),
		MinFreeBytes:    cfg.Recording.MinFreeBytes(),
	}, logger.Named("recorder"))

	hub := realtime.NewHub(logger)
	svc.SetNotifier(hub)

	handler := recordings.NewHandler(svc, logger)

	var s3Client *storage.S3
	if cfg.AWS.Enabled() {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		} else {
			handler.SetArchiveLinker(s3Client)
		}
	}

	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()

		jobQueue := queue.NewQueue(rdb.Client, logger)
		svc.SetArchiveQueue(jobQueue)

		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		go func() {
			if err := pubsub.Forward(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis event forwarding stopped", zap.Error(err))
			}
		}()

		// without a dedicated worker process the API uploads archives itself
		if s3Client != nil {
			processor := worker.NewArchiveProcessor(s3Client, jobQueue, logger.Named("worker"))
			processor.SetPublisher(pubsub)
			go processor.Run(ctx)
			logger.Info("archive worker started")
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	handler.RegisterRoutes(router)
	router.GET("/ws", realtime.ServeWs(hub, logger))

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("output_path", cfg.Recording.OutputPath),
			zap.Int("max_concurrent", cfg.Recording.MaxConcurrent),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down",
		zap.Int("active_recordings", svc.ActiveCount()),
		zap.Int("ws_clients", hub.ClientCount()),
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Error("stop recordings", zap.Error(err))
	}
	stop()
	logger.Info("server stopped")
}

func newLogger(debug bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
