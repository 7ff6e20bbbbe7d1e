// Package main runs the QBox HTTP server with the room event WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qbox-app/backend/config"
	"github.com/qbox-app/backend/internal/analytics"
	"github.com/qbox-app/backend/internal/audience"
	"github.com/qbox-app/backend/internal/auth"
	"github.com/qbox-app/backend/internal/questions"
	"github.com/qbox-app/backend/internal/realtime"
	"github.com/qbox-app/backend/internal/rooms"
	"github.com/qbox-app/backend/pkg/database"
	"github.com/qbox-app/backend/pkg/queue"
	"github.com/qbox-app/backend/pkg/redis"
	"github.com/qbox-app/backend/pkg/storage"
	"github.com/qbox-app/backend/pkg/validation"
)

// @title QBox API
// @version 1.0
// @description Anonymous classroom Q&A: rooms, questions, moderation and room events.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := validation.Register(); err != nil {
		logger.Fatal("validators", zap.Error(err))
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

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	// Rooms
	roomRepo := rooms.NewRepository(pool)
	roomHandler := rooms.NewHandler(roomRepo, hub, jobQueue, logger)
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("archive downloads disabled", zap.Error(err))
		} else {
			roomHandler.SetArchiveLinker(s3Client)
		}
	}

	// Peak audience per room, from the hub's connection counts
	peaks := audience.NewTracker(roomRepo, logger)
	hub.SetAudienceChangeHandler(peaks.Observe)

	// Questions
	questionRepo := questions.NewRepository(pool)
	questionHandler := questions.NewHandler(questionRepo, roomRepo, hub, logger)

	// Analytics (room owner)
	analyticsHandler := analytics.NewHandler(roomRepo, questionRepo, hub, logger)

	router := newRouter(routes{
		jwt:         jwtService,
		hub:         hub,
		rooms:       roomHandler,
		questions:   questionHandler,
		analytics:   analyticsHandler,
		corsOrigins: cfg.Server.CORSAllowedOrigins,
		logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
