package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omni/live/internal/api/handler"
	"omni/live/internal/config"
	"omni/live/internal/relay"
	"omni/live/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupDependencies(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*gorm.DB, *redis.Client) {
	db, err := gorm.Open(postgres.Open(cfg.Relay.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect PostgreSQL")
	}

	var rdb *redis.Client
	if cfg.Relay.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			logger.WithError(err).Fatal("Failed to connect Redis")
		}
	} else {
		logger.Warn("No Redis configured, running as a single relay instance")
	}

	return db, rdb
}

func main() {
	configPath := pflag.StringP("config", "c", "omni.toml", "TOML config file")
	addr := pflag.String("addr", "", "listen address (overrides RELAY_ADDR)")
	devTokens := pflag.Bool("dev-tokens", false, "serve GET /token for local testing")
	pflag.Parse()

	bootLog := logrus.New()
	if err := config.LoadDotEnv(".env"); err != nil {
		bootLog.WithError(err).Warn("Error loading .env file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog.WithError(err).Fatal("Failed to load config")
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	if err := cfg.ValidateRelay(); err != nil {
		bootLog.WithError(err).Fatal("Invalid relay config")
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		bootLog.WithError(err).Fatal("Invalid log level")
	}
	logger.Info("Starting Omni relay...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, rdb := setupDependencies(ctx, cfg, logger)
	s := storage.NewStorageService(db, rdb)
	if err := s.Migrate(); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	logger.Info("Database and Redis connections established, migrations complete.")

	hub := relay.NewHub(s, logger)
	go hub.Run(ctx)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	h := handler.NewHandler(hub, s, []byte(cfg.Relay.JWTSecret), logger)
	h.DevTokens = *devTokens
	h.AllowedOrigins = cfg.Relay.AllowedOrigins
	h.Routes(r)

	server := &http.Server{
		Addr:           cfg.Relay.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP shutdown")
		}
	}()

	logger.WithField("addr", cfg.Relay.Addr).Info("Relay listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("HTTP server failed")
	}
	<-hub.Done()
	logger.Info("Relay stopped")
}
