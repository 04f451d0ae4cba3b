package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ompay/ompay/internal/config"
	"github.com/ompay/ompay/internal/infra"
	"github.com/ompay/ompay/internal/logging"
	"github.com/ompay/ompay/internal/server"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Service: cfg.AppName,
		Env:     cfg.AppEnv,
		Text:    cfg.IsDevelopment(),
	})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(connectCtx, cfg.DatabaseURL, infra.PoolOptions{MaxConns: int32(cfg.DatabaseMaxConns)})
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := infra.EnsureSchema(connectCtx, pool); err != nil {
			return err
		}
		db = pool
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory ledger")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(connectCtx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	} else {
		logger.Warn("REDIS_URL not set; using in-process cache")
	}

	var broker *infra.Broker
	if cfg.RabbitMQURL != "" {
		b, err := infra.NewBroker(cfg.RabbitMQURL, logger)
		if err != nil {
			return err
		}
		defer b.Close()
		broker = b
	} else {
		logger.Warn("RABBITMQ_URL not set; notifications are delivered in process")
	}

	srv, err := server.New(cfg, db, cache, broker, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	if err := srv.StartWorkers(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
