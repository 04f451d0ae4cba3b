package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ompay/ompay/internal/config"
	"github.com/ompay/ompay/internal/infra"
	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/routes"
)

const consumerRetryDelay = 5 * time.Second

// Server wraps the Fiber application and the background workers.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	broker  *infra.Broker
	runtime *routes.Runtime
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, broker *infra.Broker, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	runtime, err := routes.Setup(app, routes.Deps{Cfg: cfg, DB: db, Cache: cache, Broker: broker, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, broker: broker, runtime: runtime, logger: logger}, nil
}

// App exposes the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// StartWorkers launches the outbox relay, the notification consumer and the
// cache warmup schedule.
func (s *Server) StartWorkers(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	if err := s.runtime.Scheduler.Start(); err != nil {
		s.cancel()
		return err
	}
	// Prime the cache once at boot rather than waiting for the first tick.
	go s.runtime.Scheduler.WarmBalances()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runtime.Relay.Run(ctx)
	}()

	if s.broker != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.consume(ctx)
		}()
	}
	return nil
}

func (s *Server) consume(ctx context.Context) {
	bindings := map[string]func([]byte) bool{
		ledger.EntryPostedRoutingKey: s.runtime.Notifications.HandleDelivery,
	}
	for {
		err := s.broker.Consume(ctx, s.cfg.EventsExchange, s.cfg.NotificationQueue, bindings)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error("notification consumer stopped; retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(consumerRetryDelay):
		}
	}
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown stops the HTTP server first, then the workers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	stopped := make(chan struct{})
	go func() {
		<-s.runtime.Scheduler.Stop().Done()
		s.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}
