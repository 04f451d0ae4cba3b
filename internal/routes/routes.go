package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ompay/ompay/internal/account"
	"github.com/ompay/ompay/internal/config"
	"github.com/ompay/ompay/internal/infra"
	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/middleware"
	"github.com/ompay/ompay/internal/notification"
	"github.com/ompay/ompay/internal/outbox"
	"github.com/ompay/ompay/internal/party"
	"github.com/ompay/ompay/internal/payments"
	"github.com/ompay/ompay/internal/scheduler"
)

// Deps aggregates shared dependencies required to wire routes. Nil backends
// are replaced by in-memory ones in development.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Broker *infra.Broker
	Logger *slog.Logger
}

// Runtime holds the background workers the server must start and stop.
type Runtime struct {
	Relay         *outbox.Dispatcher
	Scheduler     *scheduler.Scheduler
	Notifications *notification.Dispatcher
	Balances      *ledger.BalanceCache
}

// Setup configures middlewares, builds the services and mounts every route.
func Setup(app *fiber.App, d Deps) (*Runtime, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Broker == nil {
			return nil, fmt.Errorf("rabbitmq is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logger))

	RegisterHealthRoutes(app, d)

	var (
		partyRepo   party.Repository
		accountRepo account.Repository
	)
	if d.DB != nil {
		partyRepo = party.NewPostgresRepository(d.DB)
		accountRepo = account.NewPostgresRepository(d.DB)
	} else {
		partyRepo = party.NewMemoryRepository()
		accountRepo = account.NewMemoryRepository()
	}
	partySvc := party.NewService(partyRepo)
	accountSvc := account.NewService(accountRepo, partySvc, logger)

	var (
		store      ledger.Store
		outboxRepo outbox.Repository
	)
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
		outboxRepo = outbox.NewPostgresRepository(d.DB)
	} else {
		mem := outbox.NewMemoryRepository(nil)
		store = ledger.NewInMemory(accountSvc, mem)
		outboxRepo = mem
	}

	var (
		cacheStore ledger.CacheStore
		deduper    notification.Deduper
	)
	if d.Cache != nil {
		cacheStore = ledger.NewRedisCacheStore(d.Cache)
		deduper = notification.NewRedisDeduper(d.Cache)
	} else {
		cacheStore = ledger.NewMemoryCacheStore(time.Now)
		deduper = notification.NewMemoryDeduper()
	}

	reports := ledger.NewAccountLedger(accountSvc, store)
	balances := ledger.NewBalanceCache(cacheStore, reports, d.Cfg.BalanceCacheTTL, logger)
	accountSvc.UseBalanceCache(balances)

	notifications := notification.NewDispatcher(accountSvc, notification.NewLoggerNotifier(logger), deduper, logger)
	var publisher outbox.Publisher = notification.NewLocalPublisher(notifications)
	if d.Broker != nil {
		publisher = d.Broker
	}
	relay := outbox.NewDispatcher(outboxRepo, publisher, logger,
		outbox.WithBatchSize(d.Cfg.OutboxBatchSize),
		outbox.WithPollInterval(d.Cfg.OutboxPoll),
	)

	poster := ledger.NewPoster(ledger.PosterDeps{
		Store:          store,
		Directory:      accountSvc,
		Cache:          balances,
		Sink:           ledger.Sinks{ledger.NewAuditSink(logger), relay},
		Logger:         logger,
		EventsExchange: d.Cfg.EventsExchange,
	})

	partyHandler := party.NewHandler(partySvc)
	accountHandler := account.NewHandler(accountSvc)
	paymentHandler := payments.NewHandler(payments.NewService(poster, reports, balances, accountSvc))

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	api.Post("/parties", partyHandler.Register)

	// Protected routes
	protected := api.Group("",
		middleware.JWTAuth([]byte(d.Cfg.JWTSecret)),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, logger),
	)
	protected.Get("/me", partyHandler.Me)
	RegisterAccountRoutes(protected, accountHandler, paymentHandler)
	RegisterAdminRoutes(protected.Group("/admin", middleware.RequireRole("admin")), accountHandler)

	return &Runtime{
		Relay:         relay,
		Scheduler:     scheduler.New(balances, d.Cfg.WarmupSchedule, logger),
		Notifications: notifications,
		Balances:      balances,
	}, nil
}
