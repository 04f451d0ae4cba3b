package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultAppName          = "OMPAY"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultBalanceCacheTTL  = 5 * time.Minute
	defaultWarmupSchedule   = "@every 10m"
	defaultOutboxPoll       = 2 * time.Second
	defaultOutboxBatch      = 50
	defaultEventsExchange   = "ledger.events"
	defaultNotifyQueue      = "notifications.ledger_entries"
	idemTTLSecondsKey       = "IDEMPOTENCY_TTL_SECONDS"
	shutdownSecondsKey      = "SHUTDOWN_TIMEOUT_SECONDS"
	balanceTTLSecondsKey    = "BALANCE_CACHE_TTL_SECONDS"
	developmentEnvironment  = "development"
	insecureDevSecretMarker = "dev-only-insecure-secret"
)

// Config captures application runtime configuration.
type Config struct {
	AppName           string        `mapstructure:"APP_NAME"`
	AppEnv            string        `mapstructure:"APP_ENV"`
	Port              string        `mapstructure:"PORT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DatabaseMaxConns  int           `mapstructure:"DATABASE_MAX_CONNS"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RabbitMQURL       string        `mapstructure:"RABBITMQ_URL"`
	JWTSecret         string        `mapstructure:"JWT_SECRET"`
	EventsExchange    string        `mapstructure:"LEDGER_EVENTS_EXCHANGE"`
	NotificationQueue string        `mapstructure:"NOTIFICATION_QUEUE"`
	WarmupSchedule    string        `mapstructure:"CACHE_WARMUP_SCHEDULE"`
	OutboxBatchSize   int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxPoll        time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	ShutdownPeriod    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	IdempotencyTTL    time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	BalanceCacheTTL   time.Duration `mapstructure:"BALANCE_CACHE_TTL"`
}

var keys = []string{
	"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "DATABASE_URL", "DATABASE_MAX_CONNS", "REDIS_URL", "RABBITMQ_URL",
	"JWT_SECRET", "LEDGER_EVENTS_EXCHANGE", "NOTIFICATION_QUEUE", "CACHE_WARMUP_SCHEDULE",
	"OUTBOX_BATCH_SIZE", "OUTBOX_POLL_INTERVAL", "SHUTDOWN_TIMEOUT", "IDEMPOTENCY_TTL", "BALANCE_CACHE_TTL",
	idemTTLSecondsKey, shutdownSecondsKey, balanceTTLSecondsKey,
}

// Load reads configuration from the environment, optionally layered over a
// .env file found in path.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.AddConfigPath(path)
		v.SetConfigName(".env")
		v.SetConfigType("env")
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("LEDGER_EVENTS_EXCHANGE", defaultEventsExchange)
	v.SetDefault("NOTIFICATION_QUEUE", defaultNotifyQueue)
	v.SetDefault("CACHE_WARMUP_SCHEDULE", defaultWarmupSchedule)
	v.SetDefault("OUTBOX_BATCH_SIZE", defaultOutboxBatch)
	v.SetDefault("OUTBOX_POLL_INTERVAL", defaultOutboxPoll)
	v.SetDefault("SHUTDOWN_TIMEOUT", defaultShutdownDelay)
	v.SetDefault("IDEMPOTENCY_TTL", defaultIdempotencyTTL)
	v.SetDefault("BALANCE_CACHE_TTL", defaultBalanceCacheTTL)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	for key, target := range map[string]*time.Duration{
		shutdownSecondsKey:   &cfg.ShutdownPeriod,
		idemTTLSecondsKey:    &cfg.IdempotencyTTL,
		balanceTTLSecondsKey: &cfg.BalanceCacheTTL,
	} {
		if !v.IsSet(key) || v.GetString(key) == "" {
			continue
		}
		seconds := v.GetInt(key)
		if seconds <= 0 {
			return Config{}, fmt.Errorf("invalid %s: %q", key, v.GetString(key))
		}
		*target = time.Duration(seconds) * time.Second
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.DatabaseMaxConns < 0 || c.DatabaseMaxConns > math.MaxInt32 {
		return fmt.Errorf("DATABASE_MAX_CONNS out of range")
	}
	if c.OutboxPoll <= 0 || c.BalanceCacheTTL <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL and BALANCE_CACHE_TTL must be positive")
	}
	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			c.JWTSecret = insecureDevSecretMarker
		}
		return nil
	}
	// Outside development every backing service is mandatory.
	for name, value := range map[string]string{
		"DATABASE_URL": c.DatabaseURL,
		"REDIS_URL":    c.RedisURL,
		"RABBITMQ_URL": c.RabbitMQURL,
		"JWT_SECRET":   c.JWTSecret,
	} {
		if value == "" {
			return fmt.Errorf("%s must be set", name)
		}
	}
	return nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == developmentEnvironment
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
