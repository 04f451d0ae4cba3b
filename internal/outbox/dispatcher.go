package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/ompay/ompay/internal/ledger"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 2 * time.Second
	defaultStaleProcessing = 2 * time.Minute
	maxRetryDelay          = 300 * time.Second
)

// Publisher delivers a payload to the broker.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Dispatcher relays committed outbox rows to the broker.
type Dispatcher struct {
	repo         Repository
	publisher    Publisher
	logger       *slog.Logger
	batchSize    int
	pollInterval time.Duration
	staleAfter   time.Duration
	wake         chan struct{}
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithBatchSize bounds how many rows one flush claims.
func WithBatchSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithPollInterval sets how often the outbox is scanned without a wake-up.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.pollInterval = interval
		}
	}
}

// NewDispatcher builds a relay over repo.
func NewDispatcher(repo Repository, publisher Publisher, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		repo:         repo,
		publisher:    publisher,
		logger:       logger.With("component", "outbox"),
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		staleAfter:   defaultStaleProcessing,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EntryPosted nudges the relay after a commit so events do not wait for the
// next poll. It never blocks.
func (d *Dispatcher) EntryPosted(context.Context, ledger.EntryPosted) error {
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run flushes the outbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}
		if _, err := d.FlushOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox flush failed", "error", err)
		}
	}
}

// FlushOnce publishes one batch and returns how many rows were published.
func (d *Dispatcher) FlushOnce(ctx context.Context) (int, error) {
	messages, err := d.repo.Claim(ctx, d.batchSize, d.staleAfter)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, msg := range messages {
		if err := d.publisher.Publish(ctx, msg.Exchange, msg.RoutingKey, msg.Payload); err != nil {
			retry := retryDelay(msg.Attempts)
			d.logger.Warn("outbox publish failed", "id", msg.ID, "attempts", msg.Attempts, "retry_in", retry, "error", err)
			if markErr := d.repo.MarkFailed(ctx, msg.ID, retry, err.Error()); markErr != nil {
				d.logger.Error("failed to reschedule outbox message", "id", msg.ID, "error", markErr)
			}
			continue
		}
		if err := d.repo.MarkPublished(ctx, msg.ID); err != nil {
			d.logger.Error("failed to mark outbox message published", "id", msg.ID, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		return time.Second
	}
	delay := time.Duration(1<<min(attempt, 8)) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}
