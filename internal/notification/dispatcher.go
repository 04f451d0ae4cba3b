package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ompay/ompay/internal/ledger"
)

const (
	defaultDedupeTTL = 72 * time.Hour
	handleTimeout    = 10 * time.Second
)

// Contacts resolves party details for message building.
type Contacts interface {
	OwnerName(ctx context.Context, partyID string) (string, error)
	Phone(ctx context.Context, partyID string) (string, error)
}

// Dispatcher turns entry events into confirmation messages. Each event id is
// delivered at most once per dedupe window.
type Dispatcher struct {
	contacts Contacts
	notifier Notifier
	dedupe   Deduper
	ttl      time.Duration
	logger   *slog.Logger
}

// NewDispatcher wires the notification consumer.
func NewDispatcher(contacts Contacts, notifier Notifier, dedupe Deduper, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	return &Dispatcher{
		contacts: contacts,
		notifier: notifier,
		dedupe:   dedupe,
		ttl:      defaultDedupeTTL,
		logger:   logger.With("component", "notifications"),
	}
}

// Handle notifies the owner of the entry's account.
func (d *Dispatcher) Handle(ctx context.Context, evt ledger.EntryPosted) error {
	if evt.EventID == "" {
		return fmt.Errorf("event without id")
	}
	fresh, err := d.dedupe.Claim(ctx, evt.EventID, d.ttl)
	if err != nil {
		return fmt.Errorf("dedupe claim: %w", err)
	}
	if !fresh {
		d.logger.DebugContext(ctx, "duplicate event skipped", "event_id", evt.EventID)
		return nil
	}

	if err := d.deliver(ctx, evt); err != nil {
		if relErr := d.dedupe.Release(ctx, evt.EventID); relErr != nil {
			d.logger.WarnContext(ctx, "dedupe release failed", "event_id", evt.EventID, "error", relErr)
		}
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, evt ledger.EntryPosted) error {
	phone, err := d.contacts.Phone(ctx, evt.OwnerID)
	if err != nil {
		return fmt.Errorf("resolve phone: %w", err)
	}
	var counterpart string
	if evt.CounterpartOwnerID != "" {
		counterpart, err = d.contacts.OwnerName(ctx, evt.CounterpartOwnerID)
		if err != nil {
			return fmt.Errorf("resolve counterpart: %w", err)
		}
	}
	return d.notifier.Send(ctx, Message{
		Kind:        string(evt.Kind),
		Destination: phone,
		Body:        Compose(evt, counterpart),
	})
}

// HandleDelivery adapts Handle to a broker delivery. It returns false when
// the message should be redelivered.
func (d *Dispatcher) HandleDelivery(body []byte) bool {
	var evt ledger.EntryPosted
	if err := json.Unmarshal(body, &evt); err != nil {
		d.logger.Error("dropping malformed entry event", "error", err)
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := d.Handle(ctx, evt); err != nil {
		d.logger.Warn("notification failed", "event_id", evt.EventID, "error", err)
		return false
	}
	return true
}

// LocalPublisher feeds relayed outbox messages straight into a Dispatcher.
// It stands in for the broker when none is configured.
type LocalPublisher struct {
	dispatcher *Dispatcher
}

// NewLocalPublisher builds an in-process publisher.
func NewLocalPublisher(d *Dispatcher) *LocalPublisher {
	return &LocalPublisher{dispatcher: d}
}

// Publish implements outbox.Publisher.
func (p *LocalPublisher) Publish(_ context.Context, _ string, routingKey string, body []byte) error {
	if routingKey != ledger.EntryPostedRoutingKey {
		return nil
	}
	if !p.dispatcher.HandleDelivery(body) {
		return fmt.Errorf("local delivery failed")
	}
	return nil
}
