package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ompay/ompay/internal/money"
)

// EntryPostedRoutingKey is the routing key of every outbox message the poster enqueues.
const EntryPostedRoutingKey = "ledger.entry.posted"

// PostingKind names the business operation that produced an entry.
type PostingKind string

const (
	PostingDeposit         PostingKind = "deposit"
	PostingWithdrawal      PostingKind = "withdrawal"
	PostingTransfer        PostingKind = "transfer"
	PostingMerchantPayment PostingKind = "merchant_payment"
)

// EntryPosted describes one committed entry. It is the outbox payload and the
// in-process event.
type EntryPosted struct {
	EventID            string       `json:"event_id"`
	Kind               PostingKind  `json:"kind"`
	EntryID            string       `json:"entry_id"`
	AccountID          string       `json:"account_id"`
	OwnerID            string       `json:"owner_id"`
	InitiatorID        string       `json:"initiator_id"`
	Type               EntryType    `json:"type"`
	Leg                Leg          `json:"leg"`
	Amount             money.Amount `json:"amount"`
	Reference          string       `json:"reference"`
	BaseReference      string       `json:"base_reference"`
	CounterpartID      string       `json:"counterpart_id,omitempty"`
	CounterpartOwnerID string       `json:"counterpart_owner_id,omitempty"`
	MerchantCode       string       `json:"merchant_code,omitempty"`
	Description        string       `json:"description,omitempty"`
	BalanceAfter       money.Amount `json:"balance_after"`
	OperatedAt         time.Time    `json:"operated_at"`
}

// EventSink receives events after the posting committed.
type EventSink interface {
	EntryPosted(ctx context.Context, evt EntryPosted) error
}

// Sinks fans an event out to every sink and joins their errors.
type Sinks []EventSink

func (s Sinks) EntryPosted(ctx context.Context, evt EntryPosted) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.EntryPosted(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AuditSink writes one audit line per committed entry.
type AuditSink struct {
	logger *slog.Logger
}

// NewAuditSink tags the logger with channel=audit.
func NewAuditSink(logger *slog.Logger) *AuditSink {
	return &AuditSink{logger: logger.With("channel", "audit")}
}

func (a *AuditSink) EntryPosted(ctx context.Context, evt EntryPosted) error {
	a.logger.InfoContext(ctx, "ledger entry posted",
		"event_id", evt.EventID,
		"kind", evt.Kind,
		"entry_id", evt.EntryID,
		"account_id", evt.AccountID,
		"initiator_id", evt.InitiatorID,
		"type", evt.Type,
		"leg", evt.Leg,
		"amount", evt.Amount.String(),
		"reference", evt.Reference,
		"balance_after", evt.BalanceAfter.String(),
	)
	return nil
}
