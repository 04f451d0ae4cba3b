package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ompay/ompay/internal/money"
)

// References hands out reference bases.
type References interface {
	Next() string
}

// CacheInvalidator drops cached balances after a commit.
type CacheInvalidator interface {
	InvalidateMany(ctx context.Context, accountIDs ...string)
}

// PosterDeps collects the collaborators of a Poster.
type PosterDeps struct {
	Store          Store
	Directory      Directory
	Cache          CacheInvalidator
	References     References
	Sink           EventSink
	Clock          func() time.Time
	Logger         *slog.Logger
	EventsExchange string
}

// Poster creates ledger entries. Each operation runs in one unit of work that
// locks every participating account, validates under the lock and writes the
// entries together with their outbox messages.
type Poster struct {
	store    Store
	dir      Directory
	cache    CacheInvalidator
	refs     References
	sink     EventSink
	now      func() time.Time
	logger   *slog.Logger
	exchange string
}

// NewPoster builds a poster. Store and Directory are required.
func NewPoster(d PosterDeps) *Poster {
	p := &Poster{
		store:    d.Store,
		dir:      d.Directory,
		cache:    d.Cache,
		refs:     d.References,
		sink:     d.Sink,
		now:      d.Clock,
		logger:   d.Logger,
		exchange: d.EventsExchange,
	}
	if p.refs == nil {
		p.refs = NewReferenceGenerator(nil, nil)
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.exchange == "" {
		p.exchange = "ledger.events"
	}
	p.logger = p.logger.With("component", "poster")
	return p
}

// Deposit credits an account.
func (p *Poster) Deposit(ctx context.Context, req DepositRequest) (Entry, error) {
	return p.postSingle(ctx, singlePosting{
		kind:        PostingDeposit,
		entryType:   TypeDeposit,
		leg:         LegCredit,
		accountID:   req.AccountID,
		initiatorID: req.InitiatorID,
		amount:      req.Amount,
		description: req.Description,
		key:         req.IdempotencyKey,
	})
}

// Withdraw debits an account if its balance covers the amount.
func (p *Poster) Withdraw(ctx context.Context, req WithdrawRequest) (Entry, error) {
	return p.postSingle(ctx, singlePosting{
		kind:        PostingWithdrawal,
		entryType:   TypeWithdrawal,
		leg:         LegDebit,
		accountID:   req.AccountID,
		initiatorID: req.InitiatorID,
		amount:      req.Amount,
		description: req.Description,
		key:         req.IdempotencyKey,
	})
}

// Transfer moves funds from the sender's account to the account of the party
// owning RecipientPhone.
func (p *Poster) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	if !req.Amount.IsPositive() {
		return TransferResult{}, ErrConflictingAmount
	}
	sender, err := p.dir.AccountByID(ctx, req.SenderAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	recipient, err := p.dir.AccountByPhone(ctx, req.RecipientPhone)
	if err != nil {
		return TransferResult{}, err
	}
	return p.postPair(ctx, pairPosting{
		kind:              PostingTransfer,
		debitID:           sender.ID,
		creditID:          recipient.ID,
		initiatorID:       req.InitiatorID,
		amount:            req.Amount,
		debitDescription:  req.Description,
		creditDescription: req.Description,
		key:               req.IdempotencyKey,
	})
}

// PayMerchant pays the active merchant account registered under MerchantCode.
func (p *Poster) PayMerchant(ctx context.Context, req MerchantPaymentRequest) (TransferResult, error) {
	if !req.Amount.IsPositive() {
		return TransferResult{}, ErrConflictingAmount
	}
	payer, err := p.dir.AccountByID(ctx, req.PayerAccountID)
	if err != nil {
		return TransferResult{}, err
	}
	merchant, err := p.dir.AccountByMerchantCode(ctx, req.MerchantCode)
	if err != nil {
		return TransferResult{}, err
	}
	payerName, err := p.dir.OwnerName(ctx, payer.OwnerID)
	if err != nil {
		return TransferResult{}, err
	}
	return p.postPair(ctx, pairPosting{
		kind:              PostingMerchantPayment,
		debitID:           payer.ID,
		creditID:          merchant.ID,
		initiatorID:       req.InitiatorID,
		amount:            req.Amount,
		debitDescription:  fmt.Sprintf("Merchant payment - Code: %s", req.MerchantCode),
		creditDescription: fmt.Sprintf("Payment received - Client: %s", payerName),
		key:               req.IdempotencyKey,
		merchant:          true,
	})
}

type singlePosting struct {
	kind        PostingKind
	entryType   EntryType
	leg         Leg
	accountID   string
	initiatorID string
	amount      money.Amount
	description string
	key         string
}

func (p *Poster) postSingle(ctx context.Context, sp singlePosting) (Entry, error) {
	if !sp.amount.IsPositive() {
		return Entry{}, ErrConflictingAmount
	}
	if _, err := p.dir.AccountByID(ctx, sp.accountID); err != nil {
		return Entry{}, err
	}

	var (
		entry    Entry
		events   []EntryPosted
		replayed bool
	)
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockAccounts(ctx, sp.accountID)
		if err != nil {
			return err
		}
		if prior, err := p.replay(ctx, tx, sp.initiatorID, sp.kind, sp.key); err != nil || len(prior) > 0 {
			if len(prior) > 0 {
				entry, replayed = prior[0], true
			}
			return err
		}

		account := locked[sp.accountID]
		if account.Status == StatusBlocked {
			return ErrInactiveAccount
		}

		balance, err := BalanceWithin(ctx, tx, account.ID)
		if err != nil {
			return err
		}
		if sp.leg == LegDebit && balance < sp.amount {
			return ErrInsufficientFunds
		}

		entry = Entry{
			ID:             uuid.NewString(),
			AccountID:      account.ID,
			InitiatorID:    sp.initiatorID,
			Type:           sp.entryType,
			Leg:            sp.leg,
			Kind:           sp.kind,
			Amount:         sp.amount,
			Status:         EntrySuccess,
			OperatedAt:     p.now().UTC(),
			Description:    sp.description,
			Reference:      p.refs.Next(),
			IdempotencyKey: sp.key,
		}
		after, err := balance.Add(entry.Signed())
		if err != nil {
			return ErrBalanceLimit
		}
		if err := tx.InsertEntries(ctx, entry); err != nil {
			return err
		}

		events = []EntryPosted{p.event(sp.kind, entry, account, Account{}, after)}
		return p.enqueue(ctx, tx, events)
	})
	if errors.Is(err, ErrDuplicatePosting) && !replayed {
		entry = Entry{}
		if prior := p.original(ctx, sp.initiatorID, sp.kind, sp.key); len(prior) > 0 {
			entry = prior[0]
		}
	}
	if err != nil {
		return entry, err
	}

	p.afterCommit(ctx, events, sp.accountID)
	return entry, nil
}

type pairPosting struct {
	kind              PostingKind
	debitID           string
	creditID          string
	initiatorID       string
	amount            money.Amount
	debitDescription  string
	creditDescription string
	key               string
	merchant          bool
}

func (p *Poster) postPair(ctx context.Context, pp pairPosting) (TransferResult, error) {
	if pp.debitID == pp.creditID {
		return TransferResult{}, ErrInvalidTarget
	}

	var (
		result   TransferResult
		events   []EntryPosted
		replayed bool
	)
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockAccounts(ctx, pp.debitID, pp.creditID)
		if err != nil {
			return err
		}
		if prior, err := p.replay(ctx, tx, pp.initiatorID, pp.kind, pp.key); err != nil || len(prior) > 0 {
			result, replayed = pairFromEntries(prior), len(prior) > 0
			return err
		}

		debit, credit := locked[pp.debitID], locked[pp.creditID]
		if err := validatePair(debit, credit, pp.merchant); err != nil {
			return err
		}

		debitBalance, err := BalanceWithin(ctx, tx, debit.ID)
		if err != nil {
			return err
		}
		if debitBalance < pp.amount {
			return ErrInsufficientFunds
		}
		creditBalance, err := BalanceWithin(ctx, tx, credit.ID)
		if err != nil {
			return err
		}
		creditAfter, err := creditBalance.Add(pp.amount)
		if err != nil {
			return ErrBalanceLimit
		}

		base := p.refs.Next()
		operatedAt := p.now().UTC()
		result = TransferResult{
			Reference: base,
			Debit: Entry{
				ID:             uuid.NewString(),
				AccountID:      debit.ID,
				InitiatorID:    pp.initiatorID,
				Type:           TypeTransfer,
				Leg:            LegDebit,
				Kind:           pp.kind,
				Amount:         pp.amount,
				Status:         EntrySuccess,
				OperatedAt:     operatedAt,
				Description:    pp.debitDescription,
				CounterpartID:  credit.ID,
				Reference:      base + debitSuffix,
				IdempotencyKey: pp.key,
			},
			Credit: Entry{
				ID:             uuid.NewString(),
				AccountID:      credit.ID,
				InitiatorID:    pp.initiatorID,
				Type:           TypeTransfer,
				Leg:            LegCredit,
				Kind:           pp.kind,
				Amount:         pp.amount,
				Status:         EntrySuccess,
				OperatedAt:     operatedAt,
				Description:    pp.creditDescription,
				Reference:      base + creditSuffix,
				IdempotencyKey: pp.key,
			},
		}
		if err := tx.InsertEntries(ctx, result.Debit, result.Credit); err != nil {
			return err
		}

		events = []EntryPosted{
			p.event(pp.kind, result.Debit, debit, credit, debitBalance-pp.amount),
			p.event(pp.kind, result.Credit, credit, debit, creditAfter),
		}
		return p.enqueue(ctx, tx, events)
	})
	if errors.Is(err, ErrDuplicatePosting) && !replayed {
		result = pairFromEntries(p.original(ctx, pp.initiatorID, pp.kind, pp.key))
	}
	if err != nil {
		return result, err
	}

	p.afterCommit(ctx, events, pp.debitID, pp.creditID)
	return result, nil
}

func validatePair(debit, credit Account, merchant bool) error {
	if debit.OwnerID == credit.OwnerID {
		return ErrInvalidTarget
	}
	if credit.Status != StatusActive {
		return ErrInactiveAccount
	}
	if merchant && credit.Kind != KindMerchant {
		return ErrInvalidTarget
	}
	if debit.Status == StatusBlocked {
		return ErrInactiveAccount
	}
	return nil
}

// replay returns the entries already recorded under the idempotency key for
// the same kind of posting, together with ErrDuplicatePosting when there are any.
func (p *Poster) replay(ctx context.Context, tx Tx, initiatorID string, kind PostingKind, key string) ([]Entry, error) {
	if key == "" {
		return nil, nil
	}
	prior, err := tx.FindByIdempotencyKey(ctx, initiatorID, kind, key)
	if err != nil {
		return nil, err
	}
	if len(prior) == 0 {
		return nil, nil
	}
	return prior, ErrDuplicatePosting
}

// original reloads the entries of a posting that won a concurrent race on the
// same idempotency key and was only detected at commit.
func (p *Poster) original(ctx context.Context, initiatorID string, kind PostingKind, key string) []Entry {
	var prior []Entry
	err := p.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		prior, err = tx.FindByIdempotencyKey(ctx, initiatorID, kind, key)
		return err
	})
	if err != nil {
		p.logger.Error("reload duplicate posting", "initiator_id", initiatorID, "kind", kind, "error", err)
		return nil
	}
	return prior
}

func pairFromEntries(entries []Entry) TransferResult {
	var res TransferResult
	for _, e := range entries {
		if e.Leg == LegDebit {
			res.Debit = e
		} else {
			res.Credit = e
		}
		res.Reference = BaseReference(e.Reference)
	}
	return res
}

func (p *Poster) event(kind PostingKind, e Entry, account, counterpart Account, balanceAfter money.Amount) EntryPosted {
	evt := EntryPosted{
		EventID:       uuid.NewString(),
		Kind:          kind,
		EntryID:       e.ID,
		AccountID:     e.AccountID,
		OwnerID:       account.OwnerID,
		InitiatorID:   e.InitiatorID,
		Type:          e.Type,
		Leg:           e.Leg,
		Amount:        e.Amount,
		Reference:     e.Reference,
		BaseReference: BaseReference(e.Reference),
		Description:   e.Description,
		BalanceAfter:  balanceAfter,
		OperatedAt:    e.OperatedAt,
	}
	if counterpart.ID != "" {
		evt.CounterpartID = counterpart.ID
		evt.CounterpartOwnerID = counterpart.OwnerID
	}
	if kind == PostingMerchantPayment {
		if account.Kind == KindMerchant && e.Leg == LegCredit {
			evt.MerchantCode = account.MerchantCode
		} else {
			evt.MerchantCode = counterpart.MerchantCode
		}
	}
	return evt
}

func (p *Poster) enqueue(ctx context.Context, tx Tx, events []EntryPosted) error {
	msgs := make([]OutboxMessage, 0, len(events))
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("encode entry event: %w", err)
		}
		msgs = append(msgs, OutboxMessage{Exchange: p.exchange, RoutingKey: EntryPostedRoutingKey, Payload: payload})
	}
	return tx.Enqueue(ctx, msgs...)
}

// afterCommit runs the side effects of a committed posting. Failures are
// logged and never reported to the caller.
func (p *Poster) afterCommit(ctx context.Context, events []EntryPosted, accountIDs ...string) {
	if p.cache != nil {
		ids := append([]string(nil), accountIDs...)
		sort.Strings(ids)
		p.cache.InvalidateMany(ctx, ids...)
	}
	for _, evt := range events {
		p.logger.Info("entry posted", "kind", evt.Kind, "account_id", evt.AccountID, "reference", evt.Reference, "amount", evt.Amount.String())
		if p.sink == nil {
			continue
		}
		if err := p.sink.EntryPosted(ctx, evt); err != nil {
			p.logger.Error("event sink failed", "event_id", evt.EventID, "error", err)
		}
	}
}
