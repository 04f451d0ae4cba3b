package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/party"
)

const (
	numberPrefix       = "OM"
	merchantCodePrefix = "MCH"
	merchantAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCodeAttempts    = 5
)

// Parties is the subset of the owner directory the service needs.
type Parties interface {
	FindByID(ctx context.Context, id string) (party.Party, error)
	FindByPhone(ctx context.Context, phone string) (party.Party, error)
}

// BalanceInvalidator drops an account's cached balance.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, accountID string)
}

// Service manages the account lifecycle and implements ledger.Directory.
type Service struct {
	repo     Repository
	parties  Parties
	balances BalanceInvalidator
	logger   *slog.Logger
	now      func() time.Time
	intn     func(n int) int
}

// NewService builds an account service instance.
func NewService(repo Repository, parties Parties, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		parties: parties,
		logger:  logger.With("component", "accounts"),
		now:     time.Now,
		intn:    rand.IntN,
	}
}

func (s *Service) accountNumber() string {
	return fmt.Sprintf("%s%08d", numberPrefix, s.intn(100_000_000))
}

func (s *Service) merchantCode() string {
	var b strings.Builder
	b.WriteString(merchantCodePrefix)
	for i := 0; i < 6; i++ {
		b.WriteByte(merchantAlphabet[s.intn(len(merchantAlphabet))])
	}
	return b.String()
}

// UseBalanceCache makes Close drop the account's cached balance, so a closed
// account is never served from the cache.
func (s *Service) UseBalanceCache(c BalanceInvalidator) {
	s.balances = c
}

// Open creates an inactive account for an existing party.
func (s *Service) Open(ctx context.Context, input OpenInput) (ledger.Account, error) {
	if input.Kind == "" {
		input.Kind = ledger.KindSimple
	}
	if input.Kind != ledger.KindSimple && input.Kind != ledger.KindMerchant {
		return ledger.Account{}, ErrInvalidKind
	}
	if _, err := s.parties.FindByID(ctx, input.OwnerID); err != nil {
		return ledger.Account{}, err
	}

	for attempt := 1; ; attempt++ {
		acct := ledger.Account{
			ID:        uuid.New().String(),
			OwnerID:   input.OwnerID,
			Number:    s.accountNumber(),
			Kind:      input.Kind,
			Status:    ledger.StatusInactive,
			CreatedAt: s.now().UTC(),
		}
		if acct.Kind == ledger.KindMerchant {
			acct.MerchantCode = s.merchantCode()
		}
		err := s.repo.Create(ctx, acct)
		if err == nil {
			s.logger.Info("account opened", "account_id", acct.ID, "owner_id", acct.OwnerID, "kind", acct.Kind)
			return acct, nil
		}
		if !errors.Is(err, ErrDuplicateCode) || attempt == maxCodeAttempts {
			return ledger.Account{}, err
		}
	}
}

// Get returns a visible account.
func (s *Service) Get(ctx context.Context, id string) (ledger.Account, error) {
	return s.repo.Get(ctx, id)
}

// ListByOwner returns the owner's visible accounts, oldest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Activate marks an inactive account active once the owner is verified.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.transition(ctx, id, ledger.StatusInactive, ledger.StatusActive)
}

// Block freezes an active or inactive account.
func (s *Service) Block(ctx context.Context, id, reason string) error {
	acct, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status == ledger.StatusBlocked {
		return ErrInvalidTransition
	}
	if strings.TrimSpace(reason) == "" {
		return errors.New("block reason is required")
	}
	if err := s.repo.UpdateStatus(ctx, id, ledger.StatusBlocked, reason); err != nil {
		return err
	}
	s.logger.Warn("account blocked", "account_id", id, "reason", reason)
	return nil
}

// Unblock returns a blocked account to active.
func (s *Service) Unblock(ctx context.Context, id string) error {
	return s.transition(ctx, id, ledger.StatusBlocked, ledger.StatusActive)
}

// Close soft-deletes an account. Its entries are retained.
func (s *Service) Close(ctx context.Context, id string) error {
	if err := s.repo.Close(ctx, id, s.now()); err != nil {
		return err
	}
	if s.balances != nil {
		s.balances.Invalidate(ctx, id)
	}
	s.logger.Info("account closed", "account_id", id)
	return nil
}

func (s *Service) transition(ctx context.Context, id string, from, to ledger.AccountStatus) error {
	acct, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if acct.Status != from {
		return ErrInvalidTransition
	}
	if err := s.repo.UpdateStatus(ctx, id, to, ""); err != nil {
		return err
	}
	s.logger.Info("account status changed", "account_id", id, "from", from, "to", to)
	return nil
}

// AccountByID implements ledger.Directory.
func (s *Service) AccountByID(ctx context.Context, id string) (ledger.Account, error) {
	return s.repo.Get(ctx, id)
}

// AccountByPhone resolves the primary (oldest visible) account of the party
// registered under phone.
func (s *Service) AccountByPhone(ctx context.Context, phone string) (ledger.Account, error) {
	p, err := s.parties.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, party.ErrNotFound) {
			return ledger.Account{}, ledger.ErrAccountNotFound
		}
		return ledger.Account{}, err
	}
	owned, err := s.repo.ListByOwner(ctx, p.ID)
	if err != nil {
		return ledger.Account{}, err
	}
	if len(owned) == 0 {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return owned[0], nil
}

// AccountByMerchantCode implements ledger.Directory.
func (s *Service) AccountByMerchantCode(ctx context.Context, code string) (ledger.Account, error) {
	return s.repo.GetByMerchantCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// OwnerName implements ledger.Directory.
func (s *Service) OwnerName(ctx context.Context, partyID string) (string, error) {
	p, err := s.parties.FindByID(ctx, partyID)
	if err != nil {
		return "", err
	}
	return p.FullName, nil
}

// ActiveAccountIDs implements ledger.Directory.
func (s *Service) ActiveAccountIDs(ctx context.Context) ([]string, error) {
	return s.repo.ActiveIDs(ctx)
}

// Phone returns the contact number of the account owner.
func (s *Service) Phone(ctx context.Context, partyID string) (string, error) {
	p, err := s.parties.FindByID(ctx, partyID)
	if err != nil {
		return "", err
	}
	return p.Phone, nil
}
