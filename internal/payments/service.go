package payments

import (
	"context"
	"errors"

	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/money"
)

// ErrNotOwner indicates the caller does not own the account in the request.
var ErrNotOwner = errors.New("not owner of account")

// Accounts loads visible accounts.
type Accounts interface {
	Get(ctx context.Context, id string) (ledger.Account, error)
}

// Service exposes ledger operations to authenticated parties. Every call is
// scoped to an account the caller owns.
type Service struct {
	poster   *ledger.Poster
	reports  *ledger.AccountLedger
	balances *ledger.BalanceCache
	accounts Accounts
}

// NewService constructs a payment service.
func NewService(poster *ledger.Poster, reports *ledger.AccountLedger, balances *ledger.BalanceCache, accounts Accounts) *Service {
	return &Service{poster: poster, reports: reports, balances: balances, accounts: accounts}
}

// SingleInput describes a deposit or a withdrawal.
type SingleInput struct {
	PartyID        string
	AccountID      string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// TransferInput describes a transfer to the primary account of a phone number.
type TransferInput struct {
	PartyID        string
	AccountID      string
	RecipientPhone string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// PaymentInput describes a merchant payment.
type PaymentInput struct {
	PartyID        string
	AccountID      string
	MerchantCode   string
	Amount         money.Amount
	IdempotencyKey string
}

func (s *Service) owned(ctx context.Context, partyID, accountID string) (ledger.Account, error) {
	acct, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return ledger.Account{}, err
	}
	if acct.OwnerID != partyID {
		return ledger.Account{}, ErrNotOwner
	}
	return acct, nil
}

// Deposit credits one of the caller's accounts.
func (s *Service) Deposit(ctx context.Context, in SingleInput) (ledger.Entry, error) {
	if _, err := s.owned(ctx, in.PartyID, in.AccountID); err != nil {
		return ledger.Entry{}, err
	}
	return s.poster.Deposit(ctx, ledger.DepositRequest{
		AccountID:      in.AccountID,
		InitiatorID:    in.PartyID,
		Amount:         in.Amount,
		Description:    in.Description,
		IdempotencyKey: in.IdempotencyKey,
	})
}

// Withdraw debits one of the caller's accounts.
func (s *Service) Withdraw(ctx context.Context, in SingleInput) (ledger.Entry, error) {
	if _, err := s.owned(ctx, in.PartyID, in.AccountID); err != nil {
		return ledger.Entry{}, err
	}
	return s.poster.Withdraw(ctx, ledger.WithdrawRequest{
		AccountID:      in.AccountID,
		InitiatorID:    in.PartyID,
		Amount:         in.Amount,
		Description:    in.Description,
		IdempotencyKey: in.IdempotencyKey,
	})
}

// Transfer sends funds from one of the caller's accounts.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (ledger.TransferResult, error) {
	if _, err := s.owned(ctx, in.PartyID, in.AccountID); err != nil {
		return ledger.TransferResult{}, err
	}
	return s.poster.Transfer(ctx, ledger.TransferRequest{
		SenderAccountID: in.AccountID,
		RecipientPhone:  in.RecipientPhone,
		InitiatorID:     in.PartyID,
		Amount:          in.Amount,
		Description:     in.Description,
		IdempotencyKey:  in.IdempotencyKey,
	})
}

// PayMerchant pays a merchant from one of the caller's accounts.
func (s *Service) PayMerchant(ctx context.Context, in PaymentInput) (ledger.TransferResult, error) {
	if _, err := s.owned(ctx, in.PartyID, in.AccountID); err != nil {
		return ledger.TransferResult{}, err
	}
	return s.poster.PayMerchant(ctx, ledger.MerchantPaymentRequest{
		PayerAccountID: in.AccountID,
		MerchantCode:   in.MerchantCode,
		InitiatorID:    in.PartyID,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
	})
}

// Balance returns the cached balance of one of the caller's accounts.
func (s *Service) Balance(ctx context.Context, partyID, accountID string) (money.Amount, error) {
	if _, err := s.owned(ctx, partyID, accountID); err != nil {
		return 0, err
	}
	return s.balances.Balance(ctx, accountID)
}

// History pages through the entries of one of the caller's accounts.
func (s *Service) History(ctx context.Context, partyID, accountID string, q ledger.HistoryQuery) (ledger.HistoryPage, error) {
	if _, err := s.owned(ctx, partyID, accountID); err != nil {
		return ledger.HistoryPage{}, err
	}
	return s.reports.History(ctx, accountID, q)
}

// Stats summarises the activity of one of the caller's accounts.
func (s *Service) Stats(ctx context.Context, partyID, accountID string) (ledger.Stats, error) {
	if _, err := s.owned(ctx, partyID, accountID); err != nil {
		return ledger.Stats{}, err
	}
	return s.reports.Stats(ctx, accountID)
}
