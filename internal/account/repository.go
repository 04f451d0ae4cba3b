package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ompay/ompay/internal/ledger"
)

// Repository persists account metadata. Closed accounts are invisible to every
// read except through audit tooling.
type Repository interface {
	Create(ctx context.Context, a ledger.Account) error
	Get(ctx context.Context, id string) (ledger.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error)
	GetByMerchantCode(ctx context.Context, code string) (ledger.Account, error)
	ActiveIDs(ctx context.Context) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status ledger.AccountStatus, reason string) error
	Close(ctx context.Context, id string, at time.Time) error
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an account record.
func (r *PostgresRepository) Create(ctx context.Context, a ledger.Account) error {
	accountID, err := uuid.Parse(a.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(a.OwnerID)
	if err != nil {
		return err
	}
	var merchantCode *string
	if a.MerchantCode != "" {
		merchantCode = &a.MerchantCode
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, owner_id, number, kind, status, merchant_code, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`, accountID, ownerID, a.Number, string(a.Kind), string(a.Status), merchantCode, a.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateCode
	}
	return err
}

// Get fetches a visible account by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (ledger.Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return ledger.ScanAccount(r.db.QueryRow(ctx, `SELECT `+ledger.AccountColumns+`
        FROM accounts WHERE id = $1 AND status <> 'closed'`, accountID))
}

// ListByOwner returns the owner's visible accounts, oldest first.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]ledger.Account, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+ledger.AccountColumns+`
        FROM accounts WHERE owner_id = $1 AND status <> 'closed' ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Account
	for rows.Next() {
		a, err := ledger.ScanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetByMerchantCode fetches a visible account by merchant code.
func (r *PostgresRepository) GetByMerchantCode(ctx context.Context, code string) (ledger.Account, error) {
	return ledger.ScanAccount(r.db.QueryRow(ctx, `SELECT `+ledger.AccountColumns+`
        FROM accounts WHERE merchant_code = $1 AND status <> 'closed'`, code))
}

// ActiveIDs lists every active account.
func (r *PostgresRepository) ActiveIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id::text FROM accounts WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStatus sets the status and block reason of a visible account.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status ledger.AccountStatus, reason string) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ledger.ErrAccountNotFound
	}
	var blockReason *string
	if reason != "" {
		blockReason = &reason
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET status = $1, block_reason = $2
        WHERE id = $3 AND status <> 'closed'`, string(status), blockReason, accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// Close soft-deletes an account.
func (r *PostgresRepository) Close(ctx context.Context, id string, at time.Time) error {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ledger.ErrAccountNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE accounts SET status = 'closed', closed_at = $1
        WHERE id = $2 AND status <> 'closed'`, at.UTC(), accountID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}
