package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ompay/ompay/internal/money"
)

const idempotencyConstraint = "ledger_entries_idempotency_scope"

// AccountColumns is the select list understood by ScanAccount.
const AccountColumns = `id::text, owner_id::text, number, kind, status,
        COALESCE(merchant_code, ''), COALESCE(block_reason, ''), closed_at, created_at`

const entryColumns = `id::text, account_id::text, initiator_id::text, entry_type, leg, posting_kind, amount_minor,
        status, operated_at, description, COALESCE(counterpart_id::text, ''), reference,
        COALESCE(idempotency_key, '')`

// ScanAccount reads a row selected with AccountColumns.
func ScanAccount(row pgx.Row) (Account, error) {
	var (
		a        Account
		kind     string
		status   string
		closedAt *time.Time
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Number, &kind, &status, &a.MerchantCode, &a.BlockReason, &closedAt, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	a.Kind = AccountKind(kind)
	a.Status = AccountStatus(status)
	if closedAt != nil {
		t := closedAt.UTC()
		a.ClosedAt = &t
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists ledger entries in PostgreSQL and locks account rows
// with SELECT ... FOR UPDATE.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Entries returns every entry of the account, oldest first.
func (s *PostgresStore) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	return listEntries(ctx, s.db, accountID)
}

// History pages through an account's entries, newest first.
func (s *PostgresStore) History(ctx context.Context, accountID string, q HistoryQuery) (HistoryPage, error) {
	q = q.normalized()
	id, err := uuid.Parse(accountID)
	if err != nil {
		return HistoryPage{}, ErrAccountNotFound
	}

	var entryType *string
	if q.Type != "" {
		t := string(q.Type)
		entryType = &t
	}

	page := HistoryPage{Page: q.Page, PerPage: q.PerPage, Entries: []Entry{}}
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries
        WHERE account_id = $1 AND ($2::text IS NULL OR entry_type = $2)`, id, entryType).Scan(&page.Total); err != nil {
		return HistoryPage{}, fmt.Errorf("count entries: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE account_id = $1 AND ($2::text IS NULL OR entry_type = $2)
        ORDER BY operated_at DESC, reference DESC
        LIMIT $3 OFFSET $4`, id, entryType, q.PerPage, q.offset())
	if err != nil {
		return HistoryPage{}, fmt.Errorf("query history: %w", err)
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return HistoryPage{}, err
	}
	page.Entries = append(page.Entries, entries...)
	return page, nil
}

// WithinTx runs fn inside a database transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapInsertError(err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockAccounts(ctx context.Context, ids ...string) (map[string]Account, error) {
	const query = `SELECT ` + AccountColumns + ` FROM accounts
        WHERE id = $1 AND status <> 'closed' FOR UPDATE`

	accounts := make(map[string]Account, len(ids))
	for _, id := range sortedUnique(ids) {
		accountUUID, err := uuid.Parse(id)
		if err != nil {
			return nil, ErrAccountNotFound
		}
		acct, err := ScanAccount(t.tx.QueryRow(ctx, query, accountUUID))
		if err != nil {
			return nil, err
		}
		accounts[id] = acct
	}
	return accounts, nil
}

func (t *postgresTx) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	return listEntries(ctx, t.tx, accountID)
}

func (t *postgresTx) FindByIdempotencyKey(ctx context.Context, initiatorID string, kind PostingKind, key string) ([]Entry, error) {
	initiator, err := uuid.Parse(initiatorID)
	if err != nil {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE initiator_id = $1 AND posting_kind = $2 AND idempotency_key = $3
        ORDER BY leg DESC`, initiator, string(kind), key)
	if err != nil {
		return nil, fmt.Errorf("query idempotency key: %w", err)
	}
	return collectEntries(rows)
}

func (t *postgresTx) InsertEntries(ctx context.Context, entries ...Entry) error {
	const insert = `INSERT INTO ledger_entries (id, account_id, initiator_id, entry_type, leg, posting_kind,
        amount_minor, status, operated_at, description, counterpart_id, reference, idempotency_key)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	for _, e := range entries {
		entryID, err := uuid.Parse(e.ID)
		if err != nil {
			return err
		}
		accountID, err := uuid.Parse(e.AccountID)
		if err != nil {
			return err
		}
		initiatorID, err := uuid.Parse(e.InitiatorID)
		if err != nil {
			return err
		}
		var counterpart *uuid.UUID
		if e.CounterpartID != "" {
			c, err := uuid.Parse(e.CounterpartID)
			if err != nil {
				return err
			}
			counterpart = &c
		}
		var key *string
		if e.IdempotencyKey != "" {
			key = &e.IdempotencyKey
		}
		if _, err := t.tx.Exec(ctx, insert, entryID, accountID, initiatorID, string(e.Type), string(e.Leg),
			string(e.Kind), e.Amount.Minor(), string(e.Status), e.OperatedAt.UTC(), e.Description, counterpart, e.Reference, key); err != nil {
			return mapInsertError(err)
		}
	}
	return nil
}

func (t *postgresTx) Enqueue(ctx context.Context, msgs ...OutboxMessage) error {
	for _, m := range msgs {
		if _, err := t.tx.Exec(ctx, `INSERT INTO event_outbox (exchange, routing_key, payload)
            VALUES ($1, $2, $3::jsonb)`, strings.TrimSpace(m.Exchange), strings.TrimSpace(m.RoutingKey), string(m.Payload)); err != nil {
			return fmt.Errorf("failed to enqueue outbox event: %w", err)
		}
	}
	return nil
}

func listEntries(ctx context.Context, q querier, accountID string) ([]Entry, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	rows, err := q.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE account_id = $1 ORDER BY operated_at, reference`, id)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			entryType string
			leg       string
			kind      string
			status    string
			minor     int64
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.InitiatorID, &entryType, &leg, &kind, &minor, &status,
			&e.OperatedAt, &e.Description, &e.CounterpartID, &e.Reference, &e.IdempotencyKey); err != nil {
			return nil, err
		}
		e.Type = EntryType(entryType)
		e.Leg = Leg(leg)
		e.Kind = PostingKind(kind)
		e.Status = EntryStatus(status)
		e.Amount = money.FromMinor(minor)
		e.OperatedAt = e.OperatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == idempotencyConstraint {
		return ErrDuplicatePosting
	}
	return err
}
