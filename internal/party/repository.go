package party

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists parties.
type Repository interface {
	Create(ctx context.Context, p Party) error
	FindByID(ctx context.Context, id string) (Party, error)
	FindByPhone(ctx context.Context, phone string) (Party, error)
}

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed party repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new party.
func (r *PostgresRepository) Create(ctx context.Context, p Party) error {
	partyID, err := uuid.Parse(p.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO parties (id, phone, full_name, created_at)
        VALUES ($1, $2, $3, $4)`, partyID, p.Phone, p.FullName, p.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrPhoneTaken
	}
	return err
}

// FindByID fetches a party by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Party, error) {
	partyID, err := uuid.Parse(id)
	if err != nil {
		return Party{}, ErrNotFound
	}
	return scanParty(r.db.QueryRow(ctx, `SELECT id, phone, full_name, created_at FROM parties WHERE id = $1`, partyID))
}

// FindByPhone fetches a party by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (Party, error) {
	return scanParty(r.db.QueryRow(ctx, `SELECT id, phone, full_name, created_at FROM parties WHERE phone = $1`, phone))
}

func scanParty(row pgx.Row) (Party, error) {
	var (
		id        uuid.UUID
		createdAt time.Time
		p         Party
	)
	if err := row.Scan(&id, &p.Phone, &p.FullName, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotFound
		}
		return Party{}, err
	}
	p.ID = id.String()
	p.CreatedAt = createdAt.UTC()
	return p, nil
}
