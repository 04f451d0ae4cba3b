package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ompay/ompay/internal/ledger"
)

const maxErrorLength = 2000

// Message is a claimed outbox row awaiting publication.
type Message struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// Repository claims and settles outbox rows.
type Repository interface {
	// Claim marks up to limit due rows as processing. Rows stuck in
	// processing for longer than staleAfter are reclaimed.
	Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]Message, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, retryAfter time.Duration, reason string) error
}

func truncate(reason string) string {
	if len(reason) > maxErrorLength {
		return reason[:maxErrorLength]
	}
	return reason
}

// PostgresRepository reads the event_outbox table written by ledger postings.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed outbox repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Claim(ctx context.Context, limit int, staleAfter time.Duration) ([]Message, error) {
	const query = `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts`

	rows, err := r.db.Query(ctx, query, limit, int(staleAfter.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("claim outbox: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var (
			msg     Message
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payload, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payload)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages, nil
}

func (r *PostgresRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, retryAfter time.Duration, reason string) error {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1`, id, seconds, truncate(reason))
	return err
}

type memoryRow struct {
	msg       Message
	status    string
	nextAt    time.Time
	startedAt time.Time
	lastError string
}

// MemoryRepository keeps the outbox in process. It also accepts appends from
// the in-memory ledger store so development runs share the relay path.
type MemoryRepository struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	rows   []*memoryRow
}

// NewMemoryRepository builds an empty in-memory outbox.
func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{now: now}
}

var _ ledger.OutboxWriter = (*MemoryRepository)(nil)

// Append implements ledger.OutboxWriter.
func (r *MemoryRepository) Append(_ context.Context, msgs ...ledger.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now()
	for _, m := range msgs {
		r.nextID++
		payload := append([]byte(nil), m.Payload...)
		r.rows = append(r.rows, &memoryRow{
			msg:    Message{ID: r.nextID, Exchange: m.Exchange, RoutingKey: m.RoutingKey, Payload: payload},
			status: "pending",
			nextAt: at,
		})
	}
	return nil
}

func (r *MemoryRepository) Claim(_ context.Context, limit int, staleAfter time.Duration) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var out []Message
	for _, row := range r.rows {
		if len(out) == limit {
			break
		}
		due := row.status == "pending" && !row.nextAt.After(now)
		stale := row.status == "processing" && now.Sub(row.startedAt) > staleAfter
		if !due && !stale {
			continue
		}
		row.status = "processing"
		row.startedAt = now
		row.msg.Attempts++
		out = append(out, row.msg)
	}
	return out, nil
}

func (r *MemoryRepository) MarkPublished(_ context.Context, id int64) error {
	return r.update(id, func(row *memoryRow) {
		row.status = "published"
		row.lastError = ""
	})
}

func (r *MemoryRepository) MarkFailed(_ context.Context, id int64, retryAfter time.Duration, reason string) error {
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return r.update(id, func(row *memoryRow) {
		row.status = "pending"
		row.nextAt = r.now().Add(retryAfter)
		row.lastError = truncate(reason)
	})
}

// Pending reports how many rows have not been published yet.
func (r *MemoryRepository) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, row := range r.rows {
		if row.status != "published" {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) update(id int64, fn func(*memoryRow)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.msg.ID == id {
			fn(row)
			return nil
		}
	}
	return fmt.Errorf("outbox message %d not found", id)
}
