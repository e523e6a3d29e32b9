package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the PostgreSQL error code raised when an insert
// hits the unique index on (provider, external_id).
const uniqueViolation = "23505"

// PGStore is a PostgreSQL Store backed by a pgx pool. The uniqueness
// contract is carried by the database index, so concurrent inserts of
// the same event resolve at the storage layer rather than in
// application logic.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	if pool == nil {
		panic("ledger: pgx pool is required")
	}
	return &PGStore{pool: pool}
}

const recordColumns = `id, provider, external_id, event_type, status, payload,
	user_id, attempts, last_error, last_attempt_at, created_at`

func (s *PGStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Provider, rec.ExternalID, rec.EventType, string(rec.Status),
		rec.Payload, rec.UserID, rec.Attempts, rec.LastError,
		rec.LastAttemptAt, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateRecord
		}
		return errors.Join(ErrStoreFailure, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, provider, externalID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM webhook_events
		WHERE provider = $1 AND external_id = $2`, provider, externalID)
	return scanRecord(row)
}

func (s *PGStore) Update(ctx context.Context, rec *Record) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $3, user_id = $4, attempts = $5, last_error = $6, last_attempt_at = $7
		WHERE provider = $1 AND external_id = $2`,
		rec.Provider, rec.ExternalID, string(rec.Status), rec.UserID,
		rec.Attempts, rec.LastError, rec.LastAttemptAt)
	if err != nil {
		return errors.Join(ErrStoreFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ClaimFailed relies on a single conditional UPDATE, so the row guard
// and the attempt increment happen in one statement and only one of
// several racing workers sees an affected row.
func (s *PGStore) ClaimFailed(ctx context.Context, provider, externalID string, expectedAttempts int, attemptAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $5, attempts = attempts + 1, last_attempt_at = $6
		WHERE provider = $1 AND external_id = $2 AND status = $3 AND attempts = $4`,
		provider, externalID, string(StatusFailed), expectedAttempts,
		string(StatusProcessing), attemptAt)
	if err != nil {
		return false, errors.Join(ErrStoreFailure, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM webhook_events
		WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrStoreFailure, err)
	}
	return out, nil
}

func (s *PGStore) MarkStale(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $1, last_error = 'reclaimed: processing timed out'
		WHERE status = $2 AND last_attempt_at < $3`,
		string(StatusFailed), string(StatusProcessing), cutoff)
	if err != nil {
		return 0, errors.Join(ErrStoreFailure, err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var status string
	err := row.Scan(&rec.ID, &rec.Provider, &rec.ExternalID, &rec.EventType,
		&status, &rec.Payload, &rec.UserID, &rec.Attempts, &rec.LastError,
		&rec.LastAttemptAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to scan webhook record: %w", err)
	}
	rec.Status = Status(status)
	return &rec, nil
}
