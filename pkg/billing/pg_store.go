package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAccountStore is a PostgreSQL AccountStore backed by a pgx pool.
// Save upserts on the user_id primary key; the row-level guarantees of
// the database serialize concurrent writes to the same account.
type PGAccountStore struct {
	pool *pgxpool.Pool
}

func NewPGAccountStore(pool *pgxpool.Pool) *PGAccountStore {
	if pool == nil {
		panic("billing: pgx pool is required")
	}
	return &PGAccountStore{pool: pool}
}

const accountColumns = `user_id, email, plan, usage_count, usage_limit,
	overage_count, overage_cents, beta, beta_expires_at,
	last_reset_at, last_event_at, created_at, updated_at`

func (s *PGAccountStore) Get(ctx context.Context, userID uuid.UUID) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

func (s *PGAccountStore) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanAccount(row)
}

func (s *PGAccountStore) Save(ctx context.Context, a *Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			plan = EXCLUDED.plan,
			usage_count = EXCLUDED.usage_count,
			usage_limit = EXCLUDED.usage_limit,
			overage_count = EXCLUDED.overage_count,
			overage_cents = EXCLUDED.overage_cents,
			beta = EXCLUDED.beta,
			beta_expires_at = EXCLUDED.beta_expires_at,
			last_reset_at = EXCLUDED.last_reset_at,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at`,
		a.UserID, a.Email, string(a.Plan), a.UsageCount, a.UsageLimit,
		a.OverageCount, a.OverageCents, a.Beta, a.BetaExpires,
		a.LastResetAt, a.LastEventAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.UserID, err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	var plan string
	err := row.Scan(&a.UserID, &a.Email, &plan, &a.UsageCount, &a.UsageLimit,
		&a.OverageCount, &a.OverageCents, &a.Beta, &a.BetaExpires,
		&a.LastResetAt, &a.LastEventAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Plan = Plan(plan)
	return &a, nil
}
