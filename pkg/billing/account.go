package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Account holds the billing state for a single user. There is exactly one
// account per user and it is the single source of truth for the plan,
// usage counters, and overage charges.
type Account struct {
	UserID       uuid.UUID  `json:"user_id"`
	Email        string     `json:"email"`
	Plan         Plan       `json:"plan"`
	UsageCount   int64      `json:"usage_count"`
	UsageLimit   int64      `json:"usage_limit"` // Unlimited for no cap
	OverageCount int64      `json:"overage_count"`
	OverageCents int64      `json:"overage_cents"`
	Beta         bool       `json:"beta"`
	BetaExpires  *time.Time `json:"beta_expires,omitempty"`
	LastResetAt  time.Time  `json:"last_reset_at"`
	LastEventAt  time.Time  `json:"last_event_at"` // occurred_at of the last applied provider event
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// BetaActive reports whether the account currently has beta access.
func (a *Account) BetaActive(now time.Time) bool {
	if !a.Beta {
		return false
	}
	if a.BetaExpires == nil {
		return true
	}
	return now.Before(*a.BetaExpires)
}

// Unbounded reports whether the account has no usage cap.
func (a *Account) Unbounded() bool {
	return a.UsageLimit == Unlimited
}

// AccountStore defines the persistence port for billing accounts.
// Implementations must guarantee one record per user; Save upserts by UserID.
type AccountStore interface {
	// Get retrieves an account by user ID.
	// Returns ErrAccountNotFound if no account exists.
	Get(ctx context.Context, userID uuid.UUID) (*Account, error)

	// GetByEmail retrieves an account by the billing email reported by the
	// payment provider. Returns ErrAccountNotFound if no account matches.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Save creates or updates an account keyed by UserID.
	Save(ctx context.Context, account *Account) error
}
