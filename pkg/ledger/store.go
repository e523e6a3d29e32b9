package ledger

import (
	"context"
	"time"
)

// Store is the persistence port for webhook records.
//
// Insert must be atomic with respect to the (provider, external_id)
// uniqueness constraint: when two workers race on the same event, exactly
// one insert succeeds and the other observes ErrDuplicateRecord. A
// read-then-write implementation does not satisfy this contract.
type Store interface {
	// Insert creates a new record. Returns ErrDuplicateRecord if a record
	// with the same (Provider, ExternalID) already exists.
	Insert(ctx context.Context, rec *Record) error

	// Get retrieves a record by its external identity.
	// Returns ErrRecordNotFound if absent.
	Get(ctx context.Context, provider, externalID string) (*Record, error)

	// Update persists status, attempts, error text, user attribution, and
	// last attempt time, keyed by (Provider, ExternalID) so concurrent
	// updates target the same row.
	Update(ctx context.Context, rec *Record) error

	// ClaimFailed atomically moves a failed record back into
	// StatusProcessing, incrementing its attempt counter and stamping
	// attemptAt, but only if the record is still StatusFailed with exactly
	// expectedAttempts attempts. Returns true when this caller won the
	// claim. Like Insert, the check and the write must be a single atomic
	// step: when several workers race on the same failed record, exactly
	// one claim succeeds.
	ClaimFailed(ctx context.Context, provider, externalID string, expectedAttempts int, attemptAt time.Time) (bool, error)

	// ListByStatus returns up to limit records in the given status,
	// oldest first.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Record, error)

	// MarkStale transitions records stuck in StatusProcessing with a last
	// attempt before cutoff into StatusFailed, returning how many were
	// reclaimed. This converts worker crashes into retryable failures
	// instead of permanently stuck events.
	MarkStale(ctx context.Context, cutoff time.Time) (int, error)
}
