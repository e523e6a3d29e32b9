package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is the processing attempt cap. A record that fails
// this many times stays failed terminally and must be surfaced to an
// operator.
const DefaultMaxAttempts = 3

// Ledger is the idempotency ledger: it admits incoming events at most
// once and tracks their processing lifecycle. The serialization point is
// the store's atomic insert; everything else keys off the resulting row.
type Ledger struct {
	store       Store
	maxAttempts int
	log         *slog.Logger
	now         func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxAttempts overrides the retry cap. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n >= 1 {
			l.maxAttempts = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a Ledger. Panics on nil store to fail fast at wiring time.
func New(store Store, opts ...Option) *Ledger {
	if store == nil {
		panic("ledger: Store is required")
	}
	l := &Ledger{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
		log:         slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxAttempts returns the configured attempt cap.
func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

// Admit classifies an incoming event and, for processable outcomes,
// claims it by moving the record into StatusProcessing.
//
// The insert-first design is the concurrency contract: when N deliveries
// of the same event race, exactly one insert succeeds (DecisionNew) and
// the rest observe the existing row. For a failed record below the
// attempt cap the admission itself increments the attempt counter and
// reclaims the row, so a retry flows through the same path as a fresh
// event.
func (l *Ledger) Admit(ctx context.Context, provider, externalID, eventType string, payload []byte, userID *uuid.UUID) (Decision, *Record, error) {
	now := l.now()
	rec := &Record{
		ID:            uuid.New(),
		Provider:      provider,
		ExternalID:    externalID,
		EventType:     eventType,
		Status:        StatusProcessing,
		Payload:       payload,
		UserID:        userID,
		Attempts:      1,
		LastAttemptAt: now,
		CreatedAt:     now,
	}

	err := l.store.Insert(ctx, rec)
	if err == nil {
		return DecisionNew, rec, nil
	}
	if !errors.Is(err, ErrDuplicateRecord) {
		return "", nil, fmt.Errorf("failed to admit event %s/%s: %w", provider, externalID, err)
	}

	existing, err := l.store.Get(ctx, provider, externalID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load duplicate event %s/%s: %w", provider, externalID, err)
	}

	switch existing.Status {
	case StatusCompleted, StatusSkipped:
		// Already fully applied (or deliberately refused); redelivery must
		// produce no further side effects.
		return DecisionDuplicateCompleted, existing, nil

	case StatusProcessing:
		return DecisionDuplicateInFlight, existing, nil

	case StatusFailed:
		if existing.Attempts >= l.maxAttempts {
			return DecisionTerminallyFailed, existing, nil
		}
		// The reclaim is a conditional claim on (status, attempts), not a
		// blind update: of N concurrent redeliveries of the same failed
		// record, exactly one wins the retry and the rest see it in flight.
		claimed, err := l.store.ClaimFailed(ctx, provider, externalID, existing.Attempts, now)
		if err != nil {
			return "", nil, fmt.Errorf("failed to reclaim failed event %s/%s: %w", provider, externalID, err)
		}
		existing.Status = StatusProcessing
		if !claimed {
			return DecisionDuplicateInFlight, existing, nil
		}
		existing.Attempts++
		existing.LastAttemptAt = now
		return DecisionRetryableFailed, existing, nil

	default:
		return "", nil, fmt.Errorf("event %s/%s has unknown status %q", provider, externalID, existing.Status)
	}
}

// Complete marks the record fully applied.
func (l *Ledger) Complete(ctx context.Context, rec *Record) error {
	rec.Status = StatusCompleted
	rec.LastError = ""
	return l.update(ctx, rec)
}

// Skip marks the record deliberately unprocessed with a reason, e.g. an
// unhandled event type. A skip is a success from the provider's point of
// view, so it is terminal like Complete.
func (l *Ledger) Skip(ctx context.Context, rec *Record, reason string) error {
	rec.Status = StatusSkipped
	rec.LastError = reason
	return l.update(ctx, rec)
}

// Fail records a handler failure. Below the attempt cap the record stays
// eligible for retry; at the cap it is terminal and logged loudly, since
// a lost payment event can mean a paying customer without entitlements.
func (l *Ledger) Fail(ctx context.Context, rec *Record, cause error) error {
	rec.Status = StatusFailed
	if cause != nil {
		rec.LastError = cause.Error()
	}
	rec.LastAttemptAt = l.now()

	if rec.Attempts >= l.maxAttempts {
		l.log.ErrorContext(ctx, "webhook event terminally failed, manual intervention required",
			slog.String("provider", rec.Provider),
			slog.String("external_id", rec.ExternalID),
			slog.String("event_type", rec.EventType),
			slog.Int("attempts", rec.Attempts),
			slog.String("last_error", rec.LastError),
		)
	}

	return l.update(ctx, rec)
}

// SweepStale reclaims records stuck in StatusProcessing longer than
// olderThan, converting worker crashes into retryable failures.
func (l *Ledger) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := l.store.MarkStale(ctx, l.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale processing records: %w", err)
	}
	if n > 0 {
		l.log.WarnContext(ctx, "reclaimed stale processing webhook records", slog.Int("count", n))
	}
	return n, nil
}

// ListRetryable returns failed records still below the attempt cap,
// oldest first.
func (l *Ledger) ListRetryable(ctx context.Context, limit int) ([]*Record, error) {
	failed, err := l.store.ListByStatus(ctx, StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	out := failed[:0]
	for _, rec := range failed {
		if rec.Attempts < l.maxAttempts {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListTerminal returns failed records that exhausted their retry budget,
// for operator review.
func (l *Ledger) ListTerminal(ctx context.Context, limit int) ([]*Record, error) {
	failed, err := l.store.ListByStatus(ctx, StatusFailed, limit)
	if err != nil {
		return nil, err
	}
	out := failed[:0]
	for _, rec := range failed {
		if rec.Attempts >= l.maxAttempts {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *Ledger) update(ctx context.Context, rec *Record) error {
	if err := l.store.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to update event %s/%s to %s: %w",
			rec.Provider, rec.ExternalID, rec.Status, err)
	}
	return nil
}
