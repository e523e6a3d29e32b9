package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conversion is the audit record emitted after every successful plan
// transition: who moved, from where to where, the attributable price,
// and what triggered it (webhook event name, promo code, manual op).
type Conversion struct {
	UserID      uuid.UUID
	FromPlan    string
	ToPlan      string
	AmountCents int64
	Source      string
	CreatedAt   time.Time
}

// Recorder is the analytics port consumed by the billing core.
// Recording is best-effort: callers log failures but never roll back the
// plan transition that produced the conversion.
type Recorder interface {
	RecordConversion(ctx context.Context, c Conversion) error
}

// SlogRecorder writes conversions to the structured log, which is enough
// for deployments that scrape events out of log aggregation.
type SlogRecorder struct {
	log *slog.Logger
}

func NewSlogRecorder(log *slog.Logger) *SlogRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &SlogRecorder{log: log}
}

func (r *SlogRecorder) RecordConversion(ctx context.Context, c Conversion) error {
	r.log.InfoContext(ctx, "plan conversion",
		slog.String("user_id", c.UserID.String()),
		slog.String("from_plan", c.FromPlan),
		slog.String("to_plan", c.ToPlan),
		slog.Int64("amount_cents", c.AmountCents),
		slog.String("source", c.Source),
	)
	return nil
}

// MemoryRecorder collects conversions in memory for tests.
type MemoryRecorder struct {
	mu          sync.Mutex
	conversions []Conversion
	failWith    error
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// FailWith makes every subsequent RecordConversion call return err,
// used to test the best-effort contract.
func (r *MemoryRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
}

func (r *MemoryRecorder) RecordConversion(ctx context.Context, c Conversion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.conversions = append(r.conversions, c)
	return nil
}

// Conversions returns a copy of everything recorded so far.
func (r *MemoryRecorder) Conversions() []Conversion {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversion, len(r.conversions))
	copy(out, r.conversions)
	return out
}
