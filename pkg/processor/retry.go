package processor

import (
	"context"
	"log/slog"
	"time"
)

// Retrier reprocesses failed ledger records on an interval, up to the
// ledger's attempt cap. Retries run through the identical pipeline as
// fresh deliveries (admission, routing, plan determination, state
// machine), not a special-cased shortcut, so every invariant holds on
// the retry path too.
//
// It also sweeps records stuck in the processing state past the stale
// threshold, converting worker crashes into retryable failures instead
// of permanently in-flight events.
type Retrier struct {
	processor  *Processor
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	log        *slog.Logger
}

// RetrierOption configures a Retrier.
type RetrierOption func(*Retrier)

// WithInterval sets how often the retry loop wakes up.
func WithInterval(d time.Duration) RetrierOption {
	return func(r *Retrier) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithStaleAfter sets how long a record may sit in the processing state
// before it is reclaimed as failed.
func WithStaleAfter(d time.Duration) RetrierOption {
	return func(r *Retrier) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// WithBatchSize caps how many records one cycle reprocesses.
func WithBatchSize(n int) RetrierOption {
	return func(r *Retrier) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithRetrierLogger(log *slog.Logger) RetrierOption {
	return func(r *Retrier) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRetrier creates a Retrier bound to a processor.
func NewRetrier(p *Processor, opts ...RetrierOption) *Retrier {
	if p == nil {
		panic("processor: Processor is required")
	}
	r := &Retrier{
		processor:  p,
		interval:   time.Minute,
		staleAfter: 10 * time.Minute,
		batchSize:  50,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes retry cycles until the context is cancelled.
func (r *Retrier) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RetryOnce(ctx); err != nil {
				r.log.ErrorContext(ctx, "retry cycle failed", slog.Any("error", err))
			}
		}
	}
}

// RetryOnce runs a single cycle: sweep stale processing records, then
// reprocess failed records that still have retry budget. Returns how
// many records were reprocessed.
func (r *Retrier) RetryOnce(ctx context.Context) (int, error) {
	led := r.processor.Ledger()

	if _, err := led.SweepStale(ctx, r.staleAfter); err != nil {
		return 0, err
	}

	records, err := led.ListRetryable(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, rec := range records {
		result, err := r.processor.Reprocess(ctx, rec)
		if err != nil {
			r.log.ErrorContext(ctx, "failed to reprocess webhook record",
				slog.String("provider", rec.Provider),
				slog.String("external_id", rec.ExternalID),
				slog.Any("error", err),
			)
			continue
		}
		retried++
		r.log.InfoContext(ctx, "reprocessed webhook record",
			slog.String("provider", rec.Provider),
			slog.String("external_id", rec.ExternalID),
			slog.String("decision", string(result.Decision)),
			slog.String("status", string(result.Status)),
		)
	}

	// Terminal records cannot be retried; surface them every cycle so
	// operators notice instead of the queue silently accumulating.
	terminal, err := led.ListTerminal(ctx, r.batchSize)
	if err != nil {
		return retried, err
	}
	if len(terminal) > 0 {
		r.log.ErrorContext(ctx, "webhook records awaiting manual intervention",
			slog.Int("count", len(terminal)))
	}

	return retried, nil
}
