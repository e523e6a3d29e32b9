package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a webhook record.
type Status string

const (
	// StatusProcessing marks a record claimed by a worker. A record stuck
	// in this state past the stale threshold is reclaimed by SweepStale.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a fully applied event. Redelivery of a
	// completed event is a no-op.
	StatusCompleted Status = "completed"
	// StatusFailed marks a handler failure. Retryable until the attempt
	// cap, terminal after it.
	StatusFailed Status = "failed"
	// StatusSkipped marks a recognized-but-unhandled event or a
	// deliberately refused transition. Not an error.
	StatusSkipped Status = "skipped"
)

// Decision classifies an incoming event at admission time.
type Decision string

const (
	// DecisionNew admits a never-seen event; the caller owns processing it.
	DecisionNew Decision = "new"
	// DecisionDuplicateCompleted means the event was already fully applied
	// (or deliberately skipped); the caller must produce no side effects.
	DecisionDuplicateCompleted Decision = "duplicate_completed"
	// DecisionDuplicateInFlight means another worker holds this event
	// right now; the caller must back off without error.
	DecisionDuplicateInFlight Decision = "duplicate_in_flight"
	// DecisionRetryableFailed re-admits a previously failed event; the
	// attempt counter has already been incremented.
	DecisionRetryableFailed Decision = "retryable_failed"
	// DecisionTerminallyFailed refuses an event that exhausted its retry
	// budget; it needs manual intervention.
	DecisionTerminallyFailed Decision = "terminally_failed"
)

// Record is one externally delivered webhook event. The pair
// (Provider, ExternalID) is unique, enforced by the store, which is what
// makes concurrent delivery of the same event safe.
type Record struct {
	ID            uuid.UUID  `json:"id"`
	Provider      string     `json:"provider"`
	ExternalID    string     `json:"external_id"`
	EventType     string     `json:"event_type"`
	Status        Status     `json:"status"`
	Payload       []byte     `json:"-"` // raw body retained for audit and retry replay
	UserID        *uuid.UUID `json:"user_id,omitempty"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"` // failure cause or skip reason
	LastAttemptAt time.Time  `json:"last_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
}
