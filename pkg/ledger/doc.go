// Package ledger implements the idempotency ledger for payment webhook
// events: a durable record per (provider, external_id) pair that
// guarantees at most one successful side effect per externally
// delivered event.
//
// # Admission
//
// Admit classifies every incoming event into one of five decisions:
//
//   - new: first sight, record created in processing state
//   - duplicate_completed: already applied, caller skips all side effects
//   - duplicate_in_flight: another worker holds it, caller backs off
//   - retryable_failed: a prior attempt failed and budget remains
//   - terminally_failed: retry budget exhausted, operator owns it
//
// The storage layer's unique index on (provider, external_id) is the
// single serialization point: a racing duplicate loses the insert and is
// classified from the surviving row. No in-process shared state is
// involved, so any number of workers can admit concurrently.
//
// # Crash recovery
//
// A worker that dies mid-processing leaves its record in the processing
// state, which would otherwise pin the event as duplicate_in_flight
// forever. SweepStale converts such records to failed after a timeout so
// the retry path can reclaim them.
package ledger
