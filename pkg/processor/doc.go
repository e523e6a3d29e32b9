// Package processor wires the webhook pipeline together: provider
// verification and normalization, idempotent ledger admission, routing
// to type-specific handlers, the subscription state machine, and the
// bounded retry loop.
//
// Control flow for one delivery:
//
//	HTTP boundary → Provider.ParseWebhook → Ledger.Admit →
//	router → handler → billing.Service → Ledger.Complete/Fail/Skip
//
// Error classes split at admission. Before it (bad signature, malformed
// payload, unknown provider) the caller gets an error and the provider
// a 400, so its retry can fix the delivery. After it, failures become
// ledger state: FAILED records are reprocessed by the Retrier through
// this same pipeline up to the attempt cap, then surfaced to operators.
// Unknown event types are recorded as skipped, which is deliberately a
// success from the provider's point of view.
package processor
