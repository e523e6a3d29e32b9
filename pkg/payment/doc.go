// Package payment defines the payment provider port and its
// implementations: Lemon Squeezy (hand-rolled HMAC-SHA256 webhook
// verification plus a thin JSON:API client) and Paddle (official SDK).
//
// Providers do two jobs. On the webhook path, ParseWebhook
// authenticates the exact transmitted bytes and normalizes the
// provider's event shape into Event, the idempotency key being
// (provider name, external event ID). Outside the webhook path,
// CreateCheckoutLink and CancelSubscription expose the administrative
// operations the rest of the application needs.
//
// Verification failures and malformed payloads surface as the sentinel
// errors ErrInvalidSignature and ErrMalformedPayload so the HTTP
// boundary can map them to a 400 and let the provider retry.
package payment
