package payment

import (
	"context"
	"time"
)

// EventType is the normalized billing event type. Each provider
// implementation maps its specific event names onto these.
type EventType string

const (
	EventOrderPaid             EventType = "order_paid"
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionExpired   EventType = "subscription_expired"
	EventPaymentFailed         EventType = "payment_failed"
)

// Known reports whether t is one of the normalized event types the
// processing core acts on. Provider-specific names that have no mapping
// pass through verbatim and report false.
func (t EventType) Known() bool {
	switch t {
	case EventOrderPaid, EventSubscriptionCreated, EventSubscriptionUpdated,
		EventSubscriptionCancelled, EventSubscriptionExpired, EventPaymentFailed:
		return true
	}
	return false
}

// Event is a normalized webhook event. ExternalID is the provider's
// event identifier; together with the provider name it is the
// idempotency key.
type Event struct {
	Provider      string
	ExternalID    string
	ProviderEvent string // original provider event name
	Type          EventType
	OccurredAt    time.Time
	UserID        string // internal user ID from webhook custom data
	Email         string // billing email from event attributes
	Status        string
	ProductName   string
	VariantName   string
	CustomPlan    string // explicit plan identifier from custom data, if any
	Raw           []byte // exact bytes as transmitted
}

// Provider is the payment provider port. One logical provider serves the
// webhook path; the administrative operations (checkout creation,
// subscription cancellation) are invoked by flows outside webhook
// processing.
type Provider interface {
	// Name identifies the provider in ledger records and routing.
	Name() string

	// SignatureHeader is the HTTP header carrying the webhook signature.
	SignatureHeader() string

	// ParseWebhook verifies payload authenticity against signature and
	// normalizes the event. Verification must run over the exact
	// transmitted bytes, before any JSON reparsing. Returns
	// ErrInvalidSignature or ErrMalformedPayload on boundary failures.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)

	// ParsePayload normalizes an already-authenticated payload. Used by
	// the retry path, which replays stored bodies that were verified on
	// first receipt.
	ParsePayload(ctx context.Context, payload []byte) (*Event, error)

	// CreateCheckoutLink creates a hosted checkout session.
	CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error)

	// CancelSubscription cancels a provider subscription by its ID.
	CancelSubscription(ctx context.Context, providerSubID string) error
}

// CheckoutRequest contains the data needed to create a checkout session.
type CheckoutRequest struct {
	VariantID  string `json:"variant_id"` // provider's product variant / price identifier
	UserID     string `json:"user_id"`    // internal user ID, round-tripped via custom data
	Email      string `json:"email"`      // pre-filled billing email, optional
	SuccessURL string `json:"success_url"`
}

// CheckoutLink is a hosted checkout session.
type CheckoutLink struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
