package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderLemonSqueezy is the provider name used in ledger records and
// webhook routing.
const ProviderLemonSqueezy = "lemonsqueezy"

// LemonSqueezyConfig holds the Lemon Squeezy integration settings.
type LemonSqueezyConfig struct {
	APIKey        string `env:"LEMONSQUEEZY_API_KEY"`
	SigningSecret string `env:"LEMONSQUEEZY_SIGNING_SECRET,required"`
	StoreID       string `env:"LEMONSQUEEZY_STORE_ID"`
	APIBaseURL    string `env:"LEMONSQUEEZY_API_URL" envDefault:"https://api.lemonsqueezy.com/v1"`
}

// LemonSqueezy implements Provider for Lemon Squeezy. Webhooks are
// authenticated with an HMAC-SHA256 hex digest of the raw request body
// carried in the X-Signature header.
type LemonSqueezy struct {
	config LemonSqueezyConfig
	client *http.Client
}

// LemonSqueezyOption configures the provider.
type LemonSqueezyOption func(*LemonSqueezy)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) LemonSqueezyOption {
	return func(p *LemonSqueezy) {
		if client != nil {
			p.client = client
		}
	}
}

// NewLemonSqueezy creates the Lemon Squeezy provider. The signing secret
// is mandatory: without it every webhook would have to be rejected, so
// construction fails instead.
func NewLemonSqueezy(config LemonSqueezyConfig, opts ...LemonSqueezyOption) (*LemonSqueezy, error) {
	if config.SigningSecret == "" {
		return nil, ErrMissingSigningSecret
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = "https://api.lemonsqueezy.com/v1"
	}

	p := &LemonSqueezy{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *LemonSqueezy) Name() string { return ProviderLemonSqueezy }

func (p *LemonSqueezy) SignatureHeader() string { return "X-Signature" }

// VerifyLemonSqueezySignature reports whether signatureHex is the
// HMAC-SHA256 hex digest of payload under secret. It never fails:
// a missing secret, malformed hex, or mismatch all yield false. The
// comparison is constant-time.
func VerifyLemonSqueezySignature(secret string, payload []byte, signatureHex string) bool {
	if secret == "" || signatureHex == "" {
		return false
	}

	supplied, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), supplied)
}

// ParseWebhook verifies the signature over the exact transmitted bytes
// and normalizes the payload.
func (p *LemonSqueezy) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	if !VerifyLemonSqueezySignature(p.config.SigningSecret, payload, signature) {
		return nil, ErrInvalidSignature
	}
	return p.ParsePayload(ctx, payload)
}

// lemonSqueezyPayload mirrors the provider's webhook body; only the
// fields the core consumes are declared.
type lemonSqueezyPayload struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status      string     `json:"status"`
			UserEmail   string     `json:"user_email"`
			ProductName string     `json:"product_name"`
			VariantName string     `json:"variant_name"`
			CreatedAt   *time.Time `json:"created_at"`
			UpdatedAt   *time.Time `json:"updated_at"`
		} `json:"attributes"`
	} `json:"data"`
}

// ParsePayload normalizes an already-authenticated body.
func (p *LemonSqueezy) ParsePayload(ctx context.Context, payload []byte) (*Event, error) {
	var body lemonSqueezyPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if body.Meta.EventName == "" {
		return nil, fmt.Errorf("%w: missing meta.event_name", ErrMalformedPayload)
	}
	if body.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing data.id", ErrMalformedPayload)
	}

	event := &Event{
		Provider:      ProviderLemonSqueezy,
		ExternalID:    body.Data.ID,
		ProviderEvent: body.Meta.EventName,
		Type:          mapLemonSqueezyEvent(body.Meta.EventName),
		UserID:        customDataString(body.Meta.CustomData, "user_id"),
		Email:         body.Data.Attributes.UserEmail,
		Status:        body.Data.Attributes.Status,
		ProductName:   body.Data.Attributes.ProductName,
		VariantName:   body.Data.Attributes.VariantName,
		CustomPlan:    customDataString(body.Meta.CustomData, "plan"),
		Raw:           payload,
	}

	// Prefer the mutation timestamp for event ordering; orders only carry
	// created_at.
	if body.Data.Attributes.UpdatedAt != nil {
		event.OccurredAt = body.Data.Attributes.UpdatedAt.UTC()
	} else if body.Data.Attributes.CreatedAt != nil {
		event.OccurredAt = body.Data.Attributes.CreatedAt.UTC()
	}

	// Events the core acts on need enough of the body to be actionable.
	// Rejecting them here returns a 400 to the provider instead of
	// burning ledger attempts on a record that can never resolve to a
	// user. Unmapped events are skipped downstream, so incomplete bodies
	// are fine there.
	if event.Type.Known() {
		if event.UserID == "" && event.Email == "" {
			return nil, fmt.Errorf("%w: missing meta.custom_data.user_id and data.attributes.user_email", ErrMalformedPayload)
		}
		if event.Type == EventOrderPaid && event.Status == "" {
			return nil, fmt.Errorf("%w: missing data.attributes.status", ErrMalformedPayload)
		}
	}

	return event, nil
}

func mapLemonSqueezyEvent(name string) EventType {
	switch name {
	case "order_created":
		return EventOrderPaid
	case "subscription_created":
		return EventSubscriptionCreated
	case "subscription_updated", "subscription_plan_changed", "subscription_resumed":
		return EventSubscriptionUpdated
	case "subscription_cancelled":
		return EventSubscriptionCancelled
	case "subscription_expired":
		return EventSubscriptionExpired
	case "subscription_payment_failed":
		return EventPaymentFailed
	default:
		// Unmapped events keep the provider name so the router can skip
		// them with a descriptive reason instead of dropping them.
		return EventType(name)
	}
}

func customDataString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// CreateCheckoutLink creates a hosted checkout for a product variant.
// The internal user ID is round-tripped through checkout custom data so
// webhooks can attribute the resulting order.
func (p *LemonSqueezy) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if p.config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if req.VariantID == "" {
		return nil, fmt.Errorf("%w: variant ID is required", ErrProviderRequest)
	}

	body := map[string]any{
		"data": map[string]any{
			"type": "checkouts",
			"attributes": map[string]any{
				"checkout_data": map[string]any{
					"email": req.Email,
					"custom": map[string]any{
						"user_id": req.UserID,
					},
				},
				"product_options": map[string]any{
					"redirect_url": req.SuccessURL,
				},
			},
			"relationships": map[string]any{
				"store": map[string]any{
					"data": map[string]any{"type": "stores", "id": p.config.StoreID},
				},
				"variant": map[string]any{
					"data": map[string]any{"type": "variants", "id": req.VariantID},
				},
			},
		},
	}

	var resp struct {
		Data struct {
			ID         string `json:"id"`
			Attributes struct {
				URL       string     `json:"url"`
				ExpiresAt *time.Time `json:"expires_at"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := p.do(ctx, http.MethodPost, "/checkouts", body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Attributes.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	link := &CheckoutLink{
		URL:       resp.Data.Attributes.URL,
		SessionID: resp.Data.ID,
	}
	if resp.Data.Attributes.ExpiresAt != nil {
		link.ExpiresAt = *resp.Data.Attributes.ExpiresAt
	}
	return link, nil
}

// CancelSubscription cancels a provider subscription. Lemon Squeezy
// models cancellation as a DELETE on the subscription resource.
func (p *LemonSqueezy) CancelSubscription(ctx context.Context, providerSubID string) error {
	if p.config.APIKey == "" {
		return ErrMissingAPIKey
	}
	if providerSubID == "" {
		return fmt.Errorf("%w: subscription ID is required", ErrProviderRequest)
	}
	return p.do(ctx, http.MethodDelete, "/subscriptions/"+providerSubID, nil, nil)
}

func (p *LemonSqueezy) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.APIBaseURL+path, reader)
	if err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Accept", "application/vnd.api+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Truncated body for error context; full bodies can be large.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s",
			ErrProviderRequest, method, path, resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Join(ErrProviderRequest, err)
		}
	}
	return nil
}
