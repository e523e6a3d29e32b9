package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// ProviderPaddle is the provider name used in ledger records and routing.
const ProviderPaddle = "paddle"

// PaddleConfig holds the Paddle integration settings.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// Paddle implements Provider on the official Paddle SDK. Signature
// verification is delegated to the SDK's webhook verifier.
type Paddle struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddle creates the Paddle provider.
func NewPaddle(config PaddleConfig) (*Paddle, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingSigningSecret
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &Paddle{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

func (p *Paddle) Name() string { return ProviderPaddle }

func (p *Paddle) SignatureHeader() string { return "Paddle-Signature" }

// ParseWebhook verifies the Paddle-Signature header over the raw bytes
// and normalizes the payload. The SDK verifier consumes an http.Request,
// so one is reconstructed around the original body.
func (p *Paddle) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	return p.ParsePayload(ctx, payload)
}

// paddlePayload mirrors the envelope every Paddle notification shares.
type paddlePayload struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`
	Data       struct {
		ID         string         `json:"id"`
		Status     string         `json:"status"`
		CustomData map[string]any `json:"custom_data"`
		Items      []struct {
			Price struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"price"`
		} `json:"items"`
	} `json:"data"`
}

func (p *Paddle) ParsePayload(ctx context.Context, payload []byte) (*Event, error) {
	var body paddlePayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if body.EventID == "" || body.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_id or event_type", ErrMalformedPayload)
	}

	event := &Event{
		Provider:      ProviderPaddle,
		ExternalID:    body.EventID,
		ProviderEvent: body.EventType,
		Type:          mapPaddleEvent(body.EventType),
		UserID:        customDataString(body.Data.CustomData, "user_id"),
		Email:         customDataString(body.Data.CustomData, "email"),
		Status:        body.Data.Status,
		CustomPlan:    customDataString(body.Data.CustomData, "plan"),
		Raw:           payload,
	}

	if t, err := time.Parse(time.RFC3339, body.OccurredAt); err == nil {
		event.OccurredAt = t.UTC()
	}
	if len(body.Data.Items) > 0 {
		event.ProductName = body.Data.Items[0].Price.Name
		event.VariantName = body.Data.Items[0].Price.Description
	}

	return event, nil
}

func mapPaddleEvent(eventType string) EventType {
	switch eventType {
	case "transaction.completed":
		return EventOrderPaid
	case "subscription.created":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		return EventSubscriptionUpdated
	case "subscription.canceled":
		return EventSubscriptionCancelled
	case "subscription.past_due":
		return EventPaymentFailed
	default:
		return EventType(eventType)
	}
}

// CreateCheckoutLink creates a Paddle transaction with a hosted checkout.
func (p *Paddle) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.VariantID == "" {
		return nil, fmt.Errorf("%w: price ID is required", ErrProviderRequest)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.VariantID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id": req.UserID,
		},
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, errors.Join(ErrProviderRequest, err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour), // Paddle checkout links expire in 24 hours
	}, nil
}

// CancelSubscription cancels a Paddle subscription immediately.
func (p *Paddle) CancelSubscription(ctx context.Context, providerSubID string) error {
	if providerSubID == "" {
		return fmt.Errorf("%w: subscription ID is required", ErrProviderRequest)
	}

	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerSubID,
	})
	if err != nil {
		return errors.Join(ErrProviderRequest, err)
	}
	return nil
}
