package payment

import "errors"

var (
	ErrInvalidSignature     = errors.New("webhook signature verification failed")
	ErrMalformedPayload     = errors.New("malformed webhook payload")
	ErrMissingSigningSecret = errors.New("webhook signing secret is required")
	ErrMissingAPIKey        = errors.New("provider API key is required")
	ErrNoCheckoutURL        = errors.New("no checkout URL returned from provider")
	ErrProviderRequest      = errors.New("provider API request failed")
)
