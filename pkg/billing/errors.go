package billing

import "errors"

var (
	ErrAccountNotFound      = errors.New("billing account not found")
	ErrAccountAlreadyExists = errors.New("billing account already exists")

	ErrInvalidPlan          = errors.New("invalid subscription plan")
	ErrDowngradeNotAllowed  = errors.New("plan downgrade not allowed through upgrade path")
	ErrStaleEvent           = errors.New("event is older than the last applied account change")
	ErrPromoCodeNotFound    = errors.New("promo code not found")
	ErrInvalidCatalog       = errors.New("invalid plan catalog configuration")
	ErrFailedToLoadCatalog  = errors.New("failed to load plan catalog")
	ErrNegativeUsage        = errors.New("usage amount must be non-negative")
	ErrWarningMarkerFailure = errors.New("usage warning marker failure")
)
