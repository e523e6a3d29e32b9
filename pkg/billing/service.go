package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/adforgehq/adforge/pkg/analytics"
)

// Service is the subscription state machine. It is the only writer of
// plan and usage fields on the account record; every mutation is
// attributed to exactly one webhook event or one explicit manual/promo
// operation via the source argument.
//
// Transition rules:
//   - Upgrade permits same-tier (lateral) or higher-tier targets only.
//   - CancelOrExpire is the single downgrade path and always lands on trial.
//   - ApplyPromoCode follows the same monotonic rule as Upgrade.
//
// Webhook-driven transitions carry the provider's occurred_at timestamp;
// events older than the last applied one are refused with ErrStaleEvent
// so out-of-order delivery cannot resurrect superseded state.
type Service struct {
	store      AccountStore
	catalog    Catalog
	accountant *Accountant
	recorder   analytics.Recorder
	log        *slog.Logger
	now        func() time.Time
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithRecorder sets the analytics recorder for conversion events.
func WithRecorder(r analytics.Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source, used by tests for fixed timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the subscription state machine.
// Panics on nil store to fail fast during initialization; returns an
// error for catalog problems since those come from external configuration.
func NewService(store AccountStore, catalog Catalog, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		panic("billing: AccountStore is required")
	}

	catalog = catalog.withDefaults()
	if err := catalog.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		store:      store,
		catalog:    catalog,
		accountant: NewAccountant(catalog),
		recorder:   analytics.NewSlogRecorder(nil),
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Catalog returns the immutable billing configuration the service was
// built with.
func (s *Service) Catalog() Catalog {
	return s.catalog
}

// Accountant returns the overage accountant bound to the same catalog.
func (s *Service) Accountant() *Accountant {
	return s.accountant
}

// CreateAccount provisions the initial trial account for a user.
func (s *Service) CreateAccount(ctx context.Context, userID uuid.UUID, email string) (*Account, error) {
	if _, err := s.store.Get(ctx, userID); err == nil {
		return nil, ErrAccountAlreadyExists
	}

	now := s.now()
	account := &Account{
		UserID:      userID,
		Email:       email,
		Plan:        PlanTrial,
		UsageLimit:  s.catalog.Quota(PlanTrial),
		LastResetAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// Upgrade moves the account to target via a purchase event. Lateral moves
// (billing-cycle change within the tier) are allowed; downgrades are
// rejected so a malformed or malicious webhook can never reduce a paying
// user's entitlement. occurredAt is the provider event timestamp; pass
// the zero time for manual operations to bypass the stale-event guard.
func (s *Service) Upgrade(ctx context.Context, userID uuid.UUID, target Plan, occurredAt time.Time, source string) (*Account, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, target)
	}

	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.checkEventOrder(account, occurredAt); err != nil {
		return nil, err
	}

	if target.Rank() < account.Plan.Rank() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrDowngradeNotAllowed, account.Plan, target)
	}

	previous := account.Plan
	account.Plan = target
	s.resetCounters(account)
	s.touch(account, occurredAt)

	if err := s.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save upgrade to %s: %w", target, err)
	}

	s.recordConversion(ctx, account, previous, target, source)
	return account, nil
}

// CancelOrExpire moves the account back to trial. This is the only
// downgrade path, triggered by subscription-cancelled and
// subscription-expired events. Usage and overage counters are cleared.
func (s *Service) CancelOrExpire(ctx context.Context, userID uuid.UUID, occurredAt time.Time, source string) (*Account, error) {
	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.checkEventOrder(account, occurredAt); err != nil {
		return nil, err
	}

	previous := account.Plan
	account.Plan = PlanTrial
	s.resetCounters(account)
	s.touch(account, occurredAt)

	if err := s.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save cancellation: %w", err)
	}

	s.recordConversion(ctx, account, previous, PlanTrial, source)
	return account, nil
}

// ApplyPromoCode redeems a code from the catalog's promo table.
// The resulting transition obeys the same monotonic rule as Upgrade.
// Beta-grant codes additionally enable the beta flag for the configured
// number of days.
func (s *Service) ApplyPromoCode(ctx context.Context, userID uuid.UUID, code string) (*Account, error) {
	promo, ok := s.catalog.PromoCodes[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPromoCodeNotFound, code)
	}

	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if promo.Plan.Rank() < account.Plan.Rank() {
		return nil, fmt.Errorf("%w: promo %q targets %s, account is on %s",
			ErrDowngradeNotAllowed, code, promo.Plan, account.Plan)
	}

	now := s.now()
	previous := account.Plan
	account.Plan = promo.Plan
	s.resetCounters(account)
	if promo.BetaGrant {
		expiry := now.AddDate(0, 0, promo.DurationDays)
		account.Beta = true
		account.BetaExpires = &expiry
	}
	account.UpdatedAt = now

	if err := s.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to apply promo code %q: %w", code, err)
	}

	s.recordConversion(ctx, account, previous, promo.Plan, "promo:"+code)
	return account, nil
}

// RecordUsage adds n units of consumption and recomputes the overage
// counters against the current quota.
func (s *Service) RecordUsage(ctx context.Context, userID uuid.UUID, n int64) (*Account, error) {
	if n < 0 {
		return nil, ErrNegativeUsage
	}

	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	account.UsageCount += n
	s.accountant.apply(account)
	account.UpdatedAt = s.now()

	if err := s.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	return account, nil
}

// ResetUsage starts a new billing period: usage and overage counters go
// back to zero. Invoked by the periodic reset job, not by webhooks.
func (s *Service) ResetUsage(ctx context.Context, userID uuid.UUID) (*Account, error) {
	account, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.resetCounters(account)
	account.LastResetAt = s.now()
	account.UpdatedAt = account.LastResetAt

	if err := s.store.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to reset usage: %w", err)
	}
	return account, nil
}

// checkEventOrder refuses provider events older than the last applied
// one. Manual operations pass a zero occurredAt and skip the guard.
func (s *Service) checkEventOrder(account *Account, occurredAt time.Time) error {
	if occurredAt.IsZero() {
		return nil
	}
	if occurredAt.Before(account.LastEventAt) {
		return fmt.Errorf("%w: event at %s, last applied at %s",
			ErrStaleEvent, occurredAt.Format(time.RFC3339), account.LastEventAt.Format(time.RFC3339))
	}
	return nil
}

// resetCounters zeroes usage and overage and re-derives the quota from
// the account's current plan.
func (s *Service) resetCounters(account *Account) {
	account.UsageCount = 0
	account.OverageCount = 0
	account.OverageCents = 0
	account.UsageLimit = s.catalog.Quota(account.Plan)
}

func (s *Service) touch(account *Account, occurredAt time.Time) {
	now := s.now()
	account.UpdatedAt = now
	if !occurredAt.IsZero() && occurredAt.After(account.LastEventAt) {
		account.LastEventAt = occurredAt
	}
}

// recordConversion emits the audit record for a completed transition.
// Best-effort: failures are logged, never propagated, so audit outages
// cannot roll back account state.
func (s *Service) recordConversion(ctx context.Context, account *Account, from, to Plan, source string) {
	err := s.recorder.RecordConversion(ctx, analytics.Conversion{
		UserID:      account.UserID,
		FromPlan:    string(from),
		ToPlan:      string(to),
		AmountCents: s.catalog.PriceCents(to),
		Source:      source,
		CreatedAt:   s.now(),
	})
	if err != nil {
		s.log.ErrorContext(ctx, "failed to record plan conversion",
			slog.String("user_id", account.UserID.String()),
			slog.String("from_plan", string(from)),
			slog.String("to_plan", string(to)),
			slog.Any("error", err),
		)
	}
}
