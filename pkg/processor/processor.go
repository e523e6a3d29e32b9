package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adforgehq/adforge/pkg/billing"
	"github.com/adforgehq/adforge/pkg/ledger"
	"github.com/adforgehq/adforge/pkg/payment"
)

// Result summarizes what processing did with an event. Post-admission
// failures are absorbed into the ledger and still yield a nil error so
// the HTTP boundary answers 200 and the provider stops retrying; the
// internal retry manager owns reprocessing from there.
type Result struct {
	Decision ledger.Decision
	Status   ledger.Status
	Reason   string
}

// Outcome is a handler's verdict on an admitted event. Handlers are pure
// with respect to ledger bookkeeping: they apply (or refuse) the plan
// transition and report back, and the processor records the ledger state.
type Outcome struct {
	Skipped  bool
	Reason   string
	FromPlan billing.Plan
	ToPlan   billing.Plan
}

// HandlerFunc processes one admitted event against a resolved account.
type HandlerFunc func(ctx context.Context, account *billing.Account, event *payment.Event) (Outcome, error)

// Processor runs the webhook pipeline: signature verification and
// normalization (provider), idempotent admission (ledger), routing to a
// type-specific handler, and the final ledger status transition.
type Processor struct {
	providers     map[string]payment.Provider
	ledger        *ledger.Ledger
	accounts      billing.AccountStore
	subscriptions *billing.Service
	handlers      map[payment.EventType]HandlerFunc
	log           *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}

// WithHandler registers or overrides the handler for an event type.
func WithHandler(t payment.EventType, fn HandlerFunc) Option {
	return func(p *Processor) {
		if fn != nil {
			p.handlers[t] = fn
		}
	}
}

// New creates a Processor. Panics on nil required dependencies to fail
// fast at wiring time.
func New(led *ledger.Ledger, accounts billing.AccountStore, subscriptions *billing.Service, providers []payment.Provider, opts ...Option) *Processor {
	if led == nil {
		panic("processor: Ledger is required")
	}
	if accounts == nil {
		panic("processor: AccountStore is required")
	}
	if subscriptions == nil {
		panic("processor: billing Service is required")
	}
	if len(providers) == 0 {
		panic("processor: at least one payment provider is required")
	}

	p := &Processor{
		providers:     make(map[string]payment.Provider, len(providers)),
		ledger:        led,
		accounts:      accounts,
		subscriptions: subscriptions,
		handlers:      make(map[payment.EventType]HandlerFunc),
		log:           slog.Default(),
	}
	for _, prov := range providers {
		p.providers[prov.Name()] = prov
	}

	// Purchase-shaped events share the monotonic upgrade handler; the
	// cancellation pair shares the single downgrade path.
	p.handlers[payment.EventOrderPaid] = p.handlePurchase
	p.handlers[payment.EventSubscriptionCreated] = p.handlePurchase
	p.handlers[payment.EventSubscriptionUpdated] = p.handlePurchase
	p.handlers[payment.EventSubscriptionCancelled] = p.handleCancellation
	p.handlers[payment.EventSubscriptionExpired] = p.handleCancellation

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider returns the registered provider by name.
func (p *Processor) Provider(name string) (payment.Provider, bool) {
	prov, ok := p.providers[name]
	return prov, ok
}

// Ledger exposes the underlying idempotency ledger, mainly for the
// retry manager and operator tooling.
func (p *Processor) Ledger() *ledger.Ledger {
	return p.ledger
}

// Process runs the full pipeline for a freshly delivered webhook.
// Boundary failures (unknown provider, bad signature, malformed payload)
// are returned as errors so the HTTP layer can answer 400; everything
// after admission is absorbed into ledger state.
func (p *Processor) Process(ctx context.Context, providerName string, payload []byte, signature string) (Result, error) {
	prov, ok := p.providers[providerName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}

	event, err := prov.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return Result{}, err
	}

	return p.processEvent(ctx, event)
}

// Reprocess replays a failed ledger record through the identical
// pipeline. The stored payload was authenticated on first receipt, so
// parsing skips signature verification.
func (p *Processor) Reprocess(ctx context.Context, rec *ledger.Record) (Result, error) {
	prov, ok := p.providers[rec.Provider]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownProvider, rec.Provider)
	}

	event, err := prov.ParsePayload(ctx, rec.Payload)
	if err != nil {
		// A stored payload that no longer parses cannot ever succeed;
		// burn an attempt so it reaches the terminal state.
		decision, claimed, admitErr := p.ledger.Admit(ctx, rec.Provider, rec.ExternalID, rec.EventType, rec.Payload, rec.UserID)
		if admitErr != nil {
			return Result{}, admitErr
		}
		if decision == ledger.DecisionRetryableFailed {
			if failErr := p.ledger.Fail(ctx, claimed, err); failErr != nil {
				return Result{}, failErr
			}
		}
		return Result{Decision: decision, Status: ledger.StatusFailed, Reason: err.Error()}, nil
	}

	return p.processEvent(ctx, event)
}

func (p *Processor) processEvent(ctx context.Context, event *payment.Event) (Result, error) {
	var userID *uuid.UUID
	if id, err := uuid.Parse(event.UserID); err == nil {
		userID = &id
	}

	decision, rec, err := p.ledger.Admit(ctx, event.Provider, event.ExternalID, event.ProviderEvent, event.Raw, userID)
	if err != nil {
		return Result{}, err
	}

	switch decision {
	case ledger.DecisionDuplicateCompleted, ledger.DecisionDuplicateInFlight:
		// At-most-once execution: another delivery already applied this
		// event or is applying it right now.
		return Result{Decision: decision, Status: rec.Status}, nil

	case ledger.DecisionTerminallyFailed:
		p.log.ErrorContext(ctx, "refusing event past its retry budget",
			slog.String("provider", rec.Provider),
			slog.String("external_id", rec.ExternalID),
			slog.Int("attempts", rec.Attempts),
		)
		return Result{Decision: decision, Status: rec.Status, Reason: rec.LastError}, nil
	}

	status, reason, err := p.dispatch(ctx, rec, event)
	if err != nil {
		return Result{}, err
	}
	return Result{Decision: decision, Status: status, Reason: reason}, nil
}

// dispatch routes an admitted event to its handler and records the
// terminal ledger state. The returned error is reserved for ledger
// bookkeeping failures; handler failures land in the FAILED state.
func (p *Processor) dispatch(ctx context.Context, rec *ledger.Record, event *payment.Event) (ledger.Status, string, error) {
	handler, ok := p.handlers[event.Type]
	if !ok {
		// Deliberate skip, not an error: the provider must not see a
		// failure response for event types we choose not to handle.
		reason := fmt.Sprintf("unhandled event type %q", event.ProviderEvent)
		if err := p.ledger.Skip(ctx, rec, reason); err != nil {
			return "", "", err
		}
		return ledger.StatusSkipped, reason, nil
	}

	account, err := p.resolveAccount(ctx, event)
	if err != nil {
		// Unrecoverable in the current design: without an account the
		// event cannot be applied later either. Logged loudly for
		// operator alerting rather than silently lost.
		p.log.ErrorContext(ctx, "user lookup failed, payment event cannot be applied",
			slog.String("provider", event.Provider),
			slog.String("external_id", event.ExternalID),
			slog.String("event_type", event.ProviderEvent),
			slog.String("user_id", event.UserID),
			slog.String("email", event.Email),
		)
		cause := fmt.Errorf("%w: user_id=%q email=%q, event lost", ErrUserNotFound, event.UserID, event.Email)
		if err := p.ledger.Fail(ctx, rec, cause); err != nil {
			return "", "", err
		}
		return ledger.StatusFailed, cause.Error(), nil
	}

	// Attribute the record to the resolved account; the email path means
	// the admission-time user ID may have been empty.
	rec.UserID = &account.UserID

	outcome, err := handler(ctx, account, event)
	switch {
	case err != nil:
		if ledgerErr := p.ledger.Fail(ctx, rec, err); ledgerErr != nil {
			return "", "", ledgerErr
		}
		return ledger.StatusFailed, err.Error(), nil

	case outcome.Skipped:
		if err := p.ledger.Skip(ctx, rec, outcome.Reason); err != nil {
			return "", "", err
		}
		return ledger.StatusSkipped, outcome.Reason, nil

	default:
		if err := p.ledger.Complete(ctx, rec); err != nil {
			return "", "", err
		}
		return ledger.StatusCompleted, "", nil
	}
}

// resolveAccount finds the billing account for an event, trying the
// explicit user ID from custom data first, then the billing email.
func (p *Processor) resolveAccount(ctx context.Context, event *payment.Event) (*billing.Account, error) {
	if id, err := uuid.Parse(event.UserID); err == nil {
		account, err := p.accounts.Get(ctx, id)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, billing.ErrAccountNotFound) {
			return nil, err
		}
	}

	if event.Email != "" {
		account, err := p.accounts.GetByEmail(ctx, event.Email)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, billing.ErrAccountNotFound) {
			return nil, err
		}
	}

	return nil, billing.ErrAccountNotFound
}

// handlePurchase applies order-paid and subscription create/update
// events through the monotonic upgrade path.
func (p *Processor) handlePurchase(ctx context.Context, account *billing.Account, event *payment.Event) (Outcome, error) {
	if event.Type == payment.EventOrderPaid && event.Status != "" && event.Status != "paid" {
		return Outcome{Skipped: true, Reason: fmt.Sprintf("order status %q, not paid", event.Status)}, nil
	}

	determination := billing.DeterminePlan(billing.PlanMeta{
		CustomPlan:  event.CustomPlan,
		ProductName: event.ProductName,
		VariantName: event.VariantName,
	})
	if determination.FallbackUsed {
		p.log.WarnContext(ctx, "plan determination fell back to default",
			slog.String("provider", event.Provider),
			slog.String("external_id", event.ExternalID),
			slog.String("product_name", event.ProductName),
			slog.String("variant_name", event.VariantName),
			slog.String("plan", string(determination.Plan)),
		)
	}

	previous := account.Plan
	updated, err := p.subscriptions.Upgrade(ctx, account.UserID, determination.Plan, event.OccurredAt, "webhook:"+event.ProviderEvent)
	switch {
	case errors.Is(err, billing.ErrDowngradeNotAllowed):
		// Downgrades only happen through cancellation; retrying this
		// event cannot change that, so it is refused, not failed.
		p.log.WarnContext(ctx, "refused downgrade via purchase event",
			slog.String("external_id", event.ExternalID),
			slog.String("current_plan", string(previous)),
			slog.String("target_plan", string(determination.Plan)),
		)
		return Outcome{Skipped: true, Reason: err.Error()}, nil

	case errors.Is(err, billing.ErrStaleEvent):
		return Outcome{Skipped: true, Reason: err.Error()}, nil

	case err != nil:
		return Outcome{}, err
	}

	return Outcome{FromPlan: previous, ToPlan: updated.Plan}, nil
}

// handleCancellation applies the single downgrade path.
func (p *Processor) handleCancellation(ctx context.Context, account *billing.Account, event *payment.Event) (Outcome, error) {
	previous := account.Plan
	updated, err := p.subscriptions.CancelOrExpire(ctx, account.UserID, event.OccurredAt, "webhook:"+event.ProviderEvent)
	if errors.Is(err, billing.ErrStaleEvent) {
		return Outcome{Skipped: true, Reason: err.Error()}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{FromPlan: previous, ToPlan: updated.Plan}, nil
}
