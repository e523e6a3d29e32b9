package billing

import (
	"context"
	"log/slog"
)

// NotifyFunc delivers a usage warning or upgrade prompt to the user.
// Delivery transport (email, in-app) is outside the billing core.
type NotifyFunc func(ctx context.Context, account *Account, report OverageReport) error

// UsageMonitor evaluates accounts against their quota and sends at most
// one warning per account per billing period. Evaluation itself is pure;
// the send-once guarantee comes from the WarningMarker's atomic
// mark-if-absent, so concurrent evaluation cycles cannot double-send.
type UsageMonitor struct {
	accountant *Accountant
	marker     WarningMarker
	notify     NotifyFunc
	log        *slog.Logger
}

// MonitorOption configures a UsageMonitor.
type MonitorOption func(*UsageMonitor)

// WithNotify sets the warning delivery function. The default only logs.
func WithNotify(fn NotifyFunc) MonitorOption {
	return func(m *UsageMonitor) {
		if fn != nil {
			m.notify = fn
		}
	}
}

func WithMonitorLogger(log *slog.Logger) MonitorOption {
	return func(m *UsageMonitor) {
		if log != nil {
			m.log = log
		}
	}
}

func NewUsageMonitor(accountant *Accountant, marker WarningMarker, opts ...MonitorOption) *UsageMonitor {
	if accountant == nil {
		panic("billing: Accountant is required")
	}
	if marker == nil {
		panic("billing: WarningMarker is required")
	}

	m := &UsageMonitor{
		accountant: accountant,
		marker:     marker,
		log:        slog.Default(),
	}
	m.notify = func(ctx context.Context, account *Account, report OverageReport) error {
		m.log.InfoContext(ctx, "usage warning",
			slog.String("user_id", account.UserID.String()),
			slog.Int("usage_percent", report.UsagePercent),
			slog.Bool("prompt_upgrade", report.ShouldPromptUpgrade),
		)
		return nil
	}

	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check evaluates the account and, when the warning threshold is
// crossed for the first time this period, delivers the notification.
// The report is returned regardless; notification failures are logged
// and the marker is left set, matching the best-effort audit policy.
func (m *UsageMonitor) Check(ctx context.Context, account *Account) (OverageReport, error) {
	report := m.accountant.Evaluate(account)
	if !report.ShouldWarn {
		return report, nil
	}

	first, err := m.marker.MarkWarned(ctx, account.UserID, UsagePeriod(account.LastResetAt))
	if err != nil {
		return report, err
	}
	if !first {
		return report, nil
	}

	if err := m.notify(ctx, account, report); err != nil {
		m.log.ErrorContext(ctx, "failed to deliver usage warning",
			slog.String("user_id", account.UserID.String()),
			slog.Any("error", err),
		)
	}
	return report, nil
}
