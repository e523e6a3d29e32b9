package billing

// OverageReport is the read-only result of evaluating an account's usage
// against its plan quota. Recording "warning already sent" is a separate
// mutating operation, see WarningMarker.
type OverageReport struct {
	Plan                Plan  `json:"plan"`
	UsageCount          int64 `json:"usage_count"`
	UsageLimit          int64 `json:"usage_limit"` // Unlimited for no cap
	OverageUnits        int64 `json:"overage_units"`
	OverageCents        int64 `json:"overage_cents"`
	UsagePercent        int   `json:"usage_percent"` // 0 for unbounded plans
	ShouldWarn          bool  `json:"should_warn"`
	ShouldPromptUpgrade bool  `json:"should_prompt_upgrade"`
}

// Accountant computes usage-vs-limit, overage charges, and alert
// thresholds from the billing catalog. Evaluate is pure.
type Accountant struct {
	rateCents      int64
	warnPercent    int
	upgradePercent int
}

func NewAccountant(catalog Catalog) *Accountant {
	catalog = catalog.withDefaults()
	return &Accountant{
		rateCents:      catalog.OverageRateCents,
		warnPercent:    catalog.WarnPercent,
		upgradePercent: catalog.UpgradePercent,
	}
}

// Evaluate computes the overage report for an account.
// Unbounded plans never accrue overage and never trigger alerts.
func (a *Accountant) Evaluate(account *Account) OverageReport {
	report := OverageReport{
		Plan:       account.Plan,
		UsageCount: account.UsageCount,
		UsageLimit: account.UsageLimit,
	}

	if account.Unbounded() {
		return report
	}

	if account.UsageCount > account.UsageLimit {
		report.OverageUnits = account.UsageCount - account.UsageLimit
		report.OverageCents = report.OverageUnits * a.rateCents
	}

	if account.UsageLimit > 0 {
		report.UsagePercent = int(account.UsageCount * 100 / account.UsageLimit)
	} else if account.UsageCount > 0 {
		// Zero quota with any usage counts as fully consumed.
		report.UsagePercent = 100
	}

	report.ShouldWarn = report.UsagePercent >= a.warnPercent
	report.ShouldPromptUpgrade = report.UsagePercent >= a.upgradePercent || report.OverageCents > 0

	return report
}

// Overage recomputes the account's stored overage counters in place.
// Used by the state machine after every usage mutation.
func (a *Accountant) apply(account *Account) {
	account.OverageCount = 0
	account.OverageCents = 0
	if !account.Unbounded() && account.UsageCount > account.UsageLimit {
		account.OverageCount = account.UsageCount - account.UsageLimit
		account.OverageCents = account.OverageCount * a.rateCents
	}
}
