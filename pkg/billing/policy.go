package billing

import "strings"

// PlanMeta is the provider product metadata inspected by DeterminePlan.
type PlanMeta struct {
	CustomPlan  string // explicit plan identifier from webhook custom data
	ProductName string
	VariantName string
}

// Determination sources, in priority order.
const (
	SourceCustomData = "custom_data"
	SourceKeyword    = "keyword"
	SourceFallback   = "fallback"
)

// Determination is the result of mapping provider product data to a tier.
// FallbackUsed marks results produced by the default heuristic so callers
// can log and alert instead of silently defaulting.
type Determination struct {
	Plan         Plan
	FallbackUsed bool
	Source       string
}

// FallbackPlan is the documented default when product metadata is not
// recognized. Mid-tier was chosen deliberately; see the catalog docs.
const FallbackPlan = PlanPro

// keywordOrder is scanned highest tier first so "Agency Pro Bundle"
// resolves to agency, not pro.
var keywordOrder = []Plan{PlanAgency, PlanPro, PlanStarter, PlanTrial}

// DeterminePlan maps provider product metadata to an internal tier.
// It is total and deterministic: explicit custom data wins, then tier
// keywords in the normalized product/variant names, then the flagged
// fallback. It never fails; unrecognizable input yields FallbackPlan
// with FallbackUsed set.
func DeterminePlan(meta PlanMeta) Determination {
	if plan, err := ParsePlan(meta.CustomPlan); err == nil {
		return Determination{Plan: plan, Source: SourceCustomData}
	}

	haystack := strings.ToLower(meta.ProductName + " " + meta.VariantName)
	for _, plan := range keywordOrder {
		if strings.Contains(haystack, string(plan)) {
			return Determination{Plan: plan, Source: SourceKeyword}
		}
	}

	return Determination{Plan: FallbackPlan, FallbackUsed: true, Source: SourceFallback}
}
