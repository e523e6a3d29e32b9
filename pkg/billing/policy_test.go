package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adforgehq/adforge/pkg/billing"
)

func TestDeterminePlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		meta         billing.PlanMeta
		want         billing.Plan
		wantSource   string
		wantFallback bool
	}{
		{
			name:       "custom data wins over product name",
			meta:       billing.PlanMeta{CustomPlan: "starter", ProductName: "Agency Yearly"},
			want:       billing.PlanStarter,
			wantSource: billing.SourceCustomData,
		},
		{
			name:       "custom data is case insensitive",
			meta:       billing.PlanMeta{CustomPlan: "PRO"},
			want:       billing.PlanPro,
			wantSource: billing.SourceCustomData,
		},
		{
			name:       "keyword in product name",
			meta:       billing.PlanMeta{ProductName: "Agency Yearly"},
			want:       billing.PlanAgency,
			wantSource: billing.SourceKeyword,
		},
		{
			name:       "keyword in variant name",
			meta:       billing.PlanMeta{ProductName: "AdForge Subscription", VariantName: "Starter Monthly"},
			want:       billing.PlanStarter,
			wantSource: billing.SourceKeyword,
		},
		{
			name:       "highest matching tier wins",
			meta:       billing.PlanMeta{ProductName: "Agency Pro Bundle"},
			want:       billing.PlanAgency,
			wantSource: billing.SourceKeyword,
		},
		{
			name:       "mixed case keyword",
			meta:       billing.PlanMeta{ProductName: "PRO plan (yearly)"},
			want:       billing.PlanPro,
			wantSource: billing.SourceKeyword,
		},
		{
			name:       "invalid custom data falls through to keywords",
			meta:       billing.PlanMeta{CustomPlan: "platinum", ProductName: "Pro Monthly"},
			want:       billing.PlanPro,
			wantSource: billing.SourceKeyword,
		},
		{
			name:         "unrecognized metadata uses flagged fallback",
			meta:         billing.PlanMeta{ProductName: "Premium Deluxe"},
			want:         billing.FallbackPlan,
			wantSource:   billing.SourceFallback,
			wantFallback: true,
		},
		{
			name:         "empty metadata uses flagged fallback",
			meta:         billing.PlanMeta{},
			want:         billing.FallbackPlan,
			wantSource:   billing.SourceFallback,
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := billing.DeterminePlan(tt.meta)
			assert.Equal(t, tt.want, got.Plan)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantFallback, got.FallbackUsed)
		})
	}
}
