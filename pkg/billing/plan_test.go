package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforgehq/adforge/pkg/billing"
)

func TestPlanOrdering(t *testing.T) {
	t.Parallel()

	plans := billing.Plans()
	require.Len(t, plans, 4)

	for i := 1; i < len(plans); i++ {
		assert.Greater(t, plans[i].Rank(), plans[i-1].Rank(),
			"%s must outrank %s", plans[i], plans[i-1])
	}

	assert.True(t, billing.PlanTrial.Less(billing.PlanStarter))
	assert.False(t, billing.PlanPro.Less(billing.PlanPro))
	assert.True(t, billing.PlanAgency.AtLeast(billing.PlanPro))
	assert.True(t, billing.PlanPro.AtLeast(billing.PlanPro))
	assert.False(t, billing.PlanStarter.AtLeast(billing.PlanPro))
	assert.Equal(t, -1, billing.Plan("enterprise").Rank())
	assert.False(t, billing.Plan("enterprise").AtLeast(billing.PlanTrial))
}

func TestParsePlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    billing.Plan
		wantErr bool
	}{
		{name: "exact", input: "pro", want: billing.PlanPro},
		{name: "uppercase", input: "AGENCY", want: billing.PlanAgency},
		{name: "whitespace", input: "  starter\n", want: billing.PlanStarter},
		{name: "trial", input: "Trial", want: billing.PlanTrial},
		{name: "unknown", input: "enterprise", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := billing.ParsePlan(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, billing.ErrInvalidPlan)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
