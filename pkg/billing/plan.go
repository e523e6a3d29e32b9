package billing

import (
	"fmt"
	"strings"
)

// Plan represents a subscription tier. Tiers form a strict order
// (Trial < Starter < Pro < Agency) used by the upgrade rules.
type Plan string

const (
	PlanTrial   Plan = "trial"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanAgency  Plan = "agency"
)

// planRanks defines the tier ordering. Downgrades are only allowed
// through the cancellation path, never through purchase events.
var planRanks = map[Plan]int{
	PlanTrial:   0,
	PlanStarter: 1,
	PlanPro:     2,
	PlanAgency:  3,
}

// Plans lists all valid tiers in ascending order.
func Plans() []Plan {
	return []Plan{PlanTrial, PlanStarter, PlanPro, PlanAgency}
}

// Valid reports whether p is one of the known tiers.
func (p Plan) Valid() bool {
	_, ok := planRanks[p]
	return ok
}

// Rank returns the tier position, or -1 for unknown plans.
func (p Plan) Rank() int {
	rank, ok := planRanks[p]
	if !ok {
		return -1
	}
	return rank
}

// Less reports whether p is strictly below other in the tier order.
func (p Plan) Less(other Plan) bool {
	return p.Valid() && other.Valid() && p.Rank() < other.Rank()
}

// AtLeast reports whether p is the same tier as other or higher.
// Unknown plans are never at least anything.
func (p Plan) AtLeast(other Plan) bool {
	return p.Valid() && other.Valid() && p.Rank() >= other.Rank()
}

func (p Plan) String() string {
	return string(p)
}

// ParsePlan converts a raw string into a Plan.
// Returns ErrInvalidPlan for anything outside the known tiers.
func ParsePlan(s string) (Plan, error) {
	p := Plan(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, s)
	}
	return p, nil
}
