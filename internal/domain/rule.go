package domain

// RuleName identifies one of the deterministic threshold rules.
type RuleName string

// The five rules, in evaluation order.
const (
	RuleLiquidityRatio    RuleName = "liquidity_ratio"
	RuleRentUtilities     RuleName = "rent_utilities"
	RuleSubscriptionCreep RuleName = "subscription_creep"
	RuleMarginCompression RuleName = "margin_compression"
	RuleDebtorOverdue     RuleName = "debtor_overdue"
)

// RuleOrder is the fixed order in which rule outcomes are reported.
var RuleOrder = []RuleName{
	RuleLiquidityRatio,
	RuleRentUtilities,
	RuleSubscriptionCreep,
	RuleMarginCompression,
	RuleDebtorOverdue,
}

// RuleEvaluation is the outcome of one rule against a series.
type RuleEvaluation struct {
	Name        RuleName `json:"name"`
	Triggered   bool     `json:"triggered"`
	Description string   `json:"description"`
}

// ToMap serializes the evaluation for transport.
func (r RuleEvaluation) ToMap() map[string]any {
	return map[string]any{
		"name":        string(r.Name),
		"triggered":   r.Triggered,
		"description": r.Description,
	}
}

// TriggeredCount returns how many rules fired.
func TriggeredCount(rules []RuleEvaluation) int {
	n := 0
	for _, r := range rules {
		if r.Triggered {
			n++
		}
	}
	return n
}

// OverdueReference selects the point in time debtor_overdue measures age against.
type OverdueReference string

const (
	// OverdueWallClock measures age against the evaluation time.
	OverdueWallClock OverdueReference = "wall_clock"

	// OverdueSeries measures age against the latest date in the series,
	// which makes the rule reproducible for a fixed input.
	OverdueSeries OverdueReference = "series"
)

// Valid reports whether the reference is a known mode.
func (o OverdueReference) Valid() bool {
	return o == OverdueWallClock || o == OverdueSeries
}
