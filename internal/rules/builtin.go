package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// Definition binds a rule name to its CEL threshold expression.
// Expressions see the variables declared in NewEngine.
type Definition struct {
	Name        domain.RuleName
	Expression  string
	Description string
}

// BuiltinRules returns the five deterministic rules in evaluation order.
func BuiltinRules() []Definition {
	return []Definition{
		{
			Name:        domain.RuleLiquidityRatio,
			Expression:  "liquidity_ratio < 1.2",
			Description: "Liquidity ratio below safe threshold",
		},
		{
			Name:        domain.RuleRentUtilities,
			Expression:  "rent_utilities_ratio > 0.3",
			Description: "Rent/utility spend too high",
		},
		{
			Name:        domain.RuleSubscriptionCreep,
			Expression:  "subscription_max_change > 1000.0",
			Description: "Subscriptions growing rapidly",
		},
		{
			Name:        domain.RuleMarginCompression,
			Expression:  "margin < 0.2",
			Description: "Gross margin compression",
		},
		{
			Name:        domain.RuleDebtorOverdue,
			Expression:  "overdue_receivables > 0",
			Description: "Overdue debtor pattern",
		},
	}
}
