package rules

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Epsilon pads ratio denominators.
const Epsilon = 1e-9

// OverdueAfter is the receivable age past which debtor_overdue fires.
const OverdueAfter = 60 * 24 * time.Hour

// Aggregates are the derived figures the rule expressions test.
type Aggregates struct {
	TotalRevenue          float64
	TotalExpense          float64
	LiquidityRatio        float64
	RentUtilitiesRatio    float64
	SubscriptionMaxChange float64
	Margin                float64
	OverdueReceivables    int64
}

// Totals returns total inflow and the absolute total outflow.
func Totals(series domain.Series) (revenue, expense float64) {
	rev, exp := decimal.Zero, decimal.Zero
	for _, tx := range series {
		switch tx.Amount.Sign() {
		case 1:
			rev = rev.Add(tx.Amount)
		case -1:
			exp = exp.Add(tx.Amount.Abs())
		}
	}
	revenue, _ = rev.Float64()
	expense, _ = exp.Float64()
	return revenue, expense
}

// Aggregate derives the rule inputs from a series. Receivables dated more
// than OverdueAfter before reference count as overdue.
func Aggregate(series domain.Series, reference time.Time) Aggregates {
	revenue, expense := Totals(series)
	agg := Aggregates{
		TotalRevenue: revenue,
		TotalExpense: expense,
	}

	agg.LiquidityRatio = 2.0
	if expense != 0 {
		agg.LiquidityRatio = revenue / (expense + Epsilon)
	}

	rent := decimal.Zero
	var subscriptions []float64
	cutoff := reference.Add(-OverdueAfter)
	for _, tx := range series {
		switch tx.Category {
		case domain.CategoryRent, domain.CategoryUtilities:
			rent = rent.Add(tx.Amount.Abs())
		case domain.CategorySubscriptions:
			subscriptions = append(subscriptions, math.Abs(tx.AmountFloat()))
		case domain.CategoryAccountsReceivable:
			if tx.TransactionDate.Before(cutoff) {
				agg.OverdueReceivables++
			}
		}
	}

	if expense != 0 {
		r, _ := rent.Float64()
		agg.RentUtilitiesRatio = r / (expense + Epsilon)
	}

	agg.SubscriptionMaxChange = maxAbsChange(trailingMean(subscriptions, 3))

	agg.Margin = -1.0
	if revenue != 0 {
		agg.Margin = (revenue - expense) / (revenue + Epsilon)
	}

	return agg
}

// trailingMean is a rolling mean that averages whatever is available when
// fewer than window values precede a position.
func trailingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		n := min(i+1, window)
		out[i] = sum / float64(n)
	}
	return out
}

func maxAbsChange(values []float64) float64 {
	best := 0.0
	for i := 1; i < len(values); i++ {
		if d := math.Abs(values[i] - values[i-1]); d > best {
			best = d
		}
	}
	return best
}

func (a Aggregates) activation() map[string]any {
	return map[string]any{
		"total_revenue":           a.TotalRevenue,
		"total_expense":           a.TotalExpense,
		"liquidity_ratio":         a.LiquidityRatio,
		"rent_utilities_ratio":    a.RentUtilitiesRatio,
		"subscription_max_change": a.SubscriptionMaxChange,
		"margin":                  a.Margin,
		"overdue_receivables":     a.OverdueReceivables,
	}
}
