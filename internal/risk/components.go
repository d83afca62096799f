package risk

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Defaults used when a component has nothing to measure.
const (
	defaultVolatility    = 10.0
	defaultDebtorAging   = 15.0
	defaultConcentration = 5.0
	defaultSeasonality   = 10.0
)

// receivableAgingWindow is how far behind the newest receivable an older
// one must be to count as aged.
const receivableAgingWindow = 45 * 24 * time.Hour

var descriptions = map[domain.ComponentName]string{
	domain.ComponentCashflowVolatility:  "Std-dev of daily net cash.",
	domain.ComponentBurnRate:            "Difference between expenses and revenue.",
	domain.ComponentDebtorAging:         "Receivables overdue risk.",
	domain.ComponentVendorConcentration: "Dependence on a single vendor.",
	domain.ComponentSeasonality:         "Variability of monthly cashflows.",
}

// Components scores the five risk dimensions in report order.
func Components(series domain.Series) []domain.RiskComponent {
	raw := []struct {
		name  domain.ComponentName
		value float64
	}{
		{domain.ComponentCashflowVolatility, cashflowVolatility(series)},
		{domain.ComponentBurnRate, burnRate(series)},
		{domain.ComponentDebtorAging, debtorAging(series)},
		{domain.ComponentVendorConcentration, vendorConcentration(series)},
		{domain.ComponentSeasonality, seasonality(series)},
	}

	out := make([]domain.RiskComponent, len(raw))
	for i, r := range raw {
		out[i] = domain.RiskComponent{
			Name:        r.name,
			Score:       normalize(r.value),
			Description: descriptions[r.name],
		}
	}
	return out
}

// normalize clips a raw score into [0,100]. NaN scores count as zero.
func normalize(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// cashflowVolatility is the sample standard deviation of amounts scaled by 0.1.
// A single transaction has no spread.
func cashflowVolatility(series domain.Series) float64 {
	switch len(series) {
	case 0:
		return defaultVolatility
	case 1:
		return 0
	}
	return stat.StdDev(series.Amounts(), nil) * 0.1
}

func burnRate(series domain.Series) float64 {
	revenue, expense := rules.Totals(series)
	return math.Max(0, math.Min(100, (expense-revenue)/1000))
}

func debtorAging(series domain.Series) float64 {
	var dates []time.Time
	var newest time.Time
	for _, tx := range series {
		if tx.Category != domain.CategoryAccountsReceivable {
			continue
		}
		dates = append(dates, tx.TransactionDate)
		if tx.TransactionDate.After(newest) {
			newest = tx.TransactionDate
		}
	}
	if len(dates) == 0 {
		return defaultDebtorAging
	}

	cutoff := newest.Add(-receivableAgingWindow)
	aged := 0
	for _, d := range dates {
		if d.Before(cutoff) {
			aged++
		}
	}
	return float64(aged) / float64(len(dates)) * 100
}

// vendorConcentration is the largest share of outflow transactions held by
// one category.
func vendorConcentration(series domain.Series) float64 {
	counts := make(map[string]int)
	total := 0
	for _, tx := range series {
		if tx.Amount.IsNegative() {
			counts[tx.Category]++
			total++
		}
	}
	if total == 0 {
		return defaultConcentration
	}

	top := 0
	for _, n := range counts {
		top = max(top, n)
	}
	return float64(top) / float64(total) * 100
}

// seasonality is the coefficient of variation of monthly net cash flow.
func seasonality(series domain.Series) float64 {
	if series.Empty() {
		return defaultSeasonality
	}
	monthly := series.Monthly()
	values := make([]float64, len(monthly))
	for i, m := range monthly {
		values[i] = m.Net
	}
	std := math.Sqrt(stat.PopVariance(values, nil))
	return std / (stat.Mean(values, nil) + rules.Epsilon) * 100
}
