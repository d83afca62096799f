// Package forecast projects revenue, expense and runway from monthly net
// cash flow.
package forecast

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ModelName identifies the fitted model in results and persisted rows.
const ModelName = "exponential_smoothing"

// DefaultHorizons are used when the caller asks for none.
var DefaultHorizons = []int{30, 60, 90}

const (
	daysPerStep     = 30
	syntheticMonths = 12
	revenueFactor   = 1.1
	expenseFactor   = 0.9
	runwayDivisor   = 100
)

// Forecast fits the monthly series and returns one projection per horizon
// in the order given. A horizon shorter than one step uses the first step.
// Only the steps a horizon reads are projected, so any int horizon is safe.
func Forecast(series domain.Series, horizons []int) *domain.ForecastResult {
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}

	history := monthlyHistory(series)
	model := FitHolt(history)

	out := make([]domain.ForecastHorizon, len(horizons))
	for i, h := range horizons {
		value := model.At(max(h/daysPerStep, 1))
		revenue := value * revenueFactor
		expense := value * expenseFactor
		out[i] = domain.ForecastHorizon{
			HorizonDays:       h,
			RevenueProjection: revenue,
			ExpenseProjection: expense,
			RunwayDays:        runwayDays((revenue-expense)/runwayDivisor + float64(h)),
		}
	}

	return &domain.ForecastResult{
		Horizons:  out,
		ModelUsed: ModelName,
		Metadata: domain.ForecastMetadata{
			Model:          ModelName,
			HistoricPoints: len(history),
		},
	}
}

// runwayDays truncates days to an int in [0, math.MaxInt].
func runwayDays(days float64) int {
	switch {
	case math.IsNaN(days) || days <= 0:
		return 0
	case days >= math.MaxInt:
		return math.MaxInt
	}
	return int(days)
}

// monthlyHistory returns monthly net totals, or twelve zero months when
// there is no history.
func monthlyHistory(series domain.Series) []float64 {
	if series.Empty() {
		return make([]float64, syntheticMonths)
	}
	monthly := series.Monthly()
	out := make([]float64, len(monthly))
	for i, m := range monthly {
		out[i] = m.Net
	}
	return out
}
