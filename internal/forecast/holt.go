package forecast

import "math"

// gridSteps divides [0,1] for the smoothing parameter search.
const gridSteps = 20

// Holt is an additive-trend exponential smoothing model without seasonality.
type Holt struct {
	Alpha float64
	Beta  float64
	Level float64
	Trend float64
	SSE   float64
}

// FitHolt fits a Holt model to y. Initial level is y[0] and initial trend is
// y[1]-y[0]; the smoothing parameters minimize the one-step-ahead squared
// error over a fixed grid. An empty y yields a flat zero model.
func FitHolt(y []float64) Holt {
	switch len(y) {
	case 0:
		return Holt{}
	case 1:
		return Holt{Level: y[0]}
	}

	best := Holt{SSE: math.Inf(1)}
	for i := 0; i <= gridSteps; i++ {
		alpha := float64(i) / gridSteps
		for j := 0; j <= gridSteps; j++ {
			beta := float64(j) / gridSteps
			m := smooth(y, alpha, beta)
			if m.SSE < best.SSE {
				best = m
			}
		}
	}
	return best
}

func smooth(y []float64, alpha, beta float64) Holt {
	level, trend := y[0], y[1]-y[0]
	sse := 0.0
	for _, v := range y[1:] {
		predicted := level + trend
		sse += (v - predicted) * (v - predicted)
		next := alpha*v + (1-alpha)*predicted
		trend = beta*(next-level) + (1-beta)*trend
		level = next
	}
	return Holt{Alpha: alpha, Beta: beta, Level: level, Trend: trend, SSE: sse}
}

// At projects the value step periods ahead, counting from 1.
func (h Holt) At(step int) float64 {
	return h.Level + float64(step)*h.Trend
}

// Forecast projects the next steps values.
func (h Holt) Forecast(steps int) []float64 {
	out := make([]float64, steps)
	for i := range out {
		out[i] = h.At(i + 1)
	}
	return out
}
