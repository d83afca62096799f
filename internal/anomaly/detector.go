// Package anomaly flags unusual transactions by combining an isolation
// forest, density clustering and deviation from a rolling median.
package anomaly

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultSeed keeps detection reproducible when no seed is configured.
const DefaultSeed = 42

// Detector runs the three detectors over a series.
type Detector struct {
	Forest  IsolationForest
	Density DBSCAN

	// MedianWindow is the trailing window of the rolling median.
	MedianWindow int
	// MedianFactor is how many multiples of the median's magnitude an
	// amount may deviate before it is flagged.
	MedianFactor float64
	// DriftFactor bounds per-category spread against overall spread.
	DriftFactor float64
}

// NewDetector returns a detector with the standard parameters.
func NewDetector(seed uint64) *Detector {
	return &Detector{
		Forest:       DefaultForest(seed),
		Density:      DBSCAN{Eps: 0.5, MinSamples: 3},
		MedianWindow: 3,
		MedianFactor: 1.5,
		DriftFactor:  1.5,
	}
}

// Detect flags anomalous transactions in series order.
func (d *Detector) Detect(series domain.Series) *domain.AnomalyResult {
	if series.Empty() {
		return &domain.AnomalyResult{
			Flags:   []domain.AnomalyFlag{},
			Summary: domain.AnomalySummary{Message: domain.NoDataMessage},
		}
	}

	amounts := series.Amounts()
	spikes := d.Forest.Outliers(amounts)
	noise := d.Density.Noise(amounts)
	deviations := d.medianDeviations(amounts)

	flags := []domain.AnomalyFlag{}
	for i, tx := range series {
		if spikes[i] || noise[i] || deviations[i] {
			flags = append(flags, domain.AnomalyFlag{
				UniqueID: tx.UniqueID,
				Category: tx.Category,
				Amount:   amounts[i],
			})
		}
	}

	return &domain.AnomalyResult{
		Flags: flags,
		Summary: domain.AnomalySummary{
			SpendingSpikes:  anyFlagged(spikes),
			DuplicateVendor: duplicateVendor(series),
			CashflowBreak:   anyFlagged(noise),
			CategoryDrift:   d.categoryDrift(series),
		},
	}
}

func (d *Detector) medianDeviations(amounts []float64) []bool {
	medians := RollingMedian(amounts, d.MedianWindow)
	out := make([]bool, len(amounts))
	for i, a := range amounts {
		out[i] = math.Abs(a-medians[i]) > math.Abs(medians[i])*d.MedianFactor
	}
	return out
}

// RollingMedian returns the trailing median of up to window values ending at
// each position. Early positions use however many values are available.
func RollingMedian(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	buf := make([]float64, 0, window)
	for i := range values {
		start := max(0, i-window+1)
		buf = append(buf[:0], values[start:i+1]...)
		sort.Float64s(buf)
		mid := len(buf) / 2
		if len(buf)%2 == 1 {
			out[i] = buf[mid]
		} else {
			out[i] = (buf[mid-1] + buf[mid]) / 2
		}
	}
	return out
}

// duplicateVendor reports whether any category repeats the same amount.
func duplicateVendor(series domain.Series) bool {
	type key struct {
		category string
		amount   string
	}
	seen := make(map[key]struct{}, len(series))
	for _, tx := range series {
		k := key{tx.Category, tx.Amount.String()}
		if _, ok := seen[k]; ok {
			return true
		}
		seen[k] = struct{}{}
	}
	return false
}

// categoryDrift reports whether the most volatile category is much more
// spread out than the series as a whole. Categories with a single member
// have no spread and are skipped.
func (d *Detector) categoryDrift(series domain.Series) bool {
	if len(series) < 2 {
		return false
	}
	groups := make(map[string][]float64)
	for _, tx := range series {
		groups[tx.Category] = append(groups[tx.Category], tx.AmountFloat())
	}

	widest := math.NaN()
	for _, amounts := range groups {
		if len(amounts) < 2 {
			continue
		}
		std := stat.StdDev(amounts, nil)
		if math.IsNaN(widest) || std > widest {
			widest = std
		}
	}
	if math.IsNaN(widest) {
		return false
	}
	return widest > stat.StdDev(series.Amounts(), nil)*d.DriftFactor
}

func anyFlagged(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}
