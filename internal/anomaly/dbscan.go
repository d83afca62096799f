package anomaly

import "sort"

// DBSCAN clusters one-dimensional values by density. MinSamples counts
// the point itself.
type DBSCAN struct {
	Eps        float64
	MinSamples int
}

// Noise reports the points that are neither core points nor within Eps of
// a core point.
func (d DBSCAN) Noise(values []float64) []bool {
	n := len(values)
	noise := make([]bool, n)
	if n == 0 {
		return noise
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })
	sorted := make([]float64, n)
	for i, idx := range order {
		sorted[i] = values[idx]
	}

	// window returns the half-open range of sorted positions within Eps of v.
	window := func(v float64) (int, int) {
		lo := sort.SearchFloat64s(sorted, v-d.Eps)
		hi := sort.Search(n, func(i int) bool { return sorted[i] > v+d.Eps })
		return lo, hi
	}

	core := make([]bool, n)
	for i, v := range sorted {
		lo, hi := window(v)
		core[i] = hi-lo >= d.MinSamples
	}

	for i, v := range sorted {
		if core[i] {
			continue
		}
		lo, hi := window(v)
		reachable := false
		for j := lo; j < hi; j++ {
			if core[j] {
				reachable = true
				break
			}
		}
		noise[order[i]] = !reachable
	}
	return noise
}
