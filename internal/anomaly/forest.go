package anomaly

import (
	"math"
	"math/rand/v2"
	"sort"
)

// eulerGamma is used by the harmonic number approximation in averagePath.
const eulerGamma = 0.5772156649015329

// IsolationForest scores one-dimensional values by how quickly random
// splits isolate them. Shorter average paths mean more anomalous points.
type IsolationForest struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          uint64
}

// DefaultForest returns the forest used by the detector.
func DefaultForest(seed uint64) IsolationForest {
	return IsolationForest{
		Trees:         100,
		MaxSamples:    256,
		Contamination: 0.1,
		Seed:          seed,
	}
}

type node struct {
	split       float64
	left, right *node
	size        int
}

func (n *node) leaf() bool { return n.left == nil }

// Scores fits the forest on values and returns the anomaly score of each
// value in [0,1]. Fewer than two values yield all-zero scores.
func (f IsolationForest) Scores(values []float64) []float64 {
	scores := make([]float64, len(values))
	n := len(values)
	if n < 2 {
		return scores
	}

	sample := min(f.MaxSamples, n)
	depth := int(math.Ceil(math.Log2(float64(max(sample, 2)))))
	rng := rand.New(rand.NewPCG(f.Seed, uint64(n)))

	trees := make([]*node, f.Trees)
	for t := range trees {
		perm := rng.Perm(n)[:sample]
		picked := make([]float64, sample)
		for i, idx := range perm {
			picked[i] = values[idx]
		}
		trees[t] = grow(rng, picked, 0, depth)
	}

	norm := averagePath(sample)
	for i, v := range values {
		total := 0.0
		for _, tree := range trees {
			total += pathLength(tree, v)
		}
		scores[i] = math.Pow(2, -(total/float64(len(trees)))/norm)
	}
	return scores
}

// Outliers flags values whose score is strictly above the score quantile
// matching the contamination rate.
func (f IsolationForest) Outliers(values []float64) []bool {
	flags := make([]bool, len(values))
	if len(values) < 2 {
		return flags
	}
	scores := f.Scores(values)
	threshold := quantile(scores, 1-f.Contamination)
	for i, s := range scores {
		flags[i] = s > threshold
	}
	return flags
}

func grow(rng *rand.Rand, values []float64, depth, limit int) *node {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if depth >= limit || len(values) <= 1 || lo == hi {
		return &node{size: len(values)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range values {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	// A split equal to lo puts everything right; retry at the next level.
	if len(left) == 0 || len(right) == 0 {
		return grow(rng, values, depth+1, limit)
	}
	return &node{
		split: split,
		left:  grow(rng, left, depth+1, limit),
		right: grow(rng, right, depth+1, limit),
	}
}

func pathLength(n *node, v float64) float64 {
	depth := 0.0
	for !n.leaf() {
		if v < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return depth + averagePath(n.size)
}

// averagePath is the expected path length of an unsuccessful search in a
// binary search tree of n nodes.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n - 1)
	return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
}

// quantile returns the q-th quantile of values using linear interpolation
// between closest ranks.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
