// Package simulation runs the Monte Carlo insolvency stress test.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Defaults applied when the engine is built with zero values.
const (
	DefaultSeed       = 42
	DefaultIterations = 1000
	DefaultBatchSize  = 256
)

// SignificantAbove is the insolvency probability above which the stress
// test is labelled significant.
const SignificantAbove = 0.3

// Fixed cash impacts of the non-revenue factors.
const (
	debtorExposure   = 5000.0
	supplierExposure = 3000.0
	payrollExposure  = 4000.0
)

// ErrIterationLimit is returned when a run asks for more iterations than
// the engine allows.
var ErrIterationLimit = errors.New("iteration limit exceeded")

// checkEvery is how many iterations a batch runs between context checks.
const checkEvery = 64

// Engine runs seeded simulations. Iterations are split into batches of
// BatchSize; batch b draws from its own PCG stream seeded (Seed, b), so the
// result depends on Seed and BatchSize but never on Workers.
type Engine struct {
	Seed      uint64
	BatchSize int
	Workers   int

	// MaxIterations caps a single run; zero means domain.DefaultMaxIterations.
	MaxIterations int
}

// NewEngine builds an engine from analytics settings.
func NewEngine(cfg domain.AnalyticsConfig) *Engine {
	e := &Engine{
		Seed:          cfg.Seed,
		BatchSize:     cfg.BatchSize,
		Workers:       cfg.Workers,
		MaxIterations: cfg.IterationLimit(),
	}
	if e.BatchSize <= 0 {
		e.BatchSize = DefaultBatchSize
	}
	if e.Workers <= 0 {
		e.Workers = runtime.GOMAXPROCS(0)
	}
	return e
}

// factors is one draw of the five scenario multipliers.
type factors struct {
	salesDrop          float64
	expenseSpike       float64
	debtorDelay        float64
	supplierDisruption float64
	payrollIncrease    float64
}

func draw(rng *rand.Rand) factors {
	return factors{
		salesDrop:          normal(rng, 0.85, 0.05),
		expenseSpike:       normal(rng, 1.2, 0.1),
		debtorDelay:        uniform(rng, 0.8, 1.0),
		supplierDisruption: uniform(rng, 0.9, 1.05),
		payrollIncrease:    normal(rng, 1.1, 0.02),
	}
}

func (f factors) cashFlow(base float64) float64 {
	return base*f.salesDrop -
		base*(f.expenseSpike-1) -
		(1-f.debtorDelay)*debtorExposure -
		(f.supplierDisruption-1)*supplierExposure -
		(f.payrollIncrease-1)*payrollExposure
}

func normal(rng *rand.Rand, mean, stddev float64) float64 {
	return mean + stddev*rng.NormFloat64()
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// tally accumulates one batch.
type tally struct {
	insolvent int
	sums      factors
}

func (t *tally) add(f factors) {
	t.sums.salesDrop += f.salesDrop
	t.sums.expenseSpike += f.expenseSpike
	t.sums.debtorDelay += f.debtorDelay
	t.sums.supplierDisruption += f.supplierDisruption
	t.sums.payrollIncrease += f.payrollIncrease
}

// Run simulates iterations scenarios against the series' total cash.
// Non-positive iterations fall back to DefaultIterations; more than
// MaxIterations returns ErrIterationLimit. A cancelled context abandons the
// run and returns its error.
func (e *Engine) Run(ctx context.Context, series domain.Series, iterations int) (*domain.SimulationResult, error) {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	limit := e.MaxIterations
	if limit <= 0 {
		limit = domain.DefaultMaxIterations
	}
	if iterations > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrIterationLimit, iterations, limit)
	}
	batchSize := e.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	base, _ := series.Total().Float64()

	batches := iterations / batchSize
	if iterations%batchSize != 0 {
		batches++
	}
	tallies := make([]tally, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Workers, 1))
	for b := range batches {
		n := min(batchSize, iterations-b*batchSize)
		g.Go(func() error {
			return e.runBatch(gctx, uint64(b), n, base, &tallies[b])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var total tally
	for _, t := range tallies {
		total.insolvent += t.insolvent
		total.add(t.sums)
	}

	n := float64(iterations)
	probability := float64(total.insolvent) / n
	stress := domain.StressModerate
	if probability > SignificantAbove {
		stress = domain.StressSignificant
	}

	return &domain.SimulationResult{
		InsolvencyProbability: probability,
		Iterations:            iterations,
		Seed:                  e.Seed,
		Scenarios: domain.ScenarioMeans{
			SalesDrop:          total.sums.salesDrop / n,
			ExpenseSpike:       total.sums.expenseSpike / n,
			DebtorDelay:        total.sums.debtorDelay / n,
			SupplierDisruption: total.sums.supplierDisruption / n,
			PayrollIncrease:    total.sums.payrollIncrease / n,
		},
		Summary: domain.SimulationSummary{
			InsolvencyProbability: probability,
			StressTest:            stress,
		},
	}, nil
}

func (e *Engine) runBatch(ctx context.Context, batch uint64, n int, base float64, out *tally) error {
	rng := rand.New(rand.NewPCG(e.Seed, batch))
	for i := range n {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		f := draw(rng)
		if f.cashFlow(base) < 0 {
			out.insolvent++
		}
		out.add(f)
	}
	return nil
}
