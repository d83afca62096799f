package simulation

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func cash(amount float64) domain.Series {
	return domain.Series{{
		UniqueID:        "cash",
		Amount:          decimal.NewFromFloat(amount),
		Category:        domain.CategoryRevenue,
		Currency:        domain.DefaultCurrency,
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func newEngine(workers int) *Engine {
	return NewEngine(domain.AnalyticsConfig{Seed: DefaultSeed, BatchSize: DefaultBatchSize, Workers: workers})
}

func TestRunDeterministic(t *testing.T) {
	ctx := context.Background()
	series := cash(2500)

	first, err := newEngine(1).Run(ctx, series, 1000)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, workers := range []int{1, 3, 8} {
		got, err := newEngine(workers).Run(ctx, series, 1000)
		if err != nil {
			t.Fatalf("Run with %d workers failed: %v", workers, err)
		}
		if !reflect.DeepEqual(first, got) {
			t.Errorf("%d workers changed the result:\n%+v\n%+v", workers, first, got)
		}
	}

	other := NewEngine(domain.AnalyticsConfig{Seed: 7, BatchSize: DefaultBatchSize, Workers: 2})
	got, err := other.Run(ctx, series, 1000)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got.Scenarios == first.Scenarios {
		t.Error("different seeds should draw different scenarios")
	}
}

func TestRunEmptySeries(t *testing.T) {
	result, err := newEngine(4).Run(context.Background(), nil, 1000)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.InsolvencyProbability < 0.9 || result.InsolvencyProbability > 1 {
		t.Errorf("expected near-certain insolvency with no cash, got %v", result.InsolvencyProbability)
	}
	if result.Summary.StressTest != domain.StressSignificant {
		t.Errorf("expected %s, got %s", domain.StressSignificant, result.Summary.StressTest)
	}
	if result.Summary.InsolvencyProbability != result.InsolvencyProbability {
		t.Error("summary probability must match")
	}
}

func TestRunHealthyCash(t *testing.T) {
	result, err := newEngine(4).Run(context.Background(), cash(1e6), 1000)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.InsolvencyProbability > 0.01 {
		t.Errorf("expected negligible insolvency, got %v", result.InsolvencyProbability)
	}
	if result.Summary.StressTest != domain.StressModerate {
		t.Errorf("expected %s, got %s", domain.StressModerate, result.Summary.StressTest)
	}

	means := []struct {
		name      string
		got, want float64
	}{
		{"sales_drop", result.Scenarios.SalesDrop, 0.85},
		{"expense_spike", result.Scenarios.ExpenseSpike, 1.2},
		{"debtor_delay", result.Scenarios.DebtorDelay, 0.9},
		{"supplier_disruption", result.Scenarios.SupplierDisruption, 0.975},
		{"payroll_increase", result.Scenarios.PayrollIncrease, 1.1},
	}
	for _, m := range means {
		if math.Abs(m.got-m.want) > 0.015 {
			t.Errorf("%s: expected mean near %v, got %v", m.name, m.want, m.got)
		}
	}
}

func TestRunIterations(t *testing.T) {
	result, err := newEngine(2).Run(context.Background(), cash(100), 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Iterations != DefaultIterations {
		t.Errorf("expected default iterations, got %d", result.Iterations)
	}
	if result.Seed != DefaultSeed {
		t.Errorf("expected seed %d, got %d", DefaultSeed, result.Seed)
	}

	odd, err := newEngine(2).Run(context.Background(), cash(100), 257)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if odd.Iterations != 257 {
		t.Errorf("expected 257 iterations, got %d", odd.Iterations)
	}
}

func TestRunIterationLimit(t *testing.T) {
	tests := []struct {
		name       string
		engine     *Engine
		iterations int
	}{
		{"MaxInt", &Engine{Seed: DefaultSeed, BatchSize: DefaultBatchSize, Workers: 1}, math.MaxInt},
		{"AboveDefault", &Engine{Seed: DefaultSeed, BatchSize: DefaultBatchSize, Workers: 1}, domain.DefaultMaxIterations + 1},
		{"AboveConfigured", NewEngine(domain.AnalyticsConfig{Seed: DefaultSeed, MaxIterations: 500}), 501},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.engine.Run(context.Background(), cash(100), tt.iterations)
			if !errors.Is(err, ErrIterationLimit) {
				t.Fatalf("expected ErrIterationLimit, got %v", err)
			}
			if result != nil {
				t.Error("rejected run must not return a result")
			}
		})
	}

	t.Run("AtLimit", func(t *testing.T) {
		e := NewEngine(domain.AnalyticsConfig{Seed: DefaultSeed, BatchSize: 7, Workers: 2, MaxIterations: 500})
		result, err := e.Run(context.Background(), cash(100), 500)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Iterations != 500 {
			t.Errorf("expected 500 iterations, got %d", result.Iterations)
		}
	})
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newEngine(2).Run(ctx, cash(100), 10000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result != nil {
		t.Error("cancelled run must not return a result")
	}
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(domain.AnalyticsConfig{})
	if e.BatchSize != DefaultBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultBatchSize, e.BatchSize)
	}
	if e.Workers < 1 {
		t.Errorf("expected at least one worker, got %d", e.Workers)
	}
	if e.MaxIterations != domain.DefaultMaxIterations {
		t.Errorf("expected iteration limit %d, got %d", domain.DefaultMaxIterations, e.MaxIterations)
	}
}
