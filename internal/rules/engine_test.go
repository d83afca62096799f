package rules

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func tx(id, date string, amount float64, category string) domain.Transaction {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	return domain.Transaction{
		UniqueID:        id,
		Amount:          decimal.NewFromFloat(amount),
		Category:        category,
		Currency:        "USD",
		TransactionDate: d,
	}
}

func fixedClock(date string) func() time.Time {
	d, _ := time.Parse("2006-01-02", date)
	return func() time.Time { return d }
}

func byName(results []domain.RuleEvaluation) map[domain.RuleName]bool {
	out := make(map[domain.RuleName]bool, len(results))
	for _, r := range results {
		out[r.Name] = r.Triggered
	}
	return out
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if engine.RulesCount() != 5 {
		t.Errorf("expected 5 builtin rules, got %d", engine.RulesCount())
	}

	if _, err := NewEngine(WithOverdueReference("yesterday")); err == nil {
		t.Error("expected error for unknown overdue reference")
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine()

	t.Run("SyntaxError", func(t *testing.T) {
		err := engine.Load([]Definition{{Name: "bad", Expression: "this is not valid CEL !!!"}})
		if err == nil {
			t.Error("expected error for invalid CEL expression")
		}
	})

	t.Run("NonBoolean", func(t *testing.T) {
		err := engine.Load([]Definition{{Name: "num", Expression: "margin * 2.0"}})
		if err == nil {
			t.Error("expected error for non-boolean expression")
		}
	})

	if engine.RulesCount() != 5 {
		t.Errorf("failed load must keep previous rules, got %d", engine.RulesCount())
	}
}

func TestEvaluateEmptySeries(t *testing.T) {
	engine, _ := NewEngine()
	results := engine.Evaluate(nil)
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil list, got %v", results)
	}
}

func TestEvaluateOrderAndDescriptions(t *testing.T) {
	engine, _ := NewEngine(WithClock(fixedClock("2024-01-10")))
	results := engine.Evaluate(domain.Series{
		tx("r1", "2024-01-01", 10000, "revenue"),
		tx("e1", "2024-01-05", -12000, "rent"),
	})

	if len(results) != len(domain.RuleOrder) {
		t.Fatalf("expected %d results, got %d", len(domain.RuleOrder), len(results))
	}
	for i, name := range domain.RuleOrder {
		if results[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, results[i].Name)
		}
		if results[i].Description == "" {
			t.Errorf("rule %s has no description", name)
		}
	}

	got := byName(results)
	want := map[domain.RuleName]bool{
		domain.RuleLiquidityRatio:    true,
		domain.RuleRentUtilities:     true,
		domain.RuleSubscriptionCreep: false,
		domain.RuleMarginCompression: true,
		domain.RuleDebtorOverdue:     false,
	}
	for name, expected := range want {
		if got[name] != expected {
			t.Errorf("%s: expected triggered=%v, got %v", name, expected, got[name])
		}
	}
}

func TestAggregateDefaults(t *testing.T) {
	t.Run("NoExpenses", func(t *testing.T) {
		agg := Aggregate(domain.Series{tx("r1", "2024-01-01", 500, "revenue")}, time.Now())
		if agg.LiquidityRatio != 2.0 {
			t.Errorf("expected liquidity 2.0, got %v", agg.LiquidityRatio)
		}
		if agg.RentUtilitiesRatio != 0 {
			t.Errorf("expected rent ratio 0, got %v", agg.RentUtilitiesRatio)
		}
		if math.Abs(agg.Margin-1.0) > 1e-9 {
			t.Errorf("expected margin ~1, got %v", agg.Margin)
		}
	})

	t.Run("NoRevenue", func(t *testing.T) {
		agg := Aggregate(domain.Series{tx("e1", "2024-01-01", -500, "utilities")}, time.Now())
		if agg.Margin != -1.0 {
			t.Errorf("expected margin -1, got %v", agg.Margin)
		}
		if math.Abs(agg.LiquidityRatio) > 1e-12 {
			t.Errorf("expected liquidity 0, got %v", agg.LiquidityRatio)
		}
	})

	t.Run("LiquidityRatio", func(t *testing.T) {
		agg := Aggregate(domain.Series{
			tx("r1", "2024-01-01", 10000, "revenue"),
			tx("e1", "2024-01-05", -12000, "rent"),
		}, time.Now())
		if math.Abs(agg.LiquidityRatio-10000.0/12000.0) > 1e-6 {
			t.Errorf("expected ~0.833, got %v", agg.LiquidityRatio)
		}
	})
}

func TestSubscriptionCreep(t *testing.T) {
	engine, _ := NewEngine()

	tests := []struct {
		name    string
		amounts []float64
		want    bool
	}{
		{"Steady", []float64{-100, -120, -110, -130}, false},
		{"Jump", []float64{-100, -100, -5000}, true},
		{"Drop", []float64{-5000, -100, -100}, true},
		{"SmallGrowth", []float64{-100, -900, -1900}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := domain.Series{tx("r", "2024-01-01", 100000, "revenue")}
			for i, a := range tt.amounts {
				series = append(series, tx(string(rune('a'+i)), "2024-02-01", a, "subscriptions"))
			}
			got := byName(engine.Evaluate(series))[domain.RuleSubscriptionCreep]
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTrailingMean(t *testing.T) {
	got := trailingMean([]float64{3, 6, 9, 12}, 3)
	want := []float64{3, 4.5, 6, 9}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("position %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestDebtorOverdue(t *testing.T) {
	series := domain.Series{
		tx("ar1", "2024-03-01", 2500, "accounts_receivable"),
		tx("r1", "2024-03-10", 9000, "revenue"),
	}

	t.Run("WallClock", func(t *testing.T) {
		engine, _ := NewEngine(WithClock(fixedClock("2024-06-01")))
		if !byName(engine.Evaluate(series))[domain.RuleDebtorOverdue] {
			t.Error("expected receivable 92 days old to be overdue")
		}
	})

	t.Run("WallClockRecent", func(t *testing.T) {
		engine, _ := NewEngine(WithClock(fixedClock("2024-03-20")))
		if byName(engine.Evaluate(series))[domain.RuleDebtorOverdue] {
			t.Error("expected recent receivable not to be overdue")
		}
	})

	t.Run("SeriesRelative", func(t *testing.T) {
		engine, _ := NewEngine(
			WithOverdueReference(domain.OverdueSeries),
			WithClock(fixedClock("2030-01-01")),
		)
		if byName(engine.Evaluate(series))[domain.RuleDebtorOverdue] {
			t.Error("series-relative reference must ignore the wall clock")
		}
	})
}
