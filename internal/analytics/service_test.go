package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func testConfig() domain.AnalyticsConfig {
	return domain.AnalyticsConfig{
		Seed:       42,
		Iterations: 500,
		BatchSize:  128,
		Workers:    2,
		Horizons:   []int{30, 60, 90},
		CacheTTL:   time.Minute,
	}
}

func newService(t *testing.T, c domain.Cache) *Service {
	t.Helper()
	engine, err := rules.NewEngine(rules.WithOverdueReference(domain.OverdueSeries))
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	return NewService(testConfig(), risk.NewScorer(engine, nil), c)
}

func sampleSeries() domain.Series {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	return domain.Series{
		{UniqueID: "r1", Amount: decimal.NewFromInt(10000), Category: "revenue", Currency: "USD", TransactionDate: day(1)},
		{UniqueID: "e1", Amount: decimal.NewFromInt(-12000), Category: "rent", Currency: "USD", TransactionDate: day(5)},
	}
}

func TestAnalyze(t *testing.T) {
	svc := newService(t, nil)

	analysis, err := svc.Analyze(context.Background(), "tenant-001", "co-1", sampleSeries())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if analysis.Risk == nil || analysis.Forecast == nil || analysis.Simulation == nil || analysis.Anomalies == nil {
		t.Fatalf("expected all analyses, got %+v", analysis)
	}
	if analysis.CompanyID != "co-1" || analysis.Fingerprint != Fingerprint(sampleSeries()) {
		t.Errorf("unexpected identity fields: %+v", analysis)
	}
	if analysis.GeneratedAt.IsZero() {
		t.Error("expected generated_at to be set")
	}
	if !analysis.Risk.Rules[0].Triggered {
		t.Error("expected liquidity_ratio to trigger for the burn scenario")
	}
	if len(analysis.Forecast.Horizons) != 3 {
		t.Errorf("expected 3 horizons, got %d", len(analysis.Forecast.Horizons))
	}
	if analysis.Simulation.Iterations != 500 {
		t.Errorf("expected configured iterations, got %d", analysis.Simulation.Iterations)
	}
	if analysis.Risk.Payload.Metadata["company_id"] != "co-1" {
		t.Errorf("expected company metadata in payload, got %v", analysis.Risk.Payload.Metadata)
	}
}

func TestAnalyzeEmptySeries(t *testing.T) {
	analysis, err := newService(t, nil).Analyze(context.Background(), "", "co-1", nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis.Anomalies.Summary.Message != domain.NoDataMessage {
		t.Errorf("expected no-data message, got %+v", analysis.Anomalies.Summary)
	}
	if len(analysis.Risk.Rules) != 0 {
		t.Errorf("expected no rules, got %d", len(analysis.Risk.Rules))
	}
	if analysis.Forecast.Metadata.HistoricPoints != 12 {
		t.Errorf("expected synthetic history, got %d", analysis.Forecast.Metadata.HistoricPoints)
	}
}

func TestCaching(t *testing.T) {
	ctx := context.Background()
	lru := cache.NewLRUCache(100)
	svc := newService(t, lru)

	first, err := svc.Simulate(ctx, "tenant-001", sampleSeries(), 0)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if size, _ := lru.Stats(); size != 1 {
		t.Fatalf("expected one cached entry, got %d", size)
	}

	second, err := svc.Simulate(ctx, "tenant-001", sampleSeries(), 0)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if *first != *second {
		t.Errorf("cached result differs:\n%+v\n%+v", first, second)
	}

	if _, err := svc.Simulate(ctx, "tenant-001", sampleSeries(), 250); err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if size, _ := lru.Stats(); size != 2 {
		t.Errorf("different iteration counts must not share an entry, got %d entries", size)
	}

	if _, err := svc.Forecast(ctx, "", sampleSeries(), nil); err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if size, _ := lru.Stats(); size != 2 {
		t.Errorf("calls without a tenant must bypass the cache, got %d entries", size)
	}
}

func TestRiskCacheFollowsWallClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	engine, err := rules.NewEngine(rules.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	lru := cache.NewLRUCache(100)
	svc := NewService(testConfig(), risk.NewScorer(engine, nil), lru)

	series := domain.Series{{
		UniqueID:        "ar1",
		Amount:          decimal.NewFromInt(5000),
		Category:        domain.CategoryAccountsReceivable,
		Currency:        "USD",
		TransactionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	overdue := func() bool {
		t.Helper()
		report, err := svc.Risk(ctx, "tenant-001", "co-1", series, nil)
		if err != nil {
			t.Fatalf("Risk failed: %v", err)
		}
		for _, r := range report.Rules {
			if r.Name == domain.RuleDebtorOverdue {
				return r.Triggered
			}
		}
		t.Fatal("debtor_overdue missing from report")
		return false
	}

	if overdue() {
		t.Fatal("receivable 45 days old must not be overdue")
	}

	now = now.Add(6 * time.Hour)
	if overdue() {
		t.Error("same day must reuse the cached report")
	}
	if size, _ := lru.Stats(); size != 1 {
		t.Errorf("expected one cached report within a day, got %d", size)
	}

	now = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	if !overdue() {
		t.Error("expected debtor_overdue once the receivable is 74 days old")
	}
	if size, _ := lru.Stats(); size != 2 {
		t.Errorf("expected a new cache entry for the new day, got %d", size)
	}
}

func TestSimulateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newService(t, nil).Simulate(ctx, "tenant-001", sampleSeries(), 5000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(sampleSeries())
	if a != Fingerprint(sampleSeries()) {
		t.Error("fingerprint must be stable")
	}

	changed := sampleSeries()
	changed[1].Amount = decimal.NewFromInt(-12001)
	if a == Fingerprint(changed) {
		t.Error("fingerprint must change with amounts")
	}

	if len(Fingerprint(nil)) != 64 {
		t.Error("expected hex sha256 for empty series")
	}
}
