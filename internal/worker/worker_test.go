package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
)

type fixture struct {
	bus     *bus.ChannelBus
	repo    *repository.SQLRepository
	service *analytics.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(rules.WithOverdueReference(domain.OverdueSeries))
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	cfg := domain.AnalyticsConfig{Seed: 42, Iterations: 256, BatchSize: 64, Workers: 2}

	return &fixture{
		bus:     eventBus,
		repo:    repo,
		service: analytics.NewService(cfg, risk.NewScorer(engine, nil), nil),
	}
}

// seedCompany stores a company whose expenses exceed revenue.
func (f *fixture) seedCompany(t *testing.T, tenantID string) string {
	t.Helper()
	ctx := context.Background()

	company := &domain.Company{Name: "Burnco"}
	if err := f.repo.SaveCompany(ctx, tenantID, company); err != nil {
		t.Fatalf("SaveCompany failed: %v", err)
	}

	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	txs := []domain.Transaction{
		{UniqueID: "r1", CompanyID: company.ID, Amount: decimal.NewFromInt(10000), Category: "revenue", Currency: "USD", TransactionDate: day(1)},
		{UniqueID: "e1", CompanyID: company.ID, Amount: decimal.NewFromInt(-12000), Category: "rent", Currency: "USD", TransactionDate: day(5)},
	}
	if err := f.repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}
	return company.ID
}

func subscribe(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan *domain.Message {
	t.Helper()
	ch := make(chan *domain.Message, 4)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(_ context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func waitFor(t *testing.T, ch <-chan *domain.Message, what string) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
		return nil
	}
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.repo, f.service, Thresholds{})

		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicTransactionsIngested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessIngested", func(t *testing.T) {
		f := newFixture(t)
		companyID := f.seedCompany(t, "tenant-test")

		w := NewWorker(f.bus, f.repo, f.service, Thresholds{SurvivalBelow: 40})
		if err := w.Start(Config{TenantIDs: []string{"tenant-test"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		completed := subscribe(t, f.bus, "tenant-test", domain.TopicAnalysisCompleted)
		alerts := subscribe(t, f.bus, "tenant-test", domain.TopicAlert)

		event := domain.IngestedEvent{CompanyID: companyID, UniqueIDs: []string{"r1", "e1"}}
		if err := bus.PublishJSON(context.Background(), f.bus, "tenant-test", domain.TopicTransactionsIngested, event); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		done, err := bus.Decode[domain.AnalysisCompletedEvent](waitFor(t, completed, "analysis.completed"))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if done.CompanyID != companyID || done.ReportID == "" || done.SimulationID == "" {
			t.Errorf("unexpected completion event %+v", done)
		}
		if done.RulesTriggered != 3 {
			t.Errorf("expected 3 rules triggered, got %d", done.RulesTriggered)
		}

		alert, err := bus.Decode[domain.AlertEvent](waitFor(t, alerts, "alert"))
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if len(alert.Reasons) != 1 {
			t.Errorf("expected one alert reason, got %v", alert.Reasons)
		}

		ctx := context.Background()
		if _, err := f.repo.GetRiskReport(ctx, "tenant-test", done.ReportID); err != nil {
			t.Errorf("risk report not persisted: %v", err)
		}
		forecasts, err := f.repo.ListForecasts(ctx, "tenant-test", companyID)
		if err != nil || len(forecasts) != 3 {
			t.Errorf("expected 3 persisted forecasts, got %d (%v)", len(forecasts), err)
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		f := newFixture(t)
		companyID := f.seedCompany(t, "tenant-z")

		w := NewWorker(f.bus, f.repo, f.service, Thresholds{})
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		completed := subscribe(t, f.bus, "tenant-z", domain.TopicAnalysisCompleted)
		event := domain.IngestedEvent{CompanyID: companyID}
		if err := bus.PublishJSON(context.Background(), f.bus, "tenant-z", domain.TopicTransactionsIngested, event); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		msg := waitFor(t, completed, "analysis.completed")
		if msg.TenantID != "tenant-z" {
			t.Errorf("expected tenant-z, got %s", msg.TenantID)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		f := newFixture(t)
		w := NewWorker(f.bus, f.repo, f.service, Thresholds{})
		if err := w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestProcessEmptyCompany(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.bus, f.repo, f.service, Thresholds{})

	analysis, err := w.Process(context.Background(), "tenant-001", "no-transactions")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if analysis.Forecast.Metadata.HistoricPoints != 12 {
		t.Errorf("expected 12 padded history points, got %d", analysis.Forecast.Metadata.HistoricPoints)
	}
	if analysis.Anomalies.Summary.Message != domain.NoDataMessage {
		t.Errorf("expected no-data anomaly summary, got %+v", analysis.Anomalies.Summary)
	}
}

func TestThresholdReasons(t *testing.T) {
	analysis := &domain.Analysis{
		Risk:       &domain.RiskReport{SurvivalProbability: 30},
		Simulation: &domain.SimulationResult{InsolvencyProbability: 0.5},
	}

	tests := []struct {
		name       string
		thresholds Thresholds
		want       int
	}{
		{"Disabled", Thresholds{}, 0},
		{"SurvivalOnly", Thresholds{SurvivalBelow: 40}, 1},
		{"Both", Thresholds{SurvivalBelow: 40, InsolvencyAbove: 0.3}, 2},
		{"NotCrossed", Thresholds{SurvivalBelow: 20, InsolvencyAbove: 0.9}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.thresholds.Reasons(analysis); len(got) != tt.want {
				t.Errorf("expected %d reasons, got %v", tt.want, got)
			}
		})
	}
}
