package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func date(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestCompanies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	company := &domain.Company{Name: "Acme Ltd", Industry: "retail"}
	if err := repo.SaveCompany(ctx, "tenant-001", company); err != nil {
		t.Fatalf("SaveCompany failed: %v", err)
	}
	if company.ID == "" || company.CreatedAt.IsZero() {
		t.Fatalf("expected ID and CreatedAt to be assigned, got %+v", company)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.GetCompany(ctx, "tenant-001", company.ID)
		if err != nil {
			t.Fatalf("GetCompany failed: %v", err)
		}
		if got.Name != "Acme Ltd" || got.Industry != "retail" || got.TenantID != "tenant-001" {
			t.Errorf("unexpected company %+v", got)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetCompany(ctx, "tenant-002", company.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for another tenant, got %v", err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		if err := repo.SaveCompany(ctx, "", &domain.Company{Name: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput without tenant, got %v", err)
		}
		if err := repo.SaveCompany(ctx, "tenant-001", &domain.Company{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput without name, got %v", err)
		}
	})
}

func TestTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	txs := []domain.Transaction{
		{UniqueID: "b", CompanyID: "co-1", Amount: decimal.RequireFromString("-1200.50"), Category: "rent", Currency: "USD", TransactionDate: date("2024-02-05")},
		{UniqueID: "a", CompanyID: "co-1", Amount: decimal.RequireFromString("10000.10"), Category: "revenue", Description: "invoice 7", TransactionDate: date("2024-01-01")},
		{UniqueID: "z", CompanyID: "co-2", Amount: decimal.NewFromInt(5), Category: "revenue", Currency: "EUR", TransactionDate: date("2024-01-03")},
	}
	if err := repo.SaveTransactions(ctx, tenantID, txs); err != nil {
		t.Fatalf("SaveTransactions failed: %v", err)
	}

	t.Run("ListOrderedByDate", func(t *testing.T) {
		got, err := repo.ListTransactions(ctx, tenantID, "co-1")
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 transactions, got %d", len(got))
		}
		if got[0].UniqueID != "a" || got[1].UniqueID != "b" {
			t.Errorf("expected date order a,b; got %s,%s", got[0].UniqueID, got[1].UniqueID)
		}
		if !got[1].Amount.Equal(decimal.RequireFromString("-1200.5")) {
			t.Errorf("amount not preserved exactly: %s", got[1].Amount)
		}
		if got[0].Currency != domain.DefaultCurrency {
			t.Errorf("expected default currency, got %q", got[0].Currency)
		}
		if got[0].Description != "invoice 7" {
			t.Errorf("expected description to round-trip, got %q", got[0].Description)
		}
		if !got[0].TransactionDate.Equal(date("2024-01-01")) {
			t.Errorf("date not preserved: %v", got[0].TransactionDate)
		}
	})

	t.Run("ExistingIDs", func(t *testing.T) {
		existing, err := repo.ExistingTransactionIDs(ctx, tenantID, []string{"a", "z", "missing"})
		if err != nil {
			t.Fatalf("ExistingTransactionIDs failed: %v", err)
		}
		if !existing["a"] || !existing["z"] || existing["missing"] {
			t.Errorf("unexpected existing set %v", existing)
		}

		other, err := repo.ExistingTransactionIDs(ctx, "tenant-002", []string{"a"})
		if err != nil {
			t.Fatalf("ExistingTransactionIDs failed: %v", err)
		}
		if len(other) != 0 {
			t.Errorf("another tenant must not see these IDs, got %v", other)
		}
	})

	t.Run("DuplicateInsertIgnored", func(t *testing.T) {
		dup := []domain.Transaction{{UniqueID: "a", CompanyID: "co-1", Amount: decimal.NewFromInt(1), Category: "x", TransactionDate: date("2030-01-01")}}
		if err := repo.SaveTransactions(ctx, tenantID, dup); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}
		got, _ := repo.ListTransactions(ctx, tenantID, "co-1")
		if len(got) != 2 || !got[0].Amount.Equal(decimal.RequireFromString("10000.1")) {
			t.Errorf("existing row must be kept, got %+v", got)
		}
	})

	t.Run("RequiresCompany", func(t *testing.T) {
		bad := []domain.Transaction{{UniqueID: "q", Amount: decimal.NewFromInt(1), TransactionDate: date("2024-01-01")}}
		if err := repo.SaveTransactions(ctx, tenantID, bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestArtifacts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("RiskReport", func(t *testing.T) {
		report := &domain.StoredRiskReport{
			CompanyID:           "co-1",
			Scores:              map[string]float64{"burn_rate": 2, "seasonality": 0},
			SurvivalProbability: 26.6,
			Summary:             "AI Risk Narrative:",
			Payload: domain.ReportPayload{
				Metadata:            map[string]any{"company_id": "co-1"},
				Rules:               []domain.RuleEvaluation{{Name: domain.RuleLiquidityRatio, Triggered: true, Description: "low"}},
				SurvivalProbability: 26.6,
			},
		}
		if err := repo.SaveRiskReport(ctx, tenantID, report); err != nil {
			t.Fatalf("SaveRiskReport failed: %v", err)
		}

		got, err := repo.GetRiskReport(ctx, tenantID, report.ID)
		if err != nil {
			t.Fatalf("GetRiskReport failed: %v", err)
		}
		if got.Scores["burn_rate"] != 2 || got.SurvivalProbability != 26.6 {
			t.Errorf("unexpected report %+v", got)
		}
		if len(got.Payload.Rules) != 1 || got.Payload.Rules[0].Name != domain.RuleLiquidityRatio {
			t.Errorf("payload rules not preserved: %+v", got.Payload)
		}
		if got.Payload.Metadata["company_id"] != "co-1" {
			t.Errorf("payload metadata not preserved: %+v", got.Payload.Metadata)
		}

		if _, err := repo.GetRiskReport(ctx, "tenant-002", report.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for another tenant, got %v", err)
		}
	})

	t.Run("Forecasts", func(t *testing.T) {
		rows := []domain.StoredForecast{
			{CompanyID: "co-1", ModelUsed: "exponential_smoothing", Horizon: domain.ForecastHorizon{HorizonDays: 90, RevenueProjection: 1.1, ExpenseProjection: 0.9, RunwayDays: 90}},
			{CompanyID: "co-1", ModelUsed: "exponential_smoothing", Horizon: domain.ForecastHorizon{HorizonDays: 30, RevenueProjection: 2.2, ExpenseProjection: 1.8, RunwayDays: 30}},
		}
		if err := repo.SaveForecasts(ctx, tenantID, rows); err != nil {
			t.Fatalf("SaveForecasts failed: %v", err)
		}
		if rows[0].ID == "" || rows[1].ID == "" {
			t.Error("expected IDs to be assigned")
		}

		got, err := repo.ListForecasts(ctx, tenantID, "co-1")
		if err != nil {
			t.Fatalf("ListForecasts failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 forecasts, got %d", len(got))
		}
		if got[0].Horizon != rows[0].Horizon || got[1].Horizon != rows[1].Horizon {
			t.Errorf("forecast order or values changed: %+v", got)
		}
	})

	t.Run("Simulation", func(t *testing.T) {
		sim := &domain.StoredSimulation{
			CompanyID: "co-1",
			Result: domain.SimulationResult{
				InsolvencyProbability: 0.42,
				Iterations:            1000,
				Seed:                  42,
				Scenarios:             domain.ScenarioMeans{SalesDrop: 0.85},
				Summary:               domain.SimulationSummary{InsolvencyProbability: 0.42, StressTest: domain.StressSignificant},
			},
		}
		if err := repo.SaveSimulation(ctx, tenantID, sim); err != nil {
			t.Fatalf("SaveSimulation failed: %v", err)
		}

		got, err := repo.GetSimulation(ctx, tenantID, sim.ID)
		if err != nil {
			t.Fatalf("GetSimulation failed: %v", err)
		}
		if got.Result != sim.Result {
			t.Errorf("expected %+v, got %+v", sim.Result, got.Result)
		}

		if _, err := repo.GetSimulation(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Errorf("unexpected rebind %q", got)
	}

	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite queries must be unchanged, got %q", got)
	}
}

func TestNewUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "k", PostgresPassword: "secret"})
	want := "host=localhost port=5432 user=k password=secret dbname=kestrel sslmode=disable application_name=kestrel"
	if dsn != want {
		t.Errorf("expected %q, got %q", want, dsn)
	}
}
