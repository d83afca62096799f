package analytics

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveRisk persists report for companyID and returns the stored row.
func SaveRisk(ctx context.Context, repo domain.Repository, tenantID, companyID string, report *domain.RiskReport) (*domain.StoredRiskReport, error) {
	stored := &domain.StoredRiskReport{
		CompanyID:           companyID,
		Scores:              report.Heatmap,
		SurvivalProbability: report.SurvivalProbability,
		Summary:             report.Summary,
		Payload:             report.Payload,
	}
	if err := repo.SaveRiskReport(ctx, tenantID, stored); err != nil {
		return nil, fmt.Errorf("save risk report: %w", err)
	}
	return stored, nil
}

// SaveForecast persists one row per horizon, in result order.
func SaveForecast(ctx context.Context, repo domain.Repository, tenantID, companyID string, result *domain.ForecastResult) ([]domain.StoredForecast, error) {
	rows := make([]domain.StoredForecast, len(result.Horizons))
	for i, h := range result.Horizons {
		rows[i] = domain.StoredForecast{
			CompanyID: companyID,
			ModelUsed: result.ModelUsed,
			Horizon:   h,
		}
	}
	if err := repo.SaveForecasts(ctx, tenantID, rows); err != nil {
		return nil, fmt.Errorf("save forecasts: %w", err)
	}
	return rows, nil
}

// SaveSimulation persists a simulation run.
func SaveSimulation(ctx context.Context, repo domain.Repository, tenantID, companyID string, result *domain.SimulationResult) (*domain.StoredSimulation, error) {
	stored := &domain.StoredSimulation{
		CompanyID: companyID,
		Result:    *result,
	}
	if err := repo.SaveSimulation(ctx, tenantID, stored); err != nil {
		return nil, fmt.Errorf("save simulation: %w", err)
	}
	return stored, nil
}

// Saved holds the rows written by Persist.
type Saved struct {
	Report     *domain.StoredRiskReport
	Forecasts  []domain.StoredForecast
	Simulation *domain.StoredSimulation
}

// Persist stores the risk report, forecasts and simulation of an analysis.
// Anomalies are not persisted.
func Persist(ctx context.Context, repo domain.Repository, tenantID string, a *domain.Analysis) (*Saved, error) {
	report, err := SaveRisk(ctx, repo, tenantID, a.CompanyID, a.Risk)
	if err != nil {
		return nil, err
	}
	forecasts, err := SaveForecast(ctx, repo, tenantID, a.CompanyID, a.Forecast)
	if err != nil {
		return nil, err
	}
	sim, err := SaveSimulation(ctx, repo, tenantID, a.CompanyID, a.Simulation)
	if err != nil {
		return nil, err
	}
	return &Saved{Report: report, Forecasts: forecasts, Simulation: sim}, nil
}
