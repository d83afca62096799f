package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var _ domain.Repository = (*SQLRepository)(nil)

// SaveRiskReport stores a scored report. ID and CreatedAt are assigned when unset.
func (r *SQLRepository) SaveRiskReport(ctx context.Context, tenantID string, report *domain.StoredRiskReport) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if report.ID == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = r.now()
	}
	report.TenantID = tenantID

	scores, err := json.Marshal(report.Scores)
	if err != nil {
		return fmt.Errorf("encode scores: %w", err)
	}
	payload, err := json.Marshal(report.Payload)
	if err != nil {
		return fmt.Errorf("encode report payload: %w", err)
	}

	query := `
		INSERT INTO risk_reports (
			id, tenant_id, company_id, scores, survival_probability,
			summary, report_payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, report.CompanyID, string(scores), report.SurvivalProbability,
		report.Summary, string(payload), report.CreatedAt,
	)
	return err
}

// GetRiskReport returns a stored report by ID.
func (r *SQLRepository) GetRiskReport(ctx context.Context, tenantID string, reportID string) (*domain.StoredRiskReport, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, company_id, scores, survival_probability,
			   summary, report_payload, created_at
		FROM risk_reports
		WHERE tenant_id = ? AND id = ?
	`

	var report domain.StoredRiskReport
	var scores, payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(
		&report.ID, &report.TenantID, &report.CompanyID, &scores, &report.SurvivalProbability,
		&report.Summary, &payload, &report.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scores), &report.Scores); err != nil {
		return nil, fmt.Errorf("failed to parse scores for report %s: %w", report.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &report.Payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload for report %s: %w", report.ID, err)
	}
	return &report, nil
}

// SaveForecasts stores one row per horizon. Rows keep their slice order.
func (r *SQLRepository) SaveForecasts(ctx context.Context, tenantID string, forecasts []domain.StoredForecast) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if len(forecasts) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(`
		INSERT INTO forecasts (
			id, tenant_id, company_id, model_used, horizon_days,
			revenue_projection, expense_projection, runway_days, position, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := r.now()
	for i := range forecasts {
		f := &forecasts[i]
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		f.TenantID = tenantID

		if _, err := stmt.ExecContext(ctx,
			f.ID, tenantID, f.CompanyID, f.ModelUsed, f.Horizon.HorizonDays,
			f.Horizon.RevenueProjection, f.Horizon.ExpenseProjection, f.Horizon.RunwayDays,
			i, f.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert forecast %d days: %w", f.Horizon.HorizonDays, err)
		}
	}
	return dbTx.Commit()
}

// ListForecasts returns a company's forecasts, newest batch first.
func (r *SQLRepository) ListForecasts(ctx context.Context, tenantID string, companyID string) ([]domain.StoredForecast, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, company_id, model_used, horizon_days,
			   revenue_projection, expense_projection, runway_days, created_at
		FROM forecasts
		WHERE tenant_id = ? AND company_id = ?
		ORDER BY created_at DESC, position
	`

	var out []domain.StoredForecast
	err := r.collect(ctx, query, []any{tenantID, companyID}, func(rows *sql.Rows) error {
		var f domain.StoredForecast
		if err := rows.Scan(
			&f.ID, &f.TenantID, &f.CompanyID, &f.ModelUsed, &f.Horizon.HorizonDays,
			&f.Horizon.RevenueProjection, &f.Horizon.ExpenseProjection, &f.Horizon.RunwayDays,
			&f.CreatedAt,
		); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}

// SaveSimulation stores a simulation result.
func (r *SQLRepository) SaveSimulation(ctx context.Context, tenantID string, sim *domain.StoredSimulation) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if sim.ID == "" {
		sim.ID = uuid.New().String()
	}
	if sim.CreatedAt.IsZero() {
		sim.CreatedAt = r.now()
	}
	sim.TenantID = tenantID

	result, err := json.Marshal(sim.Result)
	if err != nil {
		return fmt.Errorf("encode simulation result: %w", err)
	}

	query := `
		INSERT INTO simulations (id, tenant_id, company_id, insolvency_probability, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		sim.ID, tenantID, sim.CompanyID, sim.Result.InsolvencyProbability, string(result), sim.CreatedAt,
	)
	return err
}

// GetSimulation returns a stored simulation by ID.
func (r *SQLRepository) GetSimulation(ctx context.Context, tenantID string, simID string) (*domain.StoredSimulation, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, company_id, result, created_at
		FROM simulations
		WHERE tenant_id = ? AND id = ?
	`

	var sim domain.StoredSimulation
	var result string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, simID).Scan(
		&sim.ID, &sim.TenantID, &sim.CompanyID, &result, &sim.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(result), &sim.Result); err != nil {
		return nil, fmt.Errorf("failed to parse simulation %s: %w", sim.ID, err)
	}
	return &sim, nil
}
