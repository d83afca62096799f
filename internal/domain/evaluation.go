package domain

import (
	"encoding/json"
	"time"
)

// ComponentName identifies one of the weighted risk components.
type ComponentName string

// The five risk components, in report order.
const (
	ComponentCashflowVolatility  ComponentName = "cashflow_volatility"
	ComponentBurnRate            ComponentName = "burn_rate"
	ComponentDebtorAging         ComponentName = "debtor_aging"
	ComponentVendorConcentration ComponentName = "vendor_concentration"
	ComponentSeasonality         ComponentName = "seasonality"
)

// RiskComponent is a single risk dimension scored in [0,100].
type RiskComponent struct {
	Name        ComponentName `json:"name"`
	Score       float64       `json:"score"`
	Description string        `json:"description"`
}

// ToMap serializes the component for transport.
func (c RiskComponent) ToMap() map[string]any {
	return map[string]any{
		"name":        string(c.Name),
		"score":       c.Score,
		"description": c.Description,
	}
}

// ReportPayload is the persisted projection of a risk report and the
// structured input handed to the narrator.
type ReportPayload struct {
	Metadata            map[string]any   `json:"metadata"`
	Rules               []RuleEvaluation `json:"rules"`
	SurvivalProbability float64          `json:"survival_probability"`
	Components          []RiskComponent  `json:"components,omitempty"`
}

// ToMap serializes the payload. Components are included only when set,
// which is the case for the narrator input and not for persistence.
func (p ReportPayload) ToMap() map[string]any {
	rules := make([]map[string]any, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = r.ToMap()
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	out := map[string]any{
		"metadata":             metadata,
		"rules":                rules,
		"survival_probability": p.SurvivalProbability,
	}
	if len(p.Components) > 0 {
		components := make([]map[string]any, len(p.Components))
		for i, c := range p.Components {
			components[i] = c.ToMap()
		}
		out["components"] = components
	}
	return out
}

// RiskReport aggregates components, rules and the survival estimate.
type RiskReport struct {
	Components          []RiskComponent    `json:"components"`
	Rules               []RuleEvaluation   `json:"rules"`
	SurvivalProbability float64            `json:"survival_probability"`
	Heatmap             map[string]float64 `json:"heatmap"`
	Summary             string             `json:"summary"`
	Payload             ReportPayload      `json:"report_payload"`
}

// ForecastHorizon is the projection for one horizon length.
type ForecastHorizon struct {
	HorizonDays       int     `json:"horizon_days"`
	RevenueProjection float64 `json:"revenue_projection"`
	ExpenseProjection float64 `json:"expense_projection"`
	RunwayDays        int     `json:"runway_days"`
}

// ForecastMetadata describes the fitted model.
type ForecastMetadata struct {
	Model          string `json:"model"`
	HistoricPoints int    `json:"historic_points"`
}

// ForecastResult holds one projection per requested horizon, in request order.
type ForecastResult struct {
	Horizons  []ForecastHorizon `json:"horizons"`
	ModelUsed string            `json:"model_used"`
	Metadata  ForecastMetadata  `json:"metadata"`
}

// ScenarioMeans holds the mean multiplier drawn for each stress factor.
type ScenarioMeans struct {
	SalesDrop          float64 `json:"sales_drop"`
	ExpenseSpike       float64 `json:"expense_spike"`
	DebtorDelay        float64 `json:"debtor_delay"`
	SupplierDisruption float64 `json:"supplier_disruption"`
	PayrollIncrease    float64 `json:"payroll_increase"`
}

// Stress test labels.
const (
	StressSignificant = "Significant"
	StressModerate    = "Moderate"
)

// SimulationSummary is the qualitative view of a simulation.
type SimulationSummary struct {
	InsolvencyProbability float64 `json:"insolvency_probability"`
	StressTest            string  `json:"stress_test"`
}

// SimulationResult is the outcome of a Monte Carlo stress test.
type SimulationResult struct {
	InsolvencyProbability float64           `json:"insolvency_probability"`
	Iterations            int               `json:"iterations"`
	Seed                  uint64            `json:"seed"`
	Scenarios             ScenarioMeans     `json:"scenarios"`
	Summary               SimulationSummary `json:"summary"`
}

// AnomalyFlag identifies one flagged transaction.
type AnomalyFlag struct {
	UniqueID string  `json:"unique_id"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// NoDataMessage is reported when anomaly detection receives an empty series.
const NoDataMessage = "No data supplied"

// AnomalySummary holds the four signal booleans, or a message when there
// was nothing to analyze.
type AnomalySummary struct {
	Message         string `json:"message,omitempty"`
	SpendingSpikes  bool   `json:"spending_spikes"`
	DuplicateVendor bool   `json:"duplicate_vendor"`
	CashflowBreak   bool   `json:"cashflow_break"`
	CategoryDrift   bool   `json:"category_drift"`
}

// ToMap serializes the summary. A message-only summary carries no booleans.
func (s AnomalySummary) ToMap() map[string]any {
	if s.Message != "" {
		return map[string]any{"message": s.Message}
	}
	return map[string]any{
		"spending_spikes":  s.SpendingSpikes,
		"duplicate_vendor": s.DuplicateVendor,
		"cashflow_break":   s.CashflowBreak,
		"category_drift":   s.CategoryDrift,
	}
}

// MarshalJSON emits the same shape as ToMap.
func (s AnomalySummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToMap())
}

// AnomalyResult lists flagged transactions and the signal summary.
type AnomalyResult struct {
	Flags   []AnomalyFlag  `json:"flags"`
	Summary AnomalySummary `json:"summary"`
}

// Analysis bundles every artifact computed for one series.
type Analysis struct {
	CompanyID   string            `json:"company_id,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Risk        *RiskReport       `json:"risk"`
	Forecast    *ForecastResult   `json:"forecast"`
	Simulation  *SimulationResult `json:"simulation"`
	Anomalies   *AnomalyResult    `json:"anomalies"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// StoredRiskReport is a persisted risk report.
type StoredRiskReport struct {
	ID                  string             `json:"id"`
	TenantID            string             `json:"-"`
	CompanyID           string             `json:"company_id"`
	Scores              map[string]float64 `json:"scores"`
	SurvivalProbability float64            `json:"survival_probability"`
	Summary             string             `json:"summary"`
	Payload             ReportPayload      `json:"report_payload"`
	CreatedAt           time.Time          `json:"created_at"`
}

// StoredForecast is one persisted forecast horizon.
type StoredForecast struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"-"`
	CompanyID string          `json:"company_id"`
	ModelUsed string          `json:"model_used"`
	Horizon   ForecastHorizon `json:"horizon"`
	CreatedAt time.Time       `json:"created_at"`
}

// StoredSimulation is a persisted simulation run.
type StoredSimulation struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"-"`
	CompanyID string           `json:"company_id"`
	Result    SimulationResult `json:"result"`
	CreatedAt time.Time        `json:"created_at"`
}
