package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/preprocess"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	service *analytics.Service
	version string
}

// NewHandler creates a new API handler. cache and bus may be nil.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, service *analytics.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		service: service,
		version: version,
	}
}

// CreateCompany handles POST /companies.
func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.CompanyRequest
	if errs := decodeAndValidate(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}

	company := &domain.Company{Name: req.Name, Industry: req.Industry}
	if err := h.repo.SaveCompany(ctx, tenantID, company); err != nil {
		slog.Error("failed to save company", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save company")
		return
	}

	writeJSON(w, http.StatusCreated, company)
}

// GetCompany handles GET /companies/{id}.
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	company, ok := h.company(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, company)
}

// IngestResponse is the response for POST /ingest/transactions.
type IngestResponse struct {
	CompanyID    string               `json:"company_id"`
	Inserted     int                  `json:"inserted"`
	Skipped      int                  `json:"skipped"`
	Transactions []domain.Transaction `json:"transactions"`
}

// Ingest handles POST /ingest/transactions. Records repeating a unique_id
// within the request or one already stored are skipped.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.IngestRequest
	if errs := decodeAndValidate(r, &req); errs != nil {
		writeValidation(w, errs)
		return
	}
	if _, ok := h.company(w, r, req.CompanyID); !ok {
		return
	}

	raw := make([]domain.RawRecord, len(req.Records))
	for i, rec := range req.Records {
		raw[i] = rec.Raw()
	}
	if err := preprocess.ValidateAmounts(raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	series, err := preprocess.Preprocess(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	series = preprocess.Dedupe(series)

	ids := make([]string, len(series))
	for i, tx := range series {
		ids[i] = tx.UniqueID
	}
	existing, err := h.repo.ExistingTransactionIDs(ctx, tenantID, ids)
	if err != nil {
		slog.Error("failed to check existing transactions", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store transactions")
		return
	}

	fresh := make([]domain.Transaction, 0, len(series))
	for _, tx := range series {
		if existing[tx.UniqueID] {
			continue
		}
		tx.TenantID = tenantID
		tx.CompanyID = req.CompanyID
		fresh = append(fresh, tx)
	}

	if err := h.repo.SaveTransactions(ctx, tenantID, fresh); err != nil {
		slog.Error("failed to save transactions", "tenant_id", tenantID, "company_id", req.CompanyID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store transactions")
		return
	}
	metrics.TransactionsIngested.WithLabelValues(tenantID).Add(float64(len(fresh)))

	if len(fresh) > 0 && h.bus != nil {
		event := domain.IngestedEvent{
			CompanyID: req.CompanyID,
			TraceID:   GetTraceID(ctx),
			UniqueIDs: make([]string, len(fresh)),
		}
		for i, tx := range fresh {
			event.UniqueIDs[i] = tx.UniqueID
		}
		if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicTransactionsIngested, event); err != nil {
			slog.Error("failed to publish ingest event", "company_id", req.CompanyID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		CompanyID:    req.CompanyID,
		Inserted:     len(fresh),
		Skipped:      len(series) - len(fresh),
		Transactions: fresh,
	})
}

// RiskReportResponse is the response for POST /risk/report/{companyID}.
type RiskReportResponse struct {
	ID                  string                  `json:"id"`
	CompanyID           string                  `json:"company_id"`
	Scores              map[string]float64      `json:"scores"`
	Components          []domain.RiskComponent  `json:"components"`
	Rules               []domain.RuleEvaluation `json:"rules"`
	SurvivalProbability float64                 `json:"survival_probability"`
	Summary             string                  `json:"summary"`
	Payload             domain.ReportPayload    `json:"report_payload"`
	CreatedAt           time.Time               `json:"created_at"`
}

// RiskReport handles POST /risk/report/{companyID}.
func (h *Handler) RiskReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	companyID, series, ok := h.series(w, r)
	if !ok {
		return
	}

	report, err := h.service.Risk(ctx, tenantID, companyID, series, analytics.ReportMetadata(companyID, series))
	if err != nil {
		h.analysisFailed(w, "risk", companyID, err)
		return
	}
	stored, err := analytics.SaveRisk(ctx, h.repo, tenantID, companyID, report)
	if err != nil {
		h.analysisFailed(w, "risk", companyID, err)
		return
	}

	writeJSON(w, http.StatusOK, RiskReportResponse{
		ID:                  stored.ID,
		CompanyID:           companyID,
		Scores:              stored.Scores,
		Components:          report.Components,
		Rules:               report.Rules,
		SurvivalProbability: stored.SurvivalProbability,
		Summary:             stored.Summary,
		Payload:             stored.Payload,
		CreatedAt:           stored.CreatedAt,
	})
}

// ForecastResponse is the response for POST /forecast/{companyID}.
type ForecastResponse struct {
	CompanyID string                  `json:"company_id"`
	ModelUsed string                  `json:"model_used"`
	Metadata  domain.ForecastMetadata `json:"metadata"`
	Forecasts []domain.StoredForecast `json:"forecasts"`
}

// Forecast handles POST /forecast/{companyID}?horizons=30,60,90.
func (h *Handler) Forecast(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	horizons, err := parseHorizons(r.URL.Query().Get("horizons"), h.service.HorizonLimit())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	companyID, series, ok := h.series(w, r)
	if !ok {
		return
	}

	result, err := h.service.Forecast(ctx, tenantID, series, horizons)
	if err != nil {
		h.analysisFailed(w, "forecast", companyID, err)
		return
	}
	rows, err := analytics.SaveForecast(ctx, h.repo, tenantID, companyID, result)
	if err != nil {
		h.analysisFailed(w, "forecast", companyID, err)
		return
	}

	writeJSON(w, http.StatusOK, ForecastResponse{
		CompanyID: companyID,
		ModelUsed: result.ModelUsed,
		Metadata:  result.Metadata,
		Forecasts: rows,
	})
}

// Simulate handles POST /simulate/{companyID}?iterations=N.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	iterations := 0
	if v := r.URL.Query().Get("iterations"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > h.service.IterationLimit() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid iterations %q", v))
			return
		}
		iterations = n
	}

	companyID, series, ok := h.series(w, r)
	if !ok {
		return
	}

	result, err := h.service.Simulate(ctx, tenantID, series, iterations)
	if err != nil {
		h.analysisFailed(w, "simulation", companyID, err)
		return
	}
	stored, err := analytics.SaveSimulation(ctx, h.repo, tenantID, companyID, result)
	if err != nil {
		h.analysisFailed(w, "simulation", companyID, err)
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

// AnomalyResponse is the response for POST /anomalies/{companyID}.
type AnomalyResponse struct {
	CompanyID   string    `json:"company_id"`
	GeneratedAt time.Time `json:"generated_at"`
	*domain.AnomalyResult
}

// Anomalies handles POST /anomalies/{companyID}. Results are not persisted.
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	companyID, series, ok := h.series(w, r)
	if !ok {
		return
	}

	result, err := h.service.Anomalies(ctx, tenantID, series)
	if err != nil {
		h.analysisFailed(w, "anomalies", companyID, err)
		return
	}

	writeJSON(w, http.StatusOK, AnomalyResponse{
		CompanyID:     companyID,
		GeneratedAt:   time.Now().UTC(),
		AnomalyResult: result,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// company loads a company of the request tenant, writing 404 when absent.
func (h *Handler) company(w http.ResponseWriter, r *http.Request, companyID string) (*domain.Company, bool) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	company, err := h.repo.GetCompany(ctx, tenantID, companyID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "company not found")
		return nil, false
	}
	if err != nil {
		slog.Error("failed to get company", "company_id", companyID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load company")
		return nil, false
	}
	return company, true
}

// series loads the canonical history of the {companyID} path company.
func (h *Handler) series(w http.ResponseWriter, r *http.Request) (string, domain.Series, bool) {
	companyID := chi.URLParam(r, "companyID")
	if _, ok := h.company(w, r, companyID); !ok {
		return "", nil, false
	}

	txs, err := h.repo.ListTransactions(r.Context(), GetTenantID(r.Context()), companyID)
	if err != nil {
		slog.Error("failed to list transactions", "company_id", companyID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load transactions")
		return "", nil, false
	}
	return companyID, preprocess.Canonicalize(txs), true
}

func (h *Handler) analysisFailed(w http.ResponseWriter, kind, companyID string, err error) {
	slog.Error("analysis failed", "analysis", kind, "company_id", companyID, "error", err)
	writeError(w, http.StatusInternalServerError, kind+" analysis failed")
}

// parseHorizons reads a comma separated list of day counts in [1, limit].
// An empty value selects the configured defaults.
func parseHorizons(v string, limit int) ([]int, error) {
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	horizons := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n <= 0 || n > limit {
			return nil, fmt.Errorf("invalid horizon %q", p)
		}
		horizons = append(horizons, n)
	}
	return horizons, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeValidation(w http.ResponseWriter, errs []ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error":   "validation failed",
		"details": errs,
	})
}
