// Package worker recomputes company analyses when new transactions arrive.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/preprocess"
)

// Worker consumes ingest events from the EventBus, reruns every analysis
// for the affected company and persists the results.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	service    *analytics.Service
	thresholds Thresholds

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Thresholds decide when a completed analysis also raises an alert.
type Thresholds struct {
	SurvivalBelow   float64
	InsolvencyAbove float64
}

// ThresholdsFrom reads the alert thresholds from the analytics config.
func ThresholdsFrom(cfg domain.AnalyticsConfig) Thresholds {
	return Thresholds{
		SurvivalBelow:   cfg.AlertSurvivalBelow,
		InsolvencyAbove: cfg.AlertInsolvencyAbove,
	}
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty subscribes to all tenants.
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(b domain.EventBus, repo domain.Repository, service *analytics.Service, thresholds Thresholds) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        b,
		repo:       repo,
		service:    service,
		thresholds: thresholds,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to ingest events for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AllTenants}
	}

	started := 0
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionsIngested, w.handleIngested)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		started++
	}
	if started == 0 {
		return fmt.Errorf("worker subscribed to no tenants")
	}

	slog.Info("workers started",
		"tenant_count", started,
		"topic", domain.TopicTransactionsIngested,
	)
	return nil
}

func (w *Worker) handleIngested(ctx context.Context, msg *domain.Message) error {
	event, err := bus.Decode[domain.IngestedEvent](msg)
	if err != nil {
		slog.Error("failed to parse ingest event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	_, err = w.Process(ctx, msg.TenantID, event.CompanyID)
	return err
}

// Process analyzes the stored history of a company, persists the risk
// report, forecasts and simulation, then publishes the completion event and,
// when a threshold is crossed, an alert.
func (w *Worker) Process(ctx context.Context, tenantID, companyID string) (*domain.Analysis, error) {
	start := time.Now()

	txs, err := w.repo.ListTransactions(ctx, tenantID, companyID)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", companyID, err)
	}
	series := preprocess.Canonicalize(txs)

	analysis, err := w.service.Analyze(ctx, tenantID, companyID, series)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", companyID, err)
	}

	saved, err := analytics.Persist(ctx, w.repo, tenantID, analysis)
	if err != nil {
		return nil, err
	}

	survival := analysis.Risk.SurvivalProbability
	insolvency := analysis.Simulation.InsolvencyProbability
	metrics.SurvivalProbability.WithLabelValues(tenantID, companyID).Set(survival)
	metrics.InsolvencyProbability.WithLabelValues(tenantID, companyID).Set(insolvency)

	completed := domain.AnalysisCompletedEvent{
		CompanyID:             companyID,
		ReportID:              saved.Report.ID,
		SimulationID:          saved.Simulation.ID,
		SurvivalProbability:   survival,
		InsolvencyProbability: insolvency,
		RulesTriggered:        domain.TriggeredCount(analysis.Risk.Rules),
		AnomalyFlags:          len(analysis.Anomalies.Flags),
	}
	if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicAnalysisCompleted, completed); err != nil {
		slog.Error("failed to publish analysis",
			"company_id", companyID,
			"error", err,
		)
	}

	if reasons := w.thresholds.Reasons(analysis); len(reasons) > 0 {
		alert := domain.AlertEvent{CompanyID: companyID, Reasons: reasons}
		if err := bus.PublishJSON(ctx, w.bus, tenantID, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"company_id", companyID,
				"error", err,
			)
		}
	}

	slog.Info("analysis processed",
		"company_id", companyID,
		"tenant_id", tenantID,
		"transactions", len(series),
		"survival_probability", survival,
		"insolvency_probability", insolvency,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return analysis, nil
}

// Reasons lists the thresholds an analysis crosses. A zero threshold is
// disabled.
func (t Thresholds) Reasons(a *domain.Analysis) []string {
	var reasons []string
	if t.SurvivalBelow > 0 && a.Risk.SurvivalProbability < t.SurvivalBelow {
		reasons = append(reasons, fmt.Sprintf("survival probability %.1f below %.1f",
			a.Risk.SurvivalProbability, t.SurvivalBelow))
	}
	if t.InsolvencyAbove > 0 && a.Simulation.InsolvencyProbability > t.InsolvencyAbove {
		reasons = append(reasons, fmt.Sprintf("insolvency probability %.3f above %.3f",
			a.Simulation.InsolvencyProbability, t.InsolvencyAbove))
	}
	return reasons
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
