// Package analytics runs the risk, forecast, simulation and anomaly engines
// over one canonical series, with caching, metrics and tracing around them.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/forecast"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/simulation"
)

// Analysis kinds, used for cache keys, metric labels and span names.
const (
	KindRisk       = "risk"
	KindForecast   = "forecast"
	KindSimulation = "simulation"
	KindAnomalies  = "anomalies"
)

var tracer = otel.Tracer("kestrel-analytics")

// Service runs analyses. It is safe for concurrent use; the series it is
// handed are never modified.
type Service struct {
	scorer     *risk.Scorer
	detector   *anomaly.Detector
	simulator  *simulation.Engine
	cache      domain.Cache
	cacheTTL   time.Duration
	horizons   []int
	iterations int
	maxHorizon int
	now        func() time.Time
}

// NewService wires the engines. A nil cache disables caching.
func NewService(cfg domain.AnalyticsConfig, scorer *risk.Scorer, c domain.Cache) *Service {
	horizons := cfg.Horizons
	if len(horizons) == 0 {
		horizons = forecast.DefaultHorizons
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = simulation.DefaultIterations
	}

	return &Service{
		scorer:     scorer,
		detector:   anomaly.NewDetector(cfg.Seed),
		simulator:  simulation.NewEngine(cfg),
		cache:      c,
		cacheTTL:   cfg.CacheTTL,
		horizons:   horizons,
		iterations: iterations,
		maxHorizon: cfg.HorizonLimit(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IterationLimit is the largest iteration count Simulate accepts.
func (s *Service) IterationLimit() int { return s.simulator.MaxIterations }

// HorizonLimit is the longest forecast horizon, in days, callers may ask for.
func (s *Service) HorizonLimit() int { return s.maxHorizon }

// Fingerprint identifies a series by content. Equal series hash equal.
func Fingerprint(series domain.Series) string {
	h := sha256.New()
	for _, tx := range series {
		fmt.Fprintf(h, "%s|%s|%s|%s|%s\n",
			tx.UniqueID,
			tx.TransactionDate.Format("2006-01-02"),
			tx.Amount.String(),
			tx.Category,
			tx.Currency,
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReportMetadata is the company context carried into a risk report.
func ReportMetadata(companyID string, series domain.Series) map[string]any {
	return map[string]any{"company_id": companyID, "transactions": len(series)}
}

// Risk scores the series. metadata is carried into the report payload.
// Cached reports are keyed by the overdue reference day as well, so a
// wall-clock rule outcome is never served past midnight UTC.
func (s *Service) Risk(ctx context.Context, tenantID, companyID string, series domain.Series, metadata map[string]any) (*domain.RiskReport, error) {
	day := s.scorer.Reference(series).UTC().Format("2006-01-02")
	key := cache.AnalysisKey(KindRisk, companyID+":"+Fingerprint(series)+":"+day)
	return run(ctx, s, tenantID, KindRisk, key, func(ctx context.Context) (*domain.RiskReport, error) {
		return s.scorer.Generate(ctx, series, metadata, nil), nil
	})
}

// Forecast projects the series over horizons, or the configured defaults.
func (s *Service) Forecast(ctx context.Context, tenantID string, series domain.Series, horizons []int) (*domain.ForecastResult, error) {
	if len(horizons) == 0 {
		horizons = s.horizons
	}
	key := cache.AnalysisKey(KindForecast, Fingerprint(series)+":"+joinInts(horizons))
	return run(ctx, s, tenantID, KindForecast, key, func(context.Context) (*domain.ForecastResult, error) {
		return forecast.Forecast(series, horizons), nil
	})
}

// Simulate runs the Monte Carlo stress test. Non-positive iterations use
// the configured count.
func (s *Service) Simulate(ctx context.Context, tenantID string, series domain.Series, iterations int) (*domain.SimulationResult, error) {
	if iterations <= 0 {
		iterations = s.iterations
	}
	key := cache.AnalysisKey(KindSimulation, fmt.Sprintf("%s:%d:%d:%d",
		Fingerprint(series), iterations, s.simulator.Seed, s.simulator.BatchSize))
	return run(ctx, s, tenantID, KindSimulation, key, func(ctx context.Context) (*domain.SimulationResult, error) {
		return s.simulator.Run(ctx, series, iterations)
	})
}

// Anomalies flags unusual transactions.
func (s *Service) Anomalies(ctx context.Context, tenantID string, series domain.Series) (*domain.AnomalyResult, error) {
	key := cache.AnalysisKey(KindAnomalies, Fingerprint(series))
	return run(ctx, s, tenantID, KindAnomalies, key, func(context.Context) (*domain.AnomalyResult, error) {
		return s.detector.Detect(series), nil
	})
}

// Analyze runs all four analyses concurrently. The first failure cancels
// the rest.
func (s *Service) Analyze(ctx context.Context, tenantID, companyID string, series domain.Series) (*domain.Analysis, error) {
	ctx, span := tracer.Start(ctx, "analytics.analyze", trace.WithAttributes(
		attribute.String("company.id", companyID),
		attribute.Int("series.length", len(series)),
	))
	defer span.End()

	out := &domain.Analysis{
		CompanyID:   companyID,
		Fingerprint: Fingerprint(series),
	}
	metadata := ReportMetadata(companyID, series)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Risk, err = s.Risk(gctx, tenantID, companyID, series, metadata)
		return err
	})
	g.Go(func() (err error) {
		out.Forecast, err = s.Forecast(gctx, tenantID, series, nil)
		return err
	})
	g.Go(func() (err error) {
		out.Simulation, err = s.Simulate(gctx, tenantID, series, 0)
		return err
	})
	g.Go(func() (err error) {
		out.Anomalies, err = s.Anomalies(gctx, tenantID, series)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out.GeneratedAt = s.now()
	return out, nil
}

// run wraps one analysis with a span, latency metrics and the cache.
// Cache failures are logged and never fail the analysis.
func run[T any](ctx context.Context, s *Service, tenantID, kind, key string, compute func(context.Context) (*T, error)) (*T, error) {
	ctx, span := tracer.Start(ctx, "analytics."+kind)
	defer span.End()

	useCache := s.cache != nil && tenantID != ""
	if useCache {
		cached, found, err := cache.GetJSON[T](ctx, s.cache, tenantID, key)
		switch {
		case err != nil:
			slog.Warn("analysis cache read failed", "kind", kind, "tenant_id", tenantID, "error", err)
		case found:
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &cached, nil
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	result, err := compute(ctx)
	metrics.AnalysisLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AnalysisErrors.WithLabelValues(kind).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s analysis: %w", kind, err)
	}

	if useCache {
		if err := cache.SetJSON(ctx, s.cache, tenantID, key, result, s.cacheTTL); err != nil {
			slog.Warn("analysis cache write failed", "kind", kind, "tenant_id", tenantID, "error", err)
		}
	}
	return result, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
