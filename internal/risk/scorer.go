// Package risk aggregates component scores and rule outcomes into a risk report.
package risk

import (
	"context"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/narrator"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// RulePenalty is subtracted from survival for every triggered rule.
const RulePenalty = 10.0

// defaultComponentPenalty stands in for the mean score when no components exist.
const defaultComponentPenalty = 10.0

// Scorer builds risk reports. It never fails; degenerate input maps to
// documented defaults.
type Scorer struct {
	engine   *rules.Engine
	narrator *narrator.Narrator
}

// NewScorer creates a scorer. A nil narrator uses the fallback narrative.
func NewScorer(engine *rules.Engine, n *narrator.Narrator) *Scorer {
	return &Scorer{
		engine:   engine,
		narrator: n,
	}
}

// Reference is the instant debtor_overdue measures from for series. Under
// the wall_clock reference it moves with time, so reports depend on it.
func (s *Scorer) Reference(series domain.Series) time.Time {
	return s.engine.Reference(series)
}

// Generate scores series and asks n for a summary, or the scorer's own
// narrator when n is nil. metadata is carried into the payload untouched.
func (s *Scorer) Generate(ctx context.Context, series domain.Series, metadata map[string]any, n *narrator.Narrator) *domain.RiskReport {
	if n == nil {
		n = s.narrator
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	components := Components(series)
	evaluations := s.engine.Evaluate(series)
	survival := SurvivalProbability(components, evaluations)

	heatmap := make(map[string]float64, len(components))
	for _, c := range components {
		heatmap[string(c.Name)] = c.Score
	}

	payload := domain.ReportPayload{
		Metadata:            metadata,
		Rules:               evaluations,
		SurvivalProbability: survival,
	}

	narrated := payload
	narrated.Components = components

	return &domain.RiskReport{
		Components:          components,
		Rules:               evaluations,
		SurvivalProbability: survival,
		Heatmap:             heatmap,
		Summary:             n.Explain(ctx, narrated),
		Payload:             payload,
	}
}

// SurvivalProbability is 100 minus the mean component score minus a fixed
// penalty per triggered rule, clipped to [0,100].
func SurvivalProbability(components []domain.RiskComponent, evaluations []domain.RuleEvaluation) float64 {
	penalty := defaultComponentPenalty
	if len(components) > 0 {
		sum := 0.0
		for _, c := range components {
			sum += c.Score
		}
		penalty = sum / float64(len(components))
	}

	survival := 100 - penalty - RulePenalty*float64(domain.TriggeredCount(evaluations))
	return math.Max(0, math.Min(100, survival))
}
