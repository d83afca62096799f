// Package rules provides the CEL-Go based deterministic rule engine.
package rules

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates threshold rules over series aggregates.
// Programs are compiled once and are safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	env       *cel.Env
	rules     []*CompiledRule
	reference domain.OverdueReference
	now       func() time.Time
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Definition Definition
	Program    cel.Program
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock used by the wall_clock overdue reference.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOverdueReference selects what debtor_overdue measures receivable age against.
func WithOverdueReference(ref domain.OverdueReference) Option {
	return func(e *Engine) { e.reference = ref }
}

// NewEngine creates an engine loaded with the built-in rules.
func NewEngine(opts ...Option) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("total_revenue", cel.DoubleType),
		cel.Variable("total_expense", cel.DoubleType),
		cel.Variable("liquidity_ratio", cel.DoubleType),
		cel.Variable("rent_utilities_ratio", cel.DoubleType),
		cel.Variable("subscription_max_change", cel.DoubleType),
		cel.Variable("margin", cel.DoubleType),
		cel.Variable("overdue_receivables", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:       env,
		reference: domain.OverdueWallClock,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.reference.Valid() {
		return nil, fmt.Errorf("unknown overdue reference %q", e.reference)
	}

	if err := e.Load(BuiltinRules()); err != nil {
		return nil, err
	}
	return e, nil
}

// Load compiles defs and replaces the active rule set. On error the
// previous rule set stays active.
func (e *Engine) Load(defs []Definition) error {
	compiled := make([]*CompiledRule, 0, len(defs))
	for _, def := range defs {
		rule, err := e.compile(def)
		if err != nil {
			return err
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Reference returns the point in time overdue receivables are measured from.
func (e *Engine) Reference(series domain.Series) time.Time {
	if e.reference == domain.OverdueSeries {
		return series.Latest()
	}
	return e.now().UTC()
}

// Evaluate runs every rule in order. An empty series yields no evaluations.
func (e *Engine) Evaluate(series domain.Series) []domain.RuleEvaluation {
	if series.Empty() {
		return []domain.RuleEvaluation{}
	}

	activation := Aggregate(series, e.Reference(series)).activation()

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	results := make([]domain.RuleEvaluation, len(rules))
	for i, rule := range rules {
		results[i] = domain.RuleEvaluation{
			Name:        rule.Definition.Name,
			Triggered:   e.triggered(rule, activation),
			Description: rule.Definition.Description,
		}
	}
	return results
}

func (e *Engine) triggered(rule *CompiledRule, activation map[string]any) bool {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		slog.Warn("rule evaluation failed",
			"rule", rule.Definition.Name,
			"error", err,
		)
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func (e *Engine) compile(def Definition) (*CompiledRule, error) {
	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.Name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", def.Name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.Name, err)
	}

	return &CompiledRule{
		Definition: def,
		Program:    program,
	}, nil
}
