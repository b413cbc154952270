package guardrails

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

var tracer = otel.Tracer("guardrail-engine")

const (
	defaultMaxConcurrency = 8
	defaultJudgeTimeout   = 10 * time.Second
)

// Engine evaluates guardrail definitions against one step context.
// It holds no per-call state and is safe for concurrent use.
type Engine struct {
	judge          contracts.Judge
	detector       contracts.DriftDetector
	maxConcurrency int
	judgeTimeout   time.Duration
	warnProceed    bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithJudge sets the capability backing llm_judge conditions.
func WithJudge(j contracts.Judge) EngineOption {
	return func(e *Engine) { e.judge = j }
}

// WithDriftDetector replaces the default ThresholdDetector.
func WithDriftDetector(d contracts.DriftDetector) EngineOption {
	return func(e *Engine) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithMaxConcurrency caps how many guardrails are evaluated at once.
func WithMaxConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithJudgeTimeout sets the per-call llm_judge timeout. Zero disables it.
func WithJudgeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.judgeTimeout = d }
}

// WithWarnAllowProceed sets the decision of warn actions that leave
// allow_proceed unset.
func WithWarnAllowProceed(allow bool) EngineOption {
	return func(e *Engine) { e.warnProceed = allow }
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		detector:       ThresholdDetector{},
		maxConcurrency: defaultMaxConcurrency,
		judgeTimeout:   defaultJudgeTimeout,
		warnProceed:    true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs every guardrail against the step and folds the outcomes into
// one result. Guardrails are evaluated concurrently and reported sorted by
// id. A malformed guardrail or a failed judge call only errors its own
// outcome. If ctx is cancelled the partial work is discarded and ctx's
// error is returned.
func (e *Engine) Evaluate(ctx context.Context, ec models.EvaluationContext, defs []models.GuardrailDefinition) (*models.EvaluationResult, error) {
	start := time.Now()

	if !ec.ProcessType.IsValid() {
		return nil, fmt.Errorf("%w: process type %q", ErrInvalidStep, ec.ProcessType)
	}
	if !ec.Timing.IsValid() {
		return nil, fmt.Errorf("%w: timing %q", ErrInvalidStep, ec.Timing)
	}

	ctx, span := tracer.Start(ctx, "guardrails.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("guardrails.agent_id", ec.AgentID),
		attribute.String("guardrails.process_type", string(ec.ProcessType)),
		attribute.String("guardrails.timing", string(ec.Timing)),
		attribute.Int("guardrails.count", len(defs)),
	)

	doc, err := contextDocument(ec.RequestContext)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: request context: %v", ErrInvalidStep, err)
	}

	env := &evalEnv{
		ec:           &ec,
		doc:          doc,
		judge:        e.judge,
		judgeTimeout: e.judgeTimeout,
		detector:     e.detector,
		warnProceed:  e.warnProceed,
	}

	sorted := make([]models.GuardrailDefinition, len(defs))
	copy(sorted, defs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	outcomes := make([]models.GuardrailOutcome, len(sorted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(max(len(sorted), 1), e.maxConcurrency))
	for i := range sorted {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = e.evaluateOne(gctx, env, &sorted[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := &models.EvaluationResult{
		RequestID:     ec.RequestID,
		AgentID:       ec.AgentID,
		ProcessType:   ec.ProcessType,
		ProcessName:   ec.ProcessName,
		Timing:        ec.Timing,
		ShouldProceed: true,
		Guardrails:    outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.Ignored:
			result.Metadata.IgnoredCount++
			continue
		case o.Error:
			result.Metadata.ErroredCount++
		case o.Triggered:
			result.Metadata.TriggeredCount++
			if blocks(o) {
				result.ShouldProceed = false
			}
		}
		result.Metadata.EvaluatedCount++
	}
	result.Decision = models.DecisionProceed
	if !result.ShouldProceed {
		result.Decision = models.DecisionBlocked
	}
	result.Metadata.EvaluationTimeMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Bool("guardrails.should_proceed", result.ShouldProceed),
		attribute.Int("guardrails.triggered", result.Metadata.TriggeredCount),
		attribute.Int("guardrails.errored", result.Metadata.ErroredCount),
	)
	return result, nil
}

// blocks reports whether a triggered outcome stops the step.
func blocks(o models.GuardrailOutcome) bool {
	for _, a := range o.Actions {
		switch a.ActionType {
		case models.ActionBlock, models.ActionWarn:
			if !a.Result.Proceed {
				return true
			}
		}
	}
	return false
}

func (e *Engine) evaluateOne(ctx context.Context, env *evalEnv, def *models.GuardrailDefinition) models.GuardrailOutcome {
	ctx, span := tracer.Start(ctx, "guardrails.guardrail")
	defer span.End()
	span.SetAttributes(attribute.String("guardrails.id", def.ID))

	out := models.GuardrailOutcome{
		GuardrailID:       def.ID,
		GuardrailName:     def.Name,
		MatchedConditions: []int{},
		Actions:           []models.ActionResult{},
	}

	if reason := ignoreReason(def, env.ec); reason != "" {
		out.Status = models.OutcomeIgnored
		out.Ignored = true
		out.IgnoreReason = reason
		span.SetAttributes(attribute.String("guardrails.status", string(out.Status)))
		return out
	}

	fail := func(err error) models.GuardrailOutcome {
		out.Status = models.OutcomeErrored
		out.Error = true
		out.ErrorMessage = err.Error()
		span.SetStatus(codes.Error, err.Error())

		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			log.Debug().Str("guardrail", def.ID).Err(err).Msg("Guardrail misconfigured")
		}
		return out
	}

	cg, err := compileGuardrail(def)
	if err != nil {
		return fail(err)
	}

	trig, err := cg.match(ctx, env)
	out.MatchedConditions = trig.matchedIdx
	out.Conditions = trig.conditions
	out.Drift = trig.drift
	if err != nil {
		return fail(err)
	}
	if !trig.matched {
		out.Status = models.OutcomePassed
		span.SetAttributes(attribute.String("guardrails.status", string(out.Status)))
		return out
	}

	actions, err := cg.execute(env)
	if err != nil {
		return fail(err)
	}
	out.Status = models.OutcomeTriggered
	out.Triggered = true
	out.Actions = actions
	span.SetAttributes(attribute.String("guardrails.status", string(out.Status)))
	return out
}
