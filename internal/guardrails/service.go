package guardrails

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// FailurePolicy decides the outcome of a step whose guardrails cannot be
// loaded at all.
type FailurePolicy string

const (
	// FailBlock blocks the step (fail closed).
	FailBlock FailurePolicy = "block"
	// FailProceed lets the step proceed with a catalog_error on the result.
	FailProceed FailurePolicy = "proceed"
)

// ParseFailurePolicy parses a policy name. The empty string means FailBlock.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailBlock:
		return FailBlock, nil
	case FailProceed:
		return FailProceed, nil
	default:
		return "", fmt.Errorf("unknown catalog failure policy %q (want block or proceed)", s)
	}
}

// Service wires the engine to its catalog, counters and audit log.
type Service struct {
	engine   *Engine
	catalog  contracts.GuardrailCatalog
	counters contracts.CounterSource
	window   time.Duration
	audit    contracts.AuditSink
	policy   FailurePolicy
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithCounters fills missing tool counters from src over the given window.
func WithCounters(src contracts.CounterSource, window time.Duration) ServiceOption {
	return func(s *Service) {
		s.counters = src
		s.window = window
	}
}

// WithAuditSink records every evaluation to sink.
func WithAuditSink(sink contracts.AuditSink) ServiceOption {
	return func(s *Service) { s.audit = sink }
}

// WithFailurePolicy sets the catalog failure policy.
func WithFailurePolicy(p FailurePolicy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// NewService creates a Service.
func NewService(engine *Engine, catalog contracts.GuardrailCatalog, opts ...ServiceOption) *Service {
	s := &Service{
		engine:  engine,
		catalog: catalog,
		window:  time.Hour,
		policy:  FailBlock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the configured catalog failure policy.
func (s *Service) Policy() FailurePolicy { return s.policy }

// EvaluateStep evaluates the guardrails assigned to ec.AgentID.
//
// When the catalog cannot be read the returned result carries the
// policy-derived decision and catalog_error, and the error is a
// *CatalogError. Any other error means no result was produced.
func (s *Service) EvaluateStep(ctx context.Context, ec models.EvaluationContext) (*models.EvaluationResult, error) {
	if ec.RequestID == "" {
		ec.RequestID = uuid.New().String()
	}
	if ec.ProjectID == "" {
		ec.ProjectID = middleware.GetProject(ctx)
	}

	defs, err := s.catalog.ListGuardrails(ctx, ec.AgentID)
	if err != nil {
		catErr := &CatalogError{AgentID: ec.AgentID, Err: err}
		result := s.catalogFailure(ec, catErr)
		log.Error().Err(err).
			Str("request_id", ec.RequestID).
			Str("agent", ec.AgentID).
			Str("policy", string(s.policy)).
			Msg("❌ Guardrail catalog unavailable")
		s.record(ctx, ec, result)
		return result, catErr
	}

	if err := s.fillCounters(ctx, &ec, defs); err != nil {
		// Drift guardrails will error on their own; the rest still run.
		log.Warn().Err(err).Str("agent", ec.AgentID).Str("tool", ec.ToolName).Msg("Tool counters unavailable")
	}

	result, err := s.engine.Evaluate(ctx, ec, defs)
	if err != nil {
		return nil, err
	}

	for _, g := range result.Guardrails {
		if g.Error {
			log.Warn().
				Str("request_id", result.RequestID).
				Str("guardrail", g.GuardrailID).
				Str("error", g.ErrorMessage).
				Msg("⚠️  Guardrail errored")
		}
	}
	log.Info().
		Str("request_id", result.RequestID).
		Str("agent", ec.AgentID).
		Str("process", string(ec.ProcessType)).
		Str("timing", string(ec.Timing)).
		Str("decision", string(result.Decision)).
		Int("evaluated", result.Metadata.EvaluatedCount).
		Int("triggered", result.Metadata.TriggeredCount).
		Int("ignored", result.Metadata.IgnoredCount).
		Int("errored", result.Metadata.ErroredCount).
		Int64("ms", result.Metadata.EvaluationTimeMs).
		Msg("🛡️  Guardrails evaluated")

	s.record(ctx, ec, result)
	return result, nil
}

func (s *Service) catalogFailure(ec models.EvaluationContext, err *CatalogError) *models.EvaluationResult {
	proceed := s.policy == FailProceed
	decision := models.DecisionBlocked
	if proceed {
		decision = models.DecisionProceed
	}
	return &models.EvaluationResult{
		RequestID:     ec.RequestID,
		AgentID:       ec.AgentID,
		ProcessType:   ec.ProcessType,
		ProcessName:   ec.ProcessName,
		Timing:        ec.Timing,
		ShouldProceed: proceed,
		Decision:      decision,
		Guardrails:    []models.GuardrailOutcome{},
		CatalogError:  err.Error(),
	}
}

// fillCounters reads rolling counters only when a drift rule needs them
// and the caller did not supply them.
func (s *Service) fillCounters(ctx context.Context, ec *models.EvaluationContext, defs []models.GuardrailDefinition) error {
	if s.counters == nil || ec.ProcessType != models.ProcessTool || ec.ToolName == "" {
		return nil
	}
	if ec.ToolInvocationCount != nil && ec.TotalInvocations != nil {
		return nil
	}
	needed := false
	for i := range defs {
		if defs[i].Trigger.Drift != nil {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	counts, err := s.counters.Counts(ctx, ec.AgentID, ec.ToolName, s.window)
	if err != nil {
		return fmt.Errorf("read counters: %w", err)
	}
	if ec.ToolInvocationCount == nil {
		ec.ToolInvocationCount = &counts.ToolInvocationCount
	}
	if ec.TotalInvocations == nil {
		ec.TotalInvocations = &counts.TotalInvocations
	}
	return nil
}

// record writes the audit entry. Failures are logged, never returned: the
// decision has already been made.
func (s *Service) record(ctx context.Context, ec models.EvaluationContext, result *models.EvaluationResult) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditEntry{
		ID:        uuid.New().String(),
		RequestID: result.RequestID,
		ProjectID: ec.ProjectID,
		AgentID:   ec.AgentID,
		Caller:    middleware.CallerSubject(ctx),
		Context:   ec,
		Result:    *result,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.RecordEvaluation(ctx, entry); err != nil {
		log.Error().Err(err).Str("request_id", result.RequestID).Msg("Failed to record evaluation")
	}
}
