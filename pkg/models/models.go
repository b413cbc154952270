// Package models defines the data contracts shared by the guardrail engine,
// its stores and its HTTP surface.
package models

import (
	"time"
)

// ── Process steps ───────────────────────────────────────────

// ProcessType identifies the kind of agent step being guarded.
type ProcessType string

const (
	ProcessLLM       ProcessType = "llm"
	ProcessTool      ProcessType = "tool"
	ProcessRetrieval ProcessType = "retrieval"
	ProcessAgent     ProcessType = "agent"
)

// IsValid reports whether p is one of the known process types.
func (p ProcessType) IsValid() bool {
	switch p {
	case ProcessLLM, ProcessTool, ProcessRetrieval, ProcessAgent:
		return true
	default:
		return false
	}
}

// Timing controls whether a trigger runs before or after the guarded step.
type Timing string

const (
	TimingOnStart Timing = "on_start"
	TimingOnEnd   Timing = "on_end"
)

// IsValid reports whether t is one of the known timings.
func (t Timing) IsValid() bool {
	return t == TimingOnStart || t == TimingOnEnd
}

// ── Guardrail definitions ───────────────────────────────────

// GuardrailDefinition is a named, declarative policy attached to an agent.
type GuardrailDefinition struct {
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id,omitempty"`
	AgentID      string        `json:"agent_id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Trigger      Trigger       `json:"trigger"`
	Actions      []ActionSpec  `json:"actions"`
	ProcessTypes []ProcessType `json:"process_types,omitempty"` // empty = every process type
	Active       bool          `json:"active"`
	Archived     bool          `json:"archived,omitempty"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at,omitempty"`
}

// AppliesTo reports whether the guardrail's process type scope includes p.
func (g *GuardrailDefinition) AppliesTo(p ProcessType) bool {
	if len(g.ProcessTypes) == 0 {
		return true
	}
	for _, pt := range g.ProcessTypes {
		if pt == p {
			return true
		}
	}
	return false
}

// Logic combines the outcomes of a trigger's conditions.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Trigger decides whether a guardrail's actions should run.
type Trigger struct {
	Timing     Timing      `json:"timing"`
	Logic      Logic       `json:"logic"`
	Conditions []Condition `json:"conditions"`

	// Drift adds a tool-frequency check as one more condition outcome,
	// reported at index len(Conditions).
	Drift *DriftRule `json:"drift,omitempty"`
}

// Operator is a condition operator from the closed vocabulary below.
type Operator string

const (
	OpContains Operator = "contains"
	OpEquals   Operator = "equals"
	OpRegex    Operator = "regex"
	OpGT       Operator = "gt"
	OpLT       Operator = "lt"
	OpGTE      Operator = "gte"
	OpLTE      Operator = "lte"
	OpSizeGT   Operator = "size_gt"
	OpSizeLT   Operator = "size_lt"
	OpSizeGTE  Operator = "size_gte"
	OpSizeLTE  Operator = "size_lte"
	OpLLMJudge Operator = "llm_judge"
	OpExpr     Operator = "expr"
)

// OperatorFamily groups operators that share evaluation rules.
type OperatorFamily int

const (
	FamilyUnknown OperatorFamily = iota
	FamilyString
	FamilyOrdering
	FamilySize
	FamilyJudge
	FamilyExpression
)

// Family returns the evaluation family of an operator.
func (o Operator) Family() OperatorFamily {
	switch o {
	case OpContains, OpEquals, OpRegex:
		return FamilyString
	case OpGT, OpLT, OpGTE, OpLTE:
		return FamilyOrdering
	case OpSizeGT, OpSizeLT, OpSizeGTE, OpSizeLTE:
		return FamilySize
	case OpLLMJudge:
		return FamilyJudge
	case OpExpr:
		return FamilyExpression
	default:
		return FamilyUnknown
	}
}

// Condition is a single field/operator/value test within a trigger.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// DriftRule configures the tool-frequency drift check of a trigger.
type DriftRule struct {
	ThresholdPercent    float64 `json:"threshold_percent"`
	MinTotalInvocations int64   `json:"min_total_invocations"`
	Floor               float64 `json:"floor,omitempty"` // absolute lower bound for the threshold
}

// ── Evaluation input ────────────────────────────────────────

// RequestContext is the input/output snapshot of a guarded step.
type RequestContext struct {
	Input  any `json:"input"`
	Output any `json:"output,omitempty"`
}

// EvaluationContext is the input to one engine evaluation. It is not persisted
// except as part of an AuditEntry.
type EvaluationContext struct {
	RequestID      string         `json:"request_id,omitempty"`
	ProjectID      string         `json:"project_id,omitempty"`
	AgentID        string         `json:"agent_id,omitempty"`
	ProcessType    ProcessType    `json:"process_type"`
	ProcessName    string         `json:"process_name,omitempty"`
	Timing         Timing         `json:"timing"`
	RequestContext RequestContext `json:"request_context"`

	// Tool-shaped steps only. Counts are supplied by the caller per call.
	ToolName            string `json:"tool_name,omitempty"`
	ToolInvocationCount *int64 `json:"tool_invocation_count,omitempty"`
	TotalInvocations    *int64 `json:"total_invocations,omitempty"`
}

// ── Evaluation output ───────────────────────────────────────

// Decision is the final enforcement decision for a step.
type Decision string

const (
	DecisionProceed Decision = "proceed"
	DecisionBlocked Decision = "blocked"
)

// OutcomeStatus summarises how a single guardrail was assessed.
type OutcomeStatus string

const (
	OutcomeTriggered OutcomeStatus = "triggered"
	OutcomeIgnored   OutcomeStatus = "ignored"
	OutcomeErrored   OutcomeStatus = "errored"
	OutcomePassed    OutcomeStatus = "passed"
)

// EvaluationResult is the full, auditable record of one evaluation call.
type EvaluationResult struct {
	RequestID     string             `json:"request_id"`
	AgentID       string             `json:"agent_id,omitempty"`
	ProcessType   ProcessType        `json:"process_type"`
	ProcessName   string             `json:"process_name,omitempty"`
	Timing        Timing             `json:"timing"`
	ShouldProceed bool               `json:"should_proceed"`
	Decision      Decision           `json:"decision"`
	Guardrails    []GuardrailOutcome `json:"guardrails"`
	Metadata      EvaluationMetadata `json:"metadata"`
	CatalogError  string             `json:"catalog_error,omitempty"`
}

// EvaluationMetadata holds aggregate counts for an evaluation.
type EvaluationMetadata struct {
	EvaluatedCount   int   `json:"evaluated_guardrails_count"`
	TriggeredCount   int   `json:"triggered_guardrails_count"`
	IgnoredCount     int   `json:"ignored_guardrails_count"`
	ErroredCount     int   `json:"errored_guardrails_count"`
	EvaluationTimeMs int64 `json:"evaluation_time_ms"`
}

// Modifications collects every modify diff produced by triggered guardrails,
// in guardrail then priority order.
func (r *EvaluationResult) Modifications() []ModificationDiff {
	var diffs []ModificationDiff
	for _, g := range r.Guardrails {
		if !g.Triggered {
			continue
		}
		for _, a := range g.Actions {
			if a.Result.Modification != nil {
				diffs = append(diffs, *a.Result.Modification)
			}
		}
	}
	return diffs
}

// GuardrailOutcome records how one guardrail was assessed.
type GuardrailOutcome struct {
	GuardrailID       string             `json:"guardrail_id"`
	GuardrailName     string             `json:"guardrail_name"`
	Status            OutcomeStatus      `json:"status"`
	Triggered         bool               `json:"triggered"`
	Ignored           bool               `json:"ignored"`
	IgnoreReason      string             `json:"ignore_reason,omitempty"`
	Error             bool               `json:"error"`
	ErrorMessage      string             `json:"error_message,omitempty"`
	MatchedConditions []int              `json:"matched_conditions"`
	Conditions        []ConditionOutcome `json:"conditions,omitempty"`
	Drift             *DriftSignal       `json:"drift,omitempty"`
	Actions           []ActionResult     `json:"actions"`
}

// ConditionOutcome is the audit record of one evaluated condition.
type ConditionOutcome struct {
	Index   int    `json:"index"`
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
}

// ActionResult is the outcome of one executed action.
type ActionResult struct {
	ActionType ActionType    `json:"action_type"`
	Priority   int           `json:"priority"`
	Result     ActionOutcome `json:"result"`
}

// ActionOutcome is the side-effect-free result of an action.
type ActionOutcome struct {
	Decision     ActionType        `json:"decision"`
	Proceed      bool              `json:"proceed"`
	Message      string            `json:"message,omitempty"`
	Severity     Severity          `json:"severity,omitempty"`
	Modification *ModificationDiff `json:"modification,omitempty"`
}

// ModificationDiff lists the paths a modify action removes from the payload.
// Applying it is the caller's job.
type ModificationDiff struct {
	ModificationType ModificationType `json:"modification_type"`
	Target           string           `json:"target"`
	RemovedPaths     []string         `json:"removed_paths"`
}

// DriftSignal reports a tool invoked anomalously rarely against its baseline.
type DriftSignal struct {
	Reason              string  `json:"reason"`
	ToolName            string  `json:"tool_name,omitempty"`
	TotalInvocations    int64   `json:"total_invocations"`
	ToolInvocationCount int64   `json:"tool_invocation_count"`
	Threshold           float64 `json:"threshold"`
	ThresholdPercent    float64 `json:"threshold_percent"`
	MinTotalInvocations int64   `json:"min_total_invocations"`
}

// ── Audit & counters ────────────────────────────────────────

// AuditEntry is one persisted evaluation, keyed by the caller's request id.
type AuditEntry struct {
	ID        string            `json:"id"`
	RequestID string            `json:"request_id"`
	ProjectID string            `json:"project_id,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	Caller    string            `json:"caller,omitempty"`
	Context   EvaluationContext `json:"context"`
	Result    EvaluationResult  `json:"result"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuditFilter provides query options for listing audit entries.
type AuditFilter struct {
	ProjectID string
	AgentID   string
	Decision  Decision
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// ToolInvocation is one append-only counter event.
type ToolInvocation struct {
	AgentID  string    `json:"agent_id"`
	ToolName string    `json:"tool_name"`
	At       time.Time `json:"at"`
}

// ToolCounts are the rolling counters used by drift detection.
type ToolCounts struct {
	ToolInvocationCount int64 `json:"tool_invocation_count"`
	TotalInvocations    int64 `json:"total_invocations"`
}
