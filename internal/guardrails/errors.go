package guardrails

import (
	"errors"
	"fmt"
)

// ErrNoJudge is returned when an llm_judge condition runs without a judge.
var ErrNoJudge = errors.New("no judge configured")

// ErrInvalidStep is returned for a step the engine cannot evaluate at all
// (unknown process type or timing, non-JSON request context).
var ErrInvalidStep = errors.New("invalid step")

// ErrCountersMissing is returned when a drift rule runs without tool counters.
var ErrCountersMissing = errors.New("tool invocation counters not supplied")

// ConfigError reports a malformed guardrail definition. It is always scoped
// to one guardrail and never aborts the batch.
type ConfigError struct {
	GuardrailID string
	Field       string // e.g. "trigger.conditions[1].value"
	Reason      string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("guardrail %s: %s", e.GuardrailID, e.Reason)
	}
	return fmt.Sprintf("guardrail %s: %s: %s", e.GuardrailID, e.Field, e.Reason)
}

// DependencyError reports a failed external dependency (judge, counters).
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DependencyError) Unwrap() error { return e.Err }

// CatalogError reports that the guardrails of an agent could not be loaded.
// It is the only error that is fatal to a whole evaluation call.
type CatalogError struct {
	AgentID string
	Err     error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("load guardrails for agent %q: %v", e.AgentID, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }
