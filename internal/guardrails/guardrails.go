// Package guardrails provides the guardrail policy evaluation engine.
//
// For every observable step of an agent (an LLM call, a tool invocation, a
// retrieval or the agent process itself) the engine decides whether the step
// may proceed, should be flagged, or must have parts of its payload removed.
//
// Pipeline per guardrail:
//   - field resolver: dotted/indexed paths into the request context
//   - condition evaluator: string, ordering, size and llm_judge operators
//   - trigger matcher: and/or logic, every condition evaluated for audit
//   - drift detector: optional tool-frequency check on tool steps
//   - action executor: block, warn and modify, in priority order
//
// The engine is side-effect free. Modify actions return diffs as data and
// ApplyModifications is provided for callers that own the live payload.
package guardrails

import (
	"fmt"
	"sort"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// compiledGuardrail is a definition checked and prepared for evaluation.
type compiledGuardrail struct {
	def        *models.GuardrailDefinition
	conditions []*compiledCondition
	actions    []compiledAction // ascending priority
	drift      *models.DriftRule
}

type compiledAction struct {
	action models.Action
	target Path // modify only
}

// compileGuardrail turns a definition into its executable form. Every
// failure is a *ConfigError scoped to this guardrail.
func compileGuardrail(def *models.GuardrailDefinition) (*compiledGuardrail, error) {
	gid := def.ID
	t := def.Trigger

	if !t.Timing.IsValid() {
		return nil, &ConfigError{GuardrailID: gid, Field: "trigger.timing", Reason: fmt.Sprintf("unknown timing %q", t.Timing)}
	}
	if t.Logic != models.LogicAnd && t.Logic != models.LogicOr {
		return nil, &ConfigError{GuardrailID: gid, Field: "trigger.logic", Reason: fmt.Sprintf("unknown logic %q", t.Logic)}
	}
	if len(t.Conditions) == 0 && t.Drift == nil {
		return nil, &ConfigError{GuardrailID: gid, Field: "trigger.conditions", Reason: "at least one condition is required"}
	}
	if len(def.Actions) == 0 {
		return nil, &ConfigError{GuardrailID: gid, Field: "actions", Reason: "at least one action is required"}
	}

	cg := &compiledGuardrail{def: def, drift: t.Drift}
	for i, c := range t.Conditions {
		cc, err := compileCondition(gid, i, c, t.Timing)
		if err != nil {
			return nil, err
		}
		cg.conditions = append(cg.conditions, cc)
	}

	seen := make(map[int]bool, len(def.Actions))
	for i, spec := range def.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if spec.Action == nil {
			return nil, &ConfigError{GuardrailID: gid, Field: field, Reason: "missing action"}
		}
		p := spec.Action.ActionPriority()
		if p <= 0 {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".priority", Reason: "priority must be a positive integer"}
		}
		if seen[p] {
			return nil, &ConfigError{GuardrailID: gid, Field: field + ".priority", Reason: fmt.Sprintf("duplicate priority %d", p)}
		}
		seen[p] = true

		ca, err := compileAction(gid, field, spec.Action, t.Timing)
		if err != nil {
			return nil, err
		}
		cg.actions = append(cg.actions, ca)
	}
	sort.SliceStable(cg.actions, func(i, j int) bool {
		return cg.actions[i].action.ActionPriority() < cg.actions[j].action.ActionPriority()
	})
	return cg, nil
}

func compileAction(gid, field string, a models.Action, timing models.Timing) (compiledAction, error) {
	switch act := a.(type) {
	case models.BlockAction:
		if act.Message == "" {
			return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field + ".message", Reason: "block action requires a message"}
		}
	case models.WarnAction:
		if !act.Severity.IsValid() {
			return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field + ".severity", Reason: fmt.Sprintf("unknown severity %q", act.Severity)}
		}
	case models.ModifyAction:
		if act.ModificationType != models.ModDropField && act.ModificationType != models.ModDropItem {
			return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field + ".modification_type", Reason: fmt.Sprintf("unknown modification type %q", act.ModificationType)}
		}
		switch act.Condition.Predicate {
		case models.PredicateIsNull, models.PredicateIsEmpty, models.PredicateEquals:
		default:
			return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field + ".condition.predicate", Reason: fmt.Sprintf("unknown predicate %q", act.Condition.Predicate)}
		}
		target, err := ParsePath(act.Target)
		if err != nil {
			return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field + ".target", Reason: err.Error()}
		}
		if timing == models.TimingOnStart && target.Root() == "output" {
			return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field + ".target", Reason: "on_start guardrails may only modify input"}
		}
		return compiledAction{action: act, target: target}, nil
	default:
		return compiledAction{}, &ConfigError{GuardrailID: gid, Field: field, Reason: fmt.Sprintf("unsupported action %T", a)}
	}
	return compiledAction{action: a}, nil
}

// ignoreReason explains why a guardrail does not apply to this step, or
// returns "" when it applies.
func ignoreReason(def *models.GuardrailDefinition, ec *models.EvaluationContext) string {
	switch {
	case def.Archived:
		return "guardrail is archived"
	case !def.Active:
		return "guardrail is inactive"
	case def.Trigger.Timing.IsValid() && def.Trigger.Timing != ec.Timing:
		return fmt.Sprintf("timing mismatch: guardrail runs %s, step is %s", def.Trigger.Timing, ec.Timing)
	case !def.AppliesTo(ec.ProcessType):
		return fmt.Sprintf("process type %s not in guardrail scope", ec.ProcessType)
	case def.Trigger.Drift != nil && ec.ProcessType != models.ProcessTool:
		return fmt.Sprintf("drift rule requires a tool step, got %s", ec.ProcessType)
	}
	return ""
}
