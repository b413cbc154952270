package guardrails

import (
	"errors"
	"fmt"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// ValidateDefinition checks a definition before it is stored. It is
// stricter than evaluation: unparseable field paths and roots other than
// input/output are rejected here, whereas at evaluation time they simply
// never match. Every problem found is returned, joined with errors.Join.
func ValidateDefinition(def *models.GuardrailDefinition) error {
	if def == nil {
		return errors.New("guardrail definition is nil")
	}
	gid := def.ID
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, &ConfigError{GuardrailID: gid, Field: field, Reason: reason})
	}

	if def.Name == "" {
		add("name", "name is required")
	}
	if def.AgentID == "" {
		add("agent_id", "agent_id is required")
	}
	for i, pt := range def.ProcessTypes {
		if !pt.IsValid() {
			add(fmt.Sprintf("process_types[%d]", i), fmt.Sprintf("unknown process type %q", pt))
		}
	}

	t := def.Trigger
	if !t.Timing.IsValid() {
		add("trigger.timing", fmt.Sprintf("unknown timing %q", t.Timing))
	}
	if t.Logic != models.LogicAnd && t.Logic != models.LogicOr {
		add("trigger.logic", fmt.Sprintf("unknown logic %q", t.Logic))
	}
	if len(t.Conditions) == 0 && t.Drift == nil {
		add("trigger.conditions", "at least one condition is required")
	}

	for i, c := range t.Conditions {
		field := fmt.Sprintf("trigger.conditions[%d].field", i)
		path, err := ParsePath(c.Field)
		if err != nil {
			add(field, err.Error())
		} else if r := path.Root(); r != "input" && r != "output" {
			add(field, fmt.Sprintf("path must start with input or output, got %q", r))
		}
		if _, err := compileCondition(gid, i, c, t.Timing); err != nil {
			errs = append(errs, err)
		}
	}

	if d := t.Drift; d != nil {
		if d.ThresholdPercent <= 0 || d.ThresholdPercent > 100 {
			add("trigger.drift.threshold_percent", "must be in (0, 100]")
		}
		if d.MinTotalInvocations < 0 {
			add("trigger.drift.min_total_invocations", "must not be negative")
		}
		if d.Floor < 0 {
			add("trigger.drift.floor", "must not be negative")
		}
		if len(def.ProcessTypes) > 0 && !def.AppliesTo(models.ProcessTool) {
			add("trigger.drift", "drift rules only apply to tool steps")
		}
	}

	if len(def.Actions) == 0 {
		add("actions", "at least one action is required")
	}
	seen := make(map[int]bool, len(def.Actions))
	for i, spec := range def.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if spec.Action == nil {
			add(field, "missing action")
			continue
		}
		p := spec.Action.ActionPriority()
		switch {
		case p <= 0:
			add(field+".priority", "priority must be a positive integer")
		case seen[p]:
			add(field+".priority", fmt.Sprintf("duplicate priority %d", p))
		}
		seen[p] = true

		if m, ok := spec.Action.(models.ModifyAction); ok {
			if path, err := ParsePath(m.Target); err == nil {
				if r := path.Root(); r != "input" && r != "output" {
					add(field+".target", fmt.Sprintf("target must start with input or output, got %q", r))
				}
			}
		}
		if _, err := compileAction(gid, field, spec.Action, t.Timing); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
