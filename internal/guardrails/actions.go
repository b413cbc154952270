package guardrails

import (
	"fmt"
	"sort"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// execute runs the compiled actions in ascending priority order. Block and
// warn only compute a decision; modify computes a diff and mutates nothing.
func (cg *compiledGuardrail) execute(env *evalEnv) ([]models.ActionResult, error) {
	results := make([]models.ActionResult, 0, len(cg.actions))
	for _, ca := range cg.actions {
		var out models.ActionOutcome
		switch a := ca.action.(type) {
		case models.BlockAction:
			out = models.ActionOutcome{Decision: models.ActionBlock, Message: a.Message}
		case models.WarnAction:
			proceed := env.warnProceed
			if a.AllowProceed != nil {
				proceed = *a.AllowProceed
			}
			out = models.ActionOutcome{Decision: models.ActionWarn, Proceed: proceed, Message: a.Message, Severity: a.Severity}
		case models.ModifyAction:
			diff, msg := computeDiff(env.doc, a, ca.target)
			out = models.ActionOutcome{Decision: models.ActionModify, Proceed: true, Message: msg, Modification: &diff}
		default:
			return nil, &ConfigError{GuardrailID: cg.def.ID, Field: "actions", Reason: fmt.Sprintf("unsupported action %T", ca.action)}
		}
		results = append(results, models.ActionResult{
			ActionType: ca.action.Type(),
			Priority:   ca.action.ActionPriority(),
			Result:     out,
		})
	}
	return results, nil
}

// computeDiff lists the paths a modify action would remove from doc.
func computeDiff(doc any, a models.ModifyAction, target Path) (models.ModificationDiff, string) {
	diff := models.ModificationDiff{
		ModificationType: a.ModificationType,
		Target:           a.Target,
		RemovedPaths:     []string{},
	}

	res := Resolve(doc, target)
	if !res.Found {
		return diff, "target not found"
	}

	switch a.ModificationType {
	case models.ModDropField:
		obj, ok := res.Value.(map[string]any)
		if !ok {
			return diff, "target is not an object"
		}
		keys := append([]string(nil), a.Condition.Fields...)
		if len(keys) == 0 {
			for k := range obj {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for i, k := range keys {
			if i > 0 && keys[i-1] == k {
				continue
			}
			v, present := obj[k]
			if !present {
				continue
			}
			if predicateHolds(a.Condition, v) {
				diff.RemovedPaths = append(diff.RemovedPaths, target.child(Step{Kind: StepField, Name: k}).String())
			}
		}
		return diff, fmt.Sprintf("removed %d field(s) from %s", len(diff.RemovedPaths), a.Target)

	case models.ModDropItem:
		items, ok := res.Value.([]any)
		if !ok {
			return diff, "target is not a sequence"
		}
		for i, item := range items {
			probe := item
			if a.Condition.Field != "" {
				obj, ok := item.(map[string]any)
				if !ok {
					continue
				}
				probe = obj[a.Condition.Field] // absent counts as null
			}
			if predicateHolds(a.Condition, probe) {
				diff.RemovedPaths = append(diff.RemovedPaths, target.child(Step{Kind: StepIndex, Index: i}).String())
			}
		}
		return diff, fmt.Sprintf("removed %d item(s) from %s", len(diff.RemovedPaths), a.Target)
	}
	return diff, ""
}

func predicateHolds(c models.ModifyCondition, v any) bool {
	switch c.Predicate {
	case models.PredicateIsNull:
		return v == nil
	case models.PredicateIsEmpty:
		return isEmpty(v)
	case models.PredicateEquals:
		return valuesEqual(v, c.Value)
	default:
		return false
	}
}
