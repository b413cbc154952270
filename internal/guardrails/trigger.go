package guardrails

import (
	"context"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// triggerOutcome is what the matcher publishes for audit.
type triggerOutcome struct {
	matched    bool
	matchedIdx []int
	conditions []models.ConditionOutcome
	drift      *models.DriftSignal
}

// match evaluates every condition eagerly, for both and/or logic, so the
// matched indices are complete. The drift check, when configured, is one
// more condition at index len(conditions). On error the partial outcome is
// returned alongside it.
func (cg *compiledGuardrail) match(ctx context.Context, env *evalEnv) (triggerOutcome, error) {
	out := triggerOutcome{matchedIdx: []int{}}

	results := make([]bool, 0, len(cg.conditions)+1)
	for i, cc := range cg.conditions {
		r, err := cc.evaluate(ctx, env)
		if err != nil {
			return out, err
		}
		results = append(results, r.Matched)
		out.conditions = append(out.conditions, models.ConditionOutcome{Index: i, Matched: r.Matched, Detail: r.Detail})
		if r.Matched {
			out.matchedIdx = append(out.matchedIdx, i)
		}
	}

	if cg.drift != nil {
		idx := len(cg.conditions)
		signal, err := cg.detectDrift(env)
		if err != nil {
			return out, err
		}
		hit := signal != nil
		detail := "no drift"
		if hit {
			detail = signal.Reason
			out.drift = signal
			out.matchedIdx = append(out.matchedIdx, idx)
		}
		results = append(results, hit)
		out.conditions = append(out.conditions, models.ConditionOutcome{Index: idx, Matched: hit, Detail: detail})
	}

	out.matched = combine(cg.def.Trigger.Logic, results)
	return out, nil
}

func combine(logic models.Logic, results []bool) bool {
	if len(results) == 0 {
		return false
	}
	switch logic {
	case models.LogicAnd:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	case models.LogicOr:
		for _, r := range results {
			if r {
				return true
			}
		}
	}
	return false
}

func (cg *compiledGuardrail) detectDrift(env *evalEnv) (*models.DriftSignal, error) {
	ec := env.ec
	if ec.ToolInvocationCount == nil || ec.TotalInvocations == nil {
		return nil, &DependencyError{Op: "drift", Err: ErrCountersMissing}
	}
	return env.detector.Detect(contracts.DriftInput{
		ToolName:            ec.ToolName,
		ToolInvocationCount: *ec.ToolInvocationCount,
		TotalInvocations:    *ec.TotalInvocations,
	}, *cg.drift), nil
}
