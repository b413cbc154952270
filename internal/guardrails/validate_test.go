package guardrails_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

func TestValidateDefinition_Valid(t *testing.T) {
	def := guardrail("g", models.LogicOr,
		[]models.Condition{
			cond("input.messages[0].content", models.OpRegex, `(?i)password`),
			cond("output.tokens", models.OpGT, 1000),
		},
		block(1), warn(2))
	if err := guardrails.ValidateDefinition(&def); err != nil {
		t.Errorf("ValidateDefinition() error = %v", err)
	}
}

func TestValidateDefinition_CollectsEveryProblem(t *testing.T) {
	def := guardrail("g", models.LogicAnd,
		[]models.Condition{
			cond("payload.x", models.OpEquals, "a"),
			cond("input[", models.OpEquals, "a"),
			cond("input.x", models.OpRegex, "(["),
		},
		block(1), models.WarnAction{Priority: 1, Severity: "loud"})
	def.Name = ""
	def.Trigger.Drift = &models.DriftRule{ThresholdPercent: 150}

	err := guardrails.ValidateDefinition(&def)
	if err == nil {
		t.Fatal("ValidateDefinition() expected error")
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("error %T does not join multiple errors", err)
	}
	if n := len(joined.Unwrap()); n < 6 {
		t.Errorf("got %d problems, want at least 6: %v", n, err)
	}

	var cfgErr *guardrails.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Error("expected ConfigError in the joined error")
	}
	for _, want := range []string{"name is required", "payload", "invalid regex", "duplicate priority", "unknown severity", "threshold_percent"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q: %v", want, err)
		}
	}
}

func TestValidateDefinition_ModifyTarget(t *testing.T) {
	def := guardrail("g", models.LogicAnd,
		[]models.Condition{cond("input.a", models.OpEquals, "x")},
		models.ModifyAction{Priority: 1, ModificationType: models.ModDropField, Target: "output.user",
			Condition: models.ModifyCondition{Predicate: models.PredicateIsNull}})
	def.Trigger.Timing = models.TimingOnStart

	err := guardrails.ValidateDefinition(&def)
	if err == nil || !strings.Contains(err.Error(), "only modify input") {
		t.Errorf("ValidateDefinition() = %v, want on_start output target rejected", err)
	}
}
