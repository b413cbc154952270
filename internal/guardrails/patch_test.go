package guardrails_test

import (
	"reflect"
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

func TestApplyModifications(t *testing.T) {
	rc := models.RequestContext{
		Input: map[string]any{
			"docs": []any{"a", "", "b", ""},
			"user": map[string]any{"ssn": "123", "name": "ada"},
		},
		Output: map[string]any{"text": "ok"},
	}
	diffs := []models.ModificationDiff{
		{ModificationType: models.ModDropItem, Target: "input.docs", RemovedPaths: []string{"input.docs[1]", "input.docs[3]"}},
		{ModificationType: models.ModDropField, Target: "input.user", RemovedPaths: []string{"input.user.ssn"}},
	}

	got, err := guardrails.ApplyModifications(rc, diffs)
	if err != nil {
		t.Fatalf("ApplyModifications() error = %v", err)
	}

	in := got.Input.(map[string]any)
	if !reflect.DeepEqual(in["docs"], []any{"a", "b"}) {
		t.Errorf("docs = %v, want [a b]", in["docs"])
	}
	if !reflect.DeepEqual(in["user"], map[string]any{"name": "ada"}) {
		t.Errorf("user = %v", in["user"])
	}
	if !reflect.DeepEqual(got.Output, map[string]any{"text": "ok"}) {
		t.Errorf("output = %v, want untouched", got.Output)
	}

	orig := rc.Input.(map[string]any)
	if len(orig["docs"].([]any)) != 4 {
		t.Error("original docs mutated")
	}

	again, err := guardrails.ApplyModifications(got, diffs[1:])
	if err != nil {
		t.Fatalf("second ApplyModifications() error = %v", err)
	}
	if !reflect.DeepEqual(again.Input, got.Input) {
		t.Errorf("re-applying a field drop changed the payload: %v", again.Input)
	}
}

func TestApplyModifications_QuotedKeys(t *testing.T) {
	rc := models.RequestContext{
		Input: map[string]any{
			"user": map[string]any{
				"user name": "ada",
				"a.b":       "dot",
				"a":         map[string]any{"b": "nested"},
				"x[0]":      "bracket",
				"x":         []any{"first", "second"},
				`q"t`:       "quote",
			},
		},
	}
	diffs := []models.ModificationDiff{{
		ModificationType: models.ModDropField,
		Target:           "input.user",
		RemovedPaths:     []string{`input.user["user name"]`, `input.user["a.b"]`, `input.user["x[0]"]`, `input.user["q\"t"]`},
	}}

	got, err := guardrails.ApplyModifications(rc, diffs)
	if err != nil {
		t.Fatalf("ApplyModifications() error = %v", err)
	}
	want := map[string]any{
		"a": map[string]any{"b": "nested"},
		"x": []any{"first", "second"},
	}
	if user := got.Input.(map[string]any)["user"]; !reflect.DeepEqual(user, want) {
		t.Errorf("user = %v, want %v", user, want)
	}
}

func TestApplyModifications_Errors(t *testing.T) {
	rc := models.RequestContext{Input: map[string]any{"a": 1.0}}
	if _, err := guardrails.ApplyModifications(rc, []models.ModificationDiff{{RemovedPaths: []string{"input..a"}}}); err == nil {
		t.Error("expected error for malformed path")
	}
	if _, err := guardrails.ApplyModifications(rc, []models.ModificationDiff{{RemovedPaths: []string{"input"}}}); err == nil {
		t.Error("expected error when removing a root")
	}
}
