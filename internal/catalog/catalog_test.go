package catalog_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentoven/guardrail-engine/internal/catalog"
	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

func TestLoadFile_YAML(t *testing.T) {
	f, err := catalog.LoadFile("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(f.Guardrails) != 4 {
		t.Fatalf("LoadFile() = %d guardrails, want 4", len(f.Guardrails))
	}

	byID := make(map[string]models.GuardrailDefinition)
	for _, g := range f.Guardrails {
		byID[g.ID] = g
	}
	if !byID["no-injection"].Active {
		t.Error("guardrail without active flag should default to active")
	}
	if byID["long-output"].Active {
		t.Error("explicit active: false was overridden")
	}
	if d := byID["search-drift"].Trigger.Drift; d == nil || d.MinTotalInvocations != 100 {
		t.Errorf("drift rule = %+v", d)
	}
	m, ok := byID["strip-empty-docs"].Actions[0].Action.(models.ModifyAction)
	if !ok || m.Condition.Field != "text" {
		t.Errorf("modify action = %+v", byID["strip-empty-docs"].Actions[0].Action)
	}
}

func TestParse_JSON(t *testing.T) {
	doc := `{"guardrails":[{"id":"g","agent_id":"a","name":"n",
		"trigger":{"timing":"on_start","logic":"and","conditions":[{"field":"input.x","operator":"gt","value":3}]},
		"actions":[{"type":"warn","priority":1,"severity":"high","message":"m"}]}]}`
	f, err := catalog.Parse("inline.json", []byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(f.Guardrails) != 1 || f.Guardrails[0].Trigger.Conditions[0].Value != 3.0 {
		t.Errorf("Parse() = %+v", f.Guardrails)
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	doc := `
guardrails:
  - id: g
    agent_id: a
    name: n
    trigger:
      timing: later
      logic: and
      conditions:
        - field: input.x
          operator: startswith
    actions: []
`
	_, err := catalog.Parse("bad.yaml", []byte(doc))
	var verr *catalog.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Parse() error = %v, want ValidationError", err)
	}
	if len(verr.Problems) < 3 {
		t.Errorf("Problems = %v, want timing, operator and actions reported", verr.Problems)
	}
}

func TestParse_DefinitionErrors(t *testing.T) {
	doc := `
guardrails:
  - id: g
    agent_id: a
    name: n
    trigger:
      timing: on_start
      logic: and
      conditions:
        - field: output.text
          operator: regex
          value: "(["
    actions:
      - {type: block, priority: 1, message: m}
  - id: g
    agent_id: a
    name: n2
    trigger: {timing: on_end, logic: or, conditions: [{field: input.a, operator: equals, value: b}]}
    actions:
      - {type: block, priority: 1, message: m}
`
	_, err := catalog.Parse("bad.yaml", []byte(doc))
	if err == nil {
		t.Fatal("Parse() expected error")
	}
	for _, want := range []string{"only reference input", "duplicate guardrail id"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q: %v", want, err)
		}
	}
}

func TestSeed(t *testing.T) {
	f, err := catalog.LoadFile("testdata/catalog.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	n, err := catalog.Seed(context.Background(), s, "proj", f.Guardrails)
	if err != nil || n != 4 {
		t.Fatalf("Seed() = %d, %v", n, err)
	}
	list, _ := s.ListGuardrails(context.Background(), "support-bot")
	if len(list) != 4 || list[0].ProjectID != "proj" {
		t.Errorf("ListGuardrails() = %d guardrails, project %q", len(list), list[0].ProjectID)
	}
}

func TestWatcher_Sync(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")

	write := func(body string, mod time.Time) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatal(err)
		}
	}
	two := `
guardrails:
  - {id: a, agent_id: bot, name: a, trigger: {timing: on_start, logic: and, conditions: [{field: input.x, operator: equals, value: "1"}]}, actions: [{type: block, priority: 1, message: m}]}
  - {id: b, agent_id: bot, name: b, trigger: {timing: on_start, logic: and, conditions: [{field: input.x, operator: equals, value: "2"}]}, actions: [{type: block, priority: 1, message: m}]}
`
	one := `
guardrails:
  - {id: a, agent_id: bot, name: a, trigger: {timing: on_start, logic: and, conditions: [{field: input.x, operator: equals, value: "1"}]}, actions: [{type: block, priority: 1, message: m}]}
`
	base := time.Now().Add(-time.Hour)
	write(two, base)

	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	w := catalog.NewWatcher(path, s, "", time.Second)

	if changed, err := w.Sync(ctx); err != nil || !changed {
		t.Fatalf("first Sync() = %v, %v", changed, err)
	}
	if changed, _ := w.Sync(ctx); changed {
		t.Error("Sync() without file change reported a change")
	}

	write(one, base.Add(time.Minute))
	if changed, err := w.Sync(ctx); err != nil || !changed {
		t.Fatalf("Sync() after edit = %v, %v", changed, err)
	}
	list, _ := s.ListGuardrails(ctx, "bot")
	if len(list) != 1 || list[0].ID != "a" {
		t.Errorf("after removal, guardrails = %d", len(list))
	}

	write("guardrails: [{id: broken}]", base.Add(2*time.Minute))
	if _, err := w.Sync(ctx); err == nil {
		t.Error("Sync() of invalid revision expected error")
	}
	list, _ = s.ListGuardrails(ctx, "bot")
	if len(list) != 1 {
		t.Errorf("invalid revision changed the store: %d guardrails", len(list))
	}
}
