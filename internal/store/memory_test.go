package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// newTestStore creates a fresh in-memory store with no persistence.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func testGuardrail(id, agent string) *models.GuardrailDefinition {
	return &models.GuardrailDefinition{
		ID:      id,
		AgentID: agent,
		Name:    id,
		Trigger: models.Trigger{
			Timing:     models.TimingOnStart,
			Logic:      models.LogicAnd,
			Conditions: []models.Condition{{Field: "input.prompt", Operator: models.OpContains, Value: "x"}},
		},
		Actions: []models.ActionSpec{models.NewActionSpec(models.BlockAction{Priority: 1, Message: "no"})},
		Active:  true,
	}
}

// ─── Guardrail CRUD ──────────────────────────────────────────

func TestCreateAndGetGuardrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateGuardrail(ctx, testGuardrail("g1", "agent-a")); err != nil {
		t.Fatalf("CreateGuardrail() error = %v", err)
	}

	got, err := s.GetGuardrail(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGuardrail() error = %v", err)
	}
	if got.AgentID != "agent-a" {
		t.Errorf("GetGuardrail().AgentID = %q, want %q", got.AgentID, "agent-a")
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
	if _, ok := got.Actions[0].Action.(models.BlockAction); !ok {
		t.Errorf("action = %T, want BlockAction", got.Actions[0].Action)
	}
}

func TestGetGuardrail_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGuardrail(context.Background(), "missing")
	var nf *store.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("GetGuardrail() error = %v, want ErrNotFound", err)
	}
}

func TestListGuardrails_ByAgentSorted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, g := range []*models.GuardrailDefinition{
		testGuardrail("g3", "agent-a"),
		testGuardrail("g1", "agent-a"),
		testGuardrail("g2", "agent-b"),
	} {
		if err := s.CreateGuardrail(ctx, g); err != nil {
			t.Fatalf("CreateGuardrail() error = %v", err)
		}
	}

	list, err := s.ListGuardrails(ctx, "agent-a")
	if err != nil {
		t.Fatalf("ListGuardrails() error = %v", err)
	}
	if len(list) != 2 || list[0].ID != "g1" || list[1].ID != "g3" {
		t.Errorf("ListGuardrails() = %v, want [g1 g3]", ids(list))
	}
}

func TestListProjectGuardrails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := testGuardrail("g1", "agent-a")
	a.ProjectID = "p1"
	b := testGuardrail("g2", "agent-a")
	b.ProjectID = "p2"
	s.CreateGuardrail(ctx, a)
	s.CreateGuardrail(ctx, b)

	list, _ := s.ListProjectGuardrails(ctx, "p2")
	if len(list) != 1 || list[0].ID != "g2" {
		t.Errorf("ListProjectGuardrails(p2) = %v, want [g2]", ids(list))
	}
	all, _ := s.ListProjectGuardrails(ctx, "")
	if len(all) != 2 {
		t.Errorf("ListProjectGuardrails(\"\") = %d guardrails, want 2", len(all))
	}
}

func TestUpdateGuardrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	g := testGuardrail("g1", "agent-a")
	s.CreateGuardrail(ctx, g)
	created := g.CreatedAt

	g.Active = false
	if err := s.UpdateGuardrail(ctx, g); err != nil {
		t.Fatalf("UpdateGuardrail() error = %v", err)
	}
	got, _ := s.GetGuardrail(ctx, "g1")
	if got.Active {
		t.Error("Active = true after update")
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt changed: %v -> %v", created, got.CreatedAt)
	}

	var nf *store.ErrNotFound
	if err := s.UpdateGuardrail(ctx, testGuardrail("nope", "agent-a")); !errors.As(err, &nf) {
		t.Errorf("UpdateGuardrail(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteGuardrail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateGuardrail(ctx, testGuardrail("g1", "agent-a"))

	if err := s.DeleteGuardrail(ctx, "g1"); err != nil {
		t.Fatalf("DeleteGuardrail() error = %v", err)
	}
	if _, err := s.GetGuardrail(ctx, "g1"); err == nil {
		t.Error("guardrail still present after delete")
	}
	if err := s.DeleteGuardrail(ctx, "g1"); err == nil {
		t.Error("second delete should fail")
	}
}

// ─── Audit ───────────────────────────────────────────────────

func TestEvaluations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, d := range []models.Decision{models.DecisionProceed, models.DecisionBlocked, models.DecisionProceed} {
		entry := &models.AuditEntry{
			ID:        "e" + string(rune('0'+i)),
			RequestID: "req-" + string(rune('0'+i)),
			AgentID:   "agent-a",
			Result:    models.EvaluationResult{Decision: d},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.RecordEvaluation(ctx, entry); err != nil {
			t.Fatalf("RecordEvaluation() error = %v", err)
		}
	}

	got, err := s.GetEvaluation(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetEvaluation() error = %v", err)
	}
	if got.Result.Decision != models.DecisionBlocked {
		t.Errorf("GetEvaluation().Decision = %q", got.Result.Decision)
	}

	all, _ := s.ListEvaluations(ctx, models.AuditFilter{AgentID: "agent-a"})
	if len(all) != 3 || all[0].RequestID != "req-2" {
		t.Errorf("ListEvaluations() newest first: got %d entries, first %q", len(all), all[0].RequestID)
	}

	blocked, _ := s.ListEvaluations(ctx, models.AuditFilter{Decision: models.DecisionBlocked})
	if len(blocked) != 1 {
		t.Errorf("ListEvaluations(blocked) = %d, want 1", len(blocked))
	}

	page, _ := s.ListEvaluations(ctx, models.AuditFilter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].RequestID != "req-1" {
		t.Errorf("ListEvaluations(limit 1 offset 1) = %v", page)
	}

	purged, err := s.PurgeEvaluations(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("PurgeEvaluations() error = %v", err)
	}
	if purged != 2 {
		t.Errorf("PurgeEvaluations() = %d, want 2", purged)
	}
	if _, err := s.GetEvaluation(ctx, "req-0"); err == nil {
		t.Error("purged evaluation still retrievable")
	}
}

// ─── Counters ────────────────────────────────────────────────

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	record := func(agent, tool string, at time.Time) {
		if err := s.RecordInvocation(ctx, models.ToolInvocation{AgentID: agent, ToolName: tool, At: at}); err != nil {
			t.Fatalf("RecordInvocation() error = %v", err)
		}
	}
	record("agent-a", "search", now.Add(-2*time.Hour)) // outside window
	record("agent-a", "search", now.Add(-time.Minute))
	record("agent-a", "fetch", now.Add(-time.Minute))
	record("agent-a", "fetch", now.Add(-time.Minute))
	record("agent-b", "search", now.Add(-time.Minute))

	c, err := s.Counts(ctx, "agent-a", "search", time.Hour)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if c.ToolInvocationCount != 1 || c.TotalInvocations != 3 {
		t.Errorf("Counts() = %+v, want 1/3", c)
	}

	purged, _ := s.PurgeInvocations(ctx, now.Add(-time.Hour))
	if purged != 1 {
		t.Errorf("PurgeInvocations() = %d, want 1", purged)
	}
	c, _ = s.Counts(ctx, "agent-a", "search", 0)
	if c.TotalInvocations != 3 {
		t.Errorf("Counts() after purge = %+v, want total 3", c)
	}
}

// ─── Persistence ─────────────────────────────────────────────

func TestSnapshotPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := store.NewMemoryStore(dir)
	s.CreateGuardrail(ctx, testGuardrail("g1", "agent-a"))
	s.RecordEvaluation(ctx, &models.AuditEntry{ID: "e1", RequestID: "req-1"})
	s.RecordInvocation(ctx, models.ToolInvocation{AgentID: "agent-a", ToolName: "search"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := store.NewMemoryStore(dir)
	t.Cleanup(func() { reopened.Close() })

	g, err := reopened.GetGuardrail(ctx, "g1")
	if err != nil {
		t.Fatalf("GetGuardrail() after reload error = %v", err)
	}
	if _, ok := g.Actions[0].Action.(models.BlockAction); !ok {
		t.Errorf("reloaded action = %T, want BlockAction", g.Actions[0].Action)
	}
	if _, err := reopened.GetEvaluation(ctx, "req-1"); err != nil {
		t.Errorf("GetEvaluation() after reload error = %v", err)
	}
	if c, _ := reopened.Counts(ctx, "agent-a", "search", time.Hour); c.ToolInvocationCount != 1 {
		t.Errorf("Counts() after reload = %+v", c)
	}
}

func TestSnapshot_DebouncedWrite(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemoryStore(dir)
	t.Cleanup(func() { s.Close() })

	for i := 0; i < 5; i++ {
		s.RecordInvocation(context.Background(), models.ToolInvocation{AgentID: "a", ToolName: "search"})
	}

	path := filepath.Join(dir, "guardrails.json")
	deadline := time.Now().Add(5 * time.Second)
	for {
		if data, err := os.ReadFile(path); err == nil && strings.Contains(string(data), `"version":1`) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot was not written without Close")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSnapshot_UnsupportedVersionStartsFresh(t *testing.T) {
	dir := t.TempDir()
	body := `{"version": 99, "guardrails": {"g1": {"id": "g1", "agent_id": "a"}}}`
	if err := os.WriteFile(filepath.Join(dir, "guardrails.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	s := store.NewMemoryStore(dir)
	t.Cleanup(func() { s.Close() })

	if _, err := s.GetGuardrail(context.Background(), "g1"); err == nil {
		t.Error("guardrail loaded from an unsupported snapshot version")
	}
}

func ids(defs []models.GuardrailDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.ID
	}
	return out
}
