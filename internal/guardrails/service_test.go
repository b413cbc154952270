package guardrails_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

type fakeCatalog struct {
	defs []models.GuardrailDefinition
	err  error
}

func (c *fakeCatalog) ListGuardrails(context.Context, string) ([]models.GuardrailDefinition, error) {
	return c.defs, c.err
}

type fakeCounters struct {
	counts models.ToolCounts
	calls  int
	window time.Duration
}

func (c *fakeCounters) Counts(_ context.Context, _, _ string, window time.Duration) (models.ToolCounts, error) {
	c.calls++
	c.window = window
	return c.counts, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (s *recordingSink) RecordEvaluation(_ context.Context, e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func TestParseFailurePolicy(t *testing.T) {
	for in, want := range map[string]guardrails.FailurePolicy{
		"":        guardrails.FailBlock,
		"block":   guardrails.FailBlock,
		"PROCEED": guardrails.FailProceed,
	} {
		got, err := guardrails.ParseFailurePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseFailurePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := guardrails.ParseFailurePolicy("maybe"); err == nil {
		t.Error("ParseFailurePolicy(maybe) expected error")
	}
}

func TestService_CatalogFailure(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("db down")}

	tests := []struct {
		policy  guardrails.FailurePolicy
		proceed bool
	}{
		{guardrails.FailBlock, false},
		{guardrails.FailProceed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			sink := &recordingSink{}
			svc := guardrails.NewService(guardrails.NewEngine(), catalog,
				guardrails.WithFailurePolicy(tt.policy), guardrails.WithAuditSink(sink))

			res, err := svc.EvaluateStep(context.Background(), step(map[string]any{}, nil))
			var catErr *guardrails.CatalogError
			if !errors.As(err, &catErr) {
				t.Fatalf("EvaluateStep() error = %v, want CatalogError", err)
			}
			if res == nil {
				t.Fatal("catalog failure must still return a policy result")
			}
			if res.ShouldProceed != tt.proceed {
				t.Errorf("ShouldProceed = %v, want %v", res.ShouldProceed, tt.proceed)
			}
			if res.CatalogError == "" {
				t.Error("CatalogError not set on result")
			}
			if len(sink.entries) != 1 {
				t.Errorf("audit entries = %d, want 1", len(sink.entries))
			}
		})
	}
}

func TestService_AuditAndRequestID(t *testing.T) {
	def := guardrail("g", models.LogicAnd, []models.Condition{cond("input.a", models.OpEquals, "x")}, block(1))
	sink := &recordingSink{}
	svc := guardrails.NewService(guardrails.NewEngine(), &fakeCatalog{defs: []models.GuardrailDefinition{def}},
		guardrails.WithAuditSink(sink))

	ctx := middleware.SetIdentity(context.Background(), &contracts.Identity{Subject: "svc-router", Provider: "apikey"})
	ctx = middleware.SetProject(ctx, "proj-7")

	ec := step(map[string]any{"a": "x"}, nil)
	ec.RequestID = ""
	res, err := svc.EvaluateStep(ctx, ec)
	if err != nil {
		t.Fatalf("EvaluateStep() error = %v", err)
	}
	if res.RequestID == "" {
		t.Error("request id not assigned")
	}
	if res.ShouldProceed {
		t.Error("expected block")
	}

	if len(sink.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(sink.entries))
	}
	e := sink.entries[0]
	if e.RequestID != res.RequestID {
		t.Errorf("audit RequestID = %q, want %q", e.RequestID, res.RequestID)
	}
	if e.Caller != "svc-router" || e.ProjectID != "proj-7" {
		t.Errorf("audit caller/project = %q/%q", e.Caller, e.ProjectID)
	}
	if e.Result.Decision != models.DecisionBlocked {
		t.Errorf("audit decision = %q", e.Result.Decision)
	}
}

func TestService_FillsCounters(t *testing.T) {
	counters := &fakeCounters{counts: models.ToolCounts{ToolInvocationCount: 0, TotalInvocations: 150}}
	svc := guardrails.NewService(guardrails.NewEngine(),
		&fakeCatalog{defs: []models.GuardrailDefinition{driftGuardrail()}},
		guardrails.WithCounters(counters, 30*time.Minute))

	res, err := svc.EvaluateStep(context.Background(), toolStep(nil, nil))
	if err != nil {
		t.Fatalf("EvaluateStep() error = %v", err)
	}
	if counters.calls != 1 || counters.window != 30*time.Minute {
		t.Errorf("counter calls = %d window = %v", counters.calls, counters.window)
	}
	if g := res.Guardrails[0]; !g.Triggered || g.Drift == nil {
		t.Errorf("outcome = %+v, want drift triggered", g)
	}

	// Caller-supplied counters win.
	count, total := int64(10), int64(150)
	if _, err := svc.EvaluateStep(context.Background(), toolStep(&count, &total)); err != nil {
		t.Fatalf("EvaluateStep() error = %v", err)
	}
	if counters.calls != 1 {
		t.Errorf("counters read again although supplied: calls = %d", counters.calls)
	}
}
