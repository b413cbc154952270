package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/server"
)

const catalogYAML = `
guardrails:
  - id: no-shell
    agent_id: ops-bot
    name: Block shell tools
    process_types: [tool]
    trigger:
      timing: on_start
      logic: and
      conditions:
        - {field: input.command, operator: regex, value: "^rm\\s"}
    actions:
      - {type: block, priority: 1, message: destructive command}
`

func TestNewWithConfig_SeedsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	srv, err := server.NewWithConfig(ctx, &server.Config{Port: 9999, CatalogFile: path, DataDir: dir})
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}
	t.Cleanup(func() { srv.Store.Close() })

	if srv.Port != 9999 {
		t.Errorf("Port = %d, want 9999", srv.Port)
	}
	defs, err := srv.Store.ListGuardrails(ctx, "ops-bot")
	if err != nil || len(defs) != 1 || !defs[0].Active {
		t.Fatalf("seeded guardrails = %+v, %v", defs, err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
}

func TestNewWithConfig_BadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("guardrails: [{id: x}]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := server.NewWithConfig(context.Background(), &server.Config{CatalogFile: path}); err == nil {
		t.Error("NewWithConfig() expected error for invalid catalog")
	}
}

func TestNewWithConfig_WebhookAlerts(t *testing.T) {
	var hits atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Guardrail-Event") == "evaluation.blocked" {
			hits.Add(1)
		}
	}))
	defer hook.Close()
	t.Setenv("GUARDRAIL_WEBHOOK_URLS", hook.URL)
	t.Setenv("GUARDRAIL_WEBHOOK_EVENTS", "evaluation.blocked")

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	srv, err := server.NewWithConfig(ctx, &server.Config{CatalogFile: path})
	if err != nil {
		t.Fatalf("NewWithConfig() error = %v", err)
	}

	result, err := srv.Service.EvaluateStep(ctx, models.EvaluationContext{
		AgentID:        "ops-bot",
		ProcessType:    models.ProcessTool,
		Timing:         models.TimingOnStart,
		RequestContext: models.RequestContext{Input: map[string]any{"command": "rm -rf /"}},
	})
	if err != nil || result.ShouldProceed {
		t.Fatalf("EvaluateStep() = %+v, %v; want blocked", result, err)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("webhook hits = %d, want 1", hits.Load())
	}
}
