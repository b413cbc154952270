package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentoven/agentoven/guardrail-engine/internal/api/middleware"
	pkgmw "github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Caller", pkgmw.CallerSubject(r.Context()))
	w.WriteHeader(http.StatusOK)
}

func TestAPIKeyAuth(t *testing.T) {
	keyed := middleware.NewAPIKeyAuth([]string{"test-key-1", " test-key-2 ", "  "})
	custom := middleware.NewAPIKeyAuth([]string{"test-key-1"}, middleware.WithKeyHeader("X-Guardrail-Key"))
	open := middleware.NewAPIKeyAuth(nil)

	tests := []struct {
		name       string
		auth       *middleware.APIKeyAuth
		path       string
		header     string
		value      string
		wantStatus int
		wantCaller string
	}{
		{"disabled", open, "/api/v1/evaluations", "", "", http.StatusOK, "anonymous"},
		{"bearer", keyed, "/api/v1/evaluations", "Authorization", "Bearer test-key-1", http.StatusOK, "key:" + middleware.Fingerprint("test-key-1")},
		{"key header trimmed", keyed, "/api/v1/evaluations", "X-API-Key", "test-key-2", http.StatusOK, "key:" + middleware.Fingerprint("test-key-2")},
		{"wrong key", keyed, "/api/v1/evaluations", "Authorization", "Bearer wrong-key", http.StatusUnauthorized, ""},
		{"missing key", keyed, "/api/v1/agents/a/evaluate", "", "", http.StatusUnauthorized, ""},
		{"health is public", keyed, "/health", "", "", http.StatusOK, "anonymous"},
		{"version is public", keyed, "/version", "", "", http.StatusOK, "anonymous"},
		{"custom header", custom, "/api/v1/evaluations", "X-Guardrail-Key", "test-key-1", http.StatusOK, "key:" + middleware.Fingerprint("test-key-1")},
		{"default header ignored when custom", custom, "/api/v1/evaluations", "X-API-Key", "test-key-1", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			tt.auth.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if w.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
				return
			}
			if got := w.Header().Get("X-Caller"); got != tt.wantCaller {
				t.Errorf("caller = %q, want %q", got, tt.wantCaller)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	fp := middleware.Fingerprint("secret")
	if len(fp) != 12 || strings.Contains(fp, "secret") {
		t.Errorf("Fingerprint = %q", fp)
	}
	if fp == middleware.Fingerprint("secret2") {
		t.Error("distinct keys share a fingerprint")
	}
}

func TestAPIKeyAuth_RuntimeKeys(t *testing.T) {
	auth := middleware.NewAPIKeyAuth(nil)
	auth.AddKey("dynamic")
	if !auth.Enabled() {
		t.Fatal("AddKey should enable auth")
	}
	auth.RemoveKey("dynamic")
	if auth.Enabled() {
		t.Error("removing the last key should disable auth")
	}
}

func TestProjectExtractor(t *testing.T) {
	var got string
	handler := middleware.ProjectExtractor("fallback")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = pkgmw.GetProject(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{"header", "proj-a", "proj-b", "proj-a"},
		{"query", "", "proj-b", "proj-b"},
		{"default", "", "", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/api/v1/evaluations"
			if tt.query != "" {
				target += "?project=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("X-Project-Id", tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("project = %q, want %q", got, tt.want)
			}
		})
	}
}
