package middleware

import (
	"net/http"
	"strings"

	pkgmw "github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
)

// ProjectExtractor resolves the project scope of a request.
// It checks the X-Project-Id header, then the project query parameter,
// and falls back to the configured default project.
func ProjectExtractor(defaultProject string) func(http.Handler) http.Handler {
	if defaultProject == "" {
		defaultProject = pkgmw.DefaultProject
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			project := strings.TrimSpace(r.Header.Get("X-Project-Id"))
			if project == "" {
				project = strings.TrimSpace(r.URL.Query().Get("project"))
			}
			if project == "" {
				project = defaultProject
			}
			next.ServeHTTP(w, r.WithContext(pkgmw.SetProject(r.Context(), project)))
		})
	}
}
