package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	pkgmw "github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
)

// statusRecorder captures what a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	size   int
}

func record(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	n, err := s.ResponseWriter.Write(b)
	s.size += n
	return n, err
}

// decision is the evaluate outcome the handler published, if any.
func (s *statusRecorder) decision() string {
	return s.Header().Get(pkgmw.DecisionHeader)
}

// routeOf returns the matched chi pattern and agent of a served request.
// Both are empty when routing did not match.
func routeOf(r *http.Request) (pattern, agent string) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "", ""
	}
	return rctx.RoutePattern(), rctx.URLParam("agentID")
}

// Logger writes one line per request. Blocked evaluations are logged at
// warn even though they return 200; health probes drop to debug.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := record(w)
		next.ServeHTTP(rec, r)

		var event *zerolog.Event
		switch {
		case rec.status >= 500:
			event = log.Error()
		case rec.status >= 400:
			event = log.Warn()
		case rec.decision() == "blocked":
			event = log.Warn()
		case r.URL.Path == "/health":
			event = log.Debug()
		default:
			event = log.Info()
		}

		pattern, agent := routeOf(r)
		event.
			Str("method", r.Method).
			Str("route", pattern).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.size).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("project", pkgmw.GetProject(r.Context())).
			Str("agent", agent).
			Str("decision", rec.decision()).
			Msg("request")
	})
}
