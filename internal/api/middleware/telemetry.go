package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	pkgmw "github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
)

var tracer = otel.Tracer("guardrail-engine")

// Telemetry opens a server span per request, continuing any trace the
// caller propagated. The span is renamed to the matched route once the
// handler has run, and carries the agent and evaluate decision.
func Telemetry(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parent := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(parent, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("guardrail.project", pkgmw.GetProject(r.Context())),
			),
		)
		defer span.End()

		rec := record(w)
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		if pattern, agent := routeOf(req); pattern != "" {
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(attribute.String("http.route", pattern))
			if agent != "" {
				span.SetAttributes(attribute.String("guardrail.agent_id", agent))
			}
		}
		if d := rec.decision(); d != "" {
			span.SetAttributes(attribute.String("guardrail.decision", d))
		}
		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}
