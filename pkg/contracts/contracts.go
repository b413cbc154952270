// Package contracts defines the collaborator interfaces of the guardrail engine.
//
// The engine never reaches out to the network or a database on its own: the
// guardrail catalog, the LLM judge, the rolling tool counters and the audit
// sink are all injected through these interfaces, so swapping an in-memory
// implementation for a PostgreSQL or HTTP-backed one is a wiring change.
package contracts

import (
	"context"
	"time"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// ── Guardrail Catalog ───────────────────────────────────────

// GuardrailCatalog returns every guardrail assigned to an agent.
// Implementations: internal/store.MemoryStore, internal/store.PostgresStore.
type GuardrailCatalog interface {
	ListGuardrails(ctx context.Context, agentID string) ([]models.GuardrailDefinition, error)
}

// ── Judge ───────────────────────────────────────────────────

// JudgeRequest is what an llm_judge condition sends to the judge.
type JudgeRequest struct {
	// Prompt is the natural-language rubric from the condition value.
	Prompt string `json:"prompt"`
	// Payload is the resolved sub-context (or its deepest resolvable ancestor).
	Payload any `json:"payload"`
	// Field is the condition's field path, for the judge's context.
	Field string `json:"field"`
}

// JudgeVerdict is the judge's answer.
type JudgeVerdict struct {
	Matched   bool   `json:"matched"`
	Rationale string `json:"rationale"`
}

// Judge evaluates a natural-language rubric against a payload.
// Implementations must honour ctx cancellation and deadlines.
// Implementation: internal/judge.LLMJudge
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (JudgeVerdict, error)
}

// ── Rolling counters ────────────────────────────────────────

// CounterSource returns rolling tool invocation counts for a time window.
// The engine only reads counters; maintaining them is the caller's concern.
type CounterSource interface {
	Counts(ctx context.Context, agentID, toolName string, window time.Duration) (models.ToolCounts, error)
}

// ── Audit ───────────────────────────────────────────────────

// AuditSink persists one audit entry per evaluation call.
type AuditSink interface {
	RecordEvaluation(ctx context.Context, entry *models.AuditEntry) error
}

// ── Drift ───────────────────────────────────────────────────

// DriftInput carries the counters for one tool invocation.
type DriftInput struct {
	ToolName            string
	ToolInvocationCount int64
	TotalInvocations    int64
}

// DriftDetector decides whether a tool invocation is anomalous.
// It returns nil when no drift is signalled.
// Implementation: internal/guardrails.ThresholdDetector
type DriftDetector interface {
	Detect(in DriftInput, rule models.DriftRule) *models.DriftSignal
}

// ── Identity ────────────────────────────────────────────────

// Identity is the authenticated caller of the API, recorded in audit entries.
type Identity struct {
	// Subject is a stable identifier (API key fingerprint, service name).
	Subject string `json:"subject"`

	// Provider identifies how the identity was established, e.g. "apikey".
	Provider string `json:"provider"`

	// Project is the project scope granted to this identity, if any.
	Project string `json:"project,omitempty"`
}
