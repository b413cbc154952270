// Package store provides the storage interface and implementations for the
// guardrail service: guardrail definitions, the evaluation audit log and the
// append-only tool invocation counters.
package store

import (
	"context"
	"time"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// Store is the primary storage interface for the guardrail service.
// Handlers and the evaluation service depend on this interface, so the
// in-memory (dev, tests) and PostgreSQL (production) implementations are
// interchangeable.
type Store interface {
	GuardrailStore
	AuditStore
	CounterStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Guardrail Store ─────────────────────────────────────────

// GuardrailStore persists guardrail definitions. ListGuardrails satisfies
// contracts.GuardrailCatalog.
type GuardrailStore interface {
	ListGuardrails(ctx context.Context, agentID string) ([]models.GuardrailDefinition, error)
	ListProjectGuardrails(ctx context.Context, projectID string) ([]models.GuardrailDefinition, error)
	GetGuardrail(ctx context.Context, id string) (*models.GuardrailDefinition, error)
	CreateGuardrail(ctx context.Context, def *models.GuardrailDefinition) error
	UpdateGuardrail(ctx context.Context, def *models.GuardrailDefinition) error
	DeleteGuardrail(ctx context.Context, id string) error
}

// ── Audit Store ─────────────────────────────────────────────

// AuditStore is the append-only evaluation log, keyed by request id.
// RecordEvaluation satisfies contracts.AuditSink.
type AuditStore interface {
	RecordEvaluation(ctx context.Context, entry *models.AuditEntry) error
	GetEvaluation(ctx context.Context, requestID string) (*models.AuditEntry, error)
	ListEvaluations(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)

	// PurgeEvaluations deletes entries created before the cutoff.
	PurgeEvaluations(ctx context.Context, before time.Time) (int64, error)
}

// ── Counter Store ───────────────────────────────────────────

// CounterStore keeps tool invocations as append-only events and aggregates
// them on read, so concurrent writers never race on a shared counter.
// Counts satisfies contracts.CounterSource.
type CounterStore interface {
	RecordInvocation(ctx context.Context, inv models.ToolInvocation) error
	Counts(ctx context.Context, agentID, toolName string, window time.Duration) (models.ToolCounts, error)

	// PurgeInvocations deletes events older than the cutoff.
	PurgeInvocations(ctx context.Context, before time.Time) (int64, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
