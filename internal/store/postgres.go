package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// PostgresStore implements Store on PostgreSQL. Definitions and audit
// entries are stored as JSONB next to the columns they are queried by.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL store initialized")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS gr_guardrails (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL DEFAULT '',
			agent_id   TEXT NOT NULL,
			definition JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_gr_guardrails_agent ON gr_guardrails (agent_id);
		CREATE INDEX IF NOT EXISTS idx_gr_guardrails_project ON gr_guardrails (project_id);

		CREATE TABLE IF NOT EXISTS gr_evaluations (
			id         TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			agent_id   TEXT NOT NULL DEFAULT '',
			decision   TEXT NOT NULL,
			entry      JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_gr_evaluations_request ON gr_evaluations (request_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_gr_evaluations_agent ON gr_evaluations (agent_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS gr_tool_invocations (
			id        BIGSERIAL PRIMARY KEY,
			agent_id  TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_gr_tool_invocations_agent ON gr_tool_invocations (agent_id, at);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ── Guardrails ──────────────────────────────────────────────

func (s *PostgresStore) ListGuardrails(ctx context.Context, agentID string) ([]models.GuardrailDefinition, error) {
	return s.queryGuardrails(ctx, `SELECT definition FROM gr_guardrails WHERE agent_id = $1 ORDER BY id`, agentID)
}

func (s *PostgresStore) ListProjectGuardrails(ctx context.Context, projectID string) ([]models.GuardrailDefinition, error) {
	if projectID == "" {
		return s.queryGuardrails(ctx, `SELECT definition FROM gr_guardrails ORDER BY id`)
	}
	return s.queryGuardrails(ctx, `SELECT definition FROM gr_guardrails WHERE project_id = $1 ORDER BY id`, projectID)
}

func (s *PostgresStore) queryGuardrails(ctx context.Context, query string, args ...any) ([]models.GuardrailDefinition, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list guardrails: %w", err)
	}
	defer rows.Close()

	var result []models.GuardrailDefinition
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan guardrail: %w", err)
		}
		var def models.GuardrailDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("decode guardrail: %w", err)
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetGuardrail(ctx context.Context, id string) (*models.GuardrailDefinition, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT definition FROM gr_guardrails WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "guardrail", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get guardrail: %w", err)
	}
	var def models.GuardrailDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode guardrail: %w", err)
	}
	return &def, nil
}

// CreateGuardrail inserts or replaces a guardrail.
func (s *PostgresStore) CreateGuardrail(ctx context.Context, def *models.GuardrailDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("guardrail id is required")
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode guardrail: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gr_guardrails (id, project_id, agent_id, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			project_id = EXCLUDED.project_id,
			agent_id   = EXCLUDED.agent_id,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at`,
		def.ID, def.ProjectID, def.AgentID, raw, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create guardrail: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateGuardrail(ctx context.Context, def *models.GuardrailDefinition) error {
	existing, err := s.GetGuardrail(ctx, def.ID)
	if err != nil {
		return err
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode guardrail: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE gr_guardrails SET project_id = $2, agent_id = $3, definition = $4, updated_at = $5
		WHERE id = $1`,
		def.ID, def.ProjectID, def.AgentID, raw, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update guardrail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "guardrail", Key: def.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteGuardrail(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gr_guardrails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete guardrail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "guardrail", Key: id}
	}
	return nil
}

// ── Audit ───────────────────────────────────────────────────

func (s *PostgresStore) RecordEvaluation(ctx context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode evaluation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO gr_evaluations (id, request_id, project_id, agent_id, decision, entry, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.RequestID, entry.ProjectID, entry.AgentID, string(entry.Result.Decision), raw, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("record evaluation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvaluation(ctx context.Context, requestID string) (*models.AuditEntry, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT entry FROM gr_evaluations WHERE request_id = $1
		ORDER BY created_at DESC LIMIT 1`, requestID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "evaluation", Key: requestID}
	}
	if err != nil {
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	var entry models.AuditEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode evaluation: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) ListEvaluations(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ProjectID != "" {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.AgentID != "" {
		add("agent_id = $%d", filter.AgentID)
	}
	if filter.Decision != "" {
		add("decision = $%d", string(filter.Decision))
	}
	if filter.Since != nil {
		add("created_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("created_at <= $%d", *filter.Until)
	}

	var sb strings.Builder
	sb.WriteString("SELECT entry FROM gr_evaluations")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *PostgresStore) PurgeEvaluations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gr_evaluations WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge evaluations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ── Counters ────────────────────────────────────────────────

func (s *PostgresStore) RecordInvocation(ctx context.Context, inv models.ToolInvocation) error {
	if inv.At.IsZero() {
		inv.At = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO gr_tool_invocations (agent_id, tool_name, at) VALUES ($1, $2, $3)`,
		inv.AgentID, inv.ToolName, inv.At)
	if err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

func (s *PostgresStore) Counts(ctx context.Context, agentID, toolName string, window time.Duration) (models.ToolCounts, error) {
	since := time.Time{}
	if window > 0 {
		since = time.Now().Add(-window)
	}
	var c models.ToolCounts
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE tool_name = $2), COUNT(*)
		FROM gr_tool_invocations
		WHERE agent_id = $1 AND at >= $3`,
		agentID, toolName, since).Scan(&c.ToolInvocationCount, &c.TotalInvocations)
	if err != nil {
		return models.ToolCounts{}, fmt.Errorf("count invocations: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) PurgeInvocations(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gr_tool_invocations WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge invocations: %w", err)
	}
	return tag.RowsAffected(), nil
}
