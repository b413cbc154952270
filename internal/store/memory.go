package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/contracts"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	guardrails  map[string]*models.GuardrailDefinition // key: id
	audit       []*models.AuditEntry                   // append-only log
	auditByReq  map[string]*models.AuditEntry          // key: request_id, latest entry
	invocations []models.ToolInvocation                // append-only, oldest first

	snap *snapshotter // nil without a data dir
}

var (
	_ Store                      = (*MemoryStore)(nil)
	_ contracts.GuardrailCatalog = (*MemoryStore)(nil)
	_ contracts.AuditSink        = (*MemoryStore)(nil)
	_ contracts.CounterSource    = (*MemoryStore)(nil)
)

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty the
// data is persisted to dataDir/guardrails.json and reloaded on start.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		guardrails: make(map[string]*models.GuardrailDefinition),
		auditByReq: make(map[string]*models.AuditEntry),
	}
	if dataDir == "" {
		return m
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
		return m
	}
	m.snap = newSnapshotter(filepath.Join(dataDir, "guardrails.json"), snapshotDebounce, m.export)
	if snap, err := m.snap.load(); err != nil {
		log.Error().Err(err).Str("path", m.snap.path).Msg("Failed to load snapshot, starting fresh")
	} else if snap != nil {
		m.restore(snap)
	}
	return m
}

// requestSave schedules a snapshot write after a mutation.
func (m *MemoryStore) requestSave() {
	if m.snap != nil {
		m.snap.schedule()
	}
}

// export marshals the current state under the read lock.
func (m *MemoryStore) export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(snapshot{
		Version:     snapshotVersion,
		Guardrails:  m.guardrails,
		Audit:       m.audit,
		Invocations: m.invocations,
	})
}

func (m *MemoryStore) restore(snap *snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Guardrails != nil {
		m.guardrails = snap.Guardrails
	}
	m.audit = snap.Audit
	for _, e := range m.audit {
		m.auditByReq[e.RequestID] = e
	}
	m.invocations = snap.Invocations

	log.Info().
		Int("guardrails", len(m.guardrails)).
		Int("audit", len(m.audit)).
		Int("invocations", len(m.invocations)).
		Str("path", m.snap.path).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close writes a final snapshot. Safe to call more than once.
func (m *MemoryStore) Close() error {
	if m.snap == nil {
		return nil
	}
	return m.snap.close()
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Guardrails ──────────────────────────────────────────────

func (m *MemoryStore) ListGuardrails(_ context.Context, agentID string) ([]models.GuardrailDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.GuardrailDefinition
	for _, g := range m.guardrails {
		if g.AgentID == agentID {
			result = append(result, *g)
		}
	}
	sortGuardrails(result)
	return result, nil
}

func (m *MemoryStore) ListProjectGuardrails(_ context.Context, projectID string) ([]models.GuardrailDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.GuardrailDefinition
	for _, g := range m.guardrails {
		if projectID == "" || g.ProjectID == projectID {
			result = append(result, *g)
		}
	}
	sortGuardrails(result)
	return result, nil
}

func (m *MemoryStore) GetGuardrail(_ context.Context, id string) (*models.GuardrailDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guardrails[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "guardrail", Key: id}
	}
	copy := *g
	return &copy, nil
}

// CreateGuardrail inserts or replaces a guardrail.
func (m *MemoryStore) CreateGuardrail(_ context.Context, def *models.GuardrailDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("guardrail id is required")
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	m.mu.Lock()
	copy := *def
	m.guardrails[def.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateGuardrail(_ context.Context, def *models.GuardrailDefinition) error {
	m.mu.Lock()
	existing, ok := m.guardrails[def.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "guardrail", Key: def.ID}
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now().UTC()
	copy := *def
	m.guardrails[def.ID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteGuardrail(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.guardrails[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "guardrail", Key: id}
	}
	delete(m.guardrails, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func sortGuardrails(defs []models.GuardrailDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}

// ── Audit ───────────────────────────────────────────────────

func (m *MemoryStore) RecordEvaluation(_ context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	copy := *entry
	m.audit = append(m.audit, &copy)
	m.auditByReq[entry.RequestID] = &copy
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetEvaluation(_ context.Context, requestID string) (*models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.auditByReq[requestID]
	if !ok {
		return nil, &ErrNotFound{Entity: "evaluation", Key: requestID}
	}
	copy := *e
	return &copy, nil
}

func (m *MemoryStore) ListEvaluations(_ context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- { // newest first
		e := m.audit[i]
		if filter.ProjectID != "" && e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.AgentID != "" && e.AgentID != filter.AgentID {
			continue
		}
		if filter.Decision != "" && e.Result.Decision != filter.Decision {
			continue
		}
		if filter.Since != nil && e.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && e.CreatedAt.After(*filter.Until) {
			continue
		}
		if filter.Offset > 0 {
			filter.Offset--
			continue
		}
		result = append(result, *e)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) PurgeEvaluations(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	kept := m.audit[:0]
	var purged int64
	for _, e := range m.audit {
		if e.CreatedAt.Before(before) {
			if m.auditByReq[e.RequestID] == e {
				delete(m.auditByReq, e.RequestID)
			}
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.audit = kept
	m.mu.Unlock()
	if purged > 0 {
		m.requestSave()
	}
	return purged, nil
}

// ── Counters ────────────────────────────────────────────────

func (m *MemoryStore) RecordInvocation(_ context.Context, inv models.ToolInvocation) error {
	if inv.At.IsZero() {
		inv.At = time.Now().UTC()
	}
	m.mu.Lock()
	m.invocations = append(m.invocations, inv)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// Counts aggregates the agent's invocations inside the window ending now.
func (m *MemoryStore) Counts(_ context.Context, agentID, toolName string, window time.Duration) (models.ToolCounts, error) {
	since := time.Now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var c models.ToolCounts
	for i := len(m.invocations) - 1; i >= 0; i-- {
		inv := m.invocations[i]
		if window > 0 && inv.At.Before(since) {
			continue
		}
		if inv.AgentID != agentID {
			continue
		}
		c.TotalInvocations++
		if inv.ToolName == toolName {
			c.ToolInvocationCount++
		}
	}
	return c, nil
}

func (m *MemoryStore) PurgeInvocations(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	kept := m.invocations[:0]
	var purged int64
	for _, inv := range m.invocations {
		if inv.At.Before(before) {
			purged++
			continue
		}
		kept = append(kept, inv)
	}
	m.invocations = kept
	m.mu.Unlock()
	if purged > 0 {
		m.requestSave()
	}
	return purged, nil
}
