// Package handlers implements the HTTP handlers for the guardrail engine.
// All handlers go through the Store interface and the guardrails.Service;
// none of them hold state of their own.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/internal/guardrails"
	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	pkgmw "github.com/agentoven/agentoven/guardrail-engine/pkg/middleware"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

const maxBodyBytes = 4 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Store   store.Store
	Service *guardrails.Service
}

// New creates a new Handlers instance.
func New(s store.Store, svc *guardrails.Service) *Handlers {
	return &Handlers{Store: s, Service: svc}
}

// ══════════════════════════════════════════════════════════════
// ── Guardrail Handlers ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListGuardrails(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	defs, err := h.Store.ListGuardrails(r.Context(), agentID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if defs == nil {
		defs = []models.GuardrailDefinition{}
	}
	respondJSON(w, http.StatusOK, defs)
}

func (h *Handlers) CreateGuardrail(w http.ResponseWriter, r *http.Request) {
	def, err := decodeDefinition(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	def.AgentID = chi.URLParam(r, "agentID")
	def.ProjectID = pkgmw.GetProject(r.Context())
	if def.ID == "" {
		def.ID = uuid.New().String()
	} else if _, err := h.Store.GetGuardrail(r.Context(), def.ID); err == nil {
		respondError(w, http.StatusConflict, "guardrail "+def.ID+" already exists")
		return
	}
	if err := guardrails.ValidateDefinition(&def); err != nil {
		respondValidation(w, err)
		return
	}

	if err := h.Store.CreateGuardrail(r.Context(), &def); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("guardrail", def.ID).Str("agent", def.AgentID).Str("project", def.ProjectID).Msg("Guardrail created")
	respondJSON(w, http.StatusCreated, def)
}

func (h *Handlers) GetGuardrail(w http.ResponseWriter, r *http.Request) {
	def, ok := h.loadGuardrail(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, def)
}

func (h *Handlers) UpdateGuardrail(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.loadGuardrail(w, r)
	if !ok {
		return
	}

	def, err := decodeDefinition(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	def.ID = existing.ID
	def.AgentID = existing.AgentID
	def.ProjectID = existing.ProjectID
	if err := guardrails.ValidateDefinition(&def); err != nil {
		respondValidation(w, err)
		return
	}

	if err := h.Store.UpdateGuardrail(r.Context(), &def); err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().Str("guardrail", def.ID).Str("agent", def.AgentID).Msg("Guardrail updated")
	respondJSON(w, http.StatusOK, def)
}

func (h *Handlers) DeleteGuardrail(w http.ResponseWriter, r *http.Request) {
	def, ok := h.loadGuardrail(w, r)
	if !ok {
		return
	}
	if err := h.Store.DeleteGuardrail(r.Context(), def.ID); err != nil {
		respondStoreError(w, err)
		return
	}

	log.Info().Str("guardrail", def.ID).Str("agent", def.AgentID).Msg("Guardrail deleted")
	w.WriteHeader(http.StatusNoContent)
}

// decodeDefinition reads a guardrail body. Guardrails are active unless the
// body says otherwise.
func decodeDefinition(w http.ResponseWriter, r *http.Request) (models.GuardrailDefinition, error) {
	var def models.GuardrailDefinition
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return def, err
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return def, err
	}
	var flags struct {
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal(data, &flags); err == nil && flags.Active == nil {
		def.Active = true
	}
	return def, nil
}

// loadGuardrail fetches the guardrail named in the URL and checks that it
// belongs to the agent in the URL.
func (h *Handlers) loadGuardrail(w http.ResponseWriter, r *http.Request) (*models.GuardrailDefinition, bool) {
	agentID := chi.URLParam(r, "agentID")
	id := chi.URLParam(r, "guardrailID")

	def, err := h.Store.GetGuardrail(r.Context(), id)
	if err != nil {
		respondStoreError(w, err)
		return nil, false
	}
	if def.AgentID != agentID {
		respondError(w, http.StatusNotFound, "guardrail "+id+" not found for agent "+agentID)
		return nil, false
	}
	return def, true
}

// ══════════════════════════════════════════════════════════════
// ── Evaluation Handlers ──────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// EvaluateRequest is the body of POST /agents/{agentID}/evaluate.
type EvaluateRequest struct {
	models.EvaluationContext
	// ApplyModifications returns the request context with every modify
	// diff applied next to the result.
	ApplyModifications bool `json:"apply_modifications,omitempty"`
}

// EvaluateResponse is the evaluate response body.
type EvaluateResponse struct {
	*models.EvaluationResult
	ModifiedContext *models.RequestContext `json:"modified_context,omitempty"`
}

func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.AgentID = chi.URLParam(r, "agentID")
	if req.ProjectID == "" {
		req.ProjectID = pkgmw.GetProject(r.Context())
	}

	result, err := h.Service.EvaluateStep(r.Context(), req.EvaluationContext)
	var catErr *guardrails.CatalogError
	switch {
	case errors.As(err, &catErr):
		w.Header().Set(pkgmw.DecisionHeader, string(result.Decision))
		respondJSON(w, http.StatusServiceUnavailable, EvaluateResponse{EvaluationResult: result})
		return
	case errors.Is(err, guardrails.ErrInvalidStep):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := EvaluateResponse{EvaluationResult: result}
	if req.ApplyModifications {
		modified, err := guardrails.ApplyModifications(req.RequestContext, result.Modifications())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "apply modifications: "+err.Error())
			return
		}
		resp.ModifiedContext = &modified
	}
	w.Header().Set(pkgmw.DecisionHeader, string(result.Decision))
	respondJSON(w, http.StatusOK, resp)
}

// RecordInvocation appends one tool invocation to the drift counters.
func (h *Handlers) RecordInvocation(w http.ResponseWriter, r *http.Request) {
	inv := models.ToolInvocation{
		AgentID:  chi.URLParam(r, "agentID"),
		ToolName: chi.URLParam(r, "toolName"),
		At:       time.Now().UTC(),
	}
	if err := h.Store.RecordInvocation(r.Context(), inv); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, inv)
}

// GetToolCounts returns rolling counts for a tool. ?window= takes a Go
// duration and defaults to one hour.
func (h *Handlers) GetToolCounts(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respondError(w, http.StatusBadRequest, "invalid window "+strconv.Quote(v))
			return
		}
		window = d
	}
	counts, err := h.Store.Counts(r.Context(), chi.URLParam(r, "agentID"), chi.URLParam(r, "toolName"), window)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

// ══════════════════════════════════════════════════════════════
// ── Audit Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AuditFilter{
		ProjectID: pkgmw.GetProject(r.Context()),
		AgentID:   q.Get("agent_id"),
		Decision:  models.Decision(q.Get("decision")),
		Limit:     50,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(n, 1000)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid "+name+": want RFC 3339 timestamp")
				return
			}
			*dst = &ts
		}
	}

	entries, err := h.Store.ListEvaluations(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handlers) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Store.GetEvaluation(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// respondValidation reports every problem ValidateDefinition found.
func respondValidation(w http.ResponseWriter, err error) {
	var problems []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			problems = append(problems, e.Error())
		}
	} else {
		problems = []string{err.Error()}
	}
	respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":    "invalid guardrail definition",
		"problems": problems,
	})
}
