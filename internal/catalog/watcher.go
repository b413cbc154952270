package catalog

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
)

// Watcher polls a catalog file and re-seeds the store when it changes.
// Guardrails that disappear from the file are deleted from the store.
// An invalid revision is logged and skipped; the previous one stays live.
type Watcher struct {
	path     string
	store    store.GuardrailStore
	project  string
	interval time.Duration

	modTime time.Time
	seeded  map[string]bool
}

// NewWatcher creates a Watcher. Call Sync once for the initial load, then
// Run in a goroutine.
func NewWatcher(path string, s store.GuardrailStore, projectID string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watcher{
		path:     path,
		store:    s,
		project:  projectID,
		interval: interval,
		seeded:   make(map[string]bool),
	}
}

// Run polls until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	log.Info().Str("path", w.path).Dur("interval", w.interval).Msg("Catalog watcher started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Catalog watcher stopped")
			return
		case <-ticker.C:
			if _, err := w.Sync(ctx); err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("Catalog reload failed, keeping previous revision")
			}
		}
	}
}

// Sync reloads the file if its modification time changed. It reports
// whether a new revision was applied.
func (w *Watcher) Sync(ctx context.Context) (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if info.ModTime().Equal(w.modTime) {
		return false, nil
	}

	f, err := LoadFile(w.path)
	if err != nil {
		// Remember the bad revision so it is not re-parsed every tick.
		w.modTime = info.ModTime()
		return false, err
	}

	if _, err := Seed(ctx, w.store, w.project, f.Guardrails); err != nil {
		return false, err
	}

	current := make(map[string]bool, len(f.Guardrails))
	for _, g := range f.Guardrails {
		current[g.ID] = true
	}
	for id := range w.seeded {
		if current[id] {
			continue
		}
		if err := w.store.DeleteGuardrail(ctx, id); err != nil {
			log.Warn().Err(err).Str("guardrail", id).Msg("Failed to remove guardrail dropped from catalog")
		}
	}

	w.seeded = current
	w.modTime = info.ModTime()
	log.Info().Str("path", w.path).Int("guardrails", len(current)).Msg("Catalog revision applied")
	return true, nil
}
