package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

const (
	snapshotVersion  = 1
	snapshotDebounce = 500 * time.Millisecond
)

// snapshot is the on-disk form of a MemoryStore.
type snapshot struct {
	Version     int                                    `json:"version"`
	Guardrails  map[string]*models.GuardrailDefinition `json:"guardrails"`
	Audit       []*models.AuditEntry                   `json:"audit"`
	Invocations []models.ToolInvocation                `json:"invocations"`
}

// snapshotter coalesces bursts of writes into one file write per debounce
// window. Files are replaced by rename, so readers never see a torn file.
type snapshotter struct {
	path     string
	debounce time.Duration
	export   func() ([]byte, error)

	mu      sync.Mutex // guards timer and closed
	timer   *time.Timer
	closed  bool
	writeMu sync.Mutex // serialises file writes
}

func newSnapshotter(path string, debounce time.Duration, export func() ([]byte, error)) *snapshotter {
	return &snapshotter{path: path, debounce: debounce, export: export}
}

// load reads the snapshot. A missing file is not an error.
func (s *snapshotter) load() (*snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported %d", snap.Version, snapshotVersion)
	}
	return &snap, nil
}

// schedule arms the debounce timer unless a write is already pending.
func (s *snapshotter) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		if err := s.flush(); err != nil {
			log.Error().Err(err).Str("path", s.path).Msg("Failed to save snapshot")
		}
	})
}

func (s *snapshotter) flush() error {
	data, err := s.export()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	log.Debug().Str("path", s.path).Int("bytes", len(data)).Msg("Snapshot saved")
	return nil
}

// close cancels any pending write and flushes synchronously once.
func (s *snapshotter) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.flush()
}
