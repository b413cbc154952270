package retention

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// LocalFileArchiver writes expired audit entries as JSON lines, one file
// per batch, partitioned by the day of the batch's oldest entry:
//
//	{base}/evaluations/2026/10/19/20261019T150405.000000000Z.jsonl[.gz]
//
// A batch is written to a temporary file and renamed into place, so a
// crash never leaves a truncated archive behind.
type LocalFileArchiver struct {
	base     string
	compress bool
	now      func() time.Time
}

// NewLocalFileArchiver creates an archiver rooted at base.
func NewLocalFileArchiver(base string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{base: base, compress: compress, now: time.Now}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

// ArchiveEvaluations implements Archiver. The URI is the file path.
func (a *LocalFileArchiver) ArchiveEvaluations(_ context.Context, entries []models.AuditEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	day := oldest(entries).UTC()
	dir := filepath.Join(a.base, "evaluations", day.Format("2006"), day.Format("01"), day.Format("02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	name := a.now().UTC().Format("20060102T150405.000000000Z") + ".jsonl"
	if a.compress {
		name += ".gz"
	}
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	if err := a.writeBatch(tmp, entries); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("publish archive: %w", err)
	}

	log.Debug().Str("path", final).Int("count", len(entries)).Msg("Archived evaluations")
	return final, nil
}

func (a *LocalFileArchiver) writeBatch(f *os.File, entries []models.AuditEntry) error {
	buf := bufio.NewWriter(f)
	var w io.Writer = buf
	var gz *gzip.Writer
	if a.compress {
		gz = gzip.NewWriter(buf)
		w = gz
	}

	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return fmt.Errorf("encode evaluation %s: %w", entries[i].RequestID, err)
		}
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return fmt.Errorf("flush archive: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}
	return f.Sync()
}

func oldest(entries []models.AuditEntry) time.Time {
	t := entries[0].CreatedAt
	for _, e := range entries[1:] {
		if e.CreatedAt.Before(t) {
			t = e.CreatedAt
		}
	}
	return t
}
