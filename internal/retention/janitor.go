// Package retention periodically trims the guardrail service's hot store.
//
//   - evaluation audit entries older than the audit retention window are
//     archived (when an archiver is configured) and then purged;
//   - tool invocation events older than the counter retention window are
//     purged. Drift counters only look back over their own window, so older
//     events are dead weight.
//
// Archive failures are fail-safe: entries are NOT purged if archiving fails.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/agentoven/guardrail-engine/internal/store"
	"github.com/agentoven/agentoven/guardrail-engine/pkg/models"
)

// DefaultArchiveBatchSize is the max records per archive write.
const DefaultArchiveBatchSize = 5000

// Archiver writes expired audit entries to durable storage and returns a
// URI for the written batch.
type Archiver interface {
	Kind() string
	ArchiveEvaluations(ctx context.Context, entries []models.AuditEntry) (string, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	AuditArchived     int
	AuditPurged       int64
	InvocationsPurged int64
	ArchiveURIs       []string
	Errors            []error
}

// Janitor periodically archives and purges expired data.
type Janitor struct {
	audit    store.AuditStore
	counters store.CounterStore
	interval time.Duration

	auditRetention      time.Duration
	invocationRetention time.Duration
	archiver            Archiver
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithArchiver archives audit entries before they are purged.
func WithArchiver(a Archiver) JanitorOption {
	return func(j *Janitor) { j.archiver = a }
}

// NewJanitor creates a retention janitor. A zero retention disables that
// half of the cycle.
func NewJanitor(s store.Store, interval, auditRetention, invocationRetention time.Duration, opts ...JanitorOption) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	j := &Janitor{
		audit:               s,
		counters:            s,
		interval:            interval,
		auditRetention:      auditRetention,
		invocationRetention: invocationRetention,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs the janitor. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	archiver := "none"
	if j.archiver != nil {
		archiver = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.interval).
		Dur("audit_retention", j.auditRetention).
		Dur("invocation_retention", j.invocationRetention).
		Str("archiver", archiver).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case now := <-ticker.C:
			j.RunCycle(ctx, now)
		}
	}
}

// RunCycle performs one retention sweep relative to now.
func (j *Janitor) RunCycle(ctx context.Context, now time.Time) CycleStats {
	start := time.Now()
	var stats CycleStats

	if j.auditRetention > 0 {
		j.processAudit(ctx, now.Add(-j.auditRetention), &stats)
	}
	if j.invocationRetention > 0 {
		n, err := j.counters.PurgeInvocations(ctx, now.Add(-j.invocationRetention))
		if err != nil {
			stats.Errors = append(stats.Errors, err)
		}
		stats.InvocationsPurged = n
	}

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Retention cycle error")
	}
	if stats.AuditPurged > 0 || stats.InvocationsPurged > 0 || stats.AuditArchived > 0 {
		log.Info().
			Int64("purged_audit", stats.AuditPurged).
			Int64("purged_invocations", stats.InvocationsPurged).
			Int("archived_audit", stats.AuditArchived).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

func (j *Janitor) processAudit(ctx context.Context, cutoff time.Time, stats *CycleStats) {
	if j.archiver != nil {
		expired, err := j.audit.ListEvaluations(ctx, models.AuditFilter{Until: &cutoff})
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			return
		}
		if !j.archive(ctx, expired, stats) {
			log.Warn().Msg("Archive failed, skipping audit purge")
			return
		}
	}

	n, err := j.audit.PurgeEvaluations(ctx, cutoff)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return
	}
	stats.AuditPurged = n
}

// archive writes entries in batches and reports whether every batch landed.
func (j *Janitor) archive(ctx context.Context, entries []models.AuditEntry, stats *CycleStats) bool {
	allOK := true
	for i := 0; i < len(entries); i += DefaultArchiveBatchSize {
		end := min(i+DefaultArchiveBatchSize, len(entries))
		batch := entries[i:end]

		uri, err := j.archiver.ArchiveEvaluations(ctx, batch)
		if err != nil {
			log.Warn().Err(err).
				Str("backend", j.archiver.Kind()).
				Int("batch_size", len(batch)).
				Msg("Failed to archive evaluations")
			stats.Errors = append(stats.Errors, err)
			allOK = false
			continue
		}
		stats.AuditArchived += len(batch)
		stats.ArchiveURIs = append(stats.ArchiveURIs, uri)
	}
	return allOK
}
