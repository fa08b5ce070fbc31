package core

// sweeper.go provides background retention cleanup for abandoned imports.
//
// Staged batches the operator never commits keep their full row data in the
// store. The sweeper discards staging batches untouched past the retention
// TTL and prunes audit events past their own retention window.
//
// The sweeper is long-running and context-aware for graceful shutdown. It
// logs progress and errors but never fails the application over an
// individual cleanup.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SweeperConfig holds configuration for the retention sweeper. All fields
// have sensible defaults if zero values are provided.
type SweeperConfig struct {
	CheckInterval time.Duration // How often to sweep (default: 1h)
	BatchTTL      time.Duration // Idle time before a staging batch is discarded (default: Options.RetentionTTL)
	AuditTTL      time.Duration // Age before audit events are purged (default: 180 days)
}

func (c SweeperConfig) withDefaults(opts Options) SweeperConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	if c.BatchTTL <= 0 {
		c.BatchTTL = opts.RetentionTTL
	}
	if c.AuditTTL <= 0 {
		c.AuditTTL = 180 * 24 * time.Hour
	}
	return c
}

// SweepSummary reports what one sweep cycle removed.
type SweepSummary struct {
	StaleBatches     int   `json:"stale_batches"`
	BatchesDiscarded int   `json:"batches_discarded"`
	AuditPurged      int64 `json:"audit_purged"`
}

// StartRetentionSweeper runs the retention sweep immediately, then every
// CheckInterval, until the context is cancelled. Callers run it on its own
// goroutine.
func (s *Service) StartRetentionSweeper(ctx context.Context, cfg SweeperConfig) {
	cfg = cfg.withDefaults(s.opts)
	slog.Info("retention sweeper started",
		"check_interval", cfg.CheckInterval.String(),
		"batch_ttl", cfg.BatchTTL.String(),
		"audit_ttl", cfg.AuditTTL.String(),
	)

	s.SweepExpired(ctx, cfg)

	ticker := time.NewTicker(cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.SweepExpired(ctx, cfg)
		}
	}
}

// SweepExpired performs one discard + purge cycle. The background sweeper
// calls it on its schedule; operators can run it directly for an immediate
// cleanup.
func (s *Service) SweepExpired(ctx context.Context, cfg SweeperConfig) SweepSummary {
	cfg = cfg.withDefaults(s.opts)
	start := time.Now()

	var summary SweepSummary
	stale, err := s.batches.ListStale(ctx, s.now().Add(-cfg.BatchTTL))
	if err != nil {
		slog.Error("list stale batches failed", "error", err)
	}
	summary.StaleBatches = len(stale)

	for _, batch := range stale {
		err := s.Discard(ctx, batch.TenantID, batch.ID)
		switch {
		case err == nil:
			summary.BatchesDiscarded++
			slog.Info("stale batch discarded",
				"batch_id", batch.ID.String(),
				"file", batch.FileName,
				"idle_since", batch.UpdatedAt.Format(time.RFC3339),
			)
		case errors.Is(err, ErrBatchBusy):
			// An operator woke the batch up mid-sweep; leave it alone.
		default:
			slog.Error("discard stale batch failed",
				"batch_id", batch.ID.String(),
				"error", err,
			)
		}
	}

	if s.audit != nil {
		purged, err := s.audit.PurgeOlderThan(ctx, s.now().Add(-cfg.AuditTTL))
		if err != nil {
			slog.Error("purge audit events failed", "error", err)
		} else {
			summary.AuditPurged = purged
			if purged > 0 {
				slog.Info("purged audit events", "events_purged", purged)
			}
		}
	}

	slog.Debug("retention sweep completed",
		"stale_batches", summary.StaleBatches,
		"discarded", summary.BatchesDiscarded,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary
}
