package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// maxSampleValues caps how many example cell values accompany each header
// into mapping resolution.
const maxSampleValues = 3

// headerSamples picks the first non-empty effective values per column, so
// the classifier can judge headers whose meaning only shows in the data.
func headerSamples(headers []string, rows []EffectiveRow) map[string][]string {
	samples := make(map[string][]string, len(headers))
	for _, row := range rows {
		full := 0
		for _, h := range headers {
			if len(samples[h]) >= maxSampleValues {
				full++
				continue
			}
			if v := strings.TrimSpace(row.Values[h]); v != "" {
				samples[h] = append(samples[h], v)
			}
		}
		if full == len(headers) {
			break
		}
	}
	return samples
}

// Upload parses a roster file, stages its rows, runs cleaning detection and
// resolves a mapping proposal, all in one round trip. The returned result
// carries everything the cleaning and mapping steps need to render.
//
// Returns ErrTooManyImports if the concurrent import limit is reached and no
// slot becomes available within the wait window.
func (s *Service) Upload(ctx context.Context, tenantID uuid.UUID, fileName string, data []byte) (*UploadResult, error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		defer s.limiter.Release()
	}

	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	parsed, err := ParseRoster(fileName, data, s.opts.MaxRows)
	if err != nil {
		return nil, err
	}

	now := s.now()
	batch := &ImportBatch{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Status:    StatusStaging,
		Step:      StepCleaning,
		FileName:  fileName,
		Format:    parsed.Format,
		Headers:   parsed.Headers,
		TotalRows: len(parsed.Rows),
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	rows := make([]*StagingRow, len(parsed.Rows))
	for i, raw := range parsed.Rows {
		rows[i] = &StagingRow{
			BatchID:  batch.ID,
			Index:    i,
			Raw:      raw,
			Selected: true,
			Status:   RowUnchecked,
		}
	}

	report := DetectCleaning(parsed.Headers, rows)
	report.BatchID = batch.ID
	report.DetectedAt = now

	proposal := &MappingProposal{}
	if s.resolver != nil {
		samples := headerSamples(parsed.Headers, EffectiveRows(batch, report, rows))
		proposal, err = s.resolver.Resolve(ctx, tenantID, parsed.Headers, samples)
		if err != nil {
			return nil, fmt.Errorf("resolve mapping: %w", err)
		}
	}
	batch.Proposal = proposal

	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	if err := s.batches.SaveRows(ctx, batch.ID, rows); err != nil {
		return nil, fmt.Errorf("save rows: %w", err)
	}
	if err := s.batches.SaveCleaningReport(ctx, batch.ID, report); err != nil {
		return nil, fmt.Errorf("save cleaning report: %w", err)
	}

	s.recordAudit(ctx, tenantID, batch.ID, AuditUpload, map[string]any{
		"file_name": fileName,
		"format":    parsed.Format,
		"rows":      len(parsed.Rows),
		"columns":   len(parsed.Headers),
	})

	slog.Info("roster uploaded",
		"batch_id", batch.ID.String(),
		"file", fileName,
		"rows", len(parsed.Rows),
		"cell_changes", len(report.CellChanges),
		"row_removals", len(report.RowRemovals),
	)

	return &UploadResult{
		BatchID:          batch.ID,
		Headers:          parsed.Headers,
		TotalRows:        len(parsed.Rows),
		SuggestedMapping: *proposal,
		CleaningReport:   *report,
	}, nil
}

// Discard abandons a batch and drops its staged rows. The batch shell stays
// listed as discarded, with its commit history intact. Committed batches
// cannot be discarded; they hold the records rollback needs.
func (s *Service) Discard(ctx context.Context, tenantID, batchID uuid.UUID) error {
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if batch.Status == StatusCommitted || batch.Status == StatusCommitting {
			return ErrBatchCommitted
		}
		if batch.Status == StatusDiscarded {
			return nil
		}

		batch.Status = StatusDiscarded
		batch.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		if err := s.batches.PurgeBatchData(ctx, batchID); err != nil {
			return fmt.Errorf("purge batch data: %w", err)
		}

		s.recordAudit(ctx, tenantID, batchID, AuditDiscarded, map[string]any{
			"file_name": batch.FileName,
			"rows":      batch.TotalRows,
		})
		return nil
	})
	if err == nil {
		s.releaseGuard(batchID)
	}
	return err
}
