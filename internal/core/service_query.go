package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Preview projects the batch as it would be committed: cleaned values under
// the current rule toggles, mapped to target fields, with row edits applied
// on top. The projection is read-only and safe to call concurrently with
// mutations; a stale page is flagged, never blocked.
func (s *Service) Preview(ctx context.Context, tenantID, batchID uuid.UUID, opts PreviewOptions) (*PreviewPage, error) {
	batch, err := s.getBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}

	rows, err := s.batches.GetRows(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	report, err := s.batches.GetCleaningReport(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get cleaning report: %w", err)
	}

	return BuildPreview(batch, report, rows, opts), nil
}

// CleaningState returns the recorded cleaning report with rule Enabled flags
// and affected counts reflecting the batch's toggles.
func (s *Service) CleaningState(ctx context.Context, tenantID, batchID uuid.UUID) (*CleaningReport, error) {
	batch, err := s.getBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}

	report, err := s.batches.GetCleaningReport(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get cleaning report: %w", err)
	}
	if report == nil {
		return nil, fmt.Errorf("batch has no cleaning report")
	}

	out := *report
	out.Rules = report.RulesWithToggles(batch.RuleToggles)
	return &out, nil
}

// Rows returns the staged rows with their raw values, edits and validation
// state, ordered by index.
func (s *Service) Rows(ctx context.Context, tenantID, batchID uuid.UUID) ([]*StagingRow, error) {
	if _, err := s.getBatch(ctx, tenantID, batchID); err != nil {
		return nil, err
	}
	return s.batches.GetRows(ctx, batchID)
}

// Commits returns the batch's commit attempts, oldest first.
func (s *Service) Commits(ctx context.Context, tenantID, batchID uuid.UUID) ([]*BatchCommit, error) {
	if _, err := s.getBatch(ctx, tenantID, batchID); err != nil {
		return nil, err
	}
	return s.batches.GetCommits(ctx, batchID)
}
