package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// mutableStatus rejects mutations on batches that left staging. Committed
// batches are immutable except through reimport and rollback; a rolled-back
// batch is editable again, since its commit has been reversed.
func mutableStatus(batch *ImportBatch) error {
	switch batch.Status {
	case StatusStaging, StatusRolledBack:
		return nil
	case StatusCommitting, StatusCommitted:
		return ErrBatchCommitted
	default:
		return fmt.Errorf("batch is %s and can no longer be changed", batch.Status)
	}
}

// rowMutableStatus additionally permits row-level changes on a batch
// re-opened by reimport.
func rowMutableStatus(batch *ImportBatch) error {
	if reimportActive(batch) {
		return nil
	}
	return mutableStatus(batch)
}

// touch bumps the batch revision and persists it. Every content mutation goes
// through here so the preview staleness check stays honest.
func (s *Service) touch(ctx context.Context, batch *ImportBatch) error {
	batch.Revision++
	batch.UpdatedAt = s.now()
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// ============================================================================
// Cleaning Step
// ============================================================================

// ToggleRule enables or disables one cleaning rule for the batch. Detection
// never re-runs; the recorded report is re-filtered under the new toggles.
func (s *Service) ToggleRule(ctx context.Context, tenantID, batchID uuid.UUID, ruleID RuleID, enabled bool) ([]CleaningRule, error) {
	var rules []CleaningRule
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := mutableStatus(batch); err != nil {
			return err
		}

		known := false
		for _, rule := range cleaningCatalog {
			if rule.ID == ruleID {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown cleaning rule %q", ruleID)
		}

		if batch.RuleToggles == nil {
			batch.RuleToggles = make(map[RuleID]bool)
		}
		batch.RuleToggles[ruleID] = enabled

		if err := s.touch(ctx, batch); err != nil {
			return err
		}

		report, err := s.batches.GetCleaningReport(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get cleaning report: %w", err)
		}
		if report != nil {
			rules = report.RulesWithToggles(batch.RuleToggles)
		}

		s.recordAudit(ctx, tenantID, batchID, AuditRuleToggled, map[string]any{
			"rule":    string(ruleID),
			"enabled": enabled,
		})
		return nil
	})
	return rules, err
}

// ApproveCleaning accepts the cleaning result and moves the batch to the
// mapping step. With skip=true the batch proceeds on raw values and the
// recorded report is ignored entirely.
func (s *Service) ApproveCleaning(ctx context.Context, tenantID, batchID uuid.UUID, skip bool) (*ImportBatch, error) {
	var out *ImportBatch
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := mutableStatus(batch); err != nil {
			return err
		}

		batch.CleaningApproved = true
		batch.CleaningSkipped = skip
		if batch.Step == StepCleaning {
			batch.Step = StepMapping
		}
		if err := s.touch(ctx, batch); err != nil {
			return err
		}

		action := AuditCleaningApproved
		if skip {
			action = AuditCleaningSkipped
		}
		s.recordAudit(ctx, tenantID, batchID, action, map[string]any{
			"skipped": skip,
		})

		out = batch
		return nil
	})
	return out, err
}

// ============================================================================
// Mapping Step
// ============================================================================

// ApplyMapping validates and stores the operator's column mapping, then moves
// the batch to the preview step. The resolver's proposal stays untouched so
// the mapping screen can re-render suggestions after back-navigation. The
// cleaning step must be settled first: a batch still on cleaning with no
// recorded approval or skip never advances past it through mapping.
func (s *Service) ApplyMapping(ctx context.Context, tenantID, batchID uuid.UUID, mappings []ColumnMapping) (*ImportBatch, error) {
	var out *ImportBatch
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := mutableStatus(batch); err != nil {
			return err
		}
		if batch.Step == StepCleaning && !batch.CleaningApproved {
			return fmt.Errorf("cleaning must be approved or skipped before mapping")
		}

		if err := ValidateMapping(batch.Headers, mappings); err != nil {
			return err
		}

		batch.Mapping = NormalizeMapping(mappings)
		if batch.Step == StepCleaning || batch.Step == StepMapping {
			batch.Step = StepPreview
		}
		if err := s.touch(ctx, batch); err != nil {
			return err
		}

		mapped, custom, ignored := 0, 0, 0
		for _, m := range batch.Mapping {
			switch m.Action {
			case ActionMap:
				mapped++
			case ActionCustom:
				custom++
			case ActionIgnore:
				ignored++
			}
		}
		s.recordAudit(ctx, tenantID, batchID, AuditMappingApplied, map[string]any{
			"mapped":  mapped,
			"custom":  custom,
			"ignored": ignored,
		})

		out = batch
		return nil
	})
	return out, err
}

// ============================================================================
// Validation
// ============================================================================

// Validate grades every row that survives cleaning against the applied
// mapping and persists the result. Running it twice on an unchanged batch
// yields identical statuses.
func (s *Service) Validate(ctx context.Context, tenantID, batchID uuid.UUID) (*ValidationSummary, error) {
	var summary *ValidationSummary
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := rowMutableStatus(batch); err != nil {
			return err
		}
		if len(batch.Mapping) == 0 {
			return fmt.Errorf("mapping is not applied")
		}

		summary, err = s.revalidate(ctx, batch)
		if err != nil {
			return err
		}

		s.recordAudit(ctx, tenantID, batchID, AuditValidated, map[string]any{
			"valid":    summary.ValidCount,
			"warnings": summary.WarningCount,
			"errors":   summary.ErrorCount,
		})
		return nil
	})
	return summary, err
}

// revalidate runs the validation pass and persists rows, summary and the
// validated revision marker. Callers hold the batch lock.
func (s *Service) revalidate(ctx context.Context, batch *ImportBatch) (*ValidationSummary, error) {
	rows, err := s.batches.GetRows(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	report, err := s.batches.GetCleaningReport(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("get cleaning report: %w", err)
	}
	return s.revalidateRows(ctx, batch, report, rows)
}

// revalidateRows is revalidate over pre-fetched rows. The rows are mutated
// in place and persisted together with the batch.
func (s *Service) revalidateRows(ctx context.Context, batch *ImportBatch, report *CleaningReport, rows []*StagingRow) (*ValidationSummary, error) {
	effective := EffectiveRows(batch, report, rows)
	summary, err := ValidateRows(ctx, s.customers, batch, rows, effective)
	if err != nil {
		return nil, err
	}

	if err := s.batches.UpdateRows(ctx, batch.ID, rows); err != nil {
		return nil, fmt.Errorf("update rows: %w", err)
	}

	batch.Summary = summary
	batch.ValidatedRevision = batch.Revision
	batch.UpdatedAt = s.now()
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}
	return summary, nil
}

// ============================================================================
// Row Edits and Selection
// ============================================================================

// EditRow overrides field values on one staged row. Edits win over cleaned
// and mapped values in preview and commit alike; an empty value blanks the
// field. The row goes back to unchecked until the next validation pass.
func (s *Service) EditRow(ctx context.Context, tenantID, batchID uuid.UUID, rowIndex int, edits map[string]string) (*StagingRow, error) {
	var out *StagingRow
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := rowMutableStatus(batch); err != nil {
			return err
		}
		if len(edits) == 0 {
			return fmt.Errorf("no edits given")
		}
		for field := range edits {
			if FieldByName(field) == nil {
				return fmt.Errorf("unknown target field %q", field)
			}
			if columnForField(batch.Mapping, field) == "" {
				return fmt.Errorf("field %q is not mapped", field)
			}
		}

		row, err := s.findRow(ctx, batchID, rowIndex)
		if err != nil {
			return err
		}

		if row.Edits == nil {
			row.Edits = make(map[string]string, len(edits))
		}
		fields := make([]string, 0, len(edits))
		for field, value := range edits {
			row.Edits[field] = value
			fields = append(fields, field)
		}
		sort.Strings(fields)

		row.Status = RowUnchecked
		if err := s.batches.UpdateRows(ctx, batchID, []*StagingRow{row}); err != nil {
			return fmt.Errorf("update rows: %w", err)
		}
		if err := s.touch(ctx, batch); err != nil {
			return err
		}

		s.recordAudit(ctx, tenantID, batchID, AuditRowEdited, map[string]any{
			"row":    rowIndex,
			"fields": fields,
		})

		out = row
		return nil
	})
	return out, err
}

// SetRowSelection includes or excludes one row from the commit. Selection
// does not change row values, so it does not stale the preview.
func (s *Service) SetRowSelection(ctx context.Context, tenantID, batchID uuid.UUID, rowIndex int, selected bool) error {
	return s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := rowMutableStatus(batch); err != nil {
			return err
		}

		row, err := s.findRow(ctx, batchID, rowIndex)
		if err != nil {
			return err
		}
		if row.Selected == selected {
			return nil
		}

		row.Selected = selected
		if err := s.batches.UpdateRows(ctx, batchID, []*StagingRow{row}); err != nil {
			return fmt.Errorf("update rows: %w", err)
		}
		batch.UpdatedAt = s.now()
		return s.batches.UpdateBatch(ctx, batch)
	})
}

// SetUpdateExisting switches the duplicate handling used at commit between
// skip (default) and update-in-place.
func (s *Service) SetUpdateExisting(ctx context.Context, tenantID, batchID uuid.UUID, update bool) error {
	return s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := mutableStatus(batch); err != nil {
			return err
		}
		if batch.UpdateExisting == update {
			return nil
		}
		batch.UpdateExisting = update
		batch.UpdatedAt = s.now()
		return s.batches.UpdateBatch(ctx, batch)
	})
}

func (s *Service) findRow(ctx context.Context, batchID uuid.UUID, rowIndex int) (*StagingRow, error) {
	rows, err := s.batches.GetRows(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	for _, row := range rows {
		if row.Index == rowIndex {
			return row, nil
		}
	}
	return nil, fmt.Errorf("row %d not found in batch", rowIndex)
}

// ============================================================================
// Step Navigation
// ============================================================================

// GoToStep moves the wizard backward. Data entered on later steps survives:
// going back to mapping keeps the applied mapping and edits, and re-applying
// the mapping re-previews with fresh validation. Forward movement happens
// only through the step operations themselves.
func (s *Service) GoToStep(ctx context.Context, tenantID, batchID uuid.UUID, step Step) (*ImportBatch, error) {
	var out *ImportBatch
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if err := mutableStatus(batch); err != nil {
			return err
		}

		if step.Order() == 0 || step == StepUpload || step == StepResult {
			return fmt.Errorf("cannot move to %q from %q", step, batch.Step)
		}
		if step.Order() >= batch.Step.Order() {
			return fmt.Errorf("cannot move to %q from %q", step, batch.Step)
		}

		batch.Step = step
		batch.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}

		out = batch
		return nil
	})
	return out, err
}

// ============================================================================
// Reimport
// ============================================================================

// reimportActive reports whether the batch is in a reimport-failed pass:
// committed, with a recorded failed-row scope.
func reimportActive(batch *ImportBatch) bool {
	return batch.Status == StatusCommitted && len(batch.ReimportRows) > 0
}

// ReimportFailed re-opens a committed batch for exactly the rows that failed
// in its last commit. Mapping, cleaning toggles and row statuses are reused
// as they were; the preview and the next commit see only the failed rows.
func (s *Service) ReimportFailed(ctx context.Context, tenantID, batchID uuid.UUID) (*ImportBatch, error) {
	var out *ImportBatch
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if batch.Status != StatusCommitted {
			return fmt.Errorf("batch is not committed, nothing to reimport")
		}

		commits, err := s.batches.GetCommits(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get commits: %w", err)
		}
		var last *BatchCommit
		for _, c := range commits {
			if !c.RolledBack {
				last = c
			}
		}
		if last == nil || last.Failed == 0 {
			return fmt.Errorf("no failed rows to reimport")
		}

		batch.ReimportRows = last.FailedRowIndexes()
		batch.Step = StepPreview
		batch.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}

		s.recordAudit(ctx, tenantID, batchID, AuditReimport, map[string]any{
			"commit_id":   last.ID.String(),
			"failed_rows": len(batch.ReimportRows),
		})

		out = batch
		return nil
	})
	return out, err
}
