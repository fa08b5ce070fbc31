package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// plannedRow is one row the commit executor decided on: what to write and
// whether an existing customer absorbs it.
type plannedRow struct {
	row        *StagingRow
	values     map[string]string
	action     CommitAction
	existingID uuid.UUID
	skip       bool
}

// Commit writes the batch's eligible rows to the customer store. Eligible
// means selected, not invalid, and not in the request's exclusion list; on a
// reimport pass the scope additionally narrows to the failed rows of the last
// commit. Row writes run in fixed-size waves with bounded concurrency, and a
// single row's failure never aborts its siblings: failures accumulate into
// the result and the call still succeeds with failed > 0.
//
// With DryRun set, the executor plans the run and reports the counts without
// writing anything or changing the batch.
func (s *Service) Commit(ctx context.Context, tenantID, batchID uuid.UUID, req CommitRequest) (*CommitResult, error) {
	var result *CommitResult
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		reimport := reimportActive(batch)
		switch {
		case batch.Status == StatusStaging, batch.Status == StatusRolledBack:
			// Fresh commit; a rolled-back batch is eligible again.
		case reimport:
		case batch.Status == StatusCommitted:
			return ErrBatchCommitted
		default:
			return fmt.Errorf("batch is %s and cannot be committed", batch.Status)
		}
		if len(batch.Mapping) == 0 {
			return fmt.Errorf("mapping is not applied")
		}

		ctx, cancel := context.WithTimeout(ctx, CommitTimeout)
		defer cancel()

		rows, err := s.batches.GetRows(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get rows: %w", err)
		}
		report, err := s.batches.GetCleaningReport(ctx, batchID)
		if err != nil {
			return fmt.Errorf("get cleaning report: %w", err)
		}

		if err := s.mergeCommitEdits(ctx, batch, rows, req.RowEdits); err != nil {
			return err
		}

		if batch.ValidatedRevision != batch.Revision || batch.Summary == nil {
			if _, err := s.revalidateRows(ctx, batch, report, rows); err != nil {
				return err
			}
		}

		plan, err := s.planCommit(ctx, batch, report, rows, req, reimport)
		if err != nil {
			return err
		}
		if len(plan) == 0 {
			return fmt.Errorf("no eligible rows to commit")
		}

		if req.DryRun {
			result = tallyPlan(batch.ID, plan)
			return nil
		}

		result, err = s.executeCommit(ctx, batch, plan)
		if err != nil {
			return err
		}

		s.recordAudit(ctx, tenantID, batchID, AuditCommit, map[string]any{
			"commit_id": result.CommitID.String(),
			"created":   result.Created,
			"updated":   result.Updated,
			"skipped":   result.Skipped,
			"failed":    result.Failed,
			"reimport":  reimport,
		})
		return nil
	})
	if err == nil && !req.DryRun {
		s.releaseGuard(batchID)
	}
	return result, err
}

// mergeCommitEdits folds the request's last-minute cell edits into the staged
// rows, exactly like EditRow would. Any merged edit stales the validation
// state so the commit revalidates before writing.
func (s *Service) mergeCommitEdits(ctx context.Context, batch *ImportBatch, rows []*StagingRow, edits map[int]map[string]string) error {
	if len(edits) == 0 {
		return nil
	}

	byIndex := make(map[int]*StagingRow, len(rows))
	for _, row := range rows {
		byIndex[row.Index] = row
	}

	var dirty []*StagingRow
	for idx, kv := range edits {
		row := byIndex[idx]
		if row == nil {
			return fmt.Errorf("row %d not found in batch", idx)
		}
		for field, value := range kv {
			if FieldByName(field) == nil {
				return fmt.Errorf("unknown target field %q", field)
			}
			if columnForField(batch.Mapping, field) == "" {
				return fmt.Errorf("field %q is not mapped", field)
			}
			if row.Edits == nil {
				row.Edits = make(map[string]string)
			}
			row.Edits[field] = value
		}
		row.Status = RowUnchecked
		dirty = append(dirty, row)
	}

	if err := s.batches.UpdateRows(ctx, batch.ID, dirty); err != nil {
		return fmt.Errorf("update rows: %w", err)
	}
	batch.Revision++
	return nil
}

// planCommit selects eligible rows and decides each one's fate before any
// write happens: create, update an existing customer, or skip. Duplicate
// resolution is sequential in row order so the first occurrence of a key
// wins deterministically.
func (s *Service) planCommit(ctx context.Context, batch *ImportBatch, report *CleaningReport, rows []*StagingRow, req CommitRequest, reimport bool) ([]*plannedRow, error) {
	byIndex := make(map[int]*StagingRow, len(rows))
	for _, row := range rows {
		byIndex[row.Index] = row
	}

	excluded := make(map[int]bool, len(req.ExcludedRowIDs))
	for _, idx := range req.ExcludedRowIDs {
		excluded[idx] = true
	}
	scope := make(map[int]bool, len(batch.ReimportRows))
	if reimport {
		for _, idx := range batch.ReimportRows {
			scope[idx] = true
		}
	}

	var plan []*plannedRow
	for _, eff := range EffectiveRows(batch, report, rows) {
		row := byIndex[eff.Index]
		if row == nil {
			continue
		}
		if reimport && !scope[eff.Index] {
			continue
		}
		if !row.Selected || excluded[eff.Index] {
			continue
		}
		if row.Status != RowValid && row.Status != RowWarning {
			continue
		}
		plan = append(plan, &plannedRow{
			row:    row,
			values: overlayEdits(batch.Mapping, row, eff.Values),
		})
	}
	if len(plan) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(plan))
	seen := make(map[string]bool, len(plan))
	for _, p := range plan {
		key := planKey(batch.Mapping, p.values)
		if key != "" && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	existing, err := s.customers.MatchKeys(ctx, batch.TenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("match existing customers: %w", err)
	}

	claimed := make(map[string]bool, len(plan))
	for _, p := range plan {
		key := planKey(batch.Mapping, p.values)
		switch {
		case key == "":
			p.action = CommitCreated
		case existing[key] != uuid.Nil:
			if batch.UpdateExisting {
				p.action = CommitUpdated
				p.existingID = existing[key]
			} else {
				p.skip = true
			}
		case claimed[key]:
			// Later in-batch duplicate of a row this commit already creates.
			p.skip = true
		default:
			claimed[key] = true
			p.action = CommitCreated
		}
	}
	return plan, nil
}

func planKey(mappings []ColumnMapping, values map[string]string) string {
	name := mappedValue(mappings, values, FieldNavn)
	addr := mappedValue(mappings, values, FieldAdresse)
	if strings.TrimSpace(name) == "" || strings.TrimSpace(addr) == "" {
		return ""
	}
	return DuplicateKey(name, addr)
}

// tallyPlan folds a plan into a dry-run result.
func tallyPlan(batchID uuid.UUID, plan []*plannedRow) *CommitResult {
	result := &CommitResult{BatchID: batchID, DryRun: true}
	for _, p := range plan {
		switch {
		case p.skip:
			result.Skipped++
		case p.action == CommitUpdated:
			result.Updated++
		default:
			result.Created++
		}
	}
	return result
}

// executeCommit runs the planned writes in fixed-size groups with at most
// CommitWorkers groups in flight. A store implementing GroupWriter takes
// each group as one transactional call; otherwise rows write one by one.
// When the context dies, unstarted groups are reported as failed rather
// than silently dropped.
func (s *Service) executeCommit(ctx context.Context, batch *ImportBatch, plan []*plannedRow) (*CommitResult, error) {
	prevStatus, prevStep := batch.Status, batch.Step
	prevReimport := batch.ReimportRows

	batch.Status = StatusCommitting
	batch.UpdatedAt = s.now()
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("update batch: %w", err)
	}

	commitID := uuid.New()
	start := time.Now()

	result := &CommitResult{BatchID: batch.ID, CommitID: commitID}
	var writes []*plannedRow
	for _, p := range plan {
		if p.skip {
			result.Skipped++
			continue
		}
		writes = append(writes, p)
	}

	var mu sync.Mutex
	var rowErrs []RowError
	failRow := func(idx int, err error) {
		mu.Lock()
		defer mu.Unlock()
		rowErrs = append(rowErrs, RowError{
			RowIndex: idx,
			Message:  err.Error(),
			Code:     MapError(err).Code,
		})
	}
	countRow := func(action CommitAction) {
		mu.Lock()
		defer mu.Unlock()
		if action == CommitUpdated {
			result.Updated++
		} else {
			result.Created++
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.CommitWorkers)
	for offset := 0; offset < len(writes); offset += s.opts.CommitGroup {
		group := writes[offset:min(offset+s.opts.CommitGroup, len(writes))]
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				for _, p := range group {
					failRow(p.row.Index, err)
				}
				return nil
			}
			s.writeGroup(egCtx, batch, commitID, group, failRow, countRow)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(rowErrs, func(i, j int) bool { return rowErrs[i].RowIndex < rowErrs[j].RowIndex })
	result.Errors = rowErrs
	result.Failed = len(rowErrs)
	result.Duration = time.Since(start)

	commit := &BatchCommit{
		ID:        commitID,
		BatchID:   batch.ID,
		Created:   result.Created,
		Updated:   result.Updated,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		Errors:    result.Errors,
		CreatedAt: s.now(),
	}
	if err := s.batches.SaveCommit(ctx, commit); err != nil {
		s.restoreAfterCommit(ctx, batch, prevStatus, prevStep, prevReimport)
		return nil, fmt.Errorf("save commit: %w", err)
	}

	batch.Status = StatusCommitted
	batch.Step = StepResult
	batch.ReimportRows = nil
	batch.UpdatedAt = s.now()
	if err := s.batches.UpdateBatch(ctx, batch); err != nil {
		s.restoreAfterCommit(ctx, batch, prevStatus, prevStep, prevReimport)
		return nil, fmt.Errorf("update batch: %w", err)
	}

	slog.Info("batch committed",
		"batch_id", batch.ID.String(),
		"commit_id", commitID.String(),
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration.Round(time.Millisecond).String(),
	)
	return result, nil
}

// restoreAfterCommit puts the batch back into its pre-commit state when the
// bookkeeping writes fail, so it does not stay stuck in committing where
// neither a retry nor a rollback can reach it. Rows already written stay;
// duplicate matching absorbs them when the commit is retried.
func (s *Service) restoreAfterCommit(ctx context.Context, batch *ImportBatch, status BatchStatus, step Step, reimport []int) {
	batch.Status = status
	batch.Step = step
	batch.ReimportRows = reimport
	batch.UpdatedAt = s.now()
	if err := s.batches.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		slog.Error("restore batch after failed commit bookkeeping",
			"batch_id", batch.ID.String(),
			"error", err,
		)
	}
}

// writeGroup writes one group of planned rows. The customer record and its
// commit record land atomically per row so rollback always knows what this
// commit did; a row that fails to build or write never aborts its siblings.
func (s *Service) writeGroup(ctx context.Context, batch *ImportBatch, commitID uuid.UUID, group []*plannedRow, fail func(int, error), count func(CommitAction)) {
	prepared := make([]CustomerWrite, 0, len(group))
	planned := make([]*plannedRow, 0, len(group))
	for _, p := range group {
		w, err := s.prepareWrite(batch, commitID, p)
		if err != nil {
			fail(p.row.Index, err)
			continue
		}
		prepared = append(prepared, w)
		planned = append(planned, p)
	}
	if len(prepared) == 0 {
		return
	}

	if gw, ok := s.customers.(GroupWriter); ok {
		for i, err := range gw.WriteGroup(ctx, prepared) {
			if err != nil {
				fail(planned[i].row.Index, err)
			} else {
				count(planned[i].action)
			}
		}
		return
	}

	for i, w := range prepared {
		var err error
		if w.Record.Action == CommitUpdated {
			err = s.customers.UpdateCustomer(ctx, w.Customer, w.Record)
		} else {
			err = s.customers.CreateCustomer(ctx, w.Customer, w.Record)
		}
		if err != nil {
			fail(planned[i].row.Index, err)
			continue
		}
		count(planned[i].action)
	}
}

// prepareWrite builds the customer and commit record for one planned row.
// Created rows mint their customer id here; updates reuse the matched one.
func (s *Service) prepareWrite(batch *ImportBatch, commitID uuid.UUID, p *plannedRow) (CustomerWrite, error) {
	customer, err := buildCustomer(batch, p.values, s.now())
	if err != nil {
		return CustomerWrite{}, err
	}

	record := &CommitRecord{
		CommitID: commitID,
		BatchID:  batch.ID,
		RowIndex: p.row.Index,
		Action:   p.action,
	}
	if p.action == CommitUpdated {
		customer.ID = p.existingID
		record.CustomerID = p.existingID
	} else {
		customer.ID = uuid.New()
		record.CustomerID = customer.ID
	}
	return CustomerWrite{Customer: customer, Record: record}, nil
}

// buildCustomer maps a row's effective values onto a customer record. The
// values are written as previewed; only typed fields get parsed, never
// re-normalized.
func buildCustomer(batch *ImportBatch, values map[string]string, now time.Time) (*Customer, error) {
	c := &Customer{
		TenantID:  batch.TenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range batch.Mapping {
		value := strings.TrimSpace(values[m.Column])
		if value == "" {
			continue
		}
		switch m.Action {
		case ActionMap:
			switch m.Field {
			case FieldNavn:
				c.Name = value
			case FieldAdresse:
				c.Address = value
			case FieldEpost:
				c.Email = value
			case FieldTelefon:
				c.Phone = value
			case FieldPostnummer:
				c.PostalCode = value
			case FieldPoststed:
				c.City = value
			case FieldKundenummer:
				n, err := ParseInteger(value)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", m.Field, err)
				}
				c.CustomerNumber = &n
			case FieldKategori:
				c.Category = strings.ToLower(value)
			case FieldKundeSiden:
				t, err := ParseDate(value)
				if err != nil {
					return nil, fmt.Errorf("field %s: %w", m.Field, err)
				}
				c.CustomerSince = &t
			case FieldNotat:
				c.Note = value
			}
		case ActionCustom:
			if c.Custom == nil {
				c.Custom = make(map[string]string)
			}
			c.Custom[m.Column] = value
		}
	}
	return c, nil
}
