package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/roster-import/internal/core"
)

// BatchRepo persists import batches, their staged rows, cleaning reports and
// commit history. Implements core.BatchStore.
type BatchRepo struct {
	db *pgxpool.Pool
}

func NewBatchRepo(db *pgxpool.Pool) *BatchRepo {
	return &BatchRepo{db: db}
}

const batchColumns = `id, tenant_id, status, step, file_name, format, headers,
	total_rows, revision, validated_revision, cleaning_approved, cleaning_skipped,
	rule_toggles, mapping, proposal, update_existing, reimport_rows, summary,
	created_at, updated_at`

func (r *BatchRepo) CreateBatch(ctx context.Context, b *core.ImportBatch) error {
	args, err := batchArgs(b)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO import_batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`, args...)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetBatch(ctx context.Context, tenantID, batchID uuid.UUID) (*core.ImportBatch, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, batchID)

	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

func (r *BatchRepo) UpdateBatch(ctx context.Context, b *core.ImportBatch) error {
	args, err := batchArgs(b)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE import_batches SET
			status = $3, step = $4, file_name = $5, format = $6, headers = $7,
			total_rows = $8, revision = $9, validated_revision = $10,
			cleaning_approved = $11, cleaning_skipped = $12, rule_toggles = $13,
			mapping = $14, proposal = $15, update_existing = $16,
			reimport_rows = $17, summary = $18, created_at = $19, updated_at = $20
		WHERE id = $1 AND tenant_id = $2
	`, args...)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update batch: batch %s not found", b.ID)
	}
	return nil
}

func (r *BatchRepo) ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*core.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

func (r *BatchRepo) DeleteBatch(ctx context.Context, tenantID, batchID uuid.UUID) error {
	// Rows, report, commits and commit records go with the batch via
	// ON DELETE CASCADE. Customer records stay.
	_, err := r.db.Exec(ctx, `
		DELETE FROM import_batches WHERE tenant_id = $1 AND id = $2
	`, tenantID, batchID)
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func (r *BatchRepo) PurgeBatchData(ctx context.Context, batchID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("purge batch data: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM staging_rows WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("purge staging rows: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM cleaning_reports WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("purge cleaning report: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("purge batch data: %w", err)
	}
	return nil
}

func (r *BatchRepo) SaveRows(ctx context.Context, batchID uuid.UUID, rows []*core.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	src := make([][]any, 0, len(rows))
	for _, row := range rows {
		raw, err := json.Marshal(row.Raw)
		if err != nil {
			return fmt.Errorf("marshal row %d: %w", row.Index, err)
		}
		edits, err := marshalJSON(len(row.Edits) > 0, row.Edits)
		if err != nil {
			return err
		}
		rowErrs, err := marshalJSON(len(row.Errors) > 0, row.Errors)
		if err != nil {
			return err
		}
		src = append(src, []any{batchID, row.Index, raw, edits, row.Selected, string(row.Status), rowErrs})
	}

	_, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"staging_rows"},
		[]string{"batch_id", "row_index", "raw", "edits", "selected", "status", "errors"},
		pgx.CopyFromRows(src),
	)
	if err != nil {
		return fmt.Errorf("copy staging rows: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetRows(ctx context.Context, batchID uuid.UUID) ([]*core.StagingRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT batch_id, row_index, raw, edits, selected, status, errors
		FROM staging_rows
		WHERE batch_id = $1
		ORDER BY row_index
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("get rows: %w", err)
	}
	defer rows.Close()

	var out []*core.StagingRow
	for rows.Next() {
		var (
			row                 core.StagingRow
			raw, edits, rowErrs []byte
		)
		if err := rows.Scan(&row.BatchID, &row.Index, &raw, &edits, &row.Selected, &row.Status, &rowErrs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := unmarshalJSON(raw, &row.Raw); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", row.Index, err)
		}
		if err := unmarshalJSON(edits, &row.Edits); err != nil {
			return nil, fmt.Errorf("decode row %d edits: %w", row.Index, err)
		}
		if err := unmarshalJSON(rowErrs, &row.Errors); err != nil {
			return nil, fmt.Errorf("decode row %d errors: %w", row.Index, err)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (r *BatchRepo) UpdateRows(ctx context.Context, batchID uuid.UUID, rows []*core.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		edits, err := marshalJSON(len(row.Edits) > 0, row.Edits)
		if err != nil {
			return err
		}
		rowErrs, err := marshalJSON(len(row.Errors) > 0, row.Errors)
		if err != nil {
			return err
		}
		batch.Queue(`
			UPDATE staging_rows
			SET edits = $3, selected = $4, status = $5, errors = $6
			WHERE batch_id = $1 AND row_index = $2
		`, batchID, row.Index, edits, row.Selected, string(row.Status), rowErrs)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("update rows: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("update rows: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("update rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("update rows: %w", err)
	}
	return nil
}

func (r *BatchRepo) SaveCleaningReport(ctx context.Context, batchID uuid.UUID, report *core.CleaningReport) error {
	changes, err := json.Marshal(report.CellChanges)
	if err != nil {
		return fmt.Errorf("marshal cell changes: %w", err)
	}
	removals, err := json.Marshal(report.RowRemovals)
	if err != nil {
		return fmt.Errorf("marshal row removals: %w", err)
	}
	rules, err := json.Marshal(report.Rules)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO cleaning_reports (batch_id, cell_changes, row_removals, rules, detected_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (batch_id) DO UPDATE SET
			cell_changes = EXCLUDED.cell_changes,
			row_removals = EXCLUDED.row_removals,
			rules = EXCLUDED.rules,
			detected_at = EXCLUDED.detected_at
	`, batchID, changes, removals, rules, report.DetectedAt)
	if err != nil {
		return fmt.Errorf("save cleaning report: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetCleaningReport(ctx context.Context, batchID uuid.UUID) (*core.CleaningReport, error) {
	var (
		report                   core.CleaningReport
		changes, removals, rules []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT batch_id, cell_changes, row_removals, rules, detected_at
		FROM cleaning_reports
		WHERE batch_id = $1
	`, batchID).Scan(&report.BatchID, &changes, &removals, &rules, &report.DetectedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cleaning report: %w", err)
	}

	if err := unmarshalJSON(changes, &report.CellChanges); err != nil {
		return nil, fmt.Errorf("decode cell changes: %w", err)
	}
	if err := unmarshalJSON(removals, &report.RowRemovals); err != nil {
		return nil, fmt.Errorf("decode row removals: %w", err)
	}
	if err := unmarshalJSON(rules, &report.Rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	return &report, nil
}

func (r *BatchRepo) SaveCommit(ctx context.Context, commit *core.BatchCommit) error {
	commitErrs, err := marshalJSON(len(commit.Errors) > 0, commit.Errors)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO batch_commits
			(id, batch_id, created_count, updated_count, skipped_count, failed_count, errors, rolled_back, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, commit.ID, commit.BatchID, commit.Created, commit.Updated, commit.Skipped,
		commit.Failed, commitErrs, commit.RolledBack, commit.CreatedAt)
	if err != nil {
		return fmt.Errorf("save commit: %w", err)
	}
	return nil
}

func (r *BatchRepo) GetCommits(ctx context.Context, batchID uuid.UUID) ([]*core.BatchCommit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, batch_id, created_count, updated_count, skipped_count, failed_count, errors, rolled_back, created_at
		FROM batch_commits
		WHERE batch_id = $1
		ORDER BY created_at
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("get commits: %w", err)
	}
	defer rows.Close()

	var out []*core.BatchCommit
	for rows.Next() {
		var (
			c          core.BatchCommit
			commitErrs []byte
		)
		if err := rows.Scan(&c.ID, &c.BatchID, &c.Created, &c.Updated, &c.Skipped,
			&c.Failed, &commitErrs, &c.RolledBack, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		if err := unmarshalJSON(commitErrs, &c.Errors); err != nil {
			return nil, fmt.Errorf("decode commit errors: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (r *BatchRepo) MarkCommitsRolledBack(ctx context.Context, batchID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE batch_commits SET rolled_back = TRUE WHERE batch_id = $1
	`, batchID)
	if err != nil {
		return fmt.Errorf("mark commits rolled back: %w", err)
	}
	return nil
}

func (r *BatchRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*core.ImportBatch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+batchColumns+`
		FROM import_batches
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`, string(core.StatusStaging), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale batches: %w", err)
	}
	defer rows.Close()
	return collectBatches(rows)
}

// batchArgs flattens a batch into the positional argument list shared by
// CreateBatch and UpdateBatch. Order matches batchColumns.
func batchArgs(b *core.ImportBatch) ([]any, error) {
	headers, err := json.Marshal(b.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	toggles, err := marshalJSON(len(b.RuleToggles) > 0, b.RuleToggles)
	if err != nil {
		return nil, err
	}
	mapping, err := marshalJSON(len(b.Mapping) > 0, b.Mapping)
	if err != nil {
		return nil, err
	}
	proposal, err := marshalJSON(b.Proposal != nil, b.Proposal)
	if err != nil {
		return nil, err
	}
	reimport, err := marshalJSON(len(b.ReimportRows) > 0, b.ReimportRows)
	if err != nil {
		return nil, err
	}
	summary, err := marshalJSON(b.Summary != nil, b.Summary)
	if err != nil {
		return nil, err
	}

	return []any{
		b.ID, b.TenantID, string(b.Status), string(b.Step), b.FileName, b.Format, headers,
		b.TotalRows, b.Revision, b.ValidatedRevision, b.CleaningApproved, b.CleaningSkipped,
		toggles, mapping, proposal, b.UpdateExisting, reimport, summary,
		b.CreatedAt, b.UpdatedAt,
	}, nil
}

func scanBatch(row pgx.Row) (*core.ImportBatch, error) {
	var (
		b                                                      core.ImportBatch
		headers, toggles, mapping, proposal, reimport, summary []byte
	)
	err := row.Scan(
		&b.ID, &b.TenantID, &b.Status, &b.Step, &b.FileName, &b.Format, &headers,
		&b.TotalRows, &b.Revision, &b.ValidatedRevision, &b.CleaningApproved, &b.CleaningSkipped,
		&toggles, &mapping, &proposal, &b.UpdateExisting, &reimport, &summary,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(headers, &b.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if err := unmarshalJSON(toggles, &b.RuleToggles); err != nil {
		return nil, fmt.Errorf("decode rule toggles: %w", err)
	}
	if err := unmarshalJSON(mapping, &b.Mapping); err != nil {
		return nil, fmt.Errorf("decode mapping: %w", err)
	}
	if err := unmarshalJSON(proposal, &b.Proposal); err != nil {
		return nil, fmt.Errorf("decode proposal: %w", err)
	}
	if err := unmarshalJSON(reimport, &b.ReimportRows); err != nil {
		return nil, fmt.Errorf("decode reimport rows: %w", err)
	}
	if err := unmarshalJSON(summary, &b.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &b, nil
}

func collectBatches(rows pgx.Rows) ([]*core.ImportBatch, error) {
	var out []*core.ImportBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
