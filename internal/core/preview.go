package core

// preview.go projects staged rows into what commit would actually write.
//
// The projection is read-only and derived on demand: cleaning toggles, the
// confirmed mapping and the operator's saved edits are applied in that
// order, with edits taking final precedence. Nothing here mutates the
// batch, so the preview can be re-rendered freely while the operator pages
// around.
//
// A preview built after the batch changed but before re-validation is
// flagged Stale: row statuses still reflect the previous validation run.

import "sort"

// DefaultPreviewLimit bounds one preview page; MaxPreviewLimit caps what a
// caller may request.
const (
	DefaultPreviewLimit = 50
	MaxPreviewLimit     = 500
)

// BuildPreview renders a page of the batch as it would commit. When the
// batch is in reimport scope (a committed batch with failed rows queued),
// only those rows are shown.
func BuildPreview(batch *ImportBatch, report *CleaningReport, rows []*StagingRow, opts PreviewOptions) *PreviewPage {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}
	if limit > MaxPreviewLimit {
		limit = MaxPreviewLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	byIndex := make(map[int]*StagingRow, len(rows))
	for _, row := range rows {
		byIndex[row.Index] = row
	}

	var reimport map[int]bool
	if batch.Status == StatusCommitted && len(batch.ReimportRows) > 0 {
		reimport = make(map[int]bool, len(batch.ReimportRows))
		for _, idx := range batch.ReimportRows {
			reimport[idx] = true
		}
	}

	effective := EffectiveRows(batch, report, rows)
	projected := make([]PreviewRow, 0, len(effective))
	for _, eff := range effective {
		row := byIndex[eff.Index]
		if row == nil {
			continue
		}
		if reimport != nil && !reimport[eff.Index] {
			continue
		}
		if opts.ShowErrors && row.Status != RowWarning && row.Status != RowInvalid {
			continue
		}
		projected = append(projected, projectRow(batch, row, eff, opts.Mode))
	}
	sort.Slice(projected, func(i, j int) bool { return projected[i].Index < projected[j].Index })

	page := &PreviewPage{
		TotalRows: len(projected),
		Stale:     batch.Revision != batch.ValidatedRevision,
		Limit:     limit,
		Offset:    offset,
	}
	if offset < len(projected) {
		end := offset + limit
		if end > len(projected) {
			end = len(projected)
		}
		page.Rows = projected[offset:end]
	} else {
		page.Rows = []PreviewRow{}
	}
	return page
}

// projectRow shapes one staged row for display: mapped fields keyed by field
// name, custom columns kept verbatim, raw values alongside in before/after
// mode.
func projectRow(batch *ImportBatch, row *StagingRow, eff EffectiveRow, mode PreviewMode) PreviewRow {
	values := overlayEdits(batch.Mapping, row, eff.Values)

	out := PreviewRow{
		Index:    row.Index,
		Status:   row.Status,
		Selected: row.Selected,
		Errors:   row.Errors,
	}
	out.Values = make(map[string]string)
	for _, m := range batch.Mapping {
		switch m.Action {
		case ActionMap:
			out.Values[m.Field] = values[m.Column]
			if mode == PreviewBeforeAfter && row.Raw[m.Column] != values[m.Column] {
				if out.Before == nil {
					out.Before = make(map[string]string)
				}
				out.Before[m.Field] = row.Raw[m.Column]
			}
		case ActionCustom:
			if out.Custom == nil {
				out.Custom = make(map[string]string)
			}
			out.Custom[m.Column] = values[m.Column]
		}
	}
	for field := range row.Edits {
		out.Edited = append(out.Edited, field)
	}
	sort.Strings(out.Edited)
	return out
}
