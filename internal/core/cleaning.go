package core

// cleaning.go implements the data cleaning engine.
//
// Detection runs exactly once, at upload. It walks every cell and row,
// records each change a rule would make, and stores the result as a
// CleaningReport. Toggling a rule on or off afterwards never re-runs
// detection; it only filters the recorded changes:
//
//   - Cells: a cell's recorded changes form a chain in rule priority order.
//     The effective value is the Cleaned value of the last enabled rule in
//     the chain, or the raw value when no enabled rule touched the cell.
//   - Removals: a removed row is attributed to the first rule that matched
//     it. The row stays removed while that rule is enabled and is restored
//     when it is disabled, regardless of other row rules.
//
// This keeps toggling cheap and deterministic: flipping a rule off and back
// on always restores the identical result.

import (
	"fmt"
	"strings"
)

// cleaningCatalog lists every rule in priority order. Cell rules run before
// row rules; row rules see fully cleaned cell values.
var cleaningCatalog = []CleaningRule{
	{ID: RuleTrimWhitespace, Category: RuleCells, Description: "Trim and collapse whitespace", DefaultEnabled: true},
	{ID: RuleNormalizeEmail, Category: RuleCells, Description: "Lowercase email addresses and strip mailto: prefixes", DefaultEnabled: true},
	{ID: RuleNormalizePhone, Category: RuleCells, Description: "Rewrite phone numbers to +47 form", DefaultEnabled: true},
	{ID: RuleNormalizePostal, Category: RuleCells, Description: "Zero-pad postal codes to four digits", DefaultEnabled: true},
	{ID: RuleNormalizeDate, Category: RuleCells, Description: "Rewrite dates to YYYY-MM-DD", DefaultEnabled: true},
	{ID: RuleDropEmptyRows, Category: RuleRows, Description: "Drop rows with no values", DefaultEnabled: true},
	{ID: RuleDropHeaderEchoes, Category: RuleRows, Description: "Drop rows that repeat the header", DefaultEnabled: true},
	{ID: RuleDropDuplicateRows, Category: RuleRows, Description: "Drop exact duplicates of an earlier row", DefaultEnabled: true},
}

// DefaultRules returns a fresh copy of the rule catalog.
func DefaultRules() []CleaningRule {
	rules := make([]CleaningRule, len(cleaningCatalog))
	copy(rules, cleaningCatalog)
	for i := range rules {
		rules[i].Enabled = rules[i].DefaultEnabled
	}
	return rules
}

// DetectCleaning runs every cleaning rule over the staged rows and records
// what each rule would change. It is called once per batch, at upload time.
func DetectCleaning(headers []string, rows []*StagingRow) *CleaningReport {
	report := &CleaningReport{Rules: DefaultRules()}

	colTypes := make(map[string]FieldType, len(headers))
	for _, h := range headers {
		colTypes[h] = sniffColumnType(h, rows)
	}

	// Cell rules first. Each rule is applied to the output of the previous
	// one, and every change is recorded in chain order.
	cleaned := make([]map[string]string, len(rows))
	for i, row := range rows {
		values := make(map[string]string, len(row.Raw))
		for _, col := range headers {
			value := row.Raw[col]
			for _, rule := range cleaningCatalog {
				if rule.Category != RuleCells {
					continue
				}
				out := applyCellRule(rule.ID, colTypes[col], value)
				if out == value {
					continue
				}
				report.CellChanges = append(report.CellChanges, CellChange{
					RowIndex: row.Index,
					Column:   col,
					RuleID:   rule.ID,
					Original: value,
					Cleaned:  out,
				})
				value = out
			}
			values[col] = value
		}
		cleaned[i] = values
	}

	// Row rules on the cleaned values. A row is attributed to the first rule
	// that matches it; removed rows never anchor duplicate detection.
	headerKey := rowKey(headers, headerValues(headers))
	seen := make(map[string]int)
	for i, row := range rows {
		values := cleaned[i]
		switch {
		case isEmptyValues(headers, values):
			report.RowRemovals = append(report.RowRemovals, RowRemoval{
				RowIndex: row.Index,
				RuleID:   RuleDropEmptyRows,
				Reason:   "row is empty",
			})
		case rowKey(headers, values) == headerKey:
			report.RowRemovals = append(report.RowRemovals, RowRemoval{
				RowIndex: row.Index,
				RuleID:   RuleDropHeaderEchoes,
				Reason:   "row repeats the header",
			})
		default:
			key := rowKey(headers, values)
			if first, ok := seen[key]; ok {
				report.RowRemovals = append(report.RowRemovals, RowRemoval{
					RowIndex: row.Index,
					RuleID:   RuleDropDuplicateRows,
					Reason:   fmt.Sprintf("duplicate of row %d", first+1),
				})
			} else {
				seen[key] = row.Index
			}
		}
	}

	for i := range report.Rules {
		report.Rules[i].AffectedCount = report.countFor(report.Rules[i].ID)
	}
	return report
}

func (r *CleaningReport) countFor(id RuleID) int {
	n := 0
	for _, c := range r.CellChanges {
		if c.RuleID == id {
			n++
		}
	}
	for _, rm := range r.RowRemovals {
		if rm.RuleID == id {
			n++
		}
	}
	return n
}

// RulesWithToggles returns the rule catalog with Enabled reflecting the
// batch's toggle overrides on top of the defaults.
func (r *CleaningReport) RulesWithToggles(toggles map[RuleID]bool) []CleaningRule {
	rules := make([]CleaningRule, len(r.Rules))
	copy(rules, r.Rules)
	for i := range rules {
		if v, ok := toggles[rules[i].ID]; ok {
			rules[i].Enabled = v
		} else {
			rules[i].Enabled = rules[i].DefaultEnabled
		}
	}
	return rules
}

// applyCellRule applies one cell rule to a value. Type-specific rules only
// fire on columns sniffed as that type so a stray @ in a name column is
// left alone.
func applyCellRule(id RuleID, colType FieldType, value string) string {
	if value == "" {
		return value
	}
	switch id {
	case RuleTrimWhitespace:
		return CollapseWhitespace(value)
	case RuleNormalizeEmail:
		if colType == FieldEmail {
			return NormalizeEmail(value)
		}
	case RuleNormalizePhone:
		if colType == FieldPhone {
			return NormalizePhone(value)
		}
	case RuleNormalizePostal:
		if colType == FieldPostal {
			return NormalizePostal(value)
		}
	case RuleNormalizeDate:
		if colType == FieldDate {
			return NormalizeDate(value)
		}
	}
	return value
}

// sniffColumnType guesses a column's content type for cleaning purposes.
// The header alias catalog wins; otherwise a sample of the values decides.
// Mapping may later assign the column differently, but cleaning detection
// has to run before mapping is confirmed.
func sniffColumnType(column string, rows []*StagingRow) FieldType {
	if f := fieldByAlias(column); f != nil {
		return f.Type
	}

	const sampleSize = 25
	var total, emails, phones, postals, dates int
	for _, row := range rows {
		v := strings.TrimSpace(row.Raw[column])
		if v == "" {
			continue
		}
		total++
		switch {
		case strings.Contains(v, "@"):
			emails++
		case looksLikeDate(v):
			dates++
		case looksLikePhone(v):
			phones++
		case isDigits(v) && len(v) >= 3 && len(v) <= 4:
			postals++
		}
		if total >= sampleSize {
			break
		}
	}
	if total == 0 {
		return FieldString
	}
	half := total/2 + 1
	switch {
	case emails >= half:
		return FieldEmail
	case dates >= half:
		return FieldDate
	case phones >= half:
		return FieldPhone
	case postals >= half:
		return FieldPostal
	}
	return FieldString
}

func looksLikeDate(v string) bool {
	_, err := ParseDate(v)
	return err == nil
}

func looksLikePhone(v string) bool {
	stripped := phoneJunk.ReplaceAllString(v, "")
	stripped = strings.TrimPrefix(stripped, "+")
	if !isDigits(stripped) {
		return false
	}
	return len(stripped) >= 8 && len(stripped) <= 14
}

// =========================================================================
// Toggle application
// =========================================================================

// EffectiveRow carries the post-cleaning values for one staged row.
type EffectiveRow struct {
	Index  int
	Values map[string]string
}

type cleaningIndex struct {
	cells    map[int]map[string][]CellChange
	removals map[int]RowRemoval
}

func indexReport(r *CleaningReport) *cleaningIndex {
	idx := &cleaningIndex{
		cells:    make(map[int]map[string][]CellChange),
		removals: make(map[int]RowRemoval, len(r.RowRemovals)),
	}
	for _, c := range r.CellChanges {
		byCol := idx.cells[c.RowIndex]
		if byCol == nil {
			byCol = make(map[string][]CellChange)
			idx.cells[c.RowIndex] = byCol
		}
		byCol[c.Column] = append(byCol[c.Column], c)
	}
	for _, rm := range r.RowRemovals {
		idx.removals[rm.RowIndex] = rm
	}
	return idx
}

// enabledRules resolves the effective enabled set: rule defaults overridden
// by the batch's explicit toggles.
func enabledRules(report *CleaningReport, toggles map[RuleID]bool) map[RuleID]bool {
	enabled := make(map[RuleID]bool, len(report.Rules))
	for _, rule := range report.Rules {
		enabled[rule.ID] = rule.DefaultEnabled
	}
	for id, v := range toggles {
		enabled[id] = v
	}
	return enabled
}

// EffectiveRows applies the cleaning report to the staged rows under the
// batch's current toggles. Rows removed by an enabled row rule are dropped;
// cell values come from the last enabled rule that touched them. When the
// operator skipped cleaning, the raw rows pass through untouched.
func EffectiveRows(batch *ImportBatch, report *CleaningReport, rows []*StagingRow) []EffectiveRow {
	out := make([]EffectiveRow, 0, len(rows))

	if batch.CleaningSkipped || report == nil {
		for _, row := range rows {
			values := make(map[string]string, len(row.Raw))
			for col, v := range row.Raw {
				values[col] = v
			}
			out = append(out, EffectiveRow{Index: row.Index, Values: values})
		}
		return out
	}

	enabled := enabledRules(report, batch.RuleToggles)
	idx := indexReport(report)

	for _, row := range rows {
		if rm, ok := idx.removals[row.Index]; ok && enabled[rm.RuleID] {
			continue
		}
		values := make(map[string]string, len(row.Raw))
		for col, raw := range row.Raw {
			values[col] = effectiveCell(idx, enabled, row.Index, col, raw)
		}
		out = append(out, EffectiveRow{Index: row.Index, Values: values})
	}
	return out
}

// effectiveCell walks a cell's recorded change chain and returns the Cleaned
// value of the last enabled rule, or the raw value when none apply.
func effectiveCell(idx *cleaningIndex, enabled map[RuleID]bool, rowIndex int, column, raw string) string {
	byCol, ok := idx.cells[rowIndex]
	if !ok {
		return raw
	}
	value := raw
	for _, c := range byCol[column] {
		if enabled[c.RuleID] {
			value = c.Cleaned
		}
	}
	return value
}

// RemovedRowIndexes returns the set of rows an enabled row rule removes.
func RemovedRowIndexes(report *CleaningReport, toggles map[RuleID]bool) map[int]bool {
	if report == nil {
		return nil
	}
	enabled := enabledRules(report, toggles)
	removed := make(map[int]bool)
	for _, rm := range report.RowRemovals {
		if enabled[rm.RuleID] {
			removed[rm.RowIndex] = true
		}
	}
	return removed
}

func isEmptyValues(headers []string, values map[string]string) bool {
	for _, col := range headers {
		if strings.TrimSpace(values[col]) != "" {
			return false
		}
	}
	return true
}

// rowKey folds a row's values into a comparison key for duplicate and
// header-echo detection.
func rowKey(headers []string, values map[string]string) string {
	parts := make([]string, len(headers))
	for i, col := range headers {
		parts[i] = foldForKey(values[col])
	}
	return strings.Join(parts, "\x1f")
}

func headerValues(headers []string) map[string]string {
	values := make(map[string]string, len(headers))
	for _, h := range headers {
		values[h] = h
	}
	return values
}
