package core

import (
	"strings"
	"testing"
)

func stagingRows(headers []string, cells ...[]string) []*StagingRow {
	rows := make([]*StagingRow, len(cells))
	for i, rec := range cells {
		raw := make(map[string]string, len(headers))
		for j, h := range headers {
			if j < len(rec) {
				raw[h] = rec[j]
			} else {
				raw[h] = ""
			}
		}
		rows[i] = &StagingRow{Index: i, Raw: raw, Selected: true, Status: RowUnchecked}
	}
	return rows
}

func TestDetectCleaning_CellChain(t *testing.T) {
	headers := []string{"navn", "epost"}
	rows := stagingRows(headers,
		[]string{"  Ola   Nordmann ", " Ola@Example.COM "},
	)

	report := DetectCleaning(headers, rows)

	var emailChain []CellChange
	for _, c := range report.CellChanges {
		if c.Column == "epost" {
			emailChain = append(emailChain, c)
		}
	}
	if len(emailChain) != 2 {
		t.Fatalf("epost chain length = %d, want 2: %+v", len(emailChain), emailChain)
	}
	if emailChain[0].RuleID != RuleTrimWhitespace || emailChain[0].Cleaned != "Ola@Example.COM" {
		t.Errorf("first link = %+v", emailChain[0])
	}
	if emailChain[1].RuleID != RuleNormalizeEmail || emailChain[1].Cleaned != "ola@example.com" {
		t.Errorf("second link = %+v", emailChain[1])
	}
	// Each link starts where the previous one ended.
	if emailChain[1].Original != emailChain[0].Cleaned {
		t.Errorf("chain broken: %q -> %q", emailChain[0].Cleaned, emailChain[1].Original)
	}
}

func TestDetectCleaning_TypedRules(t *testing.T) {
	headers := []string{"navn", "tlf", "postnr", "kunde siden"}
	rows := stagingRows(headers,
		[]string{"Ola", "912 34 567", "566", "15.03.2021"},
	)

	report := DetectCleaning(headers, rows)

	want := map[string]struct {
		rule    RuleID
		cleaned string
	}{
		"tlf":         {RuleNormalizePhone, "+4791234567"},
		"postnr":      {RuleNormalizePostal, "0566"},
		"kunde siden": {RuleNormalizeDate, "2021-03-15"},
	}

	for col, w := range want {
		found := false
		for _, c := range report.CellChanges {
			if c.Column == col && c.RuleID == w.rule {
				found = true
				if c.Cleaned != w.cleaned {
					t.Errorf("%s cleaned = %q, want %q", col, c.Cleaned, w.cleaned)
				}
			}
		}
		if !found {
			t.Errorf("no %s change recorded for column %s", w.rule, col)
		}
	}
}

// A stray @ in a name column must not trigger email normalization: type
// rules only fire on columns sniffed as that type.
func TestDetectCleaning_TypeRulesRespectColumnType(t *testing.T) {
	headers := []string{"navn"}
	rows := stagingRows(headers, []string{"Butikken @ Torget"})

	report := DetectCleaning(headers, rows)
	for _, c := range report.CellChanges {
		if c.RuleID == RuleNormalizeEmail {
			t.Errorf("email rule fired on name column: %+v", c)
		}
	}
}

func TestDetectCleaning_RowRemovals(t *testing.T) {
	headers := []string{"navn", "adresse"}
	rows := stagingRows(headers,
		[]string{"Ola Nordmann", "Storgata 1"},
		[]string{"", "  "},                     // empty
		[]string{"navn", "adresse"},            // header echo
		[]string{"Ola  Nordmann", "Storgata 1"}, // duplicate of row 0 after cleaning
		[]string{"Kari Hansen", "Elvegata 2"},
	)

	report := DetectCleaning(headers, rows)

	if len(report.RowRemovals) != 3 {
		t.Fatalf("removals = %+v, want 3", report.RowRemovals)
	}

	byIndex := make(map[int]RowRemoval)
	for _, rm := range report.RowRemovals {
		byIndex[rm.RowIndex] = rm
	}

	if rm := byIndex[1]; rm.RuleID != RuleDropEmptyRows {
		t.Errorf("row 1 removal = %+v, want drop_empty_rows", rm)
	}
	if rm := byIndex[2]; rm.RuleID != RuleDropHeaderEchoes {
		t.Errorf("row 2 removal = %+v, want drop_header_echoes", rm)
	}
	rm := byIndex[3]
	if rm.RuleID != RuleDropDuplicateRows {
		t.Errorf("row 3 removal = %+v, want drop_duplicate_rows", rm)
	}
	if !strings.Contains(rm.Reason, "duplicate of row 1") {
		t.Errorf("row 3 reason = %q", rm.Reason)
	}
}

// Two empty rows are both attributed to the empty-row rule; an empty row
// never counts as a duplicate of another empty row.
func TestDetectCleaning_EmptyRowsAreNotDuplicates(t *testing.T) {
	headers := []string{"navn", "adresse"}
	rows := stagingRows(headers,
		[]string{"Ola", "Storgata 1"},
		[]string{"", ""},
		[]string{"", ""},
	)

	report := DetectCleaning(headers, rows)
	if len(report.RowRemovals) != 2 {
		t.Fatalf("removals = %+v", report.RowRemovals)
	}
	for _, rm := range report.RowRemovals {
		if rm.RuleID != RuleDropEmptyRows {
			t.Errorf("removal = %+v, want drop_empty_rows", rm)
		}
	}
}

func TestDetectCleaning_AffectedCounts(t *testing.T) {
	headers := []string{"navn", "epost"}
	rows := stagingRows(headers,
		[]string{" Ola ", "OLA@X.NO"},
		[]string{" Kari ", "kari@y.no"},
		[]string{"", ""},
	)

	report := DetectCleaning(headers, rows)

	counts := make(map[RuleID]int)
	for _, r := range report.Rules {
		counts[r.ID] = r.AffectedCount
	}
	if counts[RuleTrimWhitespace] != 2 {
		t.Errorf("trim count = %d, want 2", counts[RuleTrimWhitespace])
	}
	if counts[RuleNormalizeEmail] != 1 {
		t.Errorf("email count = %d, want 1", counts[RuleNormalizeEmail])
	}
	if counts[RuleDropEmptyRows] != 1 {
		t.Errorf("empty-row count = %d, want 1", counts[RuleDropEmptyRows])
	}
}

func TestEffectiveRows_LastEnabledWins(t *testing.T) {
	headers := []string{"epost"}
	rows := stagingRows(headers, []string{" Ola@Example.COM "})
	report := DetectCleaning(headers, rows)

	tests := []struct {
		name    string
		toggles map[RuleID]bool
		want    string
	}{
		{"defaults", nil, "ola@example.com"},
		{"email off", map[RuleID]bool{RuleNormalizeEmail: false}, "Ola@Example.COM"},
		{"both off", map[RuleID]bool{RuleNormalizeEmail: false, RuleTrimWhitespace: false}, " Ola@Example.COM "},
		{"re-enabled", map[RuleID]bool{RuleNormalizeEmail: true}, "ola@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := &ImportBatch{RuleToggles: tt.toggles}
			effective := EffectiveRows(batch, report, rows)
			if len(effective) != 1 {
				t.Fatalf("effective rows = %d, want 1", len(effective))
			}
			if got := effective[0].Values["epost"]; got != tt.want {
				t.Errorf("epost = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEffectiveRows_ToggleRestoresRemovedRow(t *testing.T) {
	headers := []string{"navn", "adresse"}
	rows := stagingRows(headers,
		[]string{"Ola", "Storgata 1"},
		[]string{"Ola", "Storgata 1"},
	)
	report := DetectCleaning(headers, rows)

	batch := &ImportBatch{}
	if got := len(EffectiveRows(batch, report, rows)); got != 1 {
		t.Fatalf("with defaults: %d rows, want 1", got)
	}

	batch.RuleToggles = map[RuleID]bool{RuleDropDuplicateRows: false}
	if got := len(EffectiveRows(batch, report, rows)); got != 2 {
		t.Errorf("rule disabled: %d rows, want 2", got)
	}

	// Flipping back on removes it again.
	batch.RuleToggles = map[RuleID]bool{RuleDropDuplicateRows: true}
	if got := len(EffectiveRows(batch, report, rows)); got != 1 {
		t.Errorf("rule re-enabled: %d rows, want 1", got)
	}
}

func TestEffectiveRows_CleaningSkipped(t *testing.T) {
	headers := []string{"epost"}
	rows := stagingRows(headers, []string{" Ola@Example.COM "})
	report := DetectCleaning(headers, rows)

	batch := &ImportBatch{CleaningSkipped: true}
	effective := EffectiveRows(batch, report, rows)
	if got := effective[0].Values["epost"]; got != " Ola@Example.COM " {
		t.Errorf("skipped cleaning altered value: %q", got)
	}
}

func TestRemovedRowIndexes(t *testing.T) {
	headers := []string{"navn", "adresse"}
	rows := stagingRows(headers,
		[]string{"Ola", "Storgata 1"},
		[]string{"", ""},
		[]string{"Ola", "Storgata 1"},
	)
	report := DetectCleaning(headers, rows)

	removed := RemovedRowIndexes(report, nil)
	if !removed[1] || !removed[2] || removed[0] {
		t.Errorf("removed = %v", removed)
	}

	removed = RemovedRowIndexes(report, map[RuleID]bool{RuleDropEmptyRows: false})
	if removed[1] {
		t.Error("empty row still removed with rule disabled")
	}
	if !removed[2] {
		t.Error("duplicate restore leaked from unrelated toggle")
	}

	if RemovedRowIndexes(nil, nil) != nil {
		t.Error("nil report should give nil set")
	}
}

func TestRulesWithToggles(t *testing.T) {
	headers := []string{"navn"}
	rows := stagingRows(headers, []string{"Ola"})
	report := DetectCleaning(headers, rows)

	rules := report.RulesWithToggles(map[RuleID]bool{RuleTrimWhitespace: false})
	for _, r := range rules {
		switch r.ID {
		case RuleTrimWhitespace:
			if r.Enabled {
				t.Error("toggled-off rule still enabled")
			}
		default:
			if r.Enabled != r.DefaultEnabled {
				t.Errorf("rule %s enabled = %v, want default %v", r.ID, r.Enabled, r.DefaultEnabled)
			}
		}
	}
}

func TestSniffColumnType(t *testing.T) {
	tests := []struct {
		name   string
		header string
		values []string
		want   FieldType
	}{
		{"alias wins over values", "epost", []string{"Ola", "Kari"}, FieldEmail},
		{"email majority", "kontakt", []string{"ola@x.no", "kari@y.no", "per@z.no"}, FieldEmail},
		{"phone majority", "nummer", []string{"912 34 567", "98765432"}, FieldPhone},
		{"postal majority", "sted-kode", []string{"0566", "5003", "123"}, FieldPostal},
		{"date majority", "dato-kolonne", []string{"15.03.2021", "2021-01-01"}, FieldDate},
		{"mixed defaults to string", "diverse", []string{"ola@x.no", "Storgata 1", "tekst"}, FieldString},
		{"empty column", "tom", []string{"", ""}, FieldString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cells := make([][]string, len(tt.values))
			for i, v := range tt.values {
				cells[i] = []string{v}
			}
			rows := stagingRows([]string{tt.header}, cells...)
			if got := sniffColumnType(tt.header, rows); got != tt.want {
				t.Errorf("sniffColumnType(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	if len(rules) != 8 {
		t.Fatalf("len(DefaultRules()) = %d, want 8", len(rules))
	}
	for _, r := range rules {
		if !r.Enabled {
			t.Errorf("rule %s not enabled by default", r.ID)
		}
	}

	// Cell rules come before row rules so row rules see cleaned values.
	sawRowRule := false
	for _, r := range rules {
		if r.Category == RuleRows {
			sawRowRule = true
		} else if sawRowRule {
			t.Fatalf("cell rule %s after a row rule", r.ID)
		}
	}
}
