package core

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func previewBatch() *ImportBatch {
	return &ImportBatch{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		Status:            StatusStaging,
		Step:              StepPreview,
		Revision:          2,
		ValidatedRevision: 2,
		Mapping: []ColumnMapping{
			{Column: "Navn", Field: FieldNavn, Action: ActionMap, Required: true, Confirmed: true},
			{Column: "Adresse", Field: FieldAdresse, Action: ActionMap, Required: true, Confirmed: true},
			{Column: "Internkode", Action: ActionCustom},
			{Column: "Skrot", Action: ActionIgnore},
		},
	}
}

func previewRows() []*StagingRow {
	return []*StagingRow{
		{Index: 0, Selected: true, Status: RowValid,
			Raw: map[string]string{"Navn": "Ola Nordmann", "Adresse": "Storgata 1", "Internkode": "A-7", "Skrot": "x"}},
		{Index: 1, Selected: true, Status: RowInvalid,
			Errors: []FieldError{{Field: FieldNavn, Severity: ProblemError, Message: "required field is empty", Code: CodeRequiredMissing}},
			Raw:    map[string]string{"Navn": "", "Adresse": "Lilleveien 2", "Internkode": "", "Skrot": ""}},
		{Index: 2, Selected: false, Status: RowWarning,
			Errors: []FieldError{{Field: FieldEpost, Severity: ProblemWarning, Message: "email address looks invalid", Code: CodeBadEmail}},
			Raw:    map[string]string{"Navn": "Kari Hansen", "Adresse": "Bakken 3", "Internkode": "B-1", "Skrot": ""}},
	}
}

func TestBuildPreview_Projection(t *testing.T) {
	page := BuildPreview(previewBatch(), nil, previewRows(), PreviewOptions{})

	if page.TotalRows != 3 || len(page.Rows) != 3 {
		t.Fatalf("page = %d total, %d rows; want 3 and 3", page.TotalRows, len(page.Rows))
	}
	if page.Stale {
		t.Error("page marked stale although validation is current")
	}
	if page.Limit != DefaultPreviewLimit || page.Offset != 0 {
		t.Errorf("limit/offset = %d/%d, want defaults", page.Limit, page.Offset)
	}

	row := page.Rows[0]
	if row.Values[FieldNavn] != "Ola Nordmann" || row.Values[FieldAdresse] != "Storgata 1" {
		t.Errorf("row 0 values = %v, want mapped fields keyed by field name", row.Values)
	}
	if row.Custom["Internkode"] != "A-7" {
		t.Errorf("row 0 custom = %v, want the custom column kept verbatim", row.Custom)
	}
	if _, ok := row.Values["Skrot"]; ok {
		t.Error("ignored column leaked into values")
	}
	if _, ok := row.Custom["Skrot"]; ok {
		t.Error("ignored column leaked into custom")
	}
	if row.Before != nil {
		t.Errorf("plain mode row carries before values: %v", row.Before)
	}

	if got := page.Rows[1]; got.Status != RowInvalid || len(got.Errors) != 1 {
		t.Errorf("row 1 = %s with %d errors, want the validation state carried", got.Status, len(got.Errors))
	}
	if page.Rows[2].Selected {
		t.Error("row 2 selection not carried")
	}
}

func TestBuildPreview_Pagination(t *testing.T) {
	batch := previewBatch()
	var rows []*StagingRow
	for i := 0; i < 5; i++ {
		rows = append(rows, &StagingRow{
			Index: i, Selected: true, Status: RowValid,
			Raw: map[string]string{"Navn": fmt.Sprintf("Kunde %d", i), "Adresse": "Storgata 1"},
		})
	}

	tests := []struct {
		name        string
		opts        PreviewOptions
		wantIndexes []int
		wantLimit   int
	}{
		{"first page", PreviewOptions{Limit: 2}, []int{0, 1}, 2},
		{"second page", PreviewOptions{Limit: 2, Offset: 2}, []int{2, 3}, 2},
		{"short last page", PreviewOptions{Limit: 2, Offset: 4}, []int{4}, 2},
		{"offset past the end", PreviewOptions{Limit: 2, Offset: 10}, nil, 2},
		{"zero limit falls back", PreviewOptions{}, []int{0, 1, 2, 3, 4}, DefaultPreviewLimit},
		{"limit capped", PreviewOptions{Limit: 9999}, []int{0, 1, 2, 3, 4}, MaxPreviewLimit},
		{"negative offset clamped", PreviewOptions{Limit: 2, Offset: -3}, []int{0, 1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := BuildPreview(batch, nil, rows, tt.opts)
			if page.TotalRows != 5 {
				t.Errorf("total = %d, want 5 regardless of paging", page.TotalRows)
			}
			if page.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", page.Limit, tt.wantLimit)
			}
			if len(page.Rows) != len(tt.wantIndexes) {
				t.Fatalf("got %d rows, want %d", len(page.Rows), len(tt.wantIndexes))
			}
			for i, idx := range tt.wantIndexes {
				if page.Rows[i].Index != idx {
					t.Errorf("row %d index = %d, want %d", i, page.Rows[i].Index, idx)
				}
			}
			if page.Rows == nil {
				t.Error("rows must be an empty slice, never nil")
			}
		})
	}
}

func TestBuildPreview_ShowErrorsFilter(t *testing.T) {
	page := BuildPreview(previewBatch(), nil, previewRows(), PreviewOptions{ShowErrors: true})

	if page.TotalRows != 2 || len(page.Rows) != 2 {
		t.Fatalf("page = %d total, %d rows; want only the flagged rows", page.TotalRows, len(page.Rows))
	}
	if page.Rows[0].Index != 1 || page.Rows[1].Index != 2 {
		t.Errorf("rows = %d, %d; want indexes 1 and 2", page.Rows[0].Index, page.Rows[1].Index)
	}
}

func TestBuildPreview_StaleFlag(t *testing.T) {
	batch := previewBatch()
	batch.Revision = 3

	page := BuildPreview(batch, nil, previewRows(), PreviewOptions{})
	if !page.Stale {
		t.Error("batch changed after validation, page must be flagged stale")
	}
}

func TestBuildPreview_BeforeAfter(t *testing.T) {
	headers := []string{"Navn", "Adresse", "E-post"}
	rows := []*StagingRow{
		{Index: 0, Selected: true, Status: RowValid,
			Raw: map[string]string{"Navn": "Ola  Nordmann", "Adresse": "Storgata 1", "E-post": "OLA@Example.COM"}},
	}
	report := DetectCleaning(headers, rows)

	batch := previewBatch()
	batch.Mapping = []ColumnMapping{
		{Column: "Navn", Field: FieldNavn, Action: ActionMap, Required: true, Confirmed: true},
		{Column: "Adresse", Field: FieldAdresse, Action: ActionMap, Required: true, Confirmed: true},
		{Column: "E-post", Field: FieldEpost, Action: ActionMap},
	}

	page := BuildPreview(batch, report, rows, PreviewOptions{Mode: PreviewBeforeAfter})
	row := page.Rows[0]

	if row.Values[FieldNavn] != "Ola Nordmann" || row.Values[FieldEpost] != "ola@example.com" {
		t.Errorf("values = %v, want cleaned values", row.Values)
	}
	if row.Before[FieldNavn] != "Ola  Nordmann" || row.Before[FieldEpost] != "OLA@Example.COM" {
		t.Errorf("before = %v, want the raw values for transformed fields", row.Before)
	}
	if _, ok := row.Before[FieldAdresse]; ok {
		t.Error("untouched field must not appear in before")
	}
}

func TestBuildPreview_Edits(t *testing.T) {
	batch := previewBatch()
	rows := previewRows()
	rows[0].Edits = map[string]string{FieldNavn: "Ola Hansen", FieldAdresse: "Nygata 8"}

	page := BuildPreview(batch, nil, rows, PreviewOptions{Mode: PreviewBeforeAfter})
	row := page.Rows[0]

	if row.Values[FieldNavn] != "Ola Hansen" {
		t.Errorf("navn = %q, want the edit to win", row.Values[FieldNavn])
	}
	if len(row.Edited) != 2 || row.Edited[0] != FieldAdresse || row.Edited[1] != FieldNavn {
		t.Errorf("edited = %v, want the edited fields sorted", row.Edited)
	}
	if row.Before[FieldNavn] != "Ola Nordmann" {
		t.Errorf("before navn = %q, want the raw value", row.Before[FieldNavn])
	}
}

func TestBuildPreview_ReimportScope(t *testing.T) {
	batch := previewBatch()
	batch.Status = StatusCommitted
	batch.ReimportRows = []int{2}

	page := BuildPreview(batch, nil, previewRows(), PreviewOptions{})
	if page.TotalRows != 1 || len(page.Rows) != 1 {
		t.Fatalf("page = %d total, %d rows; want only the reimport scope", page.TotalRows, len(page.Rows))
	}
	if page.Rows[0].Index != 2 {
		t.Errorf("row index = %d, want 2", page.Rows[0].Index)
	}
}

func TestBuildPreview_RemovedRowsExcluded(t *testing.T) {
	headers := []string{"Navn", "Adresse"}
	rows := []*StagingRow{
		{Index: 0, Selected: true, Status: RowValid, Raw: map[string]string{"Navn": "Ola Nordmann", "Adresse": "Storgata 1"}},
		{Index: 1, Selected: true, Status: RowUnchecked, Raw: map[string]string{"Navn": "", "Adresse": ""}},
	}
	report := DetectCleaning(headers, rows)

	batch := previewBatch()
	batch.Mapping = batch.Mapping[:2]

	page := BuildPreview(batch, report, rows, PreviewOptions{})
	if page.TotalRows != 1 || page.Rows[0].Index != 0 {
		t.Fatalf("page = %+v, want the empty row dropped", page)
	}
}
