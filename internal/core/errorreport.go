package core

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// ErrorReportFormat selects the error report encoding.
type ErrorReportFormat string

const (
	ReportCSV  ErrorReportFormat = "csv"
	ReportXLSX ErrorReportFormat = "xlsx"
)

var reportHeader = []string{"Row", "Field", "Value", "Severity", "Problem", "Suggestion", "Stage"}

// reportLine is one problem on one row, from either validation or the last
// commit attempt.
type reportLine struct {
	Row        int
	Field      string
	Value      string
	Severity   string
	Problem    string
	Suggestion string
	Stage      string
}

// ErrorReport renders the batch's row-level problems as a downloadable file:
// every validation warning and error, plus the per-row failures of the last
// commit attempt. Row numbers are 1-based to match the operator's view of
// the source file.
func (s *Service) ErrorReport(ctx context.Context, tenantID, batchID uuid.UUID, format ErrorReportFormat) (string, []byte, error) {
	batch, err := s.getBatch(ctx, tenantID, batchID)
	if err != nil {
		return "", nil, err
	}

	rows, err := s.batches.GetRows(ctx, batchID)
	if err != nil {
		return "", nil, fmt.Errorf("get rows: %w", err)
	}
	commits, err := s.batches.GetCommits(ctx, batchID)
	if err != nil {
		return "", nil, fmt.Errorf("get commits: %w", err)
	}

	lines := collectReportLines(rows, commits)

	stem := strings.TrimSuffix(batch.FileName, filepath.Ext(batch.FileName))
	if stem == "" {
		stem = "import"
	}

	switch format {
	case ReportXLSX:
		data, err := renderReportXLSX(lines)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("feilrapport-%s.xlsx", stem), data, nil
	case ReportCSV, "":
		return fmt.Sprintf("feilrapport-%s.csv", stem), renderReportCSV(lines), nil
	default:
		return "", nil, fmt.Errorf("unsupported file type %q", format)
	}
}

func collectReportLines(rows []*StagingRow, commits []*BatchCommit) []reportLine {
	var lines []reportLine
	for _, row := range rows {
		for _, e := range row.Errors {
			lines = append(lines, reportLine{
				Row:        row.Index + 1,
				Field:      e.Field,
				Value:      e.Value,
				Severity:   string(e.Severity),
				Problem:    e.Message,
				Suggestion: e.Suggestion,
				Stage:      "validation",
			})
		}
	}

	var last *BatchCommit
	for _, c := range commits {
		if !c.RolledBack {
			last = c
		}
	}
	if last != nil {
		for _, e := range last.Errors {
			lines = append(lines, reportLine{
				Row:      e.RowIndex + 1,
				Field:    e.Field,
				Severity: string(ProblemError),
				Problem:  e.Message,
				Stage:    "commit",
			})
		}
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Row < lines[j].Row })
	return lines
}

// renderReportCSV writes the report with a UTF-8 BOM and semicolon
// delimiters, which is what Excel in a Norwegian locale expects.
func renderReportCSV(lines []reportLine) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})

	w := csv.NewWriter(&buf)
	w.Comma = ';'
	_ = w.Write(reportHeader)
	for _, l := range lines {
		_ = w.Write([]string{
			strconv.Itoa(l.Row), l.Field, l.Value, l.Severity, l.Problem, l.Suggestion, l.Stage,
		})
	}
	w.Flush()
	return buf.Bytes()
}

func renderReportXLSX(lines []reportLine) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for col, h := range reportHeader {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write xlsx header: %w", err)
		}
	}
	for i, l := range lines {
		values := []any{l.Row, l.Field, l.Value, l.Severity, l.Problem, l.Suggestion, l.Stage}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write xlsx row: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
