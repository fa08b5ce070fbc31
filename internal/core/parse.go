package core

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ParsedFile is the decoded roster before any cleaning or mapping.
type ParsedFile struct {
	Headers []string
	Rows    []map[string]string
	Format  string
}

// ParseRoster decodes an uploaded roster file (CSV or XLSX) into headers and
// raw row maps. Empty data rows are kept: the cleaning engine detects and
// removes them so the operator sees why they disappeared.
func ParseRoster(fileName string, data []byte, maxRows int) (*ParsedFile, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt", "":
		return parseCSVData(data, maxRows)
	case ".xlsx":
		return parseXLSXData(data, maxRows)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(fileName))
	}
}

func parseCSVData(data []byte, maxRows int) (*ParsedFile, error) {
	reader := csv.NewReader(decodeReader(bytes.NewReader(data)))
	reader.Comma = sniffDelimiter(stripBOM(data))
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	return buildParsedFile(records, maxRows, "csv")
}

func parseXLSXData(data []byte, maxRows int) (*ParsedFile, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("parse xlsx: workbook has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}

	return buildParsedFile(records, maxRows, "xlsx")
}

// buildParsedFile locates the header row (first non-empty row) and converts
// the remaining records into raw row maps keyed by header.
func buildParsedFile(records [][]string, maxRows int, format string) (*ParsedFile, error) {
	headerIdx := -1
	for i, rec := range records {
		if !isEmptyRow(rec) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("file has no header row")
	}

	headers := dedupeHeaders(records[headerIdx])
	dataRecords := records[headerIdx+1:]
	if len(dataRecords) == 0 {
		return nil, fmt.Errorf("file has no data rows")
	}
	if maxRows > 0 && len(dataRecords) > maxRows {
		return nil, fmt.Errorf("too many rows: %d (limit %d)", len(dataRecords), maxRows)
	}

	rows := make([]map[string]string, 0, len(dataRecords))
	for _, rec := range dataRecords {
		row := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = CleanCell(rec[i])
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}

	return &ParsedFile{Headers: headers, Rows: rows, Format: format}, nil
}

// sniffDelimiter picks the CSV delimiter from the first line. Norwegian
// exports commonly use semicolons; tabs appear in copy-pasted sheets.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	counts := map[rune]int{
		';':  bytes.Count(line, []byte{';'}),
		',':  bytes.Count(line, []byte{','}),
		'\t': bytes.Count(line, []byte{'\t'}),
	}

	best := ','
	bestCount := 0
	for _, d := range []rune{';', ',', '\t'} {
		if counts[d] > bestCount {
			best = d
			bestCount = counts[d]
		}
	}
	return best
}

// dedupeHeaders trims headers and disambiguates duplicates so row maps never
// silently drop a column. An empty header becomes a positional name.
func dedupeHeaders(raw []string) []string {
	seen := make(map[string]int)
	out := make([]string, len(raw))
	for i, h := range raw {
		h = CleanCell(h)
		if h == "" {
			h = fmt.Sprintf("kolonne %d", i+1)
		}
		key := strings.ToLower(h)
		if n, dup := seen[key]; dup {
			seen[key] = n + 1
			h = fmt.Sprintf("%s (%d)", h, n+1)
		} else {
			seen[key] = 1
		}
		out[i] = h
	}
	return out
}

// stripBOM removes a UTF-8 byte order mark, which Excel prepends to CSV
// exports. Decoding handles the BOM on its own; this only serves the
// delimiter sniff, which inspects the raw first line.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// isEmptyRow reports whether every cell is blank after trimming.
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
