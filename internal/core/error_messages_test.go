package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError_Codes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		// Batch lifecycle
		{"batch not found", ErrBatchNotFound, "BAT001"},
		{"batch busy", ErrBatchBusy, "BAT002"},
		{"already committed", ErrBatchCommitted, "BAT003"},
		{"batch inactive", errors.New("batch is discarded and can no longer be changed"), "BAT004"},
		{"batch not committable", errors.New("batch in status \"rolled_back\" cannot be committed"), "BAT004"},

		// Mapping
		{"required field unmapped", errors.New(`required field "navn" is not mapped`), "MAP001"},
		{"mapping not applied", errors.New("mapping is not applied"), "MAP001"},
		{"required collision", errors.New(`required fields "navn" and "adresse" are mapped to the same column`), "MAP002"},
		{"unconfirmed required", errors.New(`required field "navn" must be confirmed`), "MAP003"},
		{"unknown field", errors.New(`unknown target field "fax"`), "MAP003"},
		{"doubly assigned field", errors.New(`field "epost" is assigned more than one column`), "MAP003"},
		{"column missing from file", errors.New(`"E-post" is not a column in the uploaded file`), "MAP003"},

		// Validation
		{"rows failed validation", errors.New("18 rows failed validation"), "VAL001"},
		{"duplicate rows", errors.New("duplicate row in batch"), "VAL002"},

		// Commit and rollback
		{"partial commit", errors.New("partial commit: 3 rows failed"), "CMT001"},
		{"nothing to commit", errors.New("no eligible rows to commit"), "CMT002"},
		{"rollback refused", errors.New("rollback conflict: batch is not committed"), "RBK001"},

		// Database constraints
		{"duplicate key", errors.New(`ERROR: duplicate key value violates unique constraint "customers_pkey" (SQLSTATE 23505)`), "DB001"},
		{"unique constraint", errors.New("unique constraint failed on customers.kundenummer"), "DB002"},
		{"unique violation", errors.New("new row violates unique index"), "DB002"},
		{"foreign key", errors.New(`insert or update violates foreign key constraint "customers_tenant_fkey"`), "DB003"},

		// Network
		{"network failure", errors.New("network failure during commit"), "NET001"},
		{"connection refused", errors.New("dial tcp 10.0.0.5:5432: connection refused"), "NET001"},
		{"connection reset", errors.New("read tcp: connection reset by peer"), "NET001"},
		{"timeout", errors.New("context deadline exceeded"), "NET001"},
		{"dns failure", errors.New("dial tcp: lookup db.internal: no such host"), "NET001"},

		// Files
		{"unsupported type", errors.New(`unsupported file type ".pdf"`), "FILE001"},
		{"no header", errors.New("file has no header row"), "FILE002"},
		{"no data", errors.New("file has no data rows"), "FILE002"},
		{"empty workbook", errors.New("xlsx file has no sheets"), "FILE002"},
		{"row limit", errors.New("too many rows: 12001 (limit 10000)"), "FILE004"},
		{"csv parse failure", errors.New(`parse csv: record on line 7: wrong number of fields`), "FILE003"},
		{"xlsx parse failure", errors.New("parse xlsx: zip: not a valid zip file"), "FILE003"},

		// Flow and limits
		{"step refused", errors.New(`cannot move to step "preview" before validation`), "STEP001"},
		{"import limit", ErrTooManyImports, "RATE001"},
		{"rate limited", errors.New("rate limit exceeded"), "RATE001"},

		// Fallback
		{"unknown error", errors.New("something odd happened"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError(%q).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
			if got.Message == "" {
				t.Errorf("MapError(%q) returned empty Message", tt.err)
			}
			if got.Action == "" {
				t.Errorf("MapError(%q) returned empty Action", tt.err)
			}
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	got := MapError(nil)
	if got != (UserMessage{}) {
		t.Errorf("MapError(nil) = %+v, want zero value", got)
	}
}

func TestMapError_CaseInsensitive(t *testing.T) {
	got := MapError(errors.New("BATCH NOT FOUND"))
	if got.Code != "BAT001" {
		t.Errorf("uppercase match failed: got code %q, want BAT001", got.Code)
	}
}

// A Postgres duplicate-key error mentions both "duplicate key" and
// "violates unique". The first pattern in the table must win so the operator
// sees the duplicate-ID message rather than the generic unique-constraint one.
func TestMapError_FirstMatchWins(t *testing.T) {
	err := errors.New(`duplicate key value violates unique constraint "customers_dup_key"`)
	got := MapError(err)
	if got.Code != "DB001" {
		t.Errorf("got code %q, want DB001", got.Code)
	}
	if got.Message != "A record with this ID already exists" {
		t.Errorf("got message %q", got.Message)
	}
}

// "required field X is not mapped" must not be shadowed by a collision
// message, and vice versa.
func TestMapError_MappingPatternOrder(t *testing.T) {
	collision := MapError(errors.New(`required fields "navn" and "adresse" are mapped to the same column "Kunde"`))
	if collision.Code != "MAP002" {
		t.Errorf("collision: got code %q, want MAP002", collision.Code)
	}

	missing := MapError(errors.New(`required field "adresse" is not mapped`))
	if missing.Code != "MAP001" {
		t.Errorf("missing: got code %q, want MAP001", missing.Code)
	}
}

func TestFormatUserError(t *testing.T) {
	err := errors.New("duplicate key value violates unique constraint")
	got := FormatUserError(err)
	want := "A record with this ID already exists (Code: DB001). Download the error report to review duplicates"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}

	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestFormatUserError_Fallback(t *testing.T) {
	got := FormatUserError(errors.New("kaboom"))
	want := "An unexpected error occurred (Code: ERR000). Please try again or contact support"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"known pattern", ErrBatchNotFound, true},
		{"wrapped known pattern", fmt.Errorf("load batch: %w", ErrBatchBusy), true},
		{"unknown pattern", errors.New("slice bounds out of range"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
