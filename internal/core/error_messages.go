// Error message mapping for the import pipeline.
//
// This file maps technical errors to user-friendly messages with actionable
// guidance. All errors shown to operators go through MapError so that raw
// database or network errors never leak into the UI.
//
// # Error Code Reference
//
// Batch lifecycle (BAT001-BAT004):
//   - BAT001: Batch not found
//   - BAT002: Another operation is running for this batch
//   - BAT003: Batch already committed
//   - BAT004: Batch discarded or otherwise inactive
//
// Mapping (MAP001-MAP003):
//   - MAP001: Required field has no column assigned
//   - MAP002: Two required fields assigned to the same column
//   - MAP003: Mapping invalid for this file (unknown column or field)
//
// Validation (VAL001-VAL002):
//   - VAL001: Rows failed validation
//   - VAL002: Duplicate rows detected
//
// Commit and rollback (CMT001-CMT002, RBK001):
//   - CMT001: Some rows failed during commit
//   - CMT002: Nothing eligible to commit
//   - RBK001: Rollback refused (wrong status or concurrent operation)
//
// Network (NET001):
//   - NET001: Transient network failure; staged data is untouched
//
// Database constraints (DB001-DB003):
//   - DB001: Duplicate key
//   - DB002: Unique constraint violation
//   - DB003: Foreign key violation
//
// Files (FILE001-FILE004):
//   - FILE001: Unsupported file type
//   - FILE002: Missing header or data rows
//   - FILE003: File could not be parsed
//   - FILE004: Row count over the import limit
//
// Flow and limits (STEP001, RATE001):
//   - STEP001: Step navigation refused
//   - RATE001: Too many concurrent imports
//
// Fallback when no specific pattern matches:
//   - ERR000: Unexpected error (check logs for details)
//
// Error patterns are matched case-insensitively using strings.Contains.
// The first matching pattern wins, so specific patterns come before general
// ones, and multiple patterns can map to the same code.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// Patterns are matched using strings.Contains, so partial matches work.
// The first matching pattern wins, so order matters:
//   - More specific patterns should come before general ones
//   - Multiple patterns can map to the same error code
var errorPatterns = []errorPattern{
	// =========================================================================
	// Batch Lifecycle Errors (BAT001-BAT003)
	// These errors occur when an operation targets a batch in the wrong state.
	// =========================================================================
	{
		pattern: "batch not found",
		msg: UserMessage{
			Message: "Import batch not found",
			Action:  "The batch may have been discarded; start a new import",
			Code:    "BAT001",
		},
	},
	{
		pattern: "another operation is in progress",
		msg: UserMessage{
			Message: "Another operation is still running for this import",
			Action:  "Wait for it to finish, then try again",
			Code:    "BAT002",
		},
	},
	{
		pattern: "already committed",
		msg: UserMessage{
			Message: "This import has already been committed",
			Action:  "Roll it back first if you need to run it again",
			Code:    "BAT003",
		},
	},
	{
		pattern: "can no longer be changed",
		msg: UserMessage{
			Message: "This import is no longer active",
			Action:  "Start a new import instead",
			Code:    "BAT004",
		},
	},
	{
		pattern: "cannot be committed",
		msg: UserMessage{
			Message: "This import is no longer active",
			Action:  "Start a new import instead",
			Code:    "BAT004",
		},
	},

	// =========================================================================
	// Mapping Errors (MAP001-MAP003)
	// These errors block the transition from mapping to validation.
	// =========================================================================
	{
		pattern: "mapped to the same column",
		msg: UserMessage{
			Message: "Two required fields point at the same column",
			Action:  "Assign customer name and address to different columns",
			Code:    "MAP002",
		},
	},
	{
		pattern: "is not mapped",
		msg: UserMessage{
			Message: "A required field has no column assigned",
			Action:  "Map customer name and address before continuing",
			Code:    "MAP001",
		},
	},
	{
		pattern: "mapping is not applied",
		msg: UserMessage{
			Message: "No column mapping has been applied yet",
			Action:  "Complete the mapping step before validating",
			Code:    "MAP001",
		},
	},
	{
		pattern: "must be confirmed",
		msg: UserMessage{
			Message: "Required fields need confirmation",
			Action:  "Confirm the name and address columns on the mapping step",
			Code:    "MAP003",
		},
	},
	{
		pattern: "unknown target field",
		msg: UserMessage{
			Message: "The mapping refers to a field that does not exist",
			Action:  "Review the column mapping and try again",
			Code:    "MAP003",
		},
	},
	{
		pattern: "assigned more than one column",
		msg: UserMessage{
			Message: "A field has more than one column assigned",
			Action:  "Assign each field to a single column",
			Code:    "MAP003",
		},
	},
	{
		pattern: "not a column in the uploaded file",
		msg: UserMessage{
			Message: "The mapping refers to a column that is not in the file",
			Action:  "Review the column mapping and try again",
			Code:    "MAP003",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL002)
	// Row-level problems found during validation.
	// =========================================================================
	{
		pattern: "failed validation",
		msg: UserMessage{
			Message: "Some rows have validation errors",
			Action:  "Fix or exclude the flagged rows before committing",
			Code:    "VAL001",
		},
	},
	{
		pattern: "duplicate row",
		msg: UserMessage{
			Message: "Duplicate rows were detected",
			Action:  "Review the flagged rows; duplicates are warnings and do not block committing",
			Code:    "VAL002",
		},
	},

	// =========================================================================
	// Commit and Rollback Errors (CMT001-CMT002, RBK001)
	// =========================================================================
	{
		pattern: "partial commit",
		msg: UserMessage{
			Message: "Some rows could not be imported",
			Action:  "Download the error report and re-import the failed rows",
			Code:    "CMT001",
		},
	},
	{
		pattern: "no eligible rows",
		msg: UserMessage{
			Message: "There is nothing to import",
			Action:  "Select at least one valid row before committing",
			Code:    "CMT002",
		},
	},
	{
		pattern: "rollback conflict",
		msg: UserMessage{
			Message: "The import cannot be rolled back right now",
			Action:  "Only a committed import can be rolled back, and not while another operation runs",
			Code:    "RBK001",
		},
	},

	// =========================================================================
	// Database Constraint Errors (DB001-DB003)
	// Raised by PostgreSQL when committed data violates constraints.
	// =========================================================================
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this ID already exists",
			Action:  "Download the error report to review duplicates",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Check that the category and tenant are set up first",
			Code:    "DB003",
		},
	},

	// =========================================================================
	// Network Errors (NET001)
	// Transient failures. Staged batch data is never lost; the same call can
	// simply be repeated.
	// =========================================================================
	{
		pattern: "network failure",
		msg: UserMessage{
			Message: "Connection lost",
			Action:  "Your data has been saved; try again",
			Code:    "NET001",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Connection lost",
			Action:  "Your data has been saved; try again",
			Code:    "NET001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Connection lost",
			Action:  "Your data has been saved; try again",
			Code:    "NET001",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "The operation timed out",
			Action:  "Your data has been saved; try again",
			Code:    "NET001",
		},
	},
	{
		pattern: "no such host",
		msg: UserMessage{
			Message: "A service could not be reached",
			Action:  "Your data has been saved; try again shortly",
			Code:    "NET001",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE004)
	// Problems reading the uploaded roster file.
	// =========================================================================
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "This file type is not supported",
			Action:  "Upload a .csv or .xlsx file",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no header row",
		msg: UserMessage{
			Message: "The file has no header row",
			Action:  "Check that the first row contains column names",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has no data rows",
			Action:  "Check that the file contains customers below the header",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no sheets",
		msg: UserMessage{
			Message: "The workbook has no sheets",
			Action:  "Check that the file contains at least one sheet with data",
			Code:    "FILE002",
		},
	},
	{
		pattern: "too many rows",
		msg: UserMessage{
			Message: "The file has more rows than one import allows",
			Action:  "Split the roster into smaller files and import them separately",
			Code:    "FILE004",
		},
	},
	{
		pattern: "parse csv",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Re-export the roster as CSV and try again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "parse xlsx",
		msg: UserMessage{
			Message: "The file could not be read",
			Action:  "Re-export the roster as XLSX and try again",
			Code:    "FILE003",
		},
	},

	// =========================================================================
	// Flow and Rate Limiting (STEP001, RATE001)
	// =========================================================================
	{
		pattern: "cannot move to",
		msg: UserMessage{
			Message: "That step is not available right now",
			Action:  "Finish the current step first",
			Code:    "STEP001",
		},
	},
	{
		pattern: "before mapping",
		msg: UserMessage{
			Message: "The cleaning step has not been completed",
			Action:  "Approve or skip the cleaning suggestions before mapping columns",
			Code:    "STEP001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "Too many imports are running right now",
			Action:  "Wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
//
// Example:
//
//	err := errors.New("required field \"navn\" is not mapped")
//	msg := MapError(err)
//	// msg.Code == "MAP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error matches a known pattern and should be shown
// to users as-is. Returns false for the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
