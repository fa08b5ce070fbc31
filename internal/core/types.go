package core

import (
	"time"

	"github.com/google/uuid"
)

// Step identifies a position in the import wizard.
type Step string

const (
	StepUpload   Step = "upload"
	StepCleaning Step = "cleaning"
	StepMapping  Step = "mapping"
	StepPreview  Step = "preview"
	StepResult   Step = "result"
)

// stepOrder defines the forward sequence of wizard steps.
var stepOrder = map[Step]int{
	StepUpload:   1,
	StepCleaning: 2,
	StepMapping:  3,
	StepPreview:  4,
	StepResult:   5,
}

// Order returns the 1-based position of the step, or 0 for an unknown step.
func (s Step) Order() int {
	return stepOrder[s]
}

// BatchStatus is the lifecycle status of an import batch, orthogonal to the
// wizard step: a batch stays "staging" through upload/cleaning/mapping/preview
// and only leaves it via commit, rollback, or discard.
type BatchStatus string

const (
	StatusStaging    BatchStatus = "staging"
	StatusCommitting BatchStatus = "committing"
	StatusCommitted  BatchStatus = "committed"
	StatusRolledBack BatchStatus = "rolled_back"
	StatusDiscarded  BatchStatus = "discarded"
)

// RowStatus is the validation outcome for a single staging row.
type RowStatus string

const (
	RowUnchecked RowStatus = "unchecked"
	RowValid     RowStatus = "valid"
	RowWarning   RowStatus = "warning"
	RowInvalid   RowStatus = "invalid"
)

// MappingOrigin records which strategy produced a column mapping.
type MappingOrigin string

const (
	OriginAI            MappingOrigin = "ai"
	OriginDeterministic MappingOrigin = "deterministic"
	OriginTemplate      MappingOrigin = "template"
	OriginHuman         MappingOrigin = "human"
)

// MappingAction is the operator's decision for a source column.
type MappingAction string

const (
	ActionMap    MappingAction = "map"    // assign to a catalog field
	ActionCustom MappingAction = "custom" // keep as free-form custom field
	ActionIgnore MappingAction = "ignore" // drop the column
)

// ImportBatch is one import attempt, from upload through optional rollback.
// A batch is created on upload and destroyed only by explicit cleanup;
// rollback reverses committed records but keeps the batch.
type ImportBatch struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`

	Status BatchStatus `json:"status"`
	Step   Step        `json:"step"`

	FileName  string   `json:"file_name"`
	Format    string   `json:"format"` // "csv" or "xlsx"
	Headers   []string `json:"headers"`
	TotalRows int      `json:"total_rows"`

	// Revision increments on every batch mutation; ValidatedRevision records
	// the revision the last validation run saw. They diverge when preview
	// data is stale.
	Revision          int `json:"revision"`
	ValidatedRevision int `json:"validated_revision"`

	CleaningApproved bool            `json:"cleaning_approved"`
	CleaningSkipped  bool            `json:"cleaning_skipped"`
	RuleToggles      map[RuleID]bool `json:"rule_toggles,omitempty"`

	// Mapping is the applied configuration; Proposal is what the resolver
	// suggested at upload time, kept so the mapping step can re-render
	// without another classifier round-trip.
	Mapping  []ColumnMapping  `json:"mapping,omitempty"`
	Proposal *MappingProposal `json:"proposal,omitempty"`

	// UpdateExisting enables update-on-duplicate at commit: rows matching an
	// existing customer update that record instead of being skipped.
	UpdateExisting bool `json:"update_existing"`

	// ReimportRows scopes a reimport-failed pass to the row indexes that
	// failed in the last commit. Nil outside that flow.
	ReimportRows []int `json:"reimport_rows,omitempty"`

	Summary *ValidationSummary `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StagingRow is one source record in its raw and edited forms. Cleaned and
// mapped values are derived on demand from the cleaning report and the
// applied mapping; only operator edits are stored.
type StagingRow struct {
	BatchID uuid.UUID `json:"batch_id"`

	// Index is stable and unique for the lifetime of the batch.
	Index int `json:"index"`

	// Raw holds the original cell text keyed by source column name.
	Raw map[string]string `json:"raw"`

	// Edits is the sparse override overlay keyed by target field. It is the
	// single source of truth applied identically by preview and commit.
	Edits map[string]string `json:"edits,omitempty"`

	Selected bool         `json:"selected"`
	Status   RowStatus    `json:"status"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// RuleID identifies a cleaning rule from the fixed catalog. Unknown ids are
// rejected at construction time, never silently ignored.
type RuleID string

const (
	RuleTrimWhitespace    RuleID = "trim_whitespace"
	RuleNormalizeEmail    RuleID = "normalize_email"
	RuleNormalizePhone    RuleID = "normalize_phone"
	RuleNormalizePostal   RuleID = "normalize_postal"
	RuleNormalizeDate     RuleID = "normalize_date"
	RuleDropEmptyRows     RuleID = "drop_empty_rows"
	RuleDropHeaderEchoes  RuleID = "drop_header_echoes"
	RuleDropDuplicateRows RuleID = "drop_duplicate_rows"
)

// RuleCategory separates cell-transforming rules from row-removal rules.
type RuleCategory string

const (
	RuleCells RuleCategory = "cells"
	RuleRows  RuleCategory = "rows"
)

// CleaningRule describes one catalog rule plus its effect on the current
// batch. AffectedCount reflects the current toggle state.
type CleaningRule struct {
	ID             RuleID       `json:"id"`
	Category       RuleCategory `json:"category"`
	Description    string       `json:"description"`
	DefaultEnabled bool         `json:"default_enabled"`
	Enabled        bool         `json:"enabled"`
	AffectedCount  int          `json:"affected_count"`
}

// CellChange records one detected cell transformation. Several rules may
// change the same cell; the last enabled writer wins when the report is
// applied.
type CellChange struct {
	RowIndex int    `json:"row_index"`
	Column   string `json:"column"`
	RuleID   RuleID `json:"rule_id"`
	Original string `json:"original"`
	Cleaned  string `json:"cleaned"`
}

// RowRemoval records one detected row removal. Only the earliest qualifying
// rule per row is recorded so the reason stays deterministic.
type RowRemoval struct {
	RowIndex int    `json:"row_index"`
	RuleID   RuleID `json:"rule_id"`
	Reason   string `json:"reason"`
}

// CleaningReport is the result of the one-time detection pass over a batch.
// Toggling rules re-filters this report; it never re-runs detection.
type CleaningReport struct {
	BatchID     uuid.UUID      `json:"batch_id"`
	CellChanges []CellChange   `json:"cell_changes"`
	RowRemovals []RowRemoval   `json:"row_removals"`
	Rules       []CleaningRule `json:"rules"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// ColumnMapping assigns one source column to a target field (or marks it as
// custom/ignored). Required-field mappings must carry Confirmed=true before
// they are accepted.
type ColumnMapping struct {
	Column     string        `json:"column"`
	Field      string        `json:"field,omitempty"`
	FieldType  FieldType     `json:"field_type,omitempty"`
	Required   bool          `json:"required"`
	Confidence float64       `json:"confidence"`
	Origin     MappingOrigin `json:"origin"`
	Action     MappingAction `json:"action"`
	Confirmed  bool          `json:"confirmed"`
}

// OpenQuestion is a column the resolver could not settle: the operator must
// accept the suggestion, keep the column as a custom field, or ignore it.
type OpenQuestion struct {
	Column     string  `json:"column"`
	Suggestion string  `json:"suggestion,omitempty"`
	Confidence float64 `json:"confidence"`
}

// MappingProposal is the resolver output for one header set.
type MappingProposal struct {
	Mappings      []ColumnMapping `json:"mappings"`
	OpenQuestions []OpenQuestion  `json:"open_questions"`
}

// FieldSuggestion is a single classifier answer for one header.
type FieldSuggestion struct {
	Header     string  `json:"header"`
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
}

// ProblemSeverity grades a field problem. Errors make the row invalid and
// bar it from committing; warnings let it through.
type ProblemSeverity string

const (
	ProblemError   ProblemSeverity = "error"
	ProblemWarning ProblemSeverity = "warning"
)

// FieldError is a row-scoped, field-level validation problem.
type FieldError struct {
	Field      string          `json:"field"`
	Value      string          `json:"value,omitempty"`
	Severity   ProblemSeverity `json:"severity"`
	Message    string          `json:"message"`
	Code       string          `json:"code"`
	Suggestion string          `json:"suggestion,omitempty"`
}

// ValidationSummary counts rows by their resulting status.
type ValidationSummary struct {
	ValidCount   int `json:"valid_count"`
	WarningCount int `json:"warning_count"`
	ErrorCount   int `json:"error_count"`
}

// PreviewMode selects the projection shape.
type PreviewMode string

const (
	// PreviewPlain shows the value that would be committed per field.
	PreviewPlain PreviewMode = "plain"
	// PreviewBeforeAfter additionally shows the pre-cleaning raw value for
	// transformed fields.
	PreviewBeforeAfter PreviewMode = "before_after"
)

// PreviewOptions controls pagination and filtering of the projection.
type PreviewOptions struct {
	ShowErrors bool        `json:"show_errors"`
	Mode       PreviewMode `json:"mode"`
	Limit      int         `json:"limit"`
	Offset     int         `json:"offset"`
}

// PreviewRow is one projected row: edited value if present, else mapped.
type PreviewRow struct {
	Index    int               `json:"index"`
	Status   RowStatus         `json:"status"`
	Selected bool              `json:"selected"`
	Values   map[string]string `json:"values"`
	Custom   map[string]string `json:"custom,omitempty"`
	Before   map[string]string `json:"before,omitempty"`
	Edited   []string          `json:"edited,omitempty"`
	Errors   []FieldError      `json:"errors,omitempty"`
}

// PreviewPage is a paginated, read-only projection of the batch. Stale is
// true when the batch changed after the last validation run; the projection
// is then best-available, not authoritative.
type PreviewPage struct {
	Rows      []PreviewRow `json:"rows"`
	TotalRows int          `json:"total_rows"`
	Stale     bool         `json:"stale"`
	Limit     int          `json:"limit"`
	Offset    int          `json:"offset"`
}

// CommitRequest carries the operator's final selections into commit.
type CommitRequest struct {
	ExcludedRowIDs []int                     `json:"excluded_row_ids,omitempty"`
	RowEdits       map[int]map[string]string `json:"row_edits,omitempty"`
	DryRun         bool                      `json:"dry_run,omitempty"`
}

// RowError is a commit-time, row-scoped failure. Row failures accumulate;
// they never abort sibling rows.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}

// CommitAction distinguishes created records (reversible by rollback) from
// updated ones (never deleted by rollback).
type CommitAction string

const (
	CommitCreated CommitAction = "created"
	CommitUpdated CommitAction = "updated"
)

// CommitRecord is the per-row audit trail tying a customer record to the
// commit that wrote it. Rollback deletes exactly the "created" records.
type CommitRecord struct {
	CommitID   uuid.UUID    `json:"commit_id"`
	BatchID    uuid.UUID    `json:"batch_id"`
	RowIndex   int          `json:"row_index"`
	CustomerID uuid.UUID    `json:"customer_id"`
	Action     CommitAction `json:"action"`
}

// CommitResult is the outcome of one commit call. A partial failure still
// reports success: Failed counts rows, Errors carries their reasons.
type CommitResult struct {
	BatchID  uuid.UUID     `json:"batch_id"`
	CommitID uuid.UUID     `json:"commit_id"`
	Created  int           `json:"created"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Errors   []RowError    `json:"errors,omitempty"`
	Duration time.Duration `json:"duration"`
	DryRun   bool          `json:"dry_run"`
}

// BatchCommit is the persisted record of one commit attempt.
type BatchCommit struct {
	ID         uuid.UUID  `json:"id"`
	BatchID    uuid.UUID  `json:"batch_id"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	Errors     []RowError `json:"errors,omitempty"`
	RolledBack bool       `json:"rolled_back"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FailedRowIndexes returns the distinct row indexes present in Errors, in
// first-seen order. This is the scope of a reimport-failed pass.
func (c BatchCommit) FailedRowIndexes() []int {
	seen := make(map[int]bool)
	var out []int
	for _, e := range c.Errors {
		if !seen[e.RowIndex] {
			seen[e.RowIndex] = true
			out = append(out, e.RowIndex)
		}
	}
	return out
}

// RollbackResult reports what a rollback removed.
type RollbackResult struct {
	BatchID        uuid.UUID     `json:"batch_id"`
	RecordsDeleted int           `json:"records_deleted"`
	Reason         string        `json:"reason,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Customer is the target record commit writes into the platform store.
type Customer struct {
	ID             uuid.UUID         `json:"id"`
	TenantID       uuid.UUID         `json:"tenant_id"`
	Name           string            `json:"name"`
	Address        string            `json:"address"`
	Email          string            `json:"email,omitempty"`
	Phone          string            `json:"phone,omitempty"`
	PostalCode     string            `json:"postal_code,omitempty"`
	City           string            `json:"city,omitempty"`
	CustomerNumber *int              `json:"customer_number,omitempty"`
	Category       string            `json:"category,omitempty"`
	CustomerSince  *time.Time        `json:"customer_since,omitempty"`
	Note           string            `json:"note,omitempty"`
	Custom         map[string]string `json:"custom,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// UploadResult is the response of the upload operation: everything the
// cleaning and mapping steps need in one round-trip.
type UploadResult struct {
	BatchID          uuid.UUID       `json:"batch_id"`
	Headers          []string        `json:"headers"`
	TotalRows        int             `json:"total_rows"`
	SuggestedMapping MappingProposal `json:"suggested_mapping"`
	CleaningReport   CleaningReport  `json:"cleaning_report"`
}

// MappingTemplate is a saved, named mapping for a recurring file layout.
type MappingTemplate struct {
	ID        uuid.UUID       `json:"id"`
	TenantID  uuid.UUID       `json:"tenant_id"`
	Name      string          `json:"name"`
	Headers   []string        `json:"headers"`
	Mappings  []ColumnMapping `json:"mappings"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TemplateMatch pairs a template with how well it fits a header set.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"match_score"`
}
