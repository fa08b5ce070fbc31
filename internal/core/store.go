package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// store.go defines the persistence boundaries of the import pipeline.
// The postgres package provides the production implementations; tests use
// in-memory fakes. All staged state lives behind BatchStore so an interrupted
// import survives a restart with nothing lost.

// BatchStore persists import batches and their staged rows.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *ImportBatch) error
	GetBatch(ctx context.Context, tenantID, batchID uuid.UUID) (*ImportBatch, error)
	UpdateBatch(ctx context.Context, batch *ImportBatch) error
	ListBatches(ctx context.Context, tenantID uuid.UUID, limit int) ([]*ImportBatch, error)

	// DeleteBatch removes a batch entirely: rows, cleaning report and
	// commit history. Committed customer records are not touched.
	DeleteBatch(ctx context.Context, tenantID, batchID uuid.UUID) error

	// PurgeBatchData drops the staged rows and cleaning report of a
	// discarded batch while keeping the batch shell and its commit history
	// visible.
	PurgeBatchData(ctx context.Context, batchID uuid.UUID) error

	SaveRows(ctx context.Context, batchID uuid.UUID, rows []*StagingRow) error
	GetRows(ctx context.Context, batchID uuid.UUID) ([]*StagingRow, error)

	// UpdateRows overwrites the mutable parts of staged rows: status,
	// errors, edits and selection. Raw values never change after upload.
	UpdateRows(ctx context.Context, batchID uuid.UUID, rows []*StagingRow) error

	SaveCleaningReport(ctx context.Context, batchID uuid.UUID, report *CleaningReport) error
	GetCleaningReport(ctx context.Context, batchID uuid.UUID) (*CleaningReport, error)

	SaveCommit(ctx context.Context, commit *BatchCommit) error
	// GetCommits returns the batch's commit attempts, oldest first.
	GetCommits(ctx context.Context, batchID uuid.UUID) ([]*BatchCommit, error)
	MarkCommitsRolledBack(ctx context.Context, batchID uuid.UUID) error

	// ListStale returns staging batches untouched since the cutoff, for the
	// retention sweeper.
	ListStale(ctx context.Context, cutoff time.Time) ([]*ImportBatch, error)
}

// CustomerWrite pairs a customer record with the commit record describing
// it. Record.Action decides whether the customer is created or updated.
type CustomerWrite struct {
	Customer *Customer
	Record   *CommitRecord
}

// GroupWriter is an optional CustomerStore extension. A store implementing
// it receives each commit group as one call and can run the whole group in
// a single transaction with a savepoint per row, so one failing row rolls
// back alone instead of costing a transaction per write. The returned slice
// is parallel to writes; nil entries succeeded. A transaction-level failure
// fills every entry.
type GroupWriter interface {
	WriteGroup(ctx context.Context, writes []CustomerWrite) []error
}

// CustomerStore is the destination for committed rows. Every create and
// update writes the customer and its commit record atomically so rollback
// can always tell created records from updated ones.
type CustomerStore interface {
	// MatchKeys resolves duplicate keys (normalized name + address) to
	// existing customer ids. Keys with no match are absent from the result.
	MatchKeys(ctx context.Context, tenantID uuid.UUID, keys []string) (map[string]uuid.UUID, error)

	CreateCustomer(ctx context.Context, customer *Customer, record *CommitRecord) error

	// UpdateCustomer overwrites name and address and any non-empty incoming
	// optional field. Empty optional fields keep their stored values and
	// custom fields merge: the file is authoritative for what it carries,
	// not for what it omits.
	UpdateCustomer(ctx context.Context, customer *Customer, record *CommitRecord) error

	// DeleteCreated removes the customers a batch created, identified by
	// their commit records. Updated customers are left alone, and commits
	// already marked rolled back are ignored.
	DeleteCreated(ctx context.Context, tenantID, batchID uuid.UUID) (int64, error)
}

// TemplateStore persists saved column mappings per tenant.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, tpl *MappingTemplate) error
	ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*MappingTemplate, error)
	DeleteTemplate(ctx context.Context, tenantID, templateID uuid.UUID) error
}

// AuditStore records who did what to which batch.
type AuditStore interface {
	Record(ctx context.Context, event *AuditEvent) error
	ListForBatch(ctx context.Context, batchID uuid.UUID, limit int) ([]*AuditEvent, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SuggestionCache caches classifier verdicts per header so repeated uploads
// with the same columns skip the network round trip. A nil cache disables
// caching.
type SuggestionCache interface {
	Get(ctx context.Context, header string) (*FieldSuggestion, bool, error)
	Set(ctx context.Context, header string, s *FieldSuggestion) error
}
