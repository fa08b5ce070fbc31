// Package core implements the staged customer roster import pipeline.
//
// This package is the heart of the importer, containing all domain logic
// independent of any UI or transport layer. It can be used by web handlers,
// CLI tools, or tests without modification.
//
// # Pipeline
//
// An import is one [ImportBatch] moving through the wizard steps
// upload → cleaning → mapping → preview → result:
//
//  1. [Service.Upload] parses the file (CSV or XLSX), stages every row,
//     runs cleaning detection once, and resolves a mapping proposal.
//  2. The cleaning step re-filters the recorded [CleaningReport] as the
//     operator toggles rules; detection never re-runs.
//  3. [Service.ApplyMapping] validates the operator's column→field
//     assignments; the required name and address fields must be confirmed
//     by a human before the batch may proceed.
//  4. [Service.Validate] grades every surviving row as valid, warning or
//     invalid, including duplicate detection within the batch and against
//     existing customers.
//  5. [Service.Preview] projects rows exactly as commit would write them:
//     cleaned values, mapped to fields, with operator edits on top.
//  6. [Service.Commit] writes eligible rows to the customer store in
//     bounded-concurrency waves; row failures accumulate instead of
//     aborting the batch. [Service.Rollback] reverses created records.
//
// # Mapping Resolution
//
// [MappingResolver] layers its strategies: saved templates, exact header
// aliases, fuzzy header matching, and finally a best-effort AI classifier
// whose verdicts are cached. Low-confidence columns become open questions
// for the operator rather than silent guesses.
//
// # Concurrency
//
// Mutating calls are serialized per batch: a second mutating call on the
// same batch fails fast with [ErrBatchBusy] instead of queueing. Read-only
// previews run concurrently and report staleness through
// [PreviewPage.Stale]. [ImportLimiter] caps concurrent uploads across
// batches.
//
// # Error Handling
//
// Technical errors are mapped to operator-friendly messages using
// [MapError]. Each error category has a unique code for support reference:
//
//   - BAT001-BAT004: Batch lifecycle (not found, busy, committed, inactive)
//   - MAP001-MAP003: Mapping (required fields, ambiguity, bad config)
//   - CMT001-CMT002, RBK001: Commit and rollback
//   - FILE001-FILE004: File parsing (type, structure, size)
//
// # Audit Logging
//
// Every state-changing operation is recorded with severity levels:
//
//   - Low: Template changes, rule toggles
//   - Medium: Uploads, mapping, validation, row edits
//   - High: Commits and reimports
//   - Critical: Rollbacks and discards
//
// The retention sweeper discards abandoned staging batches and prunes old
// audit events on a schedule.
package core
