// Package schema owns the database layout of the import pipeline. Every
// statement is idempotent (CREATE ... IF NOT EXISTS) so Apply can run on
// every startup; there is no migration history to track.
package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the slice of pgxpool.Pool that Apply needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Apply creates all tables and indexes. Safe to call concurrently with a
// running server; existing objects are left untouched.
func Apply(ctx context.Context, db Execer) error {
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("apply schema %s: %w", stmt.name, err)
		}
	}
	return nil
}

type statement struct {
	name string
	sql  string
}

var statements = []statement{
	{"import_batches", `
		CREATE TABLE IF NOT EXISTS import_batches (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'staging',
			step VARCHAR(20) NOT NULL DEFAULT 'upload',
			file_name VARCHAR(500) NOT NULL DEFAULT '',
			format VARCHAR(10) NOT NULL DEFAULT 'csv',
			headers JSONB NOT NULL DEFAULT '[]',
			total_rows INT NOT NULL DEFAULT 0,
			revision INT NOT NULL DEFAULT 0,
			validated_revision INT NOT NULL DEFAULT 0,
			cleaning_approved BOOLEAN NOT NULL DEFAULT FALSE,
			cleaning_skipped BOOLEAN NOT NULL DEFAULT FALSE,
			rule_toggles JSONB,
			mapping JSONB,
			proposal JSONB,
			update_existing BOOLEAN NOT NULL DEFAULT FALSE,
			reimport_rows JSONB,
			summary JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`},
	{"idx_import_batches_tenant", `
		CREATE INDEX IF NOT EXISTS idx_import_batches_tenant
			ON import_batches (tenant_id, created_at DESC)
	`},
	{"idx_import_batches_stale", `
		CREATE INDEX IF NOT EXISTS idx_import_batches_stale
			ON import_batches (status, updated_at)
	`},

	{"staging_rows", `
		CREATE TABLE IF NOT EXISTS staging_rows (
			batch_id UUID NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
			row_index INT NOT NULL,
			raw JSONB NOT NULL,
			edits JSONB,
			selected BOOLEAN NOT NULL DEFAULT TRUE,
			status VARCHAR(12) NOT NULL DEFAULT 'unchecked',
			errors JSONB,
			PRIMARY KEY (batch_id, row_index)
		)
	`},

	{"cleaning_reports", `
		CREATE TABLE IF NOT EXISTS cleaning_reports (
			batch_id UUID PRIMARY KEY REFERENCES import_batches(id) ON DELETE CASCADE,
			cell_changes JSONB NOT NULL DEFAULT '[]',
			row_removals JSONB NOT NULL DEFAULT '[]',
			rules JSONB NOT NULL DEFAULT '[]',
			detected_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`},

	{"batch_commits", `
		CREATE TABLE IF NOT EXISTS batch_commits (
			id UUID PRIMARY KEY,
			batch_id UUID NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
			created_count INT NOT NULL DEFAULT 0,
			updated_count INT NOT NULL DEFAULT 0,
			skipped_count INT NOT NULL DEFAULT 0,
			failed_count INT NOT NULL DEFAULT 0,
			errors JSONB,
			rolled_back BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`},
	{"idx_batch_commits_batch", `
		CREATE INDEX IF NOT EXISTS idx_batch_commits_batch
			ON batch_commits (batch_id, created_at)
	`},

	{"commit_records", `
		CREATE TABLE IF NOT EXISTS commit_records (
			commit_id UUID NOT NULL,
			batch_id UUID NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
			row_index INT NOT NULL,
			customer_id UUID NOT NULL,
			action VARCHAR(10) NOT NULL,
			PRIMARY KEY (commit_id, row_index)
		)
	`},
	{"idx_commit_records_batch", `
		CREATE INDEX IF NOT EXISTS idx_commit_records_batch
			ON commit_records (batch_id, action)
	`},

	{"customers", `
		CREATE TABLE IF NOT EXISTS customers (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			name VARCHAR(500) NOT NULL,
			address VARCHAR(500) NOT NULL,
			email VARCHAR(320) NOT NULL DEFAULT '',
			phone VARCHAR(32) NOT NULL DEFAULT '',
			postal_code VARCHAR(8) NOT NULL DEFAULT '',
			city VARCHAR(200) NOT NULL DEFAULT '',
			customer_number BIGINT,
			category VARCHAR(20) NOT NULL DEFAULT '',
			customer_since DATE,
			note TEXT NOT NULL DEFAULT '',
			custom JSONB,
			dup_key TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`},
	{"idx_customers_dup_key", `
		CREATE INDEX IF NOT EXISTS idx_customers_dup_key
			ON customers (tenant_id, dup_key)
	`},

	{"mapping_templates", `
		CREATE TABLE IF NOT EXISTS mapping_templates (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			name VARCHAR(200) NOT NULL,
			headers JSONB NOT NULL DEFAULT '[]',
			mappings JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, name)
		)
	`},

	{"audit_log", `
		CREATE TABLE IF NOT EXISTS audit_log (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL,
			batch_id UUID,
			action VARCHAR(40) NOT NULL,
			severity VARCHAR(10) NOT NULL,
			user_id VARCHAR(100) NOT NULL DEFAULT '',
			user_email VARCHAR(320) NOT NULL DEFAULT '',
			user_name VARCHAR(200) NOT NULL DEFAULT '',
			ip_address VARCHAR(64) NOT NULL DEFAULT '',
			user_agent VARCHAR(500) NOT NULL DEFAULT '',
			details JSONB,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`},
	{"idx_audit_log_batch", `
		CREATE INDEX IF NOT EXISTS idx_audit_log_batch
			ON audit_log (batch_id, created_at DESC)
	`},
	{"idx_audit_log_created", `
		CREATE INDEX IF NOT EXISTS idx_audit_log_created
			ON audit_log (created_at)
	`},
}
