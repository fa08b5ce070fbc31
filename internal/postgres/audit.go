package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserve/roster-import/internal/core"
)

// AuditRepo persists the audit trail. Implements core.AuditStore.
type AuditRepo struct {
	db *pgxpool.Pool
}

func NewAuditRepo(db *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) Record(ctx context.Context, event *core.AuditEvent) error {
	details, err := marshalJSON(len(event.Details) > 0, event.Details)
	if err != nil {
		return err
	}

	var batchID any
	if event.BatchID != uuid.Nil {
		batchID = event.BatchID
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_log
			(id, tenant_id, batch_id, action, severity, user_id, user_email,
			 user_name, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, event.ID, event.TenantID, batchID, string(event.Action), string(event.Severity),
		event.UserID, event.UserEmail, event.UserName, event.IPAddress, event.UserAgent,
		details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

func (r *AuditRepo) ListForBatch(ctx context.Context, batchID uuid.UUID, limit int) ([]*core.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, tenant_id, batch_id, action, severity, user_id, user_email,
			user_name, ip_address, user_agent, details, created_at
		FROM audit_log
		WHERE batch_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*core.AuditEvent
	for rows.Next() {
		var (
			event   core.AuditEvent
			evBatch *uuid.UUID
			details []byte
		)
		if err := rows.Scan(&event.ID, &event.TenantID, &evBatch, &event.Action,
			&event.Severity, &event.UserID, &event.UserEmail, &event.UserName,
			&event.IPAddress, &event.UserAgent, &details, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if evBatch != nil {
			event.BatchID = *evBatch
		}
		if err := unmarshalJSON(details, &event.Details); err != nil {
			return nil, fmt.Errorf("decode audit details: %w", err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

func (r *AuditRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
