package core

// audit.go defines the audit trail for import operations. Every mutation of
// a batch (upload, mapping, commit, rollback, discard) leaves an event so an
// operator can answer "who imported these customers and when". The trail is
// also what makes rollback trustworthy: commit records plus audit events
// reconstruct exactly what a commit did.

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies what happened.
type AuditAction string

const (
	AuditUpload           AuditAction = "upload"
	AuditCleaningApproved AuditAction = "cleaning_approved"
	AuditCleaningSkipped  AuditAction = "cleaning_skipped"
	AuditRuleToggled      AuditAction = "rule_toggled"
	AuditMappingApplied   AuditAction = "mapping_applied"
	AuditValidated        AuditAction = "validated"
	AuditRowEdited        AuditAction = "row_edited"
	AuditCommit           AuditAction = "commit"
	AuditReimport         AuditAction = "reimport"
	AuditRollback         AuditAction = "rollback"
	AuditDiscarded        AuditAction = "discarded"
	AuditTemplateSaved    AuditAction = "template_saved"
	AuditTemplateDeleted  AuditAction = "template_deleted"
)

// AuditSeverity grades how consequential an action is.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEvent is one recorded action against a batch.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	BatchID   uuid.UUID      `json:"batch_id,omitempty"`
	Action    AuditAction    `json:"action"`
	Severity  AuditSeverity  `json:"severity"`
	UserID    string         `json:"user_id,omitempty"`
	UserEmail string         `json:"user_email,omitempty"`
	UserName  string         `json:"user_name,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// auditSeverity returns the appropriate severity for an action. Commits and
// rollbacks move customer records, so they rank highest.
func auditSeverity(action AuditAction) AuditSeverity {
	switch action {
	case AuditCommit, AuditReimport:
		return SeverityHigh
	case AuditRollback, AuditDiscarded:
		return SeverityCritical
	case AuditTemplateSaved, AuditTemplateDeleted, AuditRuleToggled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// recordAudit persists an audit event. Audit failures are logged, never
// propagated: losing one event must not fail the operation it describes.
func (s *Service) recordAudit(ctx context.Context, tenantID, batchID uuid.UUID, action AuditAction, details map[string]any) {
	if s.audit == nil {
		return
	}

	actor := ActorFromContext(ctx)
	event := &AuditEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		BatchID:   batchID,
		Action:    action,
		Severity:  auditSeverity(action),
		UserID:    actor.UserID,
		UserEmail: actor.Email,
		UserName:  actor.Name,
		IPAddress: IPAddressFromContext(ctx),
		UserAgent: UserAgentFromContext(ctx),
		Details:   details,
		CreatedAt: s.now(),
	}

	if err := s.audit.Record(ctx, event); err != nil {
		slog.Error("audit record failed",
			"action", string(action),
			"batch_id", batchID.String(),
			"error", err,
		)
	}
}

// BatchHistory returns the audit trail for one batch, newest first.
func (s *Service) BatchHistory(ctx context.Context, tenantID, batchID uuid.UUID, limit int) ([]*AuditEvent, error) {
	if _, err := s.getBatch(ctx, tenantID, batchID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	return s.audit.ListForBatch(ctx, batchID, limit)
}
