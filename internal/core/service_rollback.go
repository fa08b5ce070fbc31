package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RollbackConflictError is returned when a rollback is refused: the batch is
// not committed, or another operation holds the batch.
type RollbackConflictError struct {
	Reason string
}

func (e *RollbackConflictError) Error() string {
	return "rollback conflict: " + e.Reason
}

// Rollback deletes the customer records this batch's commits created.
// Records the commit merely updated are never deleted; rollback removes what
// the import added, not what it changed. Afterward the batch is eligible for
// a fresh commit, independent of the rolled-back attempt.
func (s *Service) Rollback(ctx context.Context, tenantID, batchID uuid.UUID, reason string) (*RollbackResult, error) {
	var result *RollbackResult
	err := s.withBatchLock(batchID, func() error {
		batch, err := s.getBatch(ctx, tenantID, batchID)
		if err != nil {
			return err
		}
		if batch.Status != StatusCommitted {
			return &RollbackConflictError{
				Reason: fmt.Sprintf("batch is %s, only a committed batch can be rolled back", batch.Status),
			}
		}

		start := time.Now()

		deleted, err := s.customers.DeleteCreated(ctx, tenantID, batchID)
		if err != nil {
			return fmt.Errorf("delete created customers: %w", err)
		}

		// The customers are gone at this point; bookkeeping failures must not
		// resurrect them, so they are logged and the rollback proceeds.
		if err := s.batches.MarkCommitsRolledBack(ctx, batchID); err != nil {
			slog.Warn("mark commits rolled back failed",
				"batch_id", batchID.String(),
				"error", err,
			)
		}

		batch.Status = StatusRolledBack
		batch.Step = StepResult
		batch.ReimportRows = nil
		batch.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, batch); err != nil {
			return fmt.Errorf("update batch: %w", err)
		}

		s.recordAudit(ctx, tenantID, batchID, AuditRollback, map[string]any{
			"records_deleted": deleted,
			"reason":          reason,
		})

		slog.Info("batch rolled back",
			"batch_id", batchID.String(),
			"records_deleted", deleted,
		)

		result = &RollbackResult{
			BatchID:        batchID,
			RecordsDeleted: int(deleted),
			Reason:         reason,
			Duration:       time.Since(start),
		}
		return nil
	})
	if err == nil {
		s.releaseGuard(batchID)
		return result, nil
	}
	if errors.Is(err, ErrBatchBusy) {
		return nil, &RollbackConflictError{Reason: "another operation is in progress for this batch"}
	}
	return nil, err
}
