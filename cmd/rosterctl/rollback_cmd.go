package main

import (
	"fmt"
	"time"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type rollbackOutput struct {
	Command    string               `json:"command"`
	DurationMS int64                `json:"duration_ms"`
	Result     *core.RollbackResult `json:"result"`
}

func newRollbackCmd() *cobra.Command {
	var (
		tenantID string
		batchID  string
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Delete the customer records a committed batch created",
		Long: `Delete the customer records a committed batch created.

Records that updated pre-existing customers are left untouched; rollback
reverses creations only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
			}
			bid, err := uuid.Parse(batchID)
			if err != nil {
				return fmt.Errorf("invalid --batch: %w", err)
			}

			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			service, err := newService(pool)
			if err != nil {
				return err
			}

			start := time.Now()
			result, err := service.Rollback(cmd.Context(), tid, bid, reason)
			if err != nil {
				return err
			}

			return writeJSON(rollbackOutput{
				Command:    "rollback",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     result,
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().StringVar(&batchID, "batch", "", "Batch UUID (required)")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit trail")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}
