package main

import (
	"fmt"
	"time"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type batchesOutput struct {
	Command    string              `json:"command"`
	DurationMS int64               `json:"duration_ms"`
	Result     []*core.ImportBatch `json:"result"`
}

func newBatchesCmd() *cobra.Command {
	var (
		tenantID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List import batches for a tenant, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
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
			batches, err := service.ListBatches(cmd.Context(), tid, limit)
			if err != nil {
				return err
			}

			return writeJSON(batchesOutput{
				Command:    "batches",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     batches,
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum batches to list")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
