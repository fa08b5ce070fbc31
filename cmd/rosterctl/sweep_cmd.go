package main

import (
	"time"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/spf13/cobra"
)

type sweepOutput struct {
	Command    string            `json:"command"`
	DurationMS int64             `json:"duration_ms"`
	Result     core.SweepSummary `json:"result"`
}

func newSweepCmd() *cobra.Command {
	var (
		batchTTL time.Duration
		auditTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Discard stale staging batches and prune old audit events",
		Long: `Discard stale staging batches and prune old audit events.

The server runs this cleanup on a schedule; sweep runs one cycle
immediately, for example after lowering the retention window.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			summary := service.SweepExpired(cmd.Context(), core.SweeperConfig{
				BatchTTL: batchTTL,
				AuditTTL: auditTTL,
			})

			return writeJSON(sweepOutput{
				Command:    "sweep",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     summary,
			})
		},
	}

	cmd.Flags().DurationVar(&batchTTL, "batch-ttl", 0, "Idle time before a staging batch is discarded (default 72h)")
	cmd.Flags().DurationVar(&auditTTL, "audit-ttl", 0, "Age before audit events are purged (default 4320h)")
	return cmd
}
