package main

import (
	"time"

	"github.com/fieldserve/roster-import/internal/schema"
	"github.com/spf13/cobra"
)

type schemaOutput struct {
	Command    string `json:"command"`
	DurationMS int64  `json:"duration_ms"`
	Result     string `json:"result"`
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := connectDB(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			start := time.Now()
			if err := schema.Apply(cmd.Context(), pool); err != nil {
				return err
			}

			return writeJSON(schemaOutput{
				Command:    "schema",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     "applied",
			})
		},
	}
	return cmd
}
