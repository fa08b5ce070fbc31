package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fieldserve/roster-import/internal/core"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type importOutput struct {
	Command    string       `json:"command"`
	DurationMS int64        `json:"duration_ms"`
	Result     importResult `json:"result"`
}

type importResult struct {
	BatchID    uuid.UUID               `json:"batch_id"`
	File       string                  `json:"file"`
	TotalRows  int                     `json:"total_rows"`
	Mapping    []core.ColumnMapping    `json:"mapping"`
	Validation *core.ValidationSummary `json:"validation"`
	Commit     *core.CommitResult      `json:"commit"`
}

func newImportCmd() *cobra.Command {
	var (
		tenantID       string
		apply          bool
		skipCleaning   bool
		updateExisting bool
		mapFlags       []string
	)

	cmd := &cobra.Command{
		Use:   "import <file.csv|file.xlsx>",
		Short: "Stage a roster file and commit it in one run",
		Long: `Stage a roster file and commit it in one run.

The column mapping starts from the deterministic proposal (aliases plus any
saved template that matches the headers exactly) and applies --map overrides
on top. All mappings are treated as confirmed; required fields that stay
unmapped fail the run. Without --apply the commit is a dry run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tid, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("invalid --tenant: %w", err)
			}
			overrides, err := parseMapFlags(mapFlags)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
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

			ctx := cmd.Context()
			start := time.Now()

			upload, err := service.Upload(ctx, tid, filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			batchID := upload.BatchID

			if _, err := service.ApproveCleaning(ctx, tid, batchID, skipCleaning); err != nil {
				return err
			}

			mappings, err := buildMappings(upload.Headers, upload.SuggestedMapping, overrides)
			if err != nil {
				return err
			}
			if _, err := service.ApplyMapping(ctx, tid, batchID, mappings); err != nil {
				return err
			}

			if updateExisting {
				if err := service.SetUpdateExisting(ctx, tid, batchID, true); err != nil {
					return err
				}
			}

			summary, err := service.Validate(ctx, tid, batchID)
			if err != nil {
				return err
			}

			commit, err := service.Commit(ctx, tid, batchID, core.CommitRequest{DryRun: !apply})
			if err != nil {
				return err
			}

			return writeJSON(importOutput{
				Command:    "import",
				DurationMS: time.Since(start).Milliseconds(),
				Result: importResult{
					BatchID:    batchID,
					File:       args[0],
					TotalRows:  upload.TotalRows,
					Mapping:    mappings,
					Validation: summary,
					Commit:     commit,
				},
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant UUID (required)")
	cmd.Flags().BoolVar(&apply, "apply", false, "Write the customers (default dry-run)")
	cmd.Flags().BoolVar(&skipCleaning, "skip-cleaning", false, "Accept the data as uploaded, with every cleaning rule off")
	cmd.Flags().BoolVar(&updateExisting, "update-existing", false, "Update matching customers instead of skipping duplicates")
	cmd.Flags().StringArrayVar(&mapFlags, "map", nil, "Override a column mapping: column=field, column=custom or column=ignore (repeatable)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// parseMapFlags turns repeated --map column=field flags into a lookup.
func parseMapFlags(flags []string) (map[string]string, error) {
	overrides := make(map[string]string, len(flags))
	for _, f := range flags {
		parts := strings.SplitN(f, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --map %q, want column=field", f)
		}
		overrides[parts[0]] = parts[1]
	}
	return overrides, nil
}

// buildMappings finalizes the column mapping for a headless run: proposal
// first, overrides on top, everything confirmed.
func buildMappings(headers []string, proposal core.MappingProposal, overrides map[string]string) ([]core.ColumnMapping, error) {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	for col := range overrides {
		if !known[col] {
			return nil, fmt.Errorf("--map column %q is not in the file headers", col)
		}
	}

	byColumn := make(map[string]core.ColumnMapping, len(proposal.Mappings))
	for _, m := range proposal.Mappings {
		byColumn[m.Column] = m
	}

	out := make([]core.ColumnMapping, 0, len(headers))
	for _, h := range headers {
		m, ok := byColumn[h]
		if !ok {
			m = core.ColumnMapping{Column: h, Action: core.ActionCustom}
		}
		if target, ok := overrides[h]; ok {
			switch target {
			case "custom":
				m = core.ColumnMapping{Column: h, Action: core.ActionCustom, Origin: core.OriginHuman, Confidence: 1}
			case "ignore":
				m = core.ColumnMapping{Column: h, Action: core.ActionIgnore, Origin: core.OriginHuman, Confidence: 1}
			default:
				m = core.ColumnMapping{Column: h, Field: target, Action: core.ActionMap, Origin: core.OriginHuman, Confidence: 1}
			}
		}
		m.Confirmed = true
		out = append(out, m)
	}
	return core.NormalizeMapping(out), nil
}
