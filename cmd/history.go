// File: cmd/history.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/internal/observability"
)

// newHistoryCmd creates the 'history' command: list past evolution runs for
// a behavior, newest first.
func newHistoryCmd() *cobra.Command {
	var behaviorID string
	var limit int
	var useMemStore bool

	initFn := initializeComponents

	cmd := &cobra.Command{
		Use:   "history --behavior <id>",
		Short: "Lists past evolution runs for a behavior.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			components, err := initFn(ctx, cfg, logger, useMemStore)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			runs, err := components.Jobs.History(ctx, behaviorID, limit)
			if err != nil {
				logger.Error("History lookup failed.", zap.Error(err))
				return err
			}
			if len(runs) == 0 {
				fmt.Printf("No evolution runs recorded for %s.\n", behaviorID)
				return nil
			}

			for _, run := range runs {
				to := run.ToVersion
				if to == "" {
					to = "-"
				}
				fmt.Printf("%s  %s  %s -> %s  improved=%t  fitness=%.3f/%.3f  reason=%s\n",
					run.StartedAt.Format("2006-01-02 15:04:05"),
					run.Status, run.FromVersion, to,
					run.Improved, run.BestFitness, run.Holdout, run.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&behaviorID, "behavior", "b", "", "Behavior ID (required).")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show.")
	cmd.Flags().BoolVar(&useMemStore, "mem-store", false, "Use the in-memory store instead of PostgreSQL.")
	_ = cmd.MarkFlagRequired("behavior")
	return cmd
}
