// File: cmd/status.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/internal/observability"
)

// newStatusCmd creates the 'status' command: show the most recent evolution
// run for a behavior, which is the live run while a job is executing.
func newStatusCmd() *cobra.Command {
	var behaviorID string
	var useMemStore bool

	initFn := initializeComponents

	cmd := &cobra.Command{
		Use:   "status --behavior <id>",
		Short: "Shows the latest evolution run for a behavior.",
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

			run, err := components.Jobs.Status(ctx, behaviorID)
			if err != nil {
				logger.Error("Status lookup failed.", zap.Error(err))
				return err
			}

			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to render run record: %w", err)
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&behaviorID, "behavior", "b", "", "Behavior ID (required).")
	cmd.Flags().BoolVar(&useMemStore, "mem-store", false, "Use the in-memory store instead of PostgreSQL.")
	_ = cmd.MarkFlagRequired("behavior")
	return cmd
}
