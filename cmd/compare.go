// File: cmd/compare.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/internal/observability"
)

// newCompareCmd creates the 'compare' command: diff two persisted versions
// of a behavior and recommend one.
func newCompareCmd() *cobra.Command {
	var behaviorID string
	var versionA string
	var versionB string
	var useMemStore bool

	initFn := initializeComponents

	cmd := &cobra.Command{
		Use:   "compare --behavior <id> --from <version> --to <version>",
		Short: "Compares two versions of a behavior and recommends one.",
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

			result, err := components.Jobs.CompareVersions(ctx, behaviorID, versionA, versionB)
			if err != nil {
				logger.Error("Version comparison failed.", zap.Error(err))
				return err
			}

			fmt.Printf("Version %s: fitness=%.3f success_rate=%.3f\n", versionA, result.FitnessA, result.SuccessRateA)
			fmt.Printf("Version %s: fitness=%.3f success_rate=%.3f\n", versionB, result.FitnessB, result.SuccessRateB)
			fmt.Printf("Recommendation: %s (%s)\n", result.RecommendedChoice, result.Recommendation)
			if result.Diff != "" {
				fmt.Printf("\nPrompt diff:\n%s\n", result.Diff)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&behaviorID, "behavior", "b", "", "Behavior ID (required).")
	cmd.Flags().StringVar(&versionA, "from", "", "First version to compare (required).")
	cmd.Flags().StringVar(&versionB, "to", "", "Second version to compare (required).")
	cmd.Flags().BoolVar(&useMemStore, "mem-store", false, "Use the in-memory store instead of PostgreSQL.")
	_ = cmd.MarkFlagRequired("behavior")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
