// File: cmd/evolve.go
package cmd

import (
	"context"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/draagonlabs/evoforge/api/schemas"
	"github.com/draagonlabs/evoforge/internal/config"
	"github.com/draagonlabs/evoforge/internal/engine"
	"github.com/draagonlabs/evoforge/internal/observability"
	"github.com/draagonlabs/evoforge/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// componentsInitializer creates the wired component graph. Injected so tests
// can substitute fakes without touching real stores or LLM backends.
type componentsInitializer func(ctx context.Context, cfg *config.Config, logger *zap.Logger, useInMemoryStore bool) (*service.Components, error)

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, useInMemoryStore bool) (*service.Components, error) {
	return service.BuildComponents(ctx, cfg, logger, nil, useInMemoryStore)
}

// newEvolveCmd creates the 'evolve' command: run the genetic prompt
// evolution loop against one behavior's action.
func newEvolveCmd() *cobra.Command {
	var behaviorID string
	var actionName string
	var casesPath string
	var force bool
	var useMemStore bool
	var seedFailures int

	initFn := initializeComponents

	cmd := &cobra.Command{
		Use:   "evolve --behavior <id> --cases <file>",
		Short: "Runs the evolution loop for a behavior and promotes the winning prompt.",
		Long: `The evolve command consults the evolution trigger, then runs the genetic
loop: the production prompt seeds a candidate population, candidates are
scored against the training split of the supplied test cases, elites are
gated on the holdout split, and the winner is promoted as a new behavior
version. Without --force the run only starts when a trigger condition is
satisfied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runEvolve(ctx, cfg, logger, behaviorID, actionName, casesPath, force, useMemStore, seedFailures, initFn)
		},
	}

	cmd.Flags().StringVarP(&behaviorID, "behavior", "b", "", "Behavior ID to evolve (required).")
	cmd.Flags().StringVarP(&actionName, "action", "a", "", "Action whose instruction is evolved (default: the behavior's first action).")
	cmd.Flags().StringVar(&casesPath, "cases", "", "Path to a JSON file with the test cases (required).")
	cmd.Flags().BoolVar(&force, "force", false, "Run even when no trigger condition is satisfied.")
	cmd.Flags().BoolVar(&useMemStore, "mem-store", false, "Use the in-memory store instead of PostgreSQL (data is lost on exit).")
	cmd.Flags().IntVar(&seedFailures, "seed-failures", 0, "Add up to N judge-scored cases derived from recorded failure patterns.")
	_ = cmd.MarkFlagRequired("behavior")
	_ = cmd.MarkFlagRequired("cases")

	return cmd
}

// runEvolve contains the core evolve logic, decoupled from cobra.
func runEvolve(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	behaviorID, actionName, casesPath string,
	force, useMemStore bool,
	seedFailures int,
	initFn componentsInitializer,
) error {
	cases, err := loadTestCases(casesPath)
	if err != nil {
		return err
	}

	components, err := initFn(ctx, cfg, logger, useMemStore)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	if seedFailures > 0 {
		seeded, err := components.Tracker.SeedCases(ctx, behaviorID, seedFailures)
		if err != nil {
			return fmt.Errorf("failed to seed cases from failure patterns: %w", err)
		}
		cases = append(cases, seeded...)
	}

	reason := "manual"
	if !force {
		due, triggerReason, err := components.Trigger.ShouldEvolve(ctx, behaviorID)
		if err != nil {
			return fmt.Errorf("trigger check failed: %w", err)
		}
		if !due {
			logger.Info("No trigger condition satisfied; skipping run. Use --force to override.",
				zap.String("behavior_id", behaviorID),
				zap.String("reason", triggerReason))
			fmt.Printf("Behavior %s is not due for evolution (%s).\n", behaviorID, triggerReason)
			return nil
		}
		reason = triggerReason
	}

	result, err := components.Jobs.Evolve(ctx, behaviorID, engine.EvolveOptions{
		ActionName: actionName,
		Reason:     reason,
		Cases:      cases,
	})
	if err != nil {
		logger.Error("Evolution run failed.", zap.Error(err))
		return fmt.Errorf("evolution run error: %w", err)
	}

	printResult(behaviorID, reason, result)
	return nil
}

func loadTestCases(path string) ([]schemas.TestCase, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("could not resolve test cases path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read test cases file: %w", err)
	}
	var cases []schemas.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse test cases file: %w", err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("test cases file %q contains no cases", path)
	}
	return cases, nil
}

func printResult(behaviorID, reason string, result *schemas.EvolutionResult) {
	fmt.Printf("Behavior:    %s\n", behaviorID)
	fmt.Printf("Reason:      %s\n", reason)
	fmt.Printf("Improved:    %t\n", result.Improved)
	fmt.Printf("Fitness:     %.3f (holdout %.3f)\n", result.BestFitness, result.HoldoutFitness)
	fmt.Printf("Generations: %d\n", result.GenerationsRun)
	if result.PromptDiff != "" {
		fmt.Printf("\nPrompt diff:\n%s\n", result.PromptDiff)
	}
}
