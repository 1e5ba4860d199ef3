package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/infravista/infravista/pkg/policy"
	"github.com/infravista/infravista/pkg/tofu"
)

func newPlanCommand() *cobra.Command {
	var (
		varFiles   []string
		tool       string
		skipPolicy bool
	)

	cmd := &cobra.Command{
		Use:   "plan <recipe-dir>",
		Short: "Plan one recipe and derive its artifacts",
		Long: `Run plan attempts for a recipe: the default variable set first, then one
attempt per variable file, stopping at the first success. On success the
plan JSON, dependency graph, and provider schema are written into the
recipe directory and gated by the loaded policies.`,
		Example: `  # Plan with discovered variable files
  infravista plan recipes/network

  # Plan with a pinned variable file order
  infravista plan recipes/network --var-file env/prod.tfvars`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipeDir := args[0]
			logger, metrics, tracer, err := newTelemetry(cmd.Root().Version)
			if err != nil {
				return err
			}
			defer tracer.Shutdown(cmd.Context())
			log := logger.NewComponentLogger("plan").Zerolog()

			if len(varFiles) == 0 {
				varFiles, err = tofu.FindVarFiles(recipeDir)
				if err != nil {
					return fmt.Errorf("discovering variable files: %w", err)
				}
			}

			runner := tofu.NewRunner(
				tofu.WithTool(tool),
				tofu.WithRunnerLogger(log),
				tofu.WithRunnerMetrics(metrics),
			)
			orch := tofu.NewOrchestrator(runner,
				tofu.WithOrchestratorLogger(log),
				tofu.WithOrchestratorTracer(tracer),
			)

			attempts, ok, err := orch.RunPlans(cmd.Context(), recipeDir, varFiles)
			if err != nil {
				return err
			}
			for _, a := range attempts {
				fmt.Printf("attempt %-20s success=%-5v log=%s\n", a.Label, a.Success, a.LogPath)
			}
			if !ok {
				return fmt.Errorf("all %d plan attempts failed for %s", len(attempts), recipeDir)
			}

			if skipPolicy {
				return nil
			}
			engine, err := policy.NewEngine(log)
			if err != nil {
				return err
			}
			result, err := engine.EvaluatePlanFile(cmd.Context(),
				filepath.Join(recipeDir, tofu.PlanJSONFile), recipeDir)
			if err != nil {
				return err
			}
			for _, v := range result.Violations {
				fmt.Printf("policy %s [%s]: %s\n", v.Policy, v.Severity, v.Message)
			}
			if !result.Allowed {
				return fmt.Errorf("plan for %s blocked by policy", recipeDir)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&varFiles, "var-file", nil, "variable files to try in order (default: discover)")
	cmd.Flags().StringVar(&tool, "tool", "tofu", "planning tool binary")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation of the derived plan")

	return cmd
}
