package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infravista/infravista/pkg/policy"
)

func newCheckCommand() *cobra.Command {
	var (
		policyPaths []string
		recipe      string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "check <plan-json>",
		Short: "Evaluate policies against a derived plan JSON",
		Long: `Evaluate the built-in and repository policies against a plan JSON file.
With --watch the policy paths are monitored and the plan is re-evaluated
whenever a policy file changes, which is useful while authoring rules.`,
		Example: `  # One-shot gate
  infravista check recipes/network/tfplan.json --policy policies/

  # Re-evaluate while editing rules
  infravista check recipes/network/tfplan.json --policy policies/ --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planJSON := args[0]
			logger, _, _, err := newTelemetry(cmd.Root().Version)
			if err != nil {
				return err
			}
			log := logger.NewComponentLogger("check").Zerolog()

			engine, err := policy.NewEngine(log)
			if err != nil {
				return err
			}
			if len(policyPaths) > 0 {
				if err := engine.LoadPolicies(cmd.Context(), policyPaths); err != nil {
					return err
				}
			}

			evaluate := func() (bool, error) {
				result, err := engine.EvaluatePlanFile(cmd.Context(), planJSON, recipe)
				if err != nil {
					return false, err
				}
				for _, v := range result.Violations {
					fmt.Printf("policy %s [%s]: %s\n", v.Policy, v.Severity, v.Message)
				}
				if result.Allowed {
					fmt.Println("plan allowed")
				} else {
					fmt.Println("plan blocked")
				}
				return result.Allowed, nil
			}

			allowed, err := evaluate()
			if err != nil {
				return err
			}

			if watch && len(policyPaths) > 0 {
				loader := policy.NewLoader(log)
				err := loader.Watch(cmd.Context(), policyPaths, func(policies []policy.Policy) error {
					if err := engine.ReplaceLoaded(policies); err != nil {
						return err
					}
					_, err := evaluate()
					return err
				})
				if err != nil {
					return err
				}
				<-cmd.Context().Done()
				return loader.StopWatching()
			}

			if !allowed {
				return fmt.Errorf("plan blocked by policy")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyPaths, "policy", nil, "policy files or directories to load")
	cmd.Flags().StringVar(&recipe, "recipe", "", "recipe path recorded with the evaluation")
	cmd.Flags().BoolVar(&watch, "watch", false, "watch policy paths and re-evaluate on change")

	return cmd
}
