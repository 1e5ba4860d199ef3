package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/infravista/infravista/pkg/archive"
	"github.com/infravista/infravista/pkg/artifact"
	"github.com/infravista/infravista/pkg/config"
	"github.com/infravista/infravista/pkg/gitmeta"
	"github.com/infravista/infravista/pkg/journal"
	"github.com/infravista/infravista/pkg/oidcbroker"
	"github.com/infravista/infravista/pkg/policy"
	"github.com/infravista/infravista/pkg/telemetry"
	"github.com/infravista/infravista/pkg/tofu"
	"github.com/infravista/infravista/pkg/vishost"
)

// pipeline carries the shared machinery one `run` invocation builds once.
type pipeline struct {
	log     zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	env     *config.Env
	meta    *gitmeta.Meta
	orch    *tofu.Orchestrator
	gate    *policy.Engine
	journal *journal.Journal
	repo    string
	host    string
	changed []string
	baseSHA string
}

func newRunCommand(version string) *cobra.Command {
	var (
		repoRoot   string
		baseSHA    string
		visHost    string
		tool       string
		skipPolicy bool
		skipVis    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline for every manifest recipe",
		Long: `Run the full pipeline: detect which recipes the push changed, plan each
one until an attempt succeeds, gate the derived plan with policies, package
the recipe, publish it as a workflow artifact, and upload it to the
visualiser host.`,
		Example: `  # Plan and publish everything the push touched
  infravista run --base-sha $BASE_SHA

  # Plan all recipes regardless of changes, keep a local journal
  infravista run --journal infravista.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, metrics, tracer, err := newTelemetry(version)
			if err != nil {
				return err
			}
			defer tracer.Shutdown(cmd.Context())
			log := logger.NewComponentLogger("run").Zerolog()

			env, err := config.FromEnv()
			if err != nil {
				return err
			}

			manifestPath := config.FindManifest(repoRoot)
			if manifestPath == "" {
				return fmt.Errorf("no %s found in %s", config.ManifestFile, repoRoot)
			}
			manifest, err := config.LoadManifest(manifestPath)
			if err != nil {
				return err
			}
			if visHost == "" {
				visHost = manifest.VisualiserHost
			}

			gate, err := policy.NewEngine(log)
			if err != nil {
				return err
			}
			if len(manifest.PolicyPaths) > 0 {
				paths := make([]string, len(manifest.PolicyPaths))
				for i, p := range manifest.PolicyPaths {
					paths[i] = filepath.Join(repoRoot, p)
				}
				if err := gate.LoadPolicies(cmd.Context(), paths); err != nil {
					return err
				}
			}

			runner := tofu.NewRunner(
				tofu.WithTool(tool),
				tofu.WithRunnerLogger(log),
				tofu.WithRunnerMetrics(metrics),
			)

			p := &pipeline{
				log:     log,
				metrics: metrics,
				tracer:  tracer,
				env:     env,
				meta:    gitmeta.New(repoRoot),
				orch: tofu.NewOrchestrator(runner,
					tofu.WithOrchestratorLogger(log),
					tofu.WithOrchestratorTracer(tracer),
				),
				gate:    gate,
				repo:    repoRoot,
				host:    visHost,
				baseSHA: baseSHA,
			}
			if skipPolicy {
				p.gate = nil
			}
			if skipVis {
				p.host = ""
			}

			if journalPath != "" {
				j, err := journal.Open(cmd.Context(), journalPath)
				if err != nil {
					return err
				}
				defer j.Close()
				p.journal = j
			}

			if baseSHA != "" {
				p.changed, err = p.meta.ChangedPaths(cmd.Context(), baseSHA, env.SHA)
				if err != nil {
					return err
				}
			}

			var failed int
			for _, recipe := range manifest.Recipes {
				if err := p.processRecipe(cmd.Context(), recipe); err != nil {
					log.Error().Err(err).Str("recipe", recipe.Path).Msg("Recipe pipeline failed")
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d recipes failed", failed, len(manifest.Recipes))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&repoRoot, "repo-root", ".", "repository root directory")
	cmd.Flags().StringVar(&baseSHA, "base-sha", "", "base commit for change detection (empty plans everything)")
	cmd.Flags().StringVar(&visHost, "visualiser-host", "", "visualiser host (overrides the manifest)")
	cmd.Flags().StringVar(&tool, "tool", "tofu", "planning tool binary")
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "skip policy evaluation")
	cmd.Flags().BoolVar(&skipVis, "skip-visualiser", false, "skip the visualiser host upload")

	return cmd
}

// processRecipe runs one recipe through plan, gate, package, and publish.
func (p *pipeline) processRecipe(ctx context.Context, recipe config.Recipe) error {
	log := p.log.With().Str("recipe", recipe.Path).Logger()

	if p.baseSHA != "" && !gitmeta.HasRecipeChanges(p.changed, recipe.Path) {
		log.Info().Msg("No changes for recipe, skipping")
		return nil
	}

	var runID string
	if p.journal != nil {
		id, err := p.journal.CreateRun(ctx, recipe.Path, recipe.Nickname, p.env.SHA)
		if err != nil {
			return err
		}
		runID = id
	}
	finish := func(status journal.RunStatus, msg string) {
		if p.journal == nil {
			return
		}
		if err := p.journal.CompleteRun(ctx, runID, status, msg); err != nil {
			log.Warn().Err(err).Msg("Failed to finalize journal run")
		}
	}

	recipeDir := filepath.Join(p.repo, recipe.Path)
	varFiles := recipe.VarFiles
	if len(varFiles) == 0 {
		discovered, err := tofu.FindVarFiles(recipeDir)
		if err != nil {
			finish(journal.RunStatusFailed, err.Error())
			return err
		}
		varFiles = discovered
	}

	attempts, ok, err := p.orch.RunPlans(ctx, recipeDir, varFiles)
	p.recordAttempts(ctx, runID, attempts, log)
	if err != nil {
		finish(journal.RunStatusFailed, err.Error())
		return err
	}
	if !ok {
		err := fmt.Errorf("all %d plan attempts failed for %s", len(attempts), recipe.Path)
		finish(journal.RunStatusFailed, err.Error())
		return err
	}

	if p.gate != nil {
		result, err := p.gate.EvaluatePlanFile(ctx,
			filepath.Join(recipeDir, tofu.PlanJSONFile), recipe.Path)
		if err != nil {
			finish(journal.RunStatusFailed, err.Error())
			return err
		}
		for _, v := range result.Violations {
			log.Warn().Str("policy", v.Policy).Str("severity", string(v.Severity)).
				Msg(v.Message)
		}
		if !result.Allowed {
			err := fmt.Errorf("plan for %s blocked by policy", recipe.Path)
			finish(journal.RunStatusFailed, err.Error())
			return err
		}
	}

	if err := p.publish(ctx, recipe, recipeDir, runID, log); err != nil {
		finish(journal.RunStatusFailed, err.Error())
		return err
	}

	finish(journal.RunStatusCompleted, "")
	return nil
}

// publish packages the recipe and sends it to the artifact service and the
// visualiser host.
func (p *pipeline) publish(ctx context.Context, recipe config.Recipe, recipeDir, runID string, log zerolog.Logger) error {
	modules, err := tofu.FindLocalModules(recipeDir)
	if err != nil {
		return err
	}

	archivePath := filepath.Join(os.TempDir(), archive.DefaultArchiveName(recipeDir))
	if err := archive.NewBuilder(log).Create(recipeDir, archivePath, modules); err != nil {
		return err
	}
	defer os.Remove(archivePath)

	client, err := artifact.NewClient(artifact.Config{
		RuntimeToken: p.env.RuntimeToken,
		GitHubToken:  p.env.GitHubToken,
		ResultsURL:   p.env.ResultsURL,
		Repository:   p.env.Repository,
		RunID:        p.env.RunID,
	},
		artifact.WithLogger(log),
		artifact.WithMetrics(p.metrics),
		artifact.WithTracer(p.tracer),
	)
	if err != nil {
		return err
	}

	url, err := client.UploadArtifact(ctx, recipe.Nickname, archivePath)
	if err != nil {
		return err
	}
	log.Info().Str("url", url).Msg("Artifact published")

	if p.journal != nil {
		var size int64
		if info, err := os.Stat(archivePath); err == nil {
			size = info.Size()
		}
		if err := p.journal.RecordArtifact(ctx, journal.Artifact{
			RunID: runID, Name: recipe.Nickname, URL: url, SizeBytes: size,
		}); err != nil {
			log.Warn().Err(err).Msg("Failed to record artifact in journal")
		}
	}

	if p.host == "" {
		return nil
	}

	commitTS, err := p.meta.CommitTimestamp(ctx, p.env.SHA)
	if err != nil {
		return err
	}
	broker, err := oidcbroker.New(
		os.Getenv(oidcbroker.EnvRequestURL),
		os.Getenv(oidcbroker.EnvRequestToken),
		oidcbroker.WithLogger(log),
	)
	if err != nil {
		return err
	}
	token, err := broker.Token(ctx, p.host)
	if err != nil {
		return err
	}

	return vishost.NewClient(p.host, vishost.WithLogger(log)).Send(ctx, vishost.Upload{
		ArchivePath:     archivePath,
		CommitTimestamp: commitTS,
		RecipePath:      recipe.Path,
		RecipeNickname:  recipe.Nickname,
	}, token)
}

func (p *pipeline) recordAttempts(ctx context.Context, runID string, attempts []tofu.PlanAttempt, log zerolog.Logger) {
	if p.journal == nil {
		return
	}
	for i, a := range attempts {
		err := p.journal.RecordAttempt(ctx, journal.Attempt{
			RunID:    runID,
			Position: i,
			Label:    a.Label,
			VarFile:  a.VarFile,
			Success:  a.Success,
			LogPath:  a.LogPath,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to record attempt in journal")
		}
	}
}
