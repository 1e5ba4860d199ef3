package tofu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/infravista/infravista/pkg/telemetry"
)

// ErrRecipeDirNotFound is returned when the recipe directory does not exist;
// no attempts are made in that case.
var ErrRecipeDirNotFound = errors.New("recipe directory does not exist")

// plannedAttempt pairs an attempt label with its extra plan arguments.
type plannedAttempt struct {
	label string
	args  []string
}

// Orchestrator drives plan attempts in order until the first success or
// exhaustion. Only one orchestration run may be active per recipe directory
// at a time: the backend override file is a single-writer resource.
type Orchestrator struct {
	runner *Runner
	logger zerolog.Logger
	tracer *telemetry.Tracer
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithOrchestratorTracer sets the tracer.
func WithOrchestratorTracer(t *telemetry.Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator around the given runner.
func NewOrchestrator(runner *Runner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runner: runner,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunPlans executes the attempt plan for recipeDir: the default variable set
// first, then one attempt per variable file in caller order. The first
// success stops the loop and triggers derived-artifact generation. The
// returned attempt list is the authoritative record of what was tried.
func (o *Orchestrator) RunPlans(ctx context.Context, recipeDir string, varFiles []string) ([]PlanAttempt, bool, error) {
	info, err := os.Stat(recipeDir)
	if err != nil || !info.IsDir() {
		return nil, false, fmt.Errorf("%w: %s", ErrRecipeDirNotFound, recipeDir)
	}

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartPlanSpan(ctx, recipeDir)
		defer span.End()
	}

	planned := make([]plannedAttempt, 0, len(varFiles)+1)
	planned = append(planned, plannedAttempt{label: "defaults"})
	for _, vf := range varFiles {
		planned = append(planned, plannedAttempt{
			label: filepath.Base(vf),
			args:  []string{"-var-file", vf},
		})
	}

	cleanup, err := o.runner.Init(ctx, recipeDir)
	if err != nil {
		return nil, false, err
	}
	defer cleanup()

	attempts := make([]PlanAttempt, 0, len(planned))
	for _, p := range planned {
		attempt, err := o.runner.RunAttempt(ctx, recipeDir, p.label, p.args)
		if err != nil {
			return attempts, false, err
		}
		attempts = append(attempts, attempt)

		if attempt.Success {
			o.logger.Info().Str("attempt", p.label).Msg("Plan succeeded, generating derived artifacts")
			o.runner.GenerateDerived(ctx, recipeDir)
			return attempts, true, nil
		}
	}

	o.logger.Warn().Int("attempts", len(attempts)).Msg("Every plan attempt failed")
	return attempts, false, nil
}
