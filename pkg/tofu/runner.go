package tofu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/infravista/infravista/pkg/telemetry"
)

// Well-known file names in the recipe directory.
const (
	PlanBinaryFile      = "tfplan"
	PlanJSONFile        = "tfplan.json"
	GraphFile           = "terraform_graph.dot"
	SchemaFile          = "provider_schema.json"
	BackendOverrideFile = "backend_override.tf"
)

// backendOverride pins plan state to a throwaway local backend so nothing
// escapes the execution.
const backendOverride = `terraform {
    backend "local" { path = "terraform.tfstate" }
}`

// PlanAttempt records one trial of the planning tool. Immutable once
// constructed.
type PlanAttempt struct {
	// Label is "defaults" or the variable-file name.
	Label string

	// VarFile is the variable-file path used; empty for the default attempt.
	VarFile string

	// Success reports whether the plan exited zero.
	Success bool

	// LogPath points at the captured process output.
	LogPath string
}

// CommandRunner abstracts process execution. The directory is explicit on
// every invocation; implementations must not rely on the process working
// directory.
type CommandRunner interface {
	Run(ctx context.Context, dir string, output io.Writer, name string, args ...string) (exitCode int, err error)
}

// ExecRunner runs commands with os/exec, merging stdout and stderr into the
// given writer.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, dir string, output io.Writer, name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Runner executes single plan attempts and the surrounding init/derive
// commands.
type Runner struct {
	exec    CommandRunner
	tool    string
	logDir  string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithExec replaces the process-execution backend.
func WithExec(exec CommandRunner) RunnerOption {
	return func(r *Runner) { r.exec = exec }
}

// WithTool overrides the planning-tool binary name.
func WithTool(tool string) RunnerOption {
	return func(r *Runner) { r.tool = tool }
}

// WithLogDir overrides where attempt logs are written.
func WithLogDir(dir string) RunnerOption {
	return func(r *Runner) { r.logDir = dir }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerMetrics sets the metrics collector.
func WithRunnerMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithClock replaces the time source used for log-file naming.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner with the default tool ("tofu") and the system
// temp directory for logs.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		exec:   ExecRunner{},
		tool:   "tofu",
		logDir: os.TempDir(),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init writes the local backend override into dir and runs `tofu init`. The
// returned cleanup removes the override file and must be called on every
// exit path. A nonzero init exit is an error: no attempt can plan without a
// successful init.
func (r *Runner) Init(ctx context.Context, dir string) (cleanup func(), err error) {
	overridePath := filepath.Join(dir, BackendOverrideFile)
	if err := os.WriteFile(overridePath, []byte(backendOverride), 0o644); err != nil {
		return nil, fmt.Errorf("writing backend override: %w", err)
	}
	cleanup = func() {
		_ = os.Remove(overridePath)
	}

	logFile, logPath, err := r.openLog("init")
	if err != nil {
		cleanup()
		return nil, err
	}
	defer logFile.Close()

	r.logger.Info().Str("dir", dir).Msg("Running tofu init")
	code, runErr := r.exec.Run(ctx, dir, logFile, r.tool, "init", "-input=false")
	if runErr != nil {
		cleanup()
		return nil, fmt.Errorf("running %s init: %w", r.tool, runErr)
	}
	if code != 0 {
		cleanup()
		return nil, fmt.Errorf("%s init exited %d, log at %s", r.tool, code, logPath)
	}

	return cleanup, nil
}

// RunAttempt executes one plan attempt in dir, capturing all process output
// into a uniquely named log file. A failed plan is a reportable outcome, not
// an error; errors are reserved for infrastructure failures (unwritable log,
// missing binary).
func (r *Runner) RunAttempt(ctx context.Context, dir, label string, extraArgs []string) (PlanAttempt, error) {
	logFile, logPath, err := r.openLog(label)
	if err != nil {
		return PlanAttempt{}, err
	}
	defer logFile.Close()

	args := append([]string{"plan", "-out=" + PlanBinaryFile, "-input=false"}, extraArgs...)
	fmt.Fprintf(logFile, "$ %s %s\n\n", r.tool, strings.Join(args, " "))

	r.logger.Info().Str("attempt", label).Strs("args", extraArgs).Msg("Running tofu plan")
	start := r.now()
	code, runErr := r.exec.Run(ctx, dir, logFile, r.tool, args...)
	if runErr != nil {
		return PlanAttempt{}, fmt.Errorf("running %s plan for %q: %w", r.tool, label, runErr)
	}

	attempt := PlanAttempt{
		Label:   label,
		VarFile: varFileFromArgs(extraArgs),
		Success: code == 0,
		LogPath: logPath,
	}

	outcome := "failure"
	if attempt.Success {
		outcome = "success"
	}
	if r.metrics != nil {
		r.metrics.RecordPlanAttempt(outcome, time.Since(start))
	}
	r.logger.Info().Str("attempt", label).Bool("success", attempt.Success).
		Str("log", logPath).Msg("Plan attempt finished")

	return attempt, nil
}

// openLog creates a collision-free log file for the given label.
func (r *Runner) openLog(label string) (*os.File, string, error) {
	path := filepath.Join(r.logDir,
		fmt.Sprintf("tofu_plan_%s_%d.log", sanitizeLabel(label), r.now().Unix()))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("creating attempt log: %w", err)
	}
	return f, path, nil
}

// sanitizeLabel makes a label safe for use in a file name.
func sanitizeLabel(label string) string {
	s := strings.ReplaceAll(label, string(os.PathSeparator), "_")
	return strings.ReplaceAll(s, " ", "_")
}

// varFileFromArgs recovers the variable-file path from the extra plan
// arguments, mirroring the `-var-file <path>` pair the orchestrator builds.
func varFileFromArgs(extraArgs []string) string {
	if n := len(extraArgs); n > 0 && strings.HasSuffix(extraArgs[n-1], ".tfvars") {
		return extraArgs[n-1]
	}
	return ""
}
