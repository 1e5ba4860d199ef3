package tofu

import (
	"context"
	"os"
	"path/filepath"
)

// GenerateDerived produces the plan JSON, dependency graph, and provider
// schema snapshot in dir. Each of the three is best-effort and independent:
// a failure in one does not block the others, and a missing plan file yields
// an empty-object JSON fallback.
func (r *Runner) GenerateDerived(ctx context.Context, dir string) {
	planPath := filepath.Join(dir, PlanBinaryFile)
	if _, err := os.Stat(planPath); err == nil {
		r.deriveToFile(ctx, dir, PlanJSONFile, "show", "-json", PlanBinaryFile)
	} else {
		if err := os.WriteFile(filepath.Join(dir, PlanJSONFile), []byte("{}"), 0o644); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to write empty plan JSON fallback")
		}
	}

	r.deriveToFile(ctx, dir, GraphFile, "graph")
	r.deriveToFile(ctx, dir, SchemaFile, "providers", "schema", "-json")
}

// deriveToFile runs one tool subcommand with stdout captured into a file in
// dir. Failures are logged and swallowed.
func (r *Runner) deriveToFile(ctx context.Context, dir, outName string, args ...string) {
	outPath := filepath.Join(dir, outName)
	f, err := os.Create(outPath)
	if err != nil {
		r.logger.Warn().Err(err).Str("file", outName).Msg("Failed to create derived artifact")
		return
	}
	defer f.Close()

	code, err := r.exec.Run(ctx, dir, f, r.tool, args...)
	if err != nil {
		r.logger.Warn().Err(err).Str("file", outName).Msg("Derived artifact generation failed")
		return
	}
	if code != 0 {
		r.logger.Warn().Int("exit_code", code).Str("file", outName).
			Msg("Derived artifact generation exited nonzero")
	}
}
