package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infravista/infravista/pkg/telemetry"
)

var (
	// Global flags
	logLevel      string
	logFormat     string
	journalPath   string
	traceExporter string
	traceEndpoint string
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "infravista",
		Short: "Infravista - plan recipes and publish their artifacts",
		Long: `Infravista plans OpenTofu recipes inside GitHub Actions, derives plan
artifacts (plan JSON, dependency graph, provider schema), gates them with
policies, and publishes them as workflow artifacts and to the visualiser
host.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&journalPath, "journal", "", "run journal database path (empty disables the journal)")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (otlp, stdout, none)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint (host:port)")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newCheckCommand())

	return rootCmd
}

// newTelemetry builds the shared telemetry stack from the persistent flags.
// Callers own the tracer and must Shutdown it to flush pending spans.
func newTelemetry(version string) (*telemetry.Logger, *telemetry.Metrics, *telemetry.Tracer, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	cfg.Tracing.Enabled = traceExporter != "" && traceExporter != "none"
	cfg.Tracing.Exporter = traceExporter
	cfg.Tracing.Endpoint = traceEndpoint
	cfg.Tracing.Insecure = true
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}

	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	metrics, err := telemetry.NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, nil, nil, err
	}
	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, nil, nil, err
	}
	return logger, metrics, tracer, nil
}
