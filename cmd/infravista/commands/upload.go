package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infravista/infravista/pkg/artifact"
	"github.com/infravista/infravista/pkg/config"
)

func newUploadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <name> <file>",
		Short: "Publish a file as a workflow artifact",
		Long: `Publish a file through the Actions artifact service: create the artifact,
transfer the bytes to the signed blob URL, finalize with the sha256 digest,
and resolve the download URL.`,
		Example: `  infravista upload network-plan network.tar.gz`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, file := args[0], args[1]
			logger, metrics, tracer, err := newTelemetry(cmd.Root().Version)
			if err != nil {
				return err
			}
			defer tracer.Shutdown(cmd.Context())
			log := logger.NewComponentLogger("upload").Zerolog()

			env, err := config.FromEnv()
			if err != nil {
				return err
			}

			client, err := artifact.NewClient(artifact.Config{
				RuntimeToken: env.RuntimeToken,
				GitHubToken:  env.GitHubToken,
				ResultsURL:   env.ResultsURL,
				Repository:   env.Repository,
				RunID:        env.RunID,
			},
				artifact.WithLogger(log),
				artifact.WithMetrics(metrics),
				artifact.WithTracer(tracer),
			)
			if err != nil {
				return err
			}

			url, err := client.UploadArtifact(cmd.Context(), name, file)
			if err != nil {
				return err
			}
			fmt.Println(url)
			return nil
		},
	}
	return cmd
}
