package commands

import (
	"fmt"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/shipper/internal/pipeline"
	"github.com/alvesdmateus/shipper/internal/registry"
)

func newPullCmd(a *app) *cobra.Command {
	var flags deployFlags

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull the published image from ECR",
		Long: `Validate the deployment configuration, authenticate with ECR, check that
the repository exists and pull the image into the local engine. A missing
repository or tag is reported as not found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.deployRequest(cmd, &flags)
			if err != nil {
				return err
			}

			docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return fmt.Errorf("failed to create docker client: %w", err)
			}
			defer docker.Close()

			gateway := registry.NewGateway(docker, registry.WithTimeout(a.settings.Timeouts.Network))
			p := pipeline.NewPipeline(nil, gateway, a.settings.Timeouts.Build, log.Logger)

			run, err := p.Pull(cmd.Context(), req)
			a.recordMetrics(run)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Pulled %s\n", run.Image)
			return nil
		},
	}

	flags.register(cmd, false)
	return cmd
}
