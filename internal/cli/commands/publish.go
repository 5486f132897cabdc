package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/shipper/internal/builder"
	"github.com/alvesdmateus/shipper/internal/builder/scanner"
	"github.com/alvesdmateus/shipper/internal/executil"
	"github.com/alvesdmateus/shipper/internal/pipeline"
	"github.com/alvesdmateus/shipper/internal/registry"
	"github.com/alvesdmateus/shipper/internal/resolver"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		flags   deployFlags
		dryRun  bool
		noScan  bool
		noCache bool
		pull    bool
		stage   string
		labels  []string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Build the image and push it to ECR",
		Long: `Validate the deployment configuration, build the image (multi-platform
when more than one platform is set), authenticate with ECR, create the
repository if it does not exist and push the image.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.deployRequest(cmd, &flags)
			if err != nil {
				return err
			}
			req.DryRun = dryRun
			req.NoCache = noCache
			req.Pull = pull
			req.Stage = stage
			req.Labels = resolver.ParseBuildArgs(strings.Join(labels, ","))

			docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
			if err != nil {
				return fmt.Errorf("failed to create docker client: %w", err)
			}
			defer docker.Close()

			runner := newRunner(cmd.ErrOrStderr())

			scanCfg := scanner.ScanConfig{
				Enabled:       a.settings.Scan.Enabled && !noScan,
				IgnoreUnfixed: a.settings.Scan.IgnoreUnfixed,
				Timeout:       a.settings.Scan.Timeout,
			}

			b := builder.NewBuilder(
				builder.NewDockerEngine(docker),
				runner,
				scanner.NewTrivyScanner(scanCfg, runner),
				builder.Options{
					BuilderName: a.settings.Build.BuilderName,
					LayoutDir:   a.settings.Build.LayoutDir,
					ScanEnabled: scanCfg.Enabled,
				},
			)
			gateway := registry.NewGateway(docker, registry.WithTimeout(a.settings.Timeouts.Network))

			p := pipeline.NewPipeline(b, gateway, a.settings.Timeouts.Build, log.Logger)
			run, err := p.Publish(cmd.Context(), req)
			a.recordMetrics(run)
			if err != nil {
				return err
			}

			printPublishSummary(cmd.OutOrStdout(), run, req)
			return nil
		},
	}

	flags.register(cmd, true)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the build plan without building or pushing")
	cmd.Flags().BoolVar(&noScan, "no-scan", false, "skip the advisory vulnerability scan")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "do not use the build cache")
	cmd.Flags().BoolVar(&pull, "pull", false, "always attempt to pull newer base images")
	cmd.Flags().StringVar(&stage, "target", "", "multi-stage build target")
	cmd.Flags().StringArrayVar(&labels, "label", nil, "image label KEY=VALUE, repeatable")

	return cmd
}

// newRunner returns the command runner for buildx and trivy. At debug level
// their stderr is mirrored to w while they run.
func newRunner(w io.Writer) *executil.ExecRunner {
	runner := executil.NewExecRunner()
	runner.Redact = builder.RedactBuildArgs
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		runner.Stream = w
	}
	return runner
}

func printPublishSummary(w io.Writer, run *pipeline.Run, req pipeline.Request) {
	target := req.Target()

	if run.DryRun {
		fmt.Fprintln(w, "Build plan (dry run)")
		fmt.Fprintf(w, "  image:      %s\n", run.Image)
		fmt.Fprintf(w, "  platforms:  %s\n", strings.Join(target.Platforms, ","))
		fmt.Fprintf(w, "  dockerfile: %s\n", target.Dockerfile)
		fmt.Fprintf(w, "  context:    %s\n", target.ContextPath)
		if len(target.BuildArgs) > 0 {
			fmt.Fprintf(w, "  build args: %s\n", resolver.FormatBuildArgs(builder.RedactMap(target.BuildArgs)))
		}
		return
	}

	fmt.Fprintf(w, "Published %s\n", run.Image)
	if run.Build != nil {
		fmt.Fprintf(w, "  digest:     %s\n", run.Build.ImageDigest)
		fmt.Fprintf(w, "  platforms:  %s\n", strings.Join(run.Build.Platforms, ","))
		if run.Build.Scan != nil {
			fmt.Fprint(w, run.Build.Scan.FormatSummary())
		}
	}
	fmt.Fprintf(w, "  repository: %s (%s)\n", run.Image.Repository, run.Repository)
	fmt.Fprintf(w, "  run:        %s in %s\n", run.ID, run.Duration().Round(time.Millisecond))
}
