package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alvesdmateus/shipper/internal/health"
	"github.com/alvesdmateus/shipper/internal/resolver"
)

// ErrNotReachable is returned by healthcheck when the service does not answer
var ErrNotReachable = errors.New("service not reachable")

func newHealthcheckCmd(a *app) *cobra.Command {
	var (
		runtime runtimeFlags
		host    string
	)

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Report whether the service answers at its mount path",
		Long: `Resolve the runtime configuration, then issue one HTTP GET to
http://<host>:<MCP_PORT><MCP_MOUNT_PATH>/ and report reachable or not
reachable. Any HTTP response counts as reachable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := a.runtimeSnapshot(runtime.overrides(cmd))
			if err != nil {
				return err
			}
			cfg, err := resolver.LoadRuntimeConfig(snap, resolver.RuntimeDefaults())
			if err != nil {
				return err
			}
			if cfg.Transport == resolver.TransportStdio {
				return fmt.Errorf("transport %s has no HTTP endpoint to probe", cfg.Transport)
			}

			status := health.NewProber(a.settings.Timeouts.Health).
				Probe(cmd.Context(), health.URL(host, cfg.HTTPPort, cfg.MountPath))

			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if !status.Reachable {
				return ErrNotReachable
			}
			return nil
		},
	}

	runtime.register(cmd)
	cmd.Flags().StringVar(&host, "host", "localhost", "host the service listens on")
	return cmd
}
