// Package commands implements the shipper command line.
package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alvesdmateus/shipper/pkg/config"
)

// app carries state shared by every command of one invocation
type app struct {
	environ  []string
	viper    *viper.Viper
	settings *config.Settings

	configFile string
}

// NewRootCmd builds the command tree. environ is the process environment,
// read once by the caller.
func NewRootCmd(environ []string) *cobra.Command {
	a := &app{
		environ: environ,
		viper:   viper.New(),
	}

	rootCmd := &cobra.Command{
		Use:   "shipper",
		Short: "shipper - build, publish and pull a containerized service image",
		Long: `shipper automates the deployment of a containerized network service.
It builds a (multi-platform) image, publishes it to AWS ECR, pulls it back
and resolves the service's runtime configuration from layered sources.

Configuration precedence, lowest to highest:
  built-in default < config file < environment < command-line flag`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadSettings(cmd.ErrOrStderr())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "shipper settings file (default ./shipper.yaml or ./config/shipper.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.String("deploy-file", "deploy.env", "deployment configuration file")
	flags.String("runtime-file", ".env", "runtime configuration file of the service")
	flags.String("metrics-file", "", "write run metrics in Prometheus text format to this file")

	_ = a.viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = a.viper.BindPFlag("files.deploy", flags.Lookup("deploy-file"))
	_ = a.viper.BindPFlag("files.runtime", flags.Lookup("runtime-file"))
	_ = a.viper.BindPFlag("metrics.file", flags.Lookup("metrics-file"))

	rootCmd.AddCommand(newPublishCmd(a))
	rootCmd.AddCommand(newPullCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newHealthcheckCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context, environ []string) error {
	return NewRootCmd(environ).ExecuteContext(ctx)
}

func (a *app) loadSettings(logOut io.Writer) error {
	if a.configFile != "" {
		a.viper.SetConfigFile(a.configFile)
	}

	settings, err := config.Load(a.viper)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	a.settings = settings

	return setupLogging(settings.Log, logOut)
}

// setupLogging installs the global zerolog logger
func setupLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	out := w
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
