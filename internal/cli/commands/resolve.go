package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/alvesdmateus/shipper/internal/gitref"
	"github.com/alvesdmateus/shipper/internal/pipeline"
	"github.com/alvesdmateus/shipper/internal/resolver"
)

// deployFlags are the override tier of the deployment namespace
type deployFlags struct {
	tag        string
	repository string
	dockerfile string
	context    string
	platforms  []string
	buildArgs  []string
}

func (f *deployFlags) register(cmd *cobra.Command, build bool) {
	flags := cmd.Flags()
	flags.StringVar(&f.tag, "tag", "", "image tag (overrides IMAGE_TAG)")
	flags.StringVar(&f.repository, "repository", "", "ECR repository (overrides ECR_REPOSITORY)")
	if !build {
		return
	}
	flags.StringVar(&f.dockerfile, "dockerfile", "", "Dockerfile path (overrides DOCKERFILE)")
	flags.StringVar(&f.context, "context", "", "build context directory (overrides BUILD_CONTEXT)")
	flags.StringSliceVar(&f.platforms, "platform", nil, "target platforms, repeatable or comma separated (overrides PLATFORMS)")
	flags.StringArrayVar(&f.buildArgs, "build-arg", nil, "build argument KEY=VALUE, repeatable (overrides BUILD_ARGS)")
}

// overrides returns only the flags that were set on the command line, so an
// explicitly empty flag still wins over lower tiers
func (f *deployFlags) overrides(cmd *cobra.Command) map[string]string {
	changed := cmd.Flags().Changed
	out := make(map[string]string)
	if changed("tag") {
		out[resolver.KeyImageTag] = f.tag
	}
	if changed("repository") {
		out[resolver.KeyRepository] = f.repository
	}
	if changed("dockerfile") {
		out[resolver.KeyDockerfile] = f.dockerfile
	}
	if changed("context") {
		out[resolver.KeyBuildContext] = f.context
	}
	if changed("platform") {
		out[resolver.KeyPlatforms] = strings.Join(f.platforms, ",")
	}
	if changed("build-arg") {
		out[resolver.KeyBuildArgs] = strings.Join(f.buildArgs, ",")
	}
	return out
}

// runtimeFlags are the override tier of the runtime namespace
type runtimeFlags struct {
	mountPath string
	transport string
}

func (f *runtimeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mountPath, "mount-path", "", "HTTP mount path of the service (overrides MCP_MOUNT_PATH)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "transport mode: stdio, sse, streamable-http (overrides MCP_TRANSPORT)")
}

func (f *runtimeFlags) overrides(cmd *cobra.Command) map[string]string {
	out := make(map[string]string)
	if cmd.Flags().Changed("mount-path") {
		out[resolver.KeyMountPath] = f.mountPath
	}
	if cmd.Flags().Changed("transport") {
		out[resolver.KeyTransport] = f.transport
	}
	return out
}

// loadFileTier reads a key=value file. A missing file yields a nil map so
// the preflight gate can report it.
func loadFileTier(path string) (map[string]string, error) {
	values, err := resolver.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debug().Str("path", path).Msg("Config file not found")
			return nil, nil
		}
		return nil, err
	}
	return values, nil
}

// deploySnapshot builds the deployment namespace snapshot and its defaults
func (a *app) deploySnapshot(overrides map[string]string) (*resolver.Snapshot, map[string]string, error) {
	file, err := loadFileTier(a.settings.Files.Deploy)
	if err != nil {
		return nil, nil, err
	}
	env := resolver.EnvFromList(a.environ, resolver.DeployKeys)
	snap := resolver.NewSnapshot(file, env, overrides)
	defaults := resolver.DeployDefaults("")

	// The default tag is the HEAD of the repository holding the build context
	buildContext := snap.Resolve(resolver.KeyBuildContext, defaults[resolver.KeyBuildContext]).Value
	if buildContext == "" {
		buildContext = "."
	}
	defaults[resolver.KeyImageTag] = gitref.DefaultTag(buildContext, resolver.DefaultTag)

	// Shown as the default of ECR_REPOSITORY by config show
	if _, ok := defaults[resolver.KeyRepository]; !ok {
		defaults[resolver.KeyRepository] = snap.Resolve(resolver.KeyImageName, defaults[resolver.KeyImageName]).Value
	}

	return snap, defaults, nil
}

// runtimeSnapshot builds the runtime namespace snapshot
func (a *app) runtimeSnapshot(overrides map[string]string) (*resolver.Snapshot, error) {
	file, err := loadFileTier(a.settings.Files.Runtime)
	if err != nil {
		return nil, err
	}
	env := resolver.EnvFromList(a.environ, resolver.RuntimeKeys)
	return resolver.NewSnapshot(file, env, overrides), nil
}

// deployRequest resolves the deployment configuration into a pipeline request
func (a *app) deployRequest(cmd *cobra.Command, flags *deployFlags) (pipeline.Request, error) {
	snap, defaults, err := a.deploySnapshot(flags.overrides(cmd))
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("resolve deployment configuration: %w", err)
	}
	return pipeline.Request{
		ConfigFile: a.settings.Files.Deploy,
		Config:     resolver.LoadDeployConfig(snap, defaults),
	}, nil
}
