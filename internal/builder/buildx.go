package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/executil"
)

// EnsureBuilder makes sure a cross-platform buildx builder named name exists.
// An existing builder is reused as-is and never removed.
func (b *Builder) EnsureBuilder(ctx context.Context, name string) error {
	_, err := b.runner.Run(ctx, "docker", "buildx", "inspect", name)
	if err == nil {
		log.Debug().Str("builder", name).Msg("Reusing existing buildx builder")
		return nil
	}

	var exitErr *executil.ExitError
	if !errors.As(err, &exitErr) {
		return &BuildError{Reason: "failed to inspect buildx builder", Err: err}
	}

	log.Info().Str("builder", name).Msg("Creating buildx builder")

	res, err := b.runner.Run(ctx, "docker", "buildx", "create",
		"--name", name,
		"--driver", "docker-container",
		"--bootstrap",
	)
	if err != nil {
		return &BuildError{Reason: "failed to create buildx builder " + name, Output: stderrOf(res), Err: err}
	}
	return nil
}

// buildMultiPlatform runs docker buildx and exports an OCI image layout
func (b *Builder) buildMultiPlatform(ctx context.Context, target BuildTarget) (*BuildResult, error) {
	startTime := time.Now()
	layoutPath := b.layoutPath(target.Image)

	if err := os.RemoveAll(layoutPath); err != nil {
		return nil, &BuildError{Reason: "failed to clear OCI layout directory", Err: err}
	}

	args := buildxArgs(b.opts.BuilderName, layoutPath, target)

	log.Info().
		Str("image", target.Image).
		Strs("platforms", target.Platforms).
		Str("builder", b.opts.BuilderName).
		Str("layout", layoutPath).
		Msg("Building multi-platform image")

	res, err := b.runner.Run(ctx, "docker", args...)
	if err != nil {
		return nil, &BuildError{Reason: "docker buildx build exited with an error", Output: stderrOf(res), Err: err}
	}

	digest, err := tagLayout(ctx, layoutPath, tagOf(target.Image))
	if err != nil {
		return nil, &BuildError{Reason: "failed to tag OCI layout", Output: stderrOf(res), Err: err}
	}

	result := &BuildResult{
		ImageTag:      target.Image,
		ImageDigest:   digest,
		Platforms:     target.Platforms,
		LayoutPath:    layoutPath,
		BuildDuration: time.Since(startTime),
		BuildLog:      stderrOf(res),
	}

	log.Info().
		Str("image", result.ImageTag).
		Str("digest", result.ImageDigest).
		Dur("duration", result.BuildDuration).
		Msg("Multi-platform build completed successfully")

	return result, nil
}

func buildxArgs(builderName, layoutPath string, target BuildTarget) []string {
	args := []string{
		"buildx", "build",
		"--builder", builderName,
		"--platform", strings.Join(target.Platforms, ","),
		"--progress=plain",
		"-f", target.Dockerfile,
		"-t", target.Image,
	}
	if target.Stage != "" {
		args = append(args, "--target", target.Stage)
	}
	if target.NoCache {
		args = append(args, "--no-cache")
	}
	if target.Pull {
		args = append(args, "--pull")
	}
	for _, k := range sortedKeys(target.Labels) {
		args = append(args, "--label", k+"="+target.Labels[k])
	}
	for _, k := range sortedKeys(target.BuildArgs) {
		args = append(args, "--build-arg", k+"="+target.BuildArgs[k])
	}
	args = append(args,
		"--output", fmt.Sprintf("type=oci,dest=%s,tar=false", layoutPath),
		target.ContextPath,
	)
	return args
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stderrOf(res *executil.Result) string {
	if res == nil {
		return ""
	}
	return res.Stderr
}
