package builder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/moby/go-archive"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/rs/zerolog/log"
)

// DockerAPI is the subset of the docker engine client used for builds
type DockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
}

// DockerEngine implements Engine using the docker engine API
type DockerEngine struct {
	client DockerAPI
}

// NewDockerEngine wraps a docker API client, usually a *client.Client
// shared with the registry gateway
func NewDockerEngine(api DockerAPI) *DockerEngine {
	return &DockerEngine{client: api}
}

// Ping checks if the docker daemon is accessible
func (e *DockerEngine) Ping(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not accessible: %w", err)
	}
	return nil
}

// BuildImage builds a single-platform image into the local image store
func (e *DockerEngine) BuildImage(ctx context.Context, target BuildTarget) (*BuildResult, error) {
	startTime := time.Now()

	dockerfile, err := dockerfileInContext(target.ContextPath, target.Dockerfile)
	if err != nil {
		return nil, &BuildError{Reason: "invalid Dockerfile location", Err: err}
	}

	log.Info().
		Str("image", target.Image).
		Str("platform", target.Platforms[0]).
		Str("dockerfile", dockerfile).
		Msg("Building Docker image")

	buildContextTar, err := createBuildContext(target.ContextPath)
	if err != nil {
		return nil, &BuildError{Reason: "failed to create build context", Err: err}
	}
	defer buildContextTar.Close()

	buildOptions := build.ImageBuildOptions{
		Tags:        []string{target.Image},
		Dockerfile:  dockerfile,
		Platform:    target.Platforms[0],
		Target:      target.Stage,
		BuildArgs:   buildArgPointers(target.BuildArgs),
		Labels:      target.Labels,
		Remove:      true,
		ForceRemove: true,
		PullParent:  target.Pull,
		NoCache:     target.NoCache,
	}

	buildResponse, err := e.client.ImageBuild(ctx, buildContextTar, buildOptions)
	if err != nil {
		return nil, &BuildError{Reason: "docker build request failed", Err: err}
	}
	defer buildResponse.Body.Close()

	var buildLog strings.Builder
	if err := streamBuildOutput(ctx, buildResponse.Body, &buildLog); err != nil {
		return nil, &BuildError{Reason: "docker build exited with an error", Output: buildLog.String(), Err: err}
	}

	inspect, err := e.client.ImageInspect(ctx, target.Image)
	if err != nil {
		return nil, &BuildError{Reason: "failed to inspect built image", Output: buildLog.String(), Err: err}
	}

	result := &BuildResult{
		ImageTag:      target.Image,
		ImageDigest:   inspect.ID,
		Platforms:     target.Platforms,
		BuildDuration: time.Since(startTime),
		BuildLog:      buildLog.String(),
	}

	log.Info().
		Str("image", result.ImageTag).
		Str("digest", result.ImageDigest).
		Dur("duration", result.BuildDuration).
		Msg("Docker build completed successfully")

	return result, nil
}

// dockerfileInContext returns the Dockerfile path relative to the context.
// The engine API only sees the context archive, so the file must be inside it.
func dockerfileInContext(contextPath, dockerfile string) (string, error) {
	absContext, err := filepath.Abs(contextPath)
	if err != nil {
		return "", err
	}
	absDockerfile, err := filepath.Abs(dockerfile)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absContext, absDockerfile)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("Dockerfile %s is outside build context %s", dockerfile, contextPath)
	}
	return filepath.ToSlash(rel), nil
}

// createBuildContext archives the context directory, honoring .dockerignore
func createBuildContext(contextPath string) (io.ReadCloser, error) {
	excludes, err := readDockerignore(contextPath)
	if err != nil {
		return nil, err
	}

	tarball, err := archive.TarWithOptions(contextPath, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tar archive: %w", err)
	}
	return tarball, nil
}

func readDockerignore(contextPath string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextPath, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse .dockerignore: %w", err)
	}
	return patterns, nil
}

func buildArgPointers(args map[string]string) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]*string, len(args))
	for k, v := range args {
		out[k] = &v
	}
	return out
}

// streamBuildOutput streams and parses Docker build output
func streamBuildOutput(ctx context.Context, reader io.Reader, buildLog *strings.Builder) error {
	decoder := json.NewDecoder(reader)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var msg struct {
			Stream      string `json:"stream"`
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}

		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode build output: %w", err)
		}

		if msg.Error != "" {
			buildLog.WriteString(msg.Error)
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return fmt.Errorf("build error: %s", detail)
		}

		if msg.Stream != "" {
			buildLog.WriteString(msg.Stream)
			log.Debug().Str("output", strings.TrimSpace(msg.Stream)).Msg("Build output")
		}
	}
}
