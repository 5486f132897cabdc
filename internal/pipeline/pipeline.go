// Package pipeline runs the publish and pull workflows as linear stage
// sequences. Each stage blocks; the first failure ends the run.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alvesdmateus/shipper/internal/builder"
	"github.com/alvesdmateus/shipper/internal/preflight"
	"github.com/alvesdmateus/shipper/internal/registry"
	"github.com/alvesdmateus/shipper/internal/resolver"
)

// ImageBuilder builds a container image
type ImageBuilder interface {
	Build(ctx context.Context, target builder.BuildTarget) (*builder.BuildResult, error)
}

// Registry is the remote image registry
type Registry interface {
	Authenticate(ctx context.Context, creds registry.Credentials) (*registry.Session, error)
	EnsureRepository(ctx context.Context, name string) (registry.RepositoryState, error)
	RepositoryExists(ctx context.Context, name string) (bool, error)
	Push(ctx context.Context, ref registry.ImageReference, platforms []string, layoutPath string) error
	Pull(ctx context.Context, ref registry.ImageReference) error
}

// Pipeline coordinates the builder and the registry
type Pipeline struct {
	builder      ImageBuilder
	registry     Registry
	buildTimeout time.Duration
	logger       zerolog.Logger
}

// NewPipeline creates a pipeline. builder may be nil for pull-only use.
func NewPipeline(b ImageBuilder, r Registry, buildTimeout time.Duration, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		builder:      b,
		registry:     r,
		buildTimeout: buildTimeout,
		logger:       logger.With().Str("component", "pipeline").Logger(),
	}
}

// Request is the resolved input of a pipeline run
type Request struct {
	// ConfigFile is the deployment config file that must exist
	ConfigFile string
	Config     resolver.DeployConfig

	// Build options, publish only
	Stage   string
	Labels  map[string]string
	NoCache bool
	Pull    bool

	// DryRun stops a publish after validation
	DryRun bool
}

// Reference returns the image reference a request resolves to
func (req Request) Reference() registry.ImageReference {
	return registry.ImageReference{
		Registry:   registry.Host(req.Config.AccountID.Value, req.Config.Region.Value),
		Repository: req.Config.Repository.Value,
		Tag:        req.Config.ImageTag.Value,
	}
}

// Target returns the build target a request resolves to
func (req Request) Target() builder.BuildTarget {
	return builder.BuildTarget{
		Dockerfile:  req.Config.Dockerfile.Value,
		ContextPath: req.Config.BuildContext.Value,
		Platforms:   req.Config.Platforms,
		BuildArgs:   req.Config.BuildArgs,
		Image:       req.Reference().String(),
		Stage:       req.Stage,
		Labels:      req.Labels,
		NoCache:     req.NoCache,
		Pull:        req.Pull,
	}
}

func (req Request) credentials() registry.Credentials {
	return registry.Credentials{
		AccountID:       req.Config.AccountID.Value,
		Region:          req.Config.Region.Value,
		AccessKeyID:     req.Config.AccessKeyID.Value,
		SecretAccessKey: req.Config.SecretAccessKey.Value,
		SessionToken:    req.Config.SessionToken.Value,
	}
}

// Publish validates, builds, authenticates, ensures the repository and pushes.
// The returned Run is never nil.
func (p *Pipeline) Publish(ctx context.Context, req Request) (*Run, error) {
	run := newRun(KindPublish)
	run.Image = req.Reference()
	run.DryRun = req.DryRun
	logger := p.logger.With().Str("run_id", run.ID.String()).Str("kind", string(run.Kind)).Logger()

	logger.Info().Str("image", run.Image.String()).Msg("Starting publish pipeline")

	// Validating
	run.enter(StageValidating)
	target := req.Target()
	if err := validatePublish(req, target); err != nil {
		return run, p.failed(logger, run, "preflight checks failed", err)
	}

	if req.DryRun {
		logger.Info().
			Str("image", run.Image.String()).
			Strs("platforms", target.Platforms).
			Str("dockerfile", target.Dockerfile).
			Str("context", target.ContextPath).
			Msg("Dry run, stopping after validation")
		run.done()
		return run, nil
	}

	// Building
	run.enter(StageBuilding)
	buildCtx, cancel := p.withBuildTimeout(ctx)
	result, err := p.builder.Build(buildCtx, target)
	cancel()
	if err != nil {
		return run, p.failed(logger, run, "image build failed", err)
	}
	run.Build = result
	logger.Info().
		Str("image", result.ImageTag).
		Str("digest", result.ImageDigest).
		Dur("duration", result.BuildDuration).
		Msg("Image built")

	// Authenticating
	run.enter(StageAuthenticating)
	if _, err := p.registry.Authenticate(ctx, req.credentials()); err != nil {
		return run, p.failed(logger, run, "registry authentication failed", err)
	}

	// RepositoryCheck
	run.enter(StageRepositoryCheck)
	state, err := p.registry.EnsureRepository(ctx, run.Image.Repository)
	if err != nil {
		return run, p.failed(logger, run, "repository check failed", err)
	}
	run.Repository = state
	logger.Info().
		Str("repository", run.Image.Repository).
		Str("state", state.String()).
		Msg("Repository ready")

	// Pushing
	run.enter(StagePushing)
	if err := p.registry.Push(ctx, run.Image, target.Platforms, result.LayoutPath); err != nil {
		return run, p.failed(logger, run, "image push failed", err)
	}

	run.done()
	logger.Info().
		Str("image", run.Image.String()).
		Dur("duration", run.Duration()).
		Msg("Publish pipeline completed")
	return run, nil
}

// Pull validates, authenticates, checks the repository exists and pulls.
// The returned Run is never nil.
func (p *Pipeline) Pull(ctx context.Context, req Request) (*Run, error) {
	run := newRun(KindPull)
	run.Image = req.Reference()
	logger := p.logger.With().Str("run_id", run.ID.String()).Str("kind", string(run.Kind)).Logger()

	logger.Info().Str("image", run.Image.String()).Msg("Starting pull pipeline")

	// Validating
	run.enter(StageValidating)
	if err := validatePull(req); err != nil {
		return run, p.failed(logger, run, "preflight checks failed", err)
	}

	// Authenticating
	run.enter(StageAuthenticating)
	if _, err := p.registry.Authenticate(ctx, req.credentials()); err != nil {
		return run, p.failed(logger, run, "registry authentication failed", err)
	}

	// RepositoryCheck
	run.enter(StageRepositoryCheck)
	exists, err := p.registry.RepositoryExists(ctx, run.Image.Repository)
	if err != nil {
		return run, p.failed(logger, run, "repository check failed", err)
	}
	if !exists {
		return run, p.failed(logger, run, "repository does not exist", &registry.PullError{
			Image:    run.Image.String(),
			NotFound: true,
			Err:      registry.ErrNotFound,
		})
	}

	// Pulling
	run.enter(StagePulling)
	if err := p.registry.Pull(ctx, run.Image); err != nil {
		return run, p.failed(logger, run, "image pull failed", err)
	}

	run.done()
	logger.Info().
		Str("image", run.Image.String()).
		Dur("duration", run.Duration()).
		Msg("Pull pipeline completed")
	return run, nil
}

func (p *Pipeline) failed(logger zerolog.Logger, run *Run, reason string, err error) error {
	stageErr := run.fail(reason, err)
	logger.Error().
		Err(err).
		Str("stage", string(stageErr.Stage)).
		Msg(reason)
	return stageErr
}

func (p *Pipeline) withBuildTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.buildTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.buildTimeout)
}

// validatePublish runs both preflight phases for a publish
func validatePublish(req Request, target builder.BuildTarget) error {
	if err := preflight.RequireFile(req.ConfigFile); err != nil {
		return err
	}

	values := req.Config.Values()
	values[resolver.KeyPlatforms] = resolver.Value{
		Key:   resolver.KeyPlatforms,
		Value: strings.Join(target.Platforms, ","),
	}
	required := append(append([]string{}, resolver.RequiredDeployKeys...), resolver.KeyPlatforms)

	return preflight.Validate(values, required, []string{target.Dockerfile, target.ContextPath})
}

// validatePull runs both preflight phases for a pull; no local paths are needed
func validatePull(req Request) error {
	if err := preflight.RequireFile(req.ConfigFile); err != nil {
		return err
	}
	return preflight.Validate(req.Config.Values(), resolver.RequiredDeployKeys, nil)
}
