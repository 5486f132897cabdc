package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alvesdmateus/shipper/internal/builder"
	"github.com/alvesdmateus/shipper/internal/preflight"
	"github.com/alvesdmateus/shipper/internal/registry"
	"github.com/alvesdmateus/shipper/internal/resolver"
)

type fakeBuilder struct {
	err     error
	targets []builder.BuildTarget
}

func (f *fakeBuilder) Build(ctx context.Context, target builder.BuildTarget) (*builder.BuildResult, error) {
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	layout := ""
	if target.MultiPlatform() {
		layout = "/tmp/layout"
	}
	return &builder.BuildResult{ImageTag: target.Image, ImageDigest: "sha256:abc", Platforms: target.Platforms, LayoutPath: layout}, nil
}

type fakeRegistry struct {
	authErr   error
	ensureErr error
	existsErr error
	pushErr   error
	pullErr   error
	repos     map[string]bool

	calls  []string
	pushed []string
	layout string
}

func (f *fakeRegistry) Authenticate(ctx context.Context, creds registry.Credentials) (*registry.Session, error) {
	f.calls = append(f.calls, "authenticate")
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &registry.Session{Username: "AWS", Password: "pw"}, nil
}

func (f *fakeRegistry) EnsureRepository(ctx context.Context, name string) (registry.RepositoryState, error) {
	f.calls = append(f.calls, "ensure")
	if f.ensureErr != nil {
		return registry.RepositoryExisted, f.ensureErr
	}
	if f.repos[name] {
		return registry.RepositoryExisted, nil
	}
	f.repos[name] = true
	return registry.RepositoryCreated, nil
}

func (f *fakeRegistry) RepositoryExists(ctx context.Context, name string) (bool, error) {
	f.calls = append(f.calls, "exists")
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.repos[name], nil
}

func (f *fakeRegistry) Push(ctx context.Context, ref registry.ImageReference, platforms []string, layoutPath string) error {
	f.calls = append(f.calls, "push")
	if f.pushErr != nil {
		return f.pushErr
	}
	f.pushed = append(f.pushed, ref.String())
	f.layout = layoutPath
	return nil
}

func (f *fakeRegistry) Pull(ctx context.Context, ref registry.ImageReference) error {
	f.calls = append(f.calls, "pull")
	return f.pullErr
}

// newRequest writes a deployment file, Dockerfile and context in a temp dir
// and resolves a complete configuration from the file tier
func newRequest(t *testing.T, overrides map[string]string) Request {
	t.Helper()
	dir := t.TempDir()

	dockerfile := filepath.Join(dir, "Dockerfile")
	require.NoError(t, os.WriteFile(dockerfile, []byte("FROM scratch\n"), 0o644))
	configFile := filepath.Join(dir, "deploy.env")
	require.NoError(t, os.WriteFile(configFile, []byte("# test\n"), 0o644))

	file := map[string]string{
		resolver.KeyAccountID:       "123456789012",
		resolver.KeyAccessKeyID:     "AKIAEXAMPLE",
		resolver.KeySecretAccessKey: "secret",
		resolver.KeyImageName:       "mcp-server",
		resolver.KeyDockerfile:      dockerfile,
		resolver.KeyBuildContext:    dir,
	}

	snap := resolver.NewSnapshot(file, nil, overrides)
	return Request{
		ConfigFile: configFile,
		Config:     resolver.LoadDeployConfig(snap, resolver.DeployDefaults("v1")),
	}
}

func newTestPipeline(b ImageBuilder, r Registry) *Pipeline {
	return NewPipeline(b, r, time.Minute, zerolog.Nop())
}

func TestPublish_Success(t *testing.T) {
	b := &fakeBuilder{}
	r := &fakeRegistry{repos: map[string]bool{}}
	req := newRequest(t, nil)

	run, err := newTestPipeline(b, r).Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		StageIdle, StageValidating, StageBuilding, StageAuthenticating,
		StageRepositoryCheck, StagePushing, StageDone,
	}, run.History)
	assert.Equal(t, StageDone, run.Stage)
	assert.Equal(t, registry.RepositoryCreated, run.Repository)
	assert.Equal(t, []string{"123456789012.dkr.ecr.us-east-1.amazonaws.com/mcp-server:v1"}, r.pushed)
	assert.Equal(t, []string{"authenticate", "ensure", "push"}, r.calls)
	assert.Empty(t, run.FailedStage())
}

func TestPublish_MultiPlatformPushesLayout(t *testing.T) {
	b := &fakeBuilder{}
	r := &fakeRegistry{repos: map[string]bool{"mcp-server": true}}
	req := newRequest(t, map[string]string{resolver.KeyPlatforms: "linux/amd64,linux/arm64"})

	run, err := newTestPipeline(b, r).Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, registry.RepositoryExisted, run.Repository)
	assert.Equal(t, "/tmp/layout", r.layout)
	assert.Equal(t, []string{"linux/amd64", "linux/arm64"}, b.targets[0].Platforms)
}

func TestPublish_BuildFailureNeverPushes(t *testing.T) {
	buildErr := &builder.BuildError{Reason: "docker buildx build exited with an error", Output: "ERROR: failed to solve"}
	b := &fakeBuilder{err: buildErr}
	r := &fakeRegistry{repos: map[string]bool{}}
	req := newRequest(t, map[string]string{resolver.KeyPlatforms: "linux/amd64,linux/arm64"})

	run, err := newTestPipeline(b, r).Publish(context.Background(), req)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageBuilding, stageErr.Stage)
	assert.Equal(t, StageBuilding, run.FailedStage())
	assert.ErrorIs(t, err, builder.ErrBuildFailed)
	assert.Empty(t, r.calls, "no registry call after a build failure")
	assert.Equal(t, StageFailed, run.Stage)
}

func TestPublish_MissingKeyFailsBeforeExternalAction(t *testing.T) {
	b := &fakeBuilder{}
	r := &fakeRegistry{repos: map[string]bool{}}
	req := newRequest(t, map[string]string{resolver.KeyAccessKeyID: ""})

	run, err := newTestPipeline(b, r).Publish(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, StageValidating, run.FailedStage())
	assert.ErrorIs(t, err, preflight.ErrMissingConfig)

	var missing *preflight.MissingConfigError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{resolver.KeyAccessKeyID}, missing.Keys)
	assert.Empty(t, b.targets)
	assert.Empty(t, r.calls)
}

func TestPublish_MissingConfigFile(t *testing.T) {
	r := &fakeRegistry{repos: map[string]bool{}}
	req := newRequest(t, nil)
	req.ConfigFile = filepath.Join(t.TempDir(), "deploy.env")

	run, err := newTestPipeline(&fakeBuilder{}, r).Publish(context.Background(), req)
	assert.ErrorIs(t, err, preflight.ErrConfigFileNotFound)
	assert.NotErrorIs(t, err, preflight.ErrMissingConfig)
	assert.Equal(t, StageValidating, run.FailedStage())
}

func TestPublish_MissingKeysAndPaths(t *testing.T) {
	req := newRequest(t, map[string]string{
		resolver.KeyRegion:     "",
		resolver.KeyDockerfile: "/does/not/exist/Dockerfile",
		resolver.KeyPlatforms:  "",
	})

	_, err := newTestPipeline(&fakeBuilder{}, &fakeRegistry{}).Publish(context.Background(), req)
	assert.ErrorIs(t, err, preflight.ErrMissingConfig)
	assert.ErrorIs(t, err, preflight.ErrMissingArtifact)

	var missing *preflight.MissingConfigError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{resolver.KeyRegion, resolver.KeyPlatforms}, missing.Keys)
}

func TestPublish_DryRunStopsAfterValidation(t *testing.T) {
	b := &fakeBuilder{}
	r := &fakeRegistry{repos: map[string]bool{}}
	req := newRequest(t, nil)
	req.DryRun = true

	run, err := newTestPipeline(b, r).Publish(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageIdle, StageValidating, StageDone}, run.History)
	assert.True(t, run.DryRun)
	assert.Empty(t, b.targets)
	assert.Empty(t, r.calls)
}

func TestPublish_StageFailures(t *testing.T) {
	tests := []struct {
		name     string
		registry *fakeRegistry
		stage    Stage
		sentinel error
		calls    []string
	}{
		{
			name:     "authentication",
			registry: &fakeRegistry{authErr: &registry.AuthError{Registry: "ecr", Err: errors.New("invalid token")}},
			stage:    StageAuthenticating,
			sentinel: registry.ErrAuthFailed,
			calls:    []string{"authenticate"},
		},
		{
			name:     "repository",
			registry: &fakeRegistry{ensureErr: &registry.RepositoryError{Repository: "mcp-server", Op: "create", Err: errors.New("denied")}},
			stage:    StageRepositoryCheck,
			sentinel: registry.ErrRepository,
			calls:    []string{"authenticate", "ensure"},
		},
		{
			name:     "push",
			registry: &fakeRegistry{pushErr: &registry.PushError{Image: "mcp-server:v1", Err: errors.New("denied")}},
			stage:    StagePushing,
			sentinel: registry.ErrPushFailed,
			calls:    []string{"authenticate", "ensure", "push"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.registry.repos = map[string]bool{}

			run, err := newTestPipeline(&fakeBuilder{}, tt.registry).Publish(context.Background(), newRequest(t, nil))
			require.Error(t, err)

			assert.Equal(t, tt.stage, run.FailedStage())
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.calls, tt.registry.calls)
			assert.Equal(t, StageFailed, run.History[len(run.History)-1])
		})
	}
}

func TestPull_Success(t *testing.T) {
	r := &fakeRegistry{repos: map[string]bool{"mcp-server": true}}

	run, err := newTestPipeline(nil, r).Pull(context.Background(), newRequest(t, nil))
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		StageIdle, StageValidating, StageAuthenticating,
		StageRepositoryCheck, StagePulling, StageDone,
	}, run.History)
	assert.Equal(t, []string{"authenticate", "exists", "pull"}, r.calls)
}

func TestPull_AbsentRepositoryIsNotFound(t *testing.T) {
	r := &fakeRegistry{repos: map[string]bool{}}

	run, err := newTestPipeline(nil, r).Pull(context.Background(), newRequest(t, nil))
	require.Error(t, err)

	assert.Equal(t, StageRepositoryCheck, run.FailedStage())
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.NotErrorIs(t, err, registry.ErrPullFailed)
	assert.NotContains(t, r.calls, "pull")
}

func TestPull_Failures(t *testing.T) {
	t.Run("missing tag is not found", func(t *testing.T) {
		r := &fakeRegistry{
			repos:   map[string]bool{"mcp-server": true},
			pullErr: &registry.PullError{Image: "mcp-server:v1", NotFound: true, Err: errors.New("manifest unknown")},
		}
		run, err := newTestPipeline(nil, r).Pull(context.Background(), newRequest(t, nil))
		assert.ErrorIs(t, err, registry.ErrNotFound)
		assert.Equal(t, StagePulling, run.FailedStage())
	})

	t.Run("transfer failure is pull failed", func(t *testing.T) {
		r := &fakeRegistry{
			repos:   map[string]bool{"mcp-server": true},
			pullErr: &registry.PullError{Image: "mcp-server:v1", Err: errors.New("i/o timeout")},
		}
		_, err := newTestPipeline(nil, r).Pull(context.Background(), newRequest(t, nil))
		assert.ErrorIs(t, err, registry.ErrPullFailed)
		assert.NotErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("pull does not require build artifacts", func(t *testing.T) {
		r := &fakeRegistry{repos: map[string]bool{"mcp-server": true}}
		req := newRequest(t, map[string]string{resolver.KeyDockerfile: "/missing/Dockerfile"})

		_, err := newTestPipeline(nil, r).Pull(context.Background(), req)
		assert.NoError(t, err)
	})

	t.Run("missing secret fails validation", func(t *testing.T) {
		r := &fakeRegistry{repos: map[string]bool{"mcp-server": true}}
		req := newRequest(t, map[string]string{resolver.KeySecretAccessKey: ""})

		run, err := newTestPipeline(nil, r).Pull(context.Background(), req)
		assert.ErrorIs(t, err, preflight.ErrMissingConfig)
		assert.Equal(t, StageValidating, run.FailedStage())
		assert.Empty(t, r.calls)
	})
}

func TestRequest_Reference(t *testing.T) {
	req := newRequest(t, map[string]string{resolver.KeyRepository: "team/service", resolver.KeyRegion: "eu-west-1"})

	ref := req.Reference()
	assert.Equal(t, "123456789012.dkr.ecr.eu-west-1.amazonaws.com/team/service:v1", ref.String())
	assert.Equal(t, ref.String(), req.Target().Image)
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StagePushing, Reason: "image push failed", Err: registry.ErrPushFailed}
	assert.Equal(t, "pushing failed: image push failed: image push failed", err.Error())
	assert.ErrorIs(t, err, registry.ErrPushFailed)
}
