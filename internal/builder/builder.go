// Package builder builds container images from a Dockerfile and context.
// Single-platform builds go through the docker engine API into the local
// image store. Multi-platform builds go through docker buildx and are
// exported as an OCI image layout on disk.
package builder

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/builder/scanner"
	"github.com/alvesdmateus/shipper/internal/executil"
)

// Options configures a Builder
type Options struct {
	// BuilderName is the buildx builder used for multi-platform builds
	BuilderName string
	// LayoutDir holds OCI layouts exported by multi-platform builds
	LayoutDir string
	// ScanEnabled runs an advisory vulnerability scan after each build
	ScanEnabled bool
}

// DefaultOptions returns the default builder options
func DefaultOptions() Options {
	return Options{
		BuilderName: "shipper-multiarch",
		LayoutDir:   filepath.Join(".shipper", "oci"),
		ScanEnabled: true,
	}
}

// Builder builds images with the docker engine or buildx
type Builder struct {
	engine  Engine
	runner  executil.Runner
	scanner scanner.Scanner
	opts    Options
}

// NewBuilder creates a builder. scanner may be nil to disable scanning.
func NewBuilder(engine Engine, runner executil.Runner, scan scanner.Scanner, opts Options) *Builder {
	if opts.BuilderName == "" {
		opts.BuilderName = DefaultOptions().BuilderName
	}
	if opts.LayoutDir == "" {
		opts.LayoutDir = DefaultOptions().LayoutDir
	}
	return &Builder{
		engine:  engine,
		runner:  runner,
		scanner: scan,
		opts:    opts,
	}
}

// Build validates target, builds it and runs the advisory scan.
// Any failure is a *BuildError wrapping ErrBuildFailed, except target
// validation which wraps ErrInvalidTarget.
func (b *Builder) Build(ctx context.Context, target BuildTarget) (*BuildResult, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	if err := b.engine.Ping(ctx); err != nil {
		return nil, &BuildError{Reason: "build engine not reachable", Err: err}
	}

	var (
		result *BuildResult
		err    error
	)
	if target.MultiPlatform() {
		if err := b.EnsureBuilder(ctx, b.opts.BuilderName); err != nil {
			return nil, err
		}
		result, err = b.buildMultiPlatform(ctx, target)
	} else {
		result, err = b.engine.BuildImage(ctx, target)
	}
	if err != nil {
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			return nil, err
		}
		return nil, &BuildError{Reason: "build engine error", Err: err}
	}

	result.Scan = b.scan(ctx, result)
	return result, nil
}

// scan runs the vulnerability scanner; its outcome never fails the build
func (b *Builder) scan(ctx context.Context, result *BuildResult) *scanner.ScanResult {
	if !b.opts.ScanEnabled || b.scanner == nil {
		return nil
	}
	if !b.scanner.IsAvailable() {
		log.Warn().Msg("Vulnerability scanner not available, skipping scan")
		return nil
	}

	scanResult, err := b.scanner.Scan(ctx, scanner.Target{
		Image:      result.ImageTag,
		LayoutPath: result.LayoutPath,
	})
	if err != nil {
		log.Warn().Err(err).Str("image", result.ImageTag).Msg("Vulnerability scan failed, continuing")
		return nil
	}

	if scanResult.VulnCounts.Critical > 0 || scanResult.VulnCounts.High > 0 {
		for _, v := range scanResult.TopVulnerabilities(5) {
			log.Warn().
				Str("id", v.VulnerabilityID).
				Str("package", v.PkgName).
				Str("severity", v.Severity).
				Str("fixed", v.FixedVersion).
				Msg("Vulnerability found")
		}
	}
	return scanResult
}

func (b *Builder) layoutPath(image string) string {
	return filepath.Join(b.opts.LayoutDir, layoutDirName(image))
}
