package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alvesdmateus/shipper/internal/builder/scanner"
)

var (
	// ErrBuildFailed is returned when the build engine rejects a build
	ErrBuildFailed = errors.New("build failed")

	// ErrInvalidTarget is returned when a BuildTarget is not buildable
	ErrInvalidTarget = errors.New("invalid build target")
)

// BuildError carries the build engine's diagnostic output verbatim
type BuildError struct {
	Reason string
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	msg := "build failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBuildFailed}
	}
	return []error{ErrBuildFailed, e.Err}
}

// BuildTarget describes one image build
type BuildTarget struct {
	Dockerfile  string
	ContextPath string
	Platforms   []string
	BuildArgs   map[string]string

	// Image is the full reference the result is tagged with
	Image string

	// Stage selects a multi-stage target, empty builds the last stage
	Stage   string
	Labels  map[string]string
	NoCache bool
	Pull    bool
}

// MultiPlatform reports whether the target needs a cross-platform builder
func (t BuildTarget) MultiPlatform() bool {
	return len(t.Platforms) > 1
}

// Validate checks the target invariants: paths exist, platforms non-empty
func (t BuildTarget) Validate() error {
	if len(t.Platforms) == 0 {
		return fmt.Errorf("%w: at least one platform is required", ErrInvalidTarget)
	}
	if strings.TrimSpace(t.Image) == "" {
		return fmt.Errorf("%w: image reference is empty", ErrInvalidTarget)
	}
	if st, err := os.Stat(t.Dockerfile); err != nil || st.IsDir() {
		return fmt.Errorf("%w: Dockerfile %q not found or not a file", ErrInvalidTarget, t.Dockerfile)
	}
	if st, err := os.Stat(t.ContextPath); err != nil || !st.IsDir() {
		return fmt.Errorf("%w: context %q not found or not a directory", ErrInvalidTarget, t.ContextPath)
	}
	return nil
}

// BuildResult contains the output of a build operation
type BuildResult struct {
	ImageTag      string
	ImageDigest   string
	Platforms     []string
	LayoutPath    string // OCI layout directory for multi-platform builds
	BuildDuration time.Duration
	BuildLog      string
	Scan          *scanner.ScanResult
}

// Engine is a container build engine for single-platform builds that
// land in the local image store
type Engine interface {
	// Ping verifies the engine is reachable
	Ping(ctx context.Context) error

	// BuildImage builds target and tags it as target.Image
	BuildImage(ctx context.Context, target BuildTarget) (*BuildResult, error)
}
