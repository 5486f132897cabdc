package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alvesdmateus/shipper/internal/builder"
	"github.com/alvesdmateus/shipper/internal/registry"
)

// Stage is a step of a pipeline run
type Stage string

const (
	StageIdle            Stage = "IDLE"
	StageValidating      Stage = "VALIDATING"
	StageBuilding        Stage = "BUILDING"
	StageAuthenticating  Stage = "AUTHENTICATING"
	StageRepositoryCheck Stage = "REPOSITORY_CHECK"
	StagePushing         Stage = "PUSHING"
	StagePulling         Stage = "PULLING"
	StageDone            Stage = "DONE"
	StageFailed          Stage = "FAILED"
)

// Kind identifies which pipeline a run belongs to
type Kind string

const (
	KindPublish Kind = "publish"
	KindPull    Kind = "pull"
)

// StageError records the stage a run failed in and why
type StageError struct {
	Stage  Stage
	Reason string
	Err    error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s failed: %s", strings.ToLower(string(e.Stage)), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Run is the in-memory record of one pipeline invocation. It is discarded
// when the process exits.
type Run struct {
	ID         uuid.UUID
	Kind       Kind
	Stage      Stage
	History    []Stage
	Image      registry.ImageReference
	Build      *builder.BuildResult
	Repository registry.RepositoryState
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time
	Err        *StageError
}

func newRun(kind Kind) *Run {
	return &Run{
		ID:        uuid.New(),
		Kind:      kind,
		Stage:     StageIdle,
		History:   []Stage{StageIdle},
		StartedAt: time.Now(),
	}
}

func (r *Run) enter(stage Stage) {
	r.Stage = stage
	r.History = append(r.History, stage)
}

// fail moves the run to StageFailed and returns the recorded error
func (r *Run) fail(reason string, err error) *StageError {
	r.Err = &StageError{Stage: r.Stage, Reason: reason, Err: err}
	r.enter(StageFailed)
	r.FinishedAt = time.Now()
	return r.Err
}

func (r *Run) done() {
	r.enter(StageDone)
	r.FinishedAt = time.Now()
}

// FailedStage returns the stage the run failed in, or "" when it did not fail
func (r *Run) FailedStage() Stage {
	if r.Err == nil {
		return ""
	}
	return r.Err.Stage
}

// Duration returns how long the run took
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
