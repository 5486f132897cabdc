package registry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrAuthFailed is returned when the registry rejects credentials
	ErrAuthFailed = errors.New("registry authentication failed")

	// ErrRepository is returned when a repository cannot be checked or created
	ErrRepository = errors.New("registry repository error")

	// ErrPushFailed is returned when an image push fails
	ErrPushFailed = errors.New("image push failed")

	// ErrPullFailed is returned when an image pull fails for any reason
	// other than the image being absent
	ErrPullFailed = errors.New("image pull failed")

	// ErrNotFound is returned when the repository or tag does not exist
	ErrNotFound = errors.New("image not found")

	// ErrNotAuthenticated is returned when an operation runs before Authenticate
	ErrNotAuthenticated = errors.New("registry session not established")
)

// ImageReference identifies an image in a registry
type ImageReference struct {
	Registry   string
	Repository string
	Tag        string
}

// Name returns the reference without its tag
func (r ImageReference) Name() string {
	if r.Registry == "" {
		return r.Repository
	}
	return r.Registry + "/" + r.Repository
}

func (r ImageReference) String() string {
	return r.Name() + ":" + r.Tag
}

// Validate checks that repository and tag are set
func (r ImageReference) Validate() error {
	if strings.TrimSpace(r.Repository) == "" {
		return errors.New("image reference has an empty repository")
	}
	if strings.TrimSpace(r.Tag) == "" {
		return errors.New("image reference has an empty tag")
	}
	return nil
}

// Host returns the ECR registry host for an account and region
func Host(accountID, region string) string {
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, region)
}

// Credentials are the static AWS credentials used to obtain a registry session
type Credentials struct {
	AccountID       string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Session is an authenticated registry login reused for push and pull
type Session struct {
	Username      string
	Password      string
	ServerAddress string
	ExpiresAt     time.Time
}

// RepositoryState reports what EnsureRepository did
type RepositoryState int

const (
	RepositoryExisted RepositoryState = iota
	RepositoryCreated
)

func (s RepositoryState) String() string {
	switch s {
	case RepositoryExisted:
		return "existed"
	case RepositoryCreated:
		return "created"
	default:
		return fmt.Sprintf("RepositoryState(%d)", int(s))
	}
}

// AuthError is returned when authentication fails
type AuthError struct {
	Registry string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for registry %s: %v", e.Registry, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuthFailed, e.Err}
}

// RepositoryError is returned when a repository cannot be checked or created
type RepositoryError struct {
	Repository string
	Op         string
	Err        error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %s: %v", e.Repository, e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() []error {
	return []error{ErrRepository, e.Err}
}

// PushError is returned when an image push fails
type PushError struct {
	Image string
	Err   error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("failed to push image %s: %v", e.Image, e.Err)
}

func (e *PushError) Unwrap() []error {
	return []error{ErrPushFailed, e.Err}
}

// PullError is returned when an image pull fails. NotFound distinguishes an
// absent image from other failures.
type PullError struct {
	Image    string
	NotFound bool
	Err      error
}

func (e *PullError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("image %s not found: %v", e.Image, e.Err)
	}
	return fmt.Sprintf("failed to pull image %s: %v", e.Image, e.Err)
}

func (e *PullError) Unwrap() []error {
	if e.NotFound {
		return []error{ErrNotFound, e.Err}
	}
	return []error{ErrPullFailed, e.Err}
}
