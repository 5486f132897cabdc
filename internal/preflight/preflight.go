// Package preflight is the local, offline gate run before any external
// action. It reports every problem it finds in one pass.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/alvesdmateus/shipper/internal/resolver"
)

var (
	// ErrConfigFileNotFound is returned when the deployment config file is absent
	ErrConfigFileNotFound = errors.New("config file not found")

	// ErrMissingConfig is returned when required keys are unset or empty
	ErrMissingConfig = errors.New("missing configuration")

	// ErrMissingArtifact is returned when required local paths do not exist
	ErrMissingArtifact = errors.New("missing artifact")
)

// ConfigFileError reports an absent configuration file
type ConfigFileError struct {
	Path string
}

func (e *ConfigFileError) Error() string {
	return fmt.Sprintf("config file %s not found: create it or point --deploy-file at an existing file", e.Path)
}

func (e *ConfigFileError) Unwrap() error {
	return ErrConfigFileNotFound
}

// MissingConfigError lists every required key that is unset or empty
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Keys, ", "))
}

func (e *MissingConfigError) Unwrap() error {
	return ErrMissingConfig
}

// MissingArtifactError lists every required path that does not exist
type MissingArtifactError struct {
	Paths []string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing required artifacts: %s", strings.Join(e.Paths, ", "))
}

func (e *MissingArtifactError) Unwrap() error {
	return ErrMissingArtifact
}

// RequireFile is the first gate: the config file itself must exist before
// its keys are checked.
func RequireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return &ConfigFileError{Path: path}
	}
	return nil
}

// Validate checks that every required key resolved to a non-empty value and
// that every required path exists. All violations are collected; when both
// keys and paths are missing the returned error matches both sentinels.
func Validate(values map[string]resolver.Value, requiredKeys, requiredPaths []string) error {
	var missingKeys []string
	for _, key := range requiredKeys {
		v, ok := values[key]
		if !ok || v.Value == "" {
			missingKeys = append(missingKeys, key)
		}
	}

	var missingPaths []string
	for _, path := range requiredPaths {
		if _, err := os.Stat(path); err != nil {
			missingPaths = append(missingPaths, path)
		}
	}

	var errs []error
	if len(missingKeys) > 0 {
		log.Error().Strs("keys", missingKeys).Msg("Required configuration is missing")
		errs = append(errs, &MissingConfigError{Keys: missingKeys})
	}
	if len(missingPaths) > 0 {
		log.Error().Strs("paths", missingPaths).Msg("Required artifacts are missing")
		errs = append(errs, &MissingArtifactError{Paths: missingPaths})
	}

	return errors.Join(errs...)
}
