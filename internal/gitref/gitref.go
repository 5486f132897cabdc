// Package gitref derives the default image tag from the repository HEAD.
package gitref

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/rs/zerolog/log"
)

// ShortHashLength is the number of hex digits in a short revision
const ShortHashLength = 7

// ShortHead returns the abbreviated HEAD commit hash of the repository
// containing path
func ShortHead(path string) (string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open git repository at %s: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}

	return head.Hash().String()[:ShortHashLength], nil
}

// DefaultTag returns the short HEAD hash of path, or fallback when path is
// not inside a git repository or has no commits
func DefaultTag(path, fallback string) string {
	tag, err := ShortHead(path)
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			log.Debug().Err(err).Str("path", path).Msg("Could not read git HEAD, using fallback tag")
		}
		return fallback
	}
	return tag
}
