package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/rs/zerolog/log"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// DockerAPI is the subset of the docker engine client used for transfers
type DockerAPI interface {
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Push uploads ref. A single-platform image is pushed from the local engine;
// a multi-platform image is copied from the OCI layout at layoutPath.
func (g *Gateway) Push(ctx context.Context, ref ImageReference, platforms []string, layoutPath string) error {
	if err := ref.Validate(); err != nil {
		return &PushError{Image: ref.String(), Err: err}
	}
	if g.session == nil {
		return &PushError{Image: ref.String(), Err: ErrNotAuthenticated}
	}

	log.Info().
		Str("image", ref.String()).
		Strs("platforms", platforms).
		Msg("Pushing image")

	var err error
	if len(platforms) > 1 {
		err = g.pushLayout(ctx, ref, layoutPath)
	} else {
		err = g.pushLocal(ctx, ref)
	}
	if err != nil {
		return &PushError{Image: ref.String(), Err: err}
	}

	log.Info().Str("image", ref.String()).Msg("Image pushed successfully")
	return nil
}

func (g *Gateway) pushLocal(ctx context.Context, ref ImageReference) error {
	encodedAuth, err := g.encodedAuth()
	if err != nil {
		return err
	}

	pushResponse, err := g.docker.ImagePush(ctx, ref.String(), image.PushOptions{
		RegistryAuth: encodedAuth,
	})
	if err != nil {
		return err
	}
	defer pushResponse.Close()

	return streamProgress(ctx, pushResponse, "Push progress")
}

// pushLayout copies the tagged index from an OCI layout to the remote repository
func (g *Gateway) pushLayout(ctx context.Context, ref ImageReference, layoutPath string) error {
	if layoutPath == "" {
		return errors.New("multi-platform push requires an OCI layout")
	}

	src, err := oci.New(layoutPath)
	if err != nil {
		return fmt.Errorf("open OCI layout %s: %w", layoutPath, err)
	}

	repo, err := g.remoteRepository(ref)
	if err != nil {
		return err
	}

	desc, err := oras.Copy(ctx, src, ref.Tag, repo, ref.Tag, oras.DefaultCopyOptions)
	if err != nil {
		return fmt.Errorf("copy OCI layout: %w", err)
	}

	log.Debug().
		Str("image", ref.String()).
		Str("digest", desc.Digest.String()).
		Str("media_type", desc.MediaType).
		Msg("OCI index pushed")
	return nil
}

func (g *Gateway) remoteRepository(ref ImageReference) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref.Name())
	if err != nil {
		return nil, fmt.Errorf("parse reference %q: %w", ref.Name(), err)
	}

	repo.PlainHTTP = g.plainHTTP
	// A plain client: failed requests are not retried
	repo.Client = &auth.Client{
		Client: &http.Client{},
		Cache:  auth.NewCache(),
		Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
			Username: g.session.Username,
			Password: g.session.Password,
		}),
	}
	return repo, nil
}

// Pull downloads ref into the local engine. An absent repository or tag is
// reported as ErrNotFound.
func (g *Gateway) Pull(ctx context.Context, ref ImageReference) error {
	if err := ref.Validate(); err != nil {
		return &PullError{Image: ref.String(), Err: err}
	}
	if g.session == nil {
		return &PullError{Image: ref.String(), Err: ErrNotAuthenticated}
	}

	exists, err := g.RepositoryExists(ctx, ref.Repository)
	if err != nil {
		return &PullError{Image: ref.String(), Err: err}
	}
	if !exists {
		return &PullError{Image: ref.String(), NotFound: true, Err: fmt.Errorf("repository %s does not exist", ref.Repository)}
	}

	log.Info().Str("image", ref.String()).Msg("Pulling image")

	encodedAuth, err := g.encodedAuth()
	if err != nil {
		return &PullError{Image: ref.String(), Err: err}
	}

	pullResponse, err := g.docker.ImagePull(ctx, ref.String(), image.PullOptions{
		RegistryAuth: encodedAuth,
	})
	if err != nil {
		return &PullError{Image: ref.String(), NotFound: isNotFound(err), Err: err}
	}
	defer pullResponse.Close()

	if err := streamProgress(ctx, pullResponse, "Pull progress"); err != nil {
		return &PullError{Image: ref.String(), NotFound: isNotFound(err), Err: err}
	}

	log.Info().Str("image", ref.String()).Msg("Image pulled successfully")
	return nil
}

func (g *Gateway) encodedAuth() (string, error) {
	authJSON, err := json.Marshal(dockerregistry.AuthConfig{
		Username:      g.session.Username,
		Password:      g.session.Password,
		ServerAddress: g.session.ServerAddress,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode auth config: %w", err)
	}
	return base64.URLEncoding.EncodeToString(authJSON), nil
}

// isNotFound classifies daemon errors for a missing manifest or repository.
// Only the typed not-found and the registry's MANIFEST_UNKNOWN and
// NAME_UNKNOWN codes qualify.
func isNotFound(err error) bool {
	if cerrdefs.IsNotFound(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "manifest unknown") ||
		strings.Contains(msg, "name unknown")
}

// streamProgress drains a push or pull progress stream, returning the
// first error message it reports
func streamProgress(ctx context.Context, reader io.Reader, msg string) error {
	decoder := json.NewDecoder(reader)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var event struct {
			Status      string `json:"status"`
			ID          string `json:"id"`
			Error       string `json:"error"`
			ErrorDetail struct {
				Message string `json:"message"`
			} `json:"errorDetail"`
		}

		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode progress: %w", err)
		}

		if event.Error != "" {
			detail := event.ErrorDetail.Message
			if detail == "" {
				detail = event.Error
			}
			return errors.New(detail)
		}

		if event.Status != "" {
			log.Debug().Str("id", event.ID).Str("status", event.Status).Msg(msg)
		}
	}
}
