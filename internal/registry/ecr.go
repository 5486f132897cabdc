// Package registry authenticates against AWS ECR, manages the target
// repository and moves images between the local engine and the registry.
package registry

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	smithy "github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds authentication and repository checks
const DefaultTimeout = 30 * time.Second

// ECRAPI is the subset of the ECR client used by the gateway
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
}

// ECRClientFactory builds an ECR client from static credentials
type ECRClientFactory func(creds Credentials) ECRAPI

// NewECRClient creates an ECR client authenticated with static credentials.
// Calls are attempted once; a failed call fails its stage.
func NewECRClient(creds Credentials) ECRAPI {
	return ecr.New(ecrOptions(creds))
}

func ecrOptions(creds Credentials) ecr.Options {
	return ecr.Options{
		Region:      creds.Region,
		Credentials: credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		Retryer:     aws.NopRetryer{},
	}
}

// Gateway talks to ECR and the local docker engine
type Gateway struct {
	newECR    ECRClientFactory
	docker    DockerAPI
	timeout   time.Duration
	plainHTTP bool

	ecr     ECRAPI
	session *Session
}

// Option configures a Gateway
type Option func(*Gateway)

// WithTimeout bounds authentication and repository checks
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithECRClientFactory replaces the ECR client constructor
func WithECRClientFactory(f ECRClientFactory) Option {
	return func(g *Gateway) {
		g.newECR = f
	}
}

// WithPlainHTTP makes OCI layout pushes use http instead of https
func WithPlainHTTP(plain bool) Option {
	return func(g *Gateway) {
		g.plainHTTP = plain
	}
}

// NewGateway creates a registry gateway using docker for image transfer
func NewGateway(docker DockerAPI, opts ...Option) *Gateway {
	g := &Gateway{
		newECR:  NewECRClient,
		docker:  docker,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Session returns the current registry session, or nil before Authenticate
func (g *Gateway) Session() *Session {
	return g.session
}

// Authenticate obtains a registry login from ECR and keeps it for later
// push and pull calls
func (g *Gateway) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	registry := Host(creds.AccountID, creds.Region)

	log.Info().
		Str("registry", registry).
		Str("region", creds.Region).
		Msg("Authenticating with ECR")

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	client := g.newECR(creds)
	out, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, &AuthError{Registry: registry, Err: err}
	}
	if len(out.AuthorizationData) == 0 {
		return nil, &AuthError{Registry: registry, Err: errors.New("no authorization data returned")}
	}

	data := out.AuthorizationData[0]
	username, password, err := decodeAuthToken(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, &AuthError{Registry: registry, Err: err}
	}

	server := strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://")
	if server == "" {
		server = registry
	}

	session := &Session{
		Username:      username,
		Password:      password,
		ServerAddress: server,
		ExpiresAt:     aws.ToTime(data.ExpiresAt),
	}

	g.ecr = client
	g.session = session

	log.Info().
		Str("registry", session.ServerAddress).
		Time("expires_at", session.ExpiresAt).
		Msg("Successfully authenticated with ECR")

	return session, nil
}

// decodeAuthToken splits a base64 "user:password" ECR token
func decodeAuthToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("decode authorization token: %w", err)
	}
	username, password, ok := strings.Cut(string(raw), ":")
	if !ok || username == "" || password == "" {
		return "", "", errors.New("malformed authorization token")
	}
	return username, password, nil
}

// RepositoryExists reports whether name exists in the registry
func (g *Gateway) RepositoryExists(ctx context.Context, name string) (bool, error) {
	if g.ecr == nil {
		return false, &RepositoryError{Repository: name, Op: "describe", Err: ErrNotAuthenticated}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil {
		return true, nil
	}
	if isAPIError[*ecrtypes.RepositoryNotFoundException](err, "RepositoryNotFoundException") {
		return false, nil
	}
	return false, &RepositoryError{Repository: name, Op: "describe", Err: err}
}

// EnsureRepository creates name when it does not exist. The check and the
// create are separate calls; a concurrent creator is reported as existed.
func (g *Gateway) EnsureRepository(ctx context.Context, name string) (RepositoryState, error) {
	exists, err := g.RepositoryExists(ctx, name)
	if err != nil {
		return RepositoryExisted, err
	}
	if exists {
		log.Info().Str("repository", name).Msg("Repository already exists")
		return RepositoryExisted, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	log.Info().Str("repository", name).Msg("Creating repository")

	_, err = g.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:     aws.String(name),
		ImageTagMutability: ecrtypes.ImageTagMutabilityMutable,
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
	})
	if err == nil {
		return RepositoryCreated, nil
	}
	if isAPIError[*ecrtypes.RepositoryAlreadyExistsException](err, "RepositoryAlreadyExistsException") {
		log.Info().Str("repository", name).Msg("Repository created concurrently, reusing it")
		return RepositoryExisted, nil
	}
	return RepositoryExisted, &RepositoryError{Repository: name, Op: "create", Err: err}
}

// isAPIError matches err against a modeled ECR exception or its error code
func isAPIError[T error](err error, code string) bool {
	var typed T
	if errors.As(err, &typed) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
