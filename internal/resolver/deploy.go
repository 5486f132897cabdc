package resolver

import (
	"sort"
	"strings"
)

// Deployment configuration keys
const (
	KeyAccountID       = "AWS_ACCOUNT_ID"
	KeyRegion          = "AWS_REGION"
	KeyAccessKeyID     = "AWS_ACCESS_KEY_ID"
	KeySecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	KeySessionToken    = "AWS_SESSION_TOKEN"
	KeyRepository      = "ECR_REPOSITORY"
	KeyImageName       = "IMAGE_NAME"
	KeyImageTag        = "IMAGE_TAG"
	KeyPlatforms       = "PLATFORMS"
	KeyDockerfile      = "DOCKERFILE"
	KeyBuildContext    = "BUILD_CONTEXT"
	KeyBuildArgs       = "BUILD_ARGS"
)

// DeployKeys lists every deployment key in display order
var DeployKeys = []string{
	KeyAccountID,
	KeyRegion,
	KeyAccessKeyID,
	KeySecretAccessKey,
	KeySessionToken,
	KeyRepository,
	KeyImageName,
	KeyImageTag,
	KeyPlatforms,
	KeyDockerfile,
	KeyBuildContext,
	KeyBuildArgs,
}

// RequiredDeployKeys must be present and non-empty before any external action
var RequiredDeployKeys = []string{
	KeyAccountID,
	KeyRegion,
	KeyAccessKeyID,
	KeySecretAccessKey,
	KeyRepository,
	KeyImageTag,
}

// DefaultTag is the image tag used when no git revision is available
const DefaultTag = "latest"

// DeployDefaults returns the built-in default tier for deployment keys.
// tag is usually derived from the git HEAD of the build context.
func DeployDefaults(tag string) map[string]string {
	if tag == "" {
		tag = DefaultTag
	}
	return map[string]string{
		KeyRegion:       "us-east-1",
		KeyImageTag:     tag,
		KeyPlatforms:    "linux/amd64",
		KeyDockerfile:   "Dockerfile",
		KeyBuildContext: ".",
	}
}

// DeployConfig is the resolved deployment configuration
type DeployConfig struct {
	AccountID       Value
	Region          Value
	AccessKeyID     Value
	SecretAccessKey Value
	SessionToken    Value
	Repository      Value
	ImageName       Value
	ImageTag        Value
	Platforms       []string
	Dockerfile      Value
	BuildContext    Value
	BuildArgs       map[string]string
}

// Values returns the resolved values keyed by configuration key
func (c DeployConfig) Values() map[string]Value {
	return map[string]Value{
		KeyAccountID:       c.AccountID,
		KeyRegion:          c.Region,
		KeyAccessKeyID:     c.AccessKeyID,
		KeySecretAccessKey: c.SecretAccessKey,
		KeySessionToken:    c.SessionToken,
		KeyRepository:      c.Repository,
		KeyImageName:       c.ImageName,
		KeyImageTag:        c.ImageTag,
		KeyDockerfile:      c.Dockerfile,
		KeyBuildContext:    c.BuildContext,
	}
}

// LoadDeployConfig resolves every deployment key from snap
func LoadDeployConfig(snap *Snapshot, defaults map[string]string) DeployConfig {
	get := func(key string) Value {
		return snap.Resolve(key, defaults[key])
	}

	cfg := DeployConfig{
		AccountID:       get(KeyAccountID),
		Region:          get(KeyRegion),
		AccessKeyID:     get(KeyAccessKeyID),
		SecretAccessKey: get(KeySecretAccessKey),
		SessionToken:    get(KeySessionToken),
		ImageName:       get(KeyImageName),
		ImageTag:        get(KeyImageTag),
		Dockerfile:      get(KeyDockerfile),
		BuildContext:    get(KeyBuildContext),
		Platforms:       SplitList(get(KeyPlatforms).Value),
		BuildArgs:       ParseBuildArgs(get(KeyBuildArgs).Value),
	}

	// The repository falls back to the image name when neither is overridden
	repoDefault := defaults[KeyRepository]
	if repoDefault == "" {
		repoDefault = cfg.ImageName.Value
	}
	cfg.Repository = snap.Resolve(KeyRepository, repoDefault)

	return cfg
}

// SplitList splits a comma separated list, dropping blanks and duplicates
func SplitList(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

// ParseBuildArgs parses "K=V,K2=V2". Entries without "=" are skipped.
func ParseBuildArgs(raw string) map[string]string {
	args := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		args[strings.TrimSpace(key)] = value
	}
	return args
}

// FormatBuildArgs renders args in the BUILD_ARGS syntax with sorted keys
func FormatBuildArgs(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+args[k])
	}
	return strings.Join(parts, ",")
}
