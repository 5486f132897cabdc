package builder

import "strings"

// RedactedValue replaces secret build-arg values in logged command lines
const RedactedValue = "REDACTED"

var secretKeys = map[string]bool{
	"CI_JOB_TOKEN":                   true,
	"DOCKER_AUTH_CONFIG":             true,
	"AWS_SECRET_ACCESS_KEY":          true,
	"AWS_SESSION_TOKEN":              true,
	"GITHUB_TOKEN":                   true,
	"GH_TOKEN":                       true,
	"GOOGLE_APPLICATION_CREDENTIALS": true,
	"KUBECONFIG":                     true,
}

// IsSecretKey reports whether a build-arg or config key looks like it holds a secret
func IsSecretKey(key string) bool {
	k := strings.ToUpper(key)
	return strings.Contains(k, "PASSWORD") ||
		strings.Contains(k, "TOKEN") ||
		strings.Contains(k, "SECRET") ||
		secretKeys[k]
}

// RedactBuildArgs returns a copy of args with secret --build-arg values masked
func RedactBuildArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] != "--build-arg" {
			continue
		}
		key, val, ok := strings.Cut(out[i+1], "=")
		if ok && key != "" && val != "" && IsSecretKey(key) {
			out[i+1] = key + "=" + RedactedValue
		}
	}
	return out
}

// RedactMap returns a copy of m with secret values masked
func RedactMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != "" && IsSecretKey(k) {
			v = RedactedValue
		}
		out[k] = v
	}
	return out
}
