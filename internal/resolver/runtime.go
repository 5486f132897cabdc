package resolver

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Runtime configuration keys of the shipped service
const (
	KeyDBHost       = "DB_HOST"
	KeyDBPort       = "DB_PORT"
	KeyDBUser       = "DB_USER"
	KeyDBPassword   = "DB_PASSWORD"
	KeyDBPoolSize   = "DB_POOL_SIZE"
	KeyReadOnlyMode = "READ_ONLY_MODE"
	KeyMountPath    = "MCP_MOUNT_PATH"
	KeyTransport    = "MCP_TRANSPORT"
	KeyServicePort  = "MCP_PORT"
)

// RuntimeKeys lists every runtime key in display order
var RuntimeKeys = []string{
	KeyDBHost,
	KeyDBPort,
	KeyDBUser,
	KeyDBPassword,
	KeyDBPoolSize,
	KeyReadOnlyMode,
	KeyMountPath,
	KeyTransport,
	KeyServicePort,
}

// Transport modes accepted by the service
const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

// RuntimeDefaults is the built-in default tier for runtime keys
func RuntimeDefaults() map[string]string {
	return map[string]string{
		KeyDBHost:       "localhost",
		KeyDBPort:       "5432",
		KeyDBPoolSize:   "5",
		KeyReadOnlyMode: "true",
		KeyMountPath:    "",
		KeyTransport:    TransportStreamableHTTP,
		KeyServicePort:  "8000",
	}
}

// RuntimeConfig is the resolved configuration of the shipped service
type RuntimeConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	PoolSize  int
	ReadOnly  bool
	MountPath string
	Transport string
	HTTPPort  int
}

// LoadRuntimeConfig resolves and converts runtime keys from snap
func LoadRuntimeConfig(snap *Snapshot, defaults map[string]string) (RuntimeConfig, error) {
	get := func(key string) string {
		return snap.Resolve(key, defaults[key]).Value
	}

	port, err := cast.ToIntE(get(KeyDBPort))
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("invalid %s: %w", KeyDBPort, err)
	}
	poolSize, err := cast.ToIntE(get(KeyDBPoolSize))
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("invalid %s: %w", KeyDBPoolSize, err)
	}
	if poolSize < 1 {
		return RuntimeConfig{}, fmt.Errorf("invalid %s: must be at least 1, got %d", KeyDBPoolSize, poolSize)
	}
	readOnly, err := cast.ToBoolE(get(KeyReadOnlyMode))
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("invalid %s: %w", KeyReadOnlyMode, err)
	}
	httpPort, err := cast.ToIntE(get(KeyServicePort))
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("invalid %s: %w", KeyServicePort, err)
	}

	transport := strings.ToLower(get(KeyTransport))
	switch transport {
	case TransportStdio, TransportSSE, TransportStreamableHTTP:
	default:
		return RuntimeConfig{}, fmt.Errorf("invalid %s %q: want %s, %s or %s",
			KeyTransport, transport, TransportStdio, TransportSSE, TransportStreamableHTTP)
	}

	return RuntimeConfig{
		Host:      get(KeyDBHost),
		Port:      port,
		User:      get(KeyDBUser),
		Password:  get(KeyDBPassword),
		PoolSize:  poolSize,
		ReadOnly:  readOnly,
		MountPath: NormalizeMountPath(get(KeyMountPath)),
		Transport: transport,
		HTTPPort:  httpPort,
	}, nil
}

// NormalizeMountPath returns p with exactly one leading slash and no
// trailing slash. The root mount ("" or "/") normalizes to "".
func NormalizeMountPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}

	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return "/" + strings.Join(kept, "/")
}
