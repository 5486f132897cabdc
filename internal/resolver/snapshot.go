package resolver

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Snapshot is an immutable view of the file, environment and override
// sources of one configuration namespace. A nil map means the source was
// never loaded and contributes nothing.
type Snapshot struct {
	file     map[string]string
	env      map[string]string
	override map[string]string
}

// NewSnapshot copies the given sources into a Snapshot
func NewSnapshot(file, env, override map[string]string) *Snapshot {
	return &Snapshot{
		file:     cloneOrNil(file),
		env:      cloneOrNil(env),
		override: cloneOrNil(override),
	}
}

func cloneOrNil(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func lookup(m map[string]string, key string) Optional {
	if m == nil {
		return None
	}
	v, ok := m[key]
	if !ok {
		return None
	}
	return Some(v)
}

// Resolve resolves key against the snapshot's sources
func (s *Snapshot) Resolve(key, def string) Value {
	return Resolve(key, def, lookup(s.file, key), lookup(s.env, key), lookup(s.override, key))
}

// Explain resolves every key in order, using defaults for the default tier
func (s *Snapshot) Explain(keys []string, defaults map[string]string) []Value {
	values := make([]Value, 0, len(keys))
	for _, key := range keys {
		values = append(values, s.Resolve(key, defaults[key]))
	}
	return values
}

// LoadFile reads a KEY=value file in dotenv syntax. Blank lines and
// # comments are ignored. $VAR and ${VAR} in unquoted or double-quoted
// values are expanded; single-quoted values and \$ are taken literally.
// A missing file is returned as an error wrapping os.ErrNotExist.
func LoadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	values, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if keys := expandedKeys(data); len(keys) > 0 {
		log.Warn().
			Str("path", path).
			Strs("keys", keys).
			Msg("Values contain $ references and were expanded, single-quote them to keep them literal")
	}
	return values, nil
}

var unescapedDollar = regexp.MustCompile(`(^|[^\\])\$`)

// expandedKeys lists the keys whose raw value is subject to $ expansion
func expandedKeys(data []byte) []string {
	var keys []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "'") {
			continue
		}
		if unescapedDollar.MatchString(raw) {
			keys = append(keys, strings.TrimSpace(key))
		}
	}
	return keys
}

// EnvFromList builds the environment tier from KEY=value pairs such as
// those returned by os.Environ. Only keys in the allow list are kept so
// that two namespaces never observe each other's variables.
func EnvFromList(environ []string, allow []string) map[string]string {
	allowed := make(map[string]struct{}, len(allow))
	for _, key := range allow {
		allowed[key] = struct{}{}
	}

	env := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, keep := allowed[key]; keep {
			env[key] = value
		}
	}
	return env
}
