// Package resolver merges configuration values from four ordered tiers
// (built-in default, file, environment, explicit override) into a single
// effective value per key.
package resolver

import "fmt"

// Tier identifies the source a value was resolved from.
// Tiers are totally ordered; a higher tier always wins when present.
type Tier int

const (
	TierDefault Tier = iota
	TierFile
	TierEnv
	TierOverride
)

func (t Tier) String() string {
	switch t {
	case TierDefault:
		return "default"
	case TierFile:
		return "file"
	case TierEnv:
		return "env"
	case TierOverride:
		return "override"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Optional is a value that may be absent. An empty Value with Present set
// is a real value, distinct from absence.
type Optional struct {
	Value   string
	Present bool
}

// None is the absent Optional
var None = Optional{}

// Some returns a present Optional holding v
func Some(v string) Optional {
	return Optional{Value: v, Present: true}
}

// Value is the effective setting for a key after resolution
type Value struct {
	Key   string
	Value string
	Tier  Tier
}

// IsSet reports whether the value came from anything but the built-in default
func (v Value) IsSet() bool {
	return v.Tier != TierDefault
}

// Resolve applies the tiers in order default, file, env, override. The last
// present tier wins, even when its value is the empty string.
func Resolve(key, def string, file, env, override Optional) Value {
	resolved := Value{Key: key, Value: def, Tier: TierDefault}

	for _, candidate := range []struct {
		opt  Optional
		tier Tier
	}{
		{file, TierFile},
		{env, TierEnv},
		{override, TierOverride},
	} {
		if candidate.opt.Present {
			resolved.Value = candidate.opt.Value
			resolved.Tier = candidate.tier
		}
	}

	return resolved
}
