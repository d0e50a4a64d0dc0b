package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Tunables are the per-type knobs governing one bucket's lifecycle: how wide
// the coalescing window is, how long after the window closes the job may
// fire, how long unread store keys survive, and which queue the job goes to.
type Tunables struct {
	Latency int64
	Margin  int64
	TTL     int64
	Queue   string
}

// Override is a partial Tunables read from the overrides file; nil fields
// fall through to the defaults.
type Override struct {
	Latency *int64  `toml:"latency"`
	Margin  *int64  `toml:"margin"`
	TTL     *int64  `toml:"ttl"`
	Queue   *string `toml:"queue"`
}

type overridesFile struct {
	Types map[string]Override `toml:"types"`
}

// LoadOverrides reads per-type overrides from a TOML file of the form
//
//	[types.users]
//	latency = 5
//	queue = "urgent"
func LoadOverrides(path string) (map[string]Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read overrides file")
	}
	var f overridesFile
	if err := toml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrap(err, "parse overrides file")
	}
	return f.Types, nil
}

// Resolver answers "what tunables apply to this resource type". It is built
// once at startup and is a pure lookup afterwards.
type Resolver struct {
	defaults  Tunables
	overrides map[string]Override
}

// NewResolver validates every latency up front: a non-positive latency would
// make bucket arithmetic divide by zero or bucket into the past, so it is a
// configuration error and the process must not take traffic with it.
func NewResolver(defaults Tunables, overrides map[string]Override) (*Resolver, error) {
	if defaults.Latency <= 0 {
		return nil, errors.Errorf("config: default latency must be positive, got %d", defaults.Latency)
	}
	for name, o := range overrides {
		if o.Latency != nil && *o.Latency <= 0 {
			return nil, errors.Errorf("config: latency for type %q must be positive, got %d", name, *o.Latency)
		}
	}
	return &Resolver{defaults: defaults, overrides: overrides}, nil
}

// Resolve returns the effective tunables for a resource type: the type's
// override where set, the global default otherwise.
func (r *Resolver) Resolve(resourceType string) Tunables {
	t := r.defaults
	o, ok := r.overrides[resourceType]
	if !ok {
		return t
	}
	if o.Latency != nil {
		t.Latency = *o.Latency
	}
	if o.Margin != nil {
		t.Margin = *o.Margin
	}
	if o.TTL != nil {
		t.TTL = *o.TTL
	}
	if o.Queue != nil {
		t.Queue = *o.Queue
	}
	return t
}
