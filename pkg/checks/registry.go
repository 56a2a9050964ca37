package checks

import (
	"fmt"
	"slices"
	"strings"
)

// Registry is a fixed, ordered set of runners.
type Registry struct {
	runners []Runner
	byName  map[string]Runner
}

// NewRegistry builds a registry. Names must be unique.
func NewRegistry(runners ...Runner) (*Registry, error) {
	r := &Registry{byName: make(map[string]Runner, len(runners))}
	for _, rn := range runners {
		name := rn.Name()
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCheck, name)
		}
		r.byName[name] = rn
		r.runners = append(r.runners, rn)
	}
	return r, nil
}

// Builtin returns the registry of built-in WordPress checks.
func Builtin() *Registry {
	r, err := NewRegistry(
		NewFingerprint(),
		NewHeaders(),
		NewFiles(),
		NewXMLRPC(),
		NewRESTUsers(),
		NewDirectoryListing(),
		NewComponents(),
	)
	if err != nil {
		panic(err)
	}
	return r
}

// All returns every runner in registration order.
func (r *Registry) All() []Runner {
	return slices.Clone(r.runners)
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.runners))
	for i, rn := range r.runners {
		names[i] = rn.Name()
	}
	return names
}

// Get returns the runner called name.
func (r *Registry) Get(name string) (Runner, bool) {
	rn, ok := r.byName[name]
	return rn, ok
}

// Select returns the named runners in registration order. No names selects
// everything. Detect-phase runners are always kept.
func (r *Registry) Select(names []string) ([]Runner, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		if _, ok := r.byName[n]; !ok {
			return nil, fmt.Errorf("%w: %s (known: %s)", ErrUnknownCheck, n, strings.Join(r.Names(), ", "))
		}
		want[n] = true
	}
	var out []Runner
	for _, rn := range r.runners {
		if want[rn.Name()] || PhaseOf(rn) == PhaseDetect {
			out = append(out, rn)
		}
	}
	return out, nil
}
