package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// ErrInvalidProfile is returned when a profile is missing its id
var ErrInvalidProfile = errors.New("invalid provider profile")

// Registry holds provider profiles keyed by lower-case id and alias
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	aliases  map[string]string // alias -> canonical id
}

// NewRegistry creates a registry pre-populated with the built-in profiles
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
		aliases:  make(map[string]string),
	}
	for _, p := range builtinProfiles() {
		r.put(p)
	}
	return r
}

// Override replaces or adds a profile, keeping built-in fields the override leaves empty
func (r *Registry) Override(p Profile) error {
	id := normalizeID(p.ID)
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidProfile)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if base, ok := r.resolveLocked(id); ok {
		if p.EndpointPath == "" {
			p.EndpointPath = base.EndpointPath
		}
		if p.AuthStyle == "" {
			p.AuthStyle = base.AuthStyle
		}
		if p.Shape == "" {
			p.Shape = base.Shape
		}
		if p.Defaults == (Limits{}) {
			p.Defaults = base.Defaults
		}
		if p.ExtraHeaders == nil {
			p.ExtraHeaders = base.ExtraHeaders
		}
		p.Aliases = lo.Uniq(append(p.Aliases, base.Aliases...))
		if !p.FallbackEndpoint {
			p.FallbackEndpoint = base.FallbackEndpoint
		}
		p.ID = base.ID
	}
	r.put(p.withDefaults())
	return nil
}

// Lookup returns a copy of the profile registered for id or one of its aliases
func (r *Registry) Lookup(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.resolveLocked(normalizeID(id))
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Resolve returns the profile for id, or an OpenAI-compatible profile for unknown ids.
// Used for endpoint and header resolution, which never fail.
func (r *Registry) Resolve(id string) Profile {
	if p, ok := r.Lookup(id); ok {
		return p
	}
	return Profile{
		ID:           normalizeID(id),
		EndpointPath: DefaultEndpointPath,
		AuthStyle:    AuthBearer,
		Shape:        ShapeOpenAI,
		Defaults:     DefaultLimits(),
	}
}

// List returns the registered canonical ids in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered profiles
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

type profilesFile struct {
	Providers []Profile `toml:"provider"`
}

// LoadFile applies the [[provider]] tables of a TOML file as overrides.
// Returns the number of profiles applied.
func (r *Registry) LoadFile(path string) (int, error) {
	var file profilesFile
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return 0, fmt.Errorf("failed to decode provider profiles %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return 0, fmt.Errorf("unknown keys in provider profiles %s: %v", path, undecoded)
	}

	for i, p := range file.Providers {
		if err := r.Override(p); err != nil {
			return i, fmt.Errorf("provider profile #%d: %w", i+1, err)
		}
	}
	return len(file.Providers), nil
}

func (r *Registry) put(p Profile) {
	p.ID = normalizeID(p.ID)
	r.profiles[p.ID] = p
	for _, alias := range p.Aliases {
		if a := normalizeID(alias); a != "" && a != p.ID {
			r.aliases[a] = p.ID
		}
	}
}

func (r *Registry) resolveLocked(id string) (Profile, bool) {
	if p, ok := r.profiles[id]; ok {
		return p, true
	}
	if canonical, ok := r.aliases[id]; ok {
		p, ok := r.profiles[canonical]
		return p, ok
	}
	return Profile{}, false
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
