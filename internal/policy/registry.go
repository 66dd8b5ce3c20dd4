package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type table map[string]*Policy

// Registry resolves jurisdiction keys to policies. The active table is an
// immutable snapshot swapped atomically on reload, so lookups never block.
type Registry struct {
	mu      sync.Mutex // serializes reloads and file list edits
	files   []string
	current atomic.Pointer[table]
	logger  *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l.Named("policy")
		}
	}
}

// WithFiles adds overlay files applied on top of the embedded seed.
func WithFiles(paths ...string) RegistryOption {
	return func(r *Registry) {
		for _, p := range paths {
			r.files = append(r.files, filepath.Clean(p))
		}
	}
}

// NewRegistry builds a registry from the embedded seed and any overlays.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the table from the seed and every overlay file. On error
// the previous snapshot stays active.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked()
}

func (r *Registry) reloadLocked() error {
	seed, err := seedPolicies()
	if err != nil {
		return fmt.Errorf("loading seed policies: %w", err)
	}

	next := make(table, len(seed))
	if err := merge(next, seed); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	for _, path := range r.files {
		overlay, err := ParseFile(path)
		if err != nil {
			return err
		}
		if err := merge(next, overlay); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	r.current.Store(&next)
	r.logger.Info("policy table loaded",
		zap.Int("jurisdictions", len(next)),
		zap.Int("overlay_files", len(r.files)),
	)
	return nil
}

func merge(dst table, policies []*Policy) error {
	for _, p := range policies {
		if p == nil {
			continue
		}
		p.JurisdictionID = strings.ToUpper(strings.TrimSpace(p.JurisdictionID))
		if err := p.Validate(); err != nil {
			return err
		}
		dst[p.JurisdictionID] = p
	}
	return nil
}

// AddFile registers an overlay file and reloads.
func (r *Registry) AddFile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, filepath.Clean(path))
	if err := r.reloadLocked(); err != nil {
		r.files = r.files[:len(r.files)-1]
		return err
	}
	return nil
}

// Files returns the overlay files in application order.
func (r *Registry) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.files))
	copy(out, r.files)
	return out
}

// Lookup resolves a jurisdiction key. The key may be a jurisdiction id, a
// known country name or an ISO code; EU member codes resolve to EU. On a
// miss it returns Default(key) and false; callers treat that as
// ErrPolicyUnknown and force SAFE mode. The returned policy is a private
// copy.
func (r *Registry) Lookup(key string) (*Policy, bool) {
	t := *r.current.Load()
	if p, ok := t[strings.ToUpper(strings.TrimSpace(key))]; ok {
		return p.Clone(), true
	}
	code := CountryCode(key)
	if p, ok := t[code]; ok {
		return p.Clone(), true
	}
	if p, ok := t["EU"]; ok && Covers("EU", code) {
		return p.Clone(), true
	}
	return Default(key), false
}

// List returns copies of every registered policy ordered by jurisdiction.
func (r *Registry) List() []*Policy {
	t := *r.current.Load()
	out := make([]*Policy, 0, len(t))
	for _, p := range t {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].JurisdictionID < out[j].JurisdictionID
	})
	return out
}
