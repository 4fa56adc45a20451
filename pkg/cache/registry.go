package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPrefix is the naming prefix shared by every generation of the app.
const DefaultPrefix = "shopease-"

// RegistryConfig selects the current generation of each role.
type RegistryConfig struct {
	// Prefix scopes every store name owned by this application
	Prefix string

	// StaticVersion is the current static generation version
	StaticVersion int

	// DynamicVersion is the current dynamic generation version
	DynamicVersion int
}

// DefaultRegistryConfig returns the configuration of the shipped worker.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Prefix:         DefaultPrefix,
		StaticVersion:  3,
		DynamicVersion: 3,
	}
}

// Registry tracks the current generation per role on top of a Backend.
type Registry struct {
	backend Backend
	prefix  string
	current map[Role]Generation
	logger  zerolog.Logger
}

// NewRegistry creates a registry over backend.
func NewRegistry(backend Backend, cfg RegistryConfig, logger zerolog.Logger) *Registry {
	if backend == nil {
		panic("cache backend cannot be nil")
	}
	return &Registry{
		backend: backend,
		prefix:  cfg.Prefix,
		current: map[Role]Generation{
			RoleStatic:  {Role: RoleStatic, Version: cfg.StaticVersion},
			RoleDynamic: {Role: RoleDynamic, Version: cfg.DynamicVersion},
		},
		logger: logger,
	}
}

// Prefix returns the application naming prefix.
func (r *Registry) Prefix() string {
	return r.prefix
}

// Current returns the current generation of role.
func (r *Registry) Current(role Role) Generation {
	return r.current[role]
}

// CurrentName returns the storage name of the current generation of role.
func (r *Registry) CurrentName(role Role) string {
	return r.current[role].Name(r.prefix)
}

// CurrentNames returns the set of current storage names.
func (r *Registry) CurrentNames() map[string]struct{} {
	out := make(map[string]struct{}, len(r.current))
	for _, g := range r.current {
		out[g.Name(r.prefix)] = struct{}{}
	}
	return out
}

// Names lists every store in the shared namespace, including foreign ones.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	return r.backend.Names(ctx)
}

// OpenGeneration returns the handle of the current generation of role,
// creating the store if absent. Quota failures are reported, not retried.
func (r *Registry) OpenGeneration(ctx context.Context, role Role) (*Handle, error) {
	gen, ok := r.current[role]
	if !ok {
		return nil, fmt.Errorf("no current generation for role %s", role)
	}
	name := gen.Name(r.prefix)
	if err := r.backend.Open(ctx, name); err != nil {
		CacheErrors.WithLabelValues("open").Inc()
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	return &Handle{
		gen:     gen,
		name:    name,
		backend: r.backend,
	}, nil
}

// EvictStale deletes every store carrying this application's prefix that
// is not in current. Stores of other applications are never touched.
// Returns the number of deleted stores.
func (r *Registry) EvictStale(ctx context.Context, current map[string]struct{}) (int, error) {
	names, err := r.backend.Names(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("evict").Inc()
		return 0, fmt.Errorf("list stores: %w", err)
	}

	var (
		deleted int
		errs    []error
	)
	for _, name := range names {
		if _, keep := current[name]; keep {
			continue
		}
		if !strings.HasPrefix(name, r.prefix) {
			continue
		}
		r.logger.Info().Str("cache", name).Msg("Deleting old cache")
		ok, err := r.backend.Delete(ctx, name)
		if err != nil {
			CacheErrors.WithLabelValues("evict").Inc()
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		if ok {
			deleted++
			CacheEvictions.Inc()
		}
	}
	return deleted, errors.Join(errs...)
}

// Match looks key up in every store in creation order and returns the
// first hit, or ErrCacheMiss.
func (r *Registry) Match(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	names, err := r.backend.Names(ctx)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("list stores: %w", err)
	}
	for _, name := range names {
		entry, err := getEntry(ctx, r.backend, name, key)
		if errors.Is(err, ErrCacheMiss) {
			continue
		}
		if err != nil {
			// A broken store must not hide a hit in another one.
			r.logger.Warn().Err(err).Str("cache", name).Msg("Cache lookup failed")
			continue
		}
		CacheHits.WithLabelValues(r.roleLabel(name)).Inc()
		return entry, nil
	}
	CacheMisses.Inc()
	return nil, ErrCacheMiss
}

func (r *Registry) roleLabel(name string) string {
	if gen, ok := ParseGeneration(r.prefix, name); ok {
		return gen.Role.String()
	}
	return "foreign"
}

// Handle is an open generation.
type Handle struct {
	gen     Generation
	name    string
	backend Backend
}

// Generation returns the generation identity.
func (h *Handle) Generation() Generation {
	return h.gen
}

// Name returns the storage name.
func (h *Handle) Name() string {
	return h.name
}

// Match returns the entry stored for key, or ErrCacheMiss.
func (h *Handle) Match(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	entry, err := getEntry(ctx, h.backend, h.name, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			CacheMisses.Inc()
		}
		return nil, err
	}
	CacheHits.WithLabelValues(h.gen.Role.String()).Inc()
	return entry, nil
}

// Put stores entry under key, overwriting any previous entry.
func (h *Handle) Put(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if !key.Retrievable() {
		return ErrNotRetrievable
	}
	if entry.StatusCode == http.StatusPartialContent {
		return fmt.Errorf("%w: partial content", ErrInvalidEntry)
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}

	data, err := marshalEntry(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}
	if err := h.backend.Put(ctx, h.name, key.String(), data); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("put %s: %w", h.name, err)
	}
	CacheWrittenBytes.WithLabelValues(h.gen.Role.String()).Add(float64(len(data)))
	return nil
}

// Keys lists the stored entry keys.
func (h *Handle) Keys(ctx context.Context) ([]string, error) {
	return h.backend.Keys(ctx, h.name)
}

func getEntry(ctx context.Context, backend Backend, name string, key CacheKey) (*CacheEntry, error) {
	data, err := backend.Get(ctx, name, key.String())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
		}
		return nil, err
	}
	entry, err := unmarshalEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}
	return entry, nil
}
