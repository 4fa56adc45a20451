package strategy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopease-worker/pkg/cache"
	"github.com/Sternrassler/shopease-worker/pkg/classify"
	"github.com/Sternrassler/shopease-worker/pkg/event"
)

// DefaultOfflineShell is the page served for navigations while offline.
const DefaultOfflineShell = "/index.html"

const classPassthrough = "passthrough"

// Fetcher sends a request to the network. A non-nil error means the network
// failed; error status codes arrive as responses.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// Config holds the executor configuration.
type Config struct {
	// OfflineShell is the path of the app shell served when a navigation
	// fails and the page itself is not cached. Empty disables the shell.
	OfflineShell string
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{OfflineShell: DefaultOfflineShell}
}

// Executor applies the per-class strategy to intercepted requests.
type Executor struct {
	registry   *cache.Registry
	classifier *classify.Classifier
	network    Fetcher
	shell      string
	logger     zerolog.Logger
}

// New creates an executor.
func New(registry *cache.Registry, classifier *classify.Classifier, network Fetcher, cfg Config, logger zerolog.Logger) *Executor {
	if registry == nil || classifier == nil || network == nil {
		panic("strategy: registry, classifier and network are required")
	}
	return &Executor{
		registry:   registry,
		classifier: classifier,
		network:    network,
		shell:      cfg.OfflineShell,
		logger:     logger,
	}
}

// Handle answers req. req.URL must be the absolute origin URL; cache keys
// are built from it. Cache writes are registered on ev, which must not be
// settled before Handle returns.
//
// A nil response comes with the network error that could not be answered
// from cache.
func (x *Executor) Handle(ev *event.Event, req *http.Request) (*http.Response, error) {
	key, err := cache.KeyForRequest(req)
	if err != nil {
		return x.passthrough(req)
	}

	switch x.classifier.Classify(req) {
	case classify.Navigation:
		return x.navigate(ev, req, key)
	case classify.StaticAsset:
		return x.cacheFirst(ev, req, key)
	default:
		return x.networkFirst(ev, req, key)
	}
}

// passthrough forwards a non-retrievable request untouched.
func (x *Executor) passthrough(req *http.Request) (*http.Response, error) {
	resp, err := x.network.Fetch(req)
	if err != nil {
		Outcomes.WithLabelValues(classPassthrough, SourceError).Inc()
		return nil, err
	}
	Outcomes.WithLabelValues(classPassthrough, SourceNetwork).Inc()
	return resp, nil
}

func (x *Executor) navigate(ev *event.Event, req *http.Request, key cache.CacheKey) (*http.Response, error) {
	label := classify.Navigation.String()

	resp, err := x.fetch(req)
	if err == nil {
		if cache.IsStorable(resp.StatusCode) {
			x.storeCopy(ev, cache.RoleDynamic, key, resp)
		}
		Outcomes.WithLabelValues(label, SourceNetwork).Inc()
		return resp, nil
	}

	ctx := req.Context()
	if entry := x.matchAny(ctx, key); entry != nil {
		Outcomes.WithLabelValues(label, SourceCache).Inc()
		return cache.EntryToResponse(entry, req), nil
	}

	if x.shell != "" {
		shellKey := cache.NewKey(http.MethodGet, x.shellURL(req.URL))
		if entry := x.matchAny(ctx, shellKey); entry != nil {
			x.logger.Debug().
				Str("url", key.URL).
				Msg("Serving offline shell")
			Outcomes.WithLabelValues(label, SourceShell).Inc()
			return cache.EntryToResponse(entry, req), nil
		}
	}

	Outcomes.WithLabelValues(label, SourceError).Inc()
	return nil, err
}

func (x *Executor) cacheFirst(ev *event.Event, req *http.Request, key cache.CacheKey) (*http.Response, error) {
	label := classify.StaticAsset.String()

	handle, err := x.registry.OpenGeneration(req.Context(), cache.RoleStatic)
	if err != nil {
		x.logger.Warn().Err(err).Msg("Failed to open static cache")
	} else {
		entry, err := handle.Match(req.Context(), key)
		if err == nil {
			Outcomes.WithLabelValues(label, SourceCache).Inc()
			return cache.EntryToResponse(entry, req), nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			x.logger.Warn().Err(err).Str("url", key.URL).Msg("Static cache lookup failed")
		}
	}

	resp, err := x.fetch(req)
	if err != nil {
		Outcomes.WithLabelValues(label, SourceError).Inc()
		return nil, err
	}
	if cache.IsStorable(resp.StatusCode) {
		x.storeCopy(ev, cache.RoleStatic, key, resp)
	}
	Outcomes.WithLabelValues(label, SourceNetwork).Inc()
	return resp, nil
}

func (x *Executor) networkFirst(ev *event.Event, req *http.Request, key cache.CacheKey) (*http.Response, error) {
	label := classify.Dynamic.String()

	resp, err := x.fetch(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK {
			x.storeCopy(ev, cache.RoleDynamic, key, resp)
		}
		Outcomes.WithLabelValues(label, SourceNetwork).Inc()
		return resp, nil
	}

	if entry := x.matchAny(req.Context(), key); entry != nil {
		Outcomes.WithLabelValues(label, SourceCache).Inc()
		return cache.EntryToResponse(entry, req), nil
	}

	Outcomes.WithLabelValues(label, SourceError).Inc()
	return nil, err
}

// fetch sends req to the network.
func (x *Executor) fetch(req *http.Request) (*http.Response, error) {
	resp, err := x.network.Fetch(req)
	if err != nil {
		x.logger.Debug().Err(err).Str("url", req.URL.String()).Msg("Network unavailable")
		return nil, err
	}
	return resp, nil
}

// matchAny looks key up in every generation. Lookup errors count as a miss.
func (x *Executor) matchAny(ctx context.Context, key cache.CacheKey) *cache.CacheEntry {
	entry, err := x.registry.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			x.logger.Warn().Err(err).Str("url", key.URL).Msg("Cache lookup failed")
		}
		return nil
	}
	return entry
}

// storeCopy snapshots resp and writes the copy into the current generation
// of role as an extension of ev. resp stays readable for the caller.
func (x *Executor) storeCopy(ev *event.Event, role cache.Role, key cache.CacheKey, resp *http.Response) {
	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		x.logger.Warn().Err(err).Str("url", key.URL).Msg("Failed to copy response for caching")
		CacheWriteFailures.WithLabelValues(role.String()).Inc()
		return
	}
	entry.URL = key.URL

	err = ev.WaitUntil(func(ctx context.Context) error {
		if err := x.write(ctx, role, key, entry); err != nil {
			CacheWriteFailures.WithLabelValues(role.String()).Inc()
			x.logger.Warn().Err(err).
				Str("url", key.URL).
				Str("role", role.String()).
				Msg("Cache write failed")
		}
		return nil
	})
	if err != nil {
		x.logger.Warn().Err(err).Str("url", key.URL).Msg("Cache write not scheduled")
	}
}

func (x *Executor) write(ctx context.Context, role cache.Role, key cache.CacheKey, entry *cache.CacheEntry) error {
	handle, err := x.registry.OpenGeneration(ctx, role)
	if err != nil {
		return fmt.Errorf("open %s cache: %w", role, err)
	}
	return handle.Put(ctx, key, entry)
}

// shellURL resolves the offline shell path against the origin of u.
func (x *Executor) shellURL(u *url.URL) *url.URL {
	return u.ResolveReference(&url.URL{Path: x.shell})
}
