package precache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/shopease-worker/pkg/cache"
)

// ErrBadStatus is returned when a manifest asset answers with a non-2xx status.
var ErrBadStatus = errors.New("precache: unexpected status")

// Config holds populator configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches
	MaxConcurrency int
	// Timeout per asset fetch
	Timeout time.Duration
}

// DefaultConfig returns the default populator configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// Asset is one fetched manifest entry.
type Asset struct {
	Path  string
	Key   cache.CacheKey
	Entry *cache.CacheEntry
}

// Populator fetches manifest assets and writes them into a generation.
type Populator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewPopulator creates a new populator
func NewPopulator(fetcher Fetcher, config Config) *Populator {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Populator{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "precache").Logger(),
	}
}

// FetchAll fetches every path, resolved against base, in parallel.
// Results keep the order of paths. The first failure cancels the rest and
// is returned; no partial result is returned.
func (p *Populator) FetchAll(ctx context.Context, base *url.URL, paths []string) ([]Asset, error) {
	start := time.Now()

	p.logger.Info().
		Str("origin", base.String()).
		Int("assets", len(paths)).
		Msg("Starting precache fetch")

	assets := make([]Asset, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			asset, err := p.fetchOne(gctx, base, path)
			if err != nil {
				p.logger.Warn().
					Err(err).
					Str("path", path).
					Msg("Precache fetch failed")
				return err
			}
			// Each goroutine owns its slot.
			assets[i] = asset
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("assets", len(assets)).
		Dur("duration", time.Since(start)).
		Msg("Precache fetch complete")

	return assets, nil
}

// Populate fetches every path and, once all arrived, writes them into
// handle. Returns the number of assets written.
func (p *Populator) Populate(ctx context.Context, base *url.URL, paths []string, handle *cache.Handle) (int, error) {
	assets, err := p.FetchAll(ctx, base, paths)
	if err != nil {
		return 0, err
	}

	for i, asset := range assets {
		if err := handle.Put(ctx, asset.Key, asset.Entry); err != nil {
			return i, fmt.Errorf("store %s in %s: %w", asset.Path, handle.Name(), err)
		}
	}

	p.logger.Info().
		Str("cache", handle.Name()).
		Int("assets", len(assets)).
		Msg("Static cache populated")

	return len(assets), nil
}

func (p *Populator) fetchOne(ctx context.Context, base *url.URL, path string) (Asset, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return Asset{}, fmt.Errorf("parse manifest path %q: %w", path, err)
	}
	target := base.ResolveReference(ref)

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Asset{}, fmt.Errorf("create request for %s: %w", path, err)
	}

	resp, err := p.fetcher.Fetch(req)
	if err != nil {
		return Asset{}, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if !cache.IsStorable(resp.StatusCode) {
		return Asset{}, fmt.Errorf("%w: %s returned %d", ErrBadStatus, path, resp.StatusCode)
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return Asset{}, fmt.Errorf("read %s: %w", path, err)
	}
	key := cache.NewKey(http.MethodGet, target)
	entry.URL = key.URL

	return Asset{Path: path, Key: key, Entry: entry}, nil
}
