// Command shopease-worker runs the offline worker in front of a ShopEase
// storefront origin.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopease-worker/pkg/bgsync"
	"github.com/Sternrassler/shopease-worker/pkg/cache"
	"github.com/Sternrassler/shopease-worker/pkg/classify"
	"github.com/Sternrassler/shopease-worker/pkg/client"
	"github.com/Sternrassler/shopease-worker/pkg/clients"
	"github.com/Sternrassler/shopease-worker/pkg/config"
	"github.com/Sternrassler/shopease-worker/pkg/logging"
	"github.com/Sternrassler/shopease-worker/pkg/notify"
	"github.com/Sternrassler/shopease-worker/pkg/precache"
	"github.com/Sternrassler/shopease-worker/pkg/strategy"
	"github.com/Sternrassler/shopease-worker/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logCfg.Level = level
	}
	logCfg.Pretty = cfg.Logging.Pretty
	logger := logging.Setup(logCfg)

	if err := run(cfg, logger); err != nil {
		mainLogger := logging.NewLogger("main")
		mainLogger.Fatal().Err(err).Msg("Worker failed")
	}
}

// app holds the running components. The worker instance is replaced when
// an install leaves it redundant.
type app struct {
	cfg     *config.Config
	opts    worker.Options
	current atomic.Pointer[worker.Worker]
	network *client.Client
	backend cache.Backend
	redis   *redis.Client
	tray    *notify.Tray
	monitor *bgsync.Monitor
	logger  zerolog.Logger
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		if err := a.install(ctx, installRetry(cfg)); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Install abandoned")
		}
	}()
	go func() {
		if err := a.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Connectivity monitor stopped")
		}
	}()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Origin.URL).
			Str("cache_backend", cfg.Cache.Backend).
			Msg("Starting worker host")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}
	return a.instance().Close(shutdownCtx)
}

// instance returns the worker currently serving events.
func (a *app) instance() *worker.Worker {
	return a.current.Load()
}

// installRetry paces install attempts, backing off up to the probe interval.
func installRetry(cfg *config.Config) client.RetryConfig {
	retry := client.DefaultRetryConfig()
	retry.InitialBackoff = time.Second
	if cfg.Sync.ProbeInterval > retry.InitialBackoff {
		retry.MaxBackoff = cfg.Sync.ProbeInterval
	}
	return retry
}

// install installs the current instance. An install failure leaves that
// instance redundant for good, so it is replaced by a fresh instance over
// the same windows and caches, which is installed after a backoff. Returns
// once an instance installs or ctx ends.
func (a *app) install(ctx context.Context, retry client.RetryConfig) error {
	for attempt := 1; ; attempt++ {
		w := a.instance()
		ev, err := w.Install(ctx)
		if err != nil {
			return fmt.Errorf("install: %w", err)
		}
		err = ev.Wait(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := retry.Backoff(attempt)
		a.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Install failed, retrying with a new instance")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		next, err := worker.New(a.opts)
		if err != nil {
			return fmt.Errorf("create worker: %w", err)
		}
		a.current.Store(next)
		if err := w.Close(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Redundant instance did not drain")
		}
	}
}

// replay runs the pending background syncs of the current instance.
func (a *app) replay(ctx context.Context) {
	if err := a.instance().Online(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Background sync replay failed")
	}
}

// build wires the worker from cfg.
func build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}

	retry := client.DefaultRetryConfig()
	retry.MaxAttempts = cfg.Origin.MaxAttempts
	network, err := client.New(client.Config{
		UserAgent: cfg.Origin.UserAgent,
		Timeout:   cfg.Origin.Timeout,
		Retry:     retry,
	})
	if err != nil {
		return nil, fmt.Errorf("create network client: %w", err)
	}

	a := &app{
		cfg:     cfg,
		network: network,
		tray:    notify.NewTray(),
		logger:  logger.With().Str("component", "host").Logger(),
	}

	if cfg.NeedsRedis() {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	a.backend, err = newBackend(cfg, a.redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	manifest := classify.NewManifest(classify.DefaultPaths)
	shell := cfg.Worker.OfflineShell
	if cfg.Worker.ManifestFile != "" {
		mf, err := config.LoadManifest(cfg.Worker.ManifestFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		manifest = classify.NewManifest(mf.Static)
		if mf.OfflineShell != "" {
			shell = mf.OfflineShell
		}
	}

	var syncStore bgsync.Store = bgsync.NewMemoryStore()
	if cfg.Sync.Store == config.BackendRedis {
		syncStore = bgsync.NewRedisStore(a.redis, bgsync.DefaultRedisKeyPrefix)
	}

	a.opts = worker.Options{
		Origin:  origin,
		Backend: a.backend,
		Cache: cache.RegistryConfig{
			Prefix:         cfg.Cache.Prefix,
			StaticVersion:  cfg.Cache.StaticVersion,
			DynamicVersion: cfg.Cache.DynamicVersion,
		},
		Manifest: manifest,
		Strategy: strategy.Config{OfflineShell: shell},
		Precache: precache.Config{
			MaxConcurrency: cfg.Worker.PrecacheConcurrency,
			Timeout:        precache.DefaultConfig().Timeout,
		},
		SkipWaitingOnInstall: cfg.Worker.SkipWaitingOnInstall,
		Network:              network,
		SyncStore:            syncStore,
		Sync: bgsync.Config{
			Tag:         cfg.Sync.Tag,
			MaxAttempts: cfg.Sync.MaxAttempts,
		},
		Reconcile: reconciler(network, cfg.Sync.ReconcileURL),
		Displayer: a.tray,
		Windows:   clients.NewRegistry(origin, logger.With().Str("component", "clients").Logger()),
		Connected: func() bool { return a.monitor.Online() },
		Logger:    logger,
	}
	w, err := worker.New(a.opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.current.Store(w)

	a.monitor = bgsync.NewMonitor(
		bgsync.HTTPProber{Fetcher: network, URL: origin.String()},
		cfg.Sync.ProbeInterval,
		a.replay,
		logger.With().Str("component", "connectivity").Logger(),
	)
	a.monitor.OnOnline(a.replay)
	return a, nil
}

func newBackend(cfg *config.Config, rdb *redis.Client) (cache.Backend, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		return cache.NewRedisBackend(rdb, cfg.Cache.RedisKeyPrefix), nil
	case config.BackendLevelDB:
		b, err := cache.NewLevelDBBackend(cfg.Cache.LevelDBPath)
		if err != nil {
			return nil, fmt.Errorf("open leveldb cache: %w", err)
		}
		return b, nil
	default:
		quota, err := cfg.MemoryMaxBytes()
		if err != nil {
			return nil, err
		}
		return cache.NewMemoryBackend(quota), nil
	}
}

// reconciler posts to url when the sync tag fires. An empty url leaves the
// coordinator's logging default in place.
func reconciler(network *client.Client, url string) bgsync.Reconciler {
	if url == "" {
		return nil
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(nil))
		if err != nil {
			return fmt.Errorf("create reconcile request: %w", err)
		}
		resp, err := network.Fetch(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("reconcile: unexpected status %d", resp.StatusCode)
		}
		return nil
	}
}

// Close releases the cache backend and the redis connection.
func (a *app) Close() error {
	var errs []error
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
