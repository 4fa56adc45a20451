package bgsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopease-worker/pkg/event"
)

// Prometheus metrics for background sync.
var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_sync_runs_total",
		Help: "Sync events by result (success, failure, ignored)",
	}, []string{"result"})

	syncDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopease_sync_dropped_total",
		Help: "Sync registrations dropped after exhausting their attempts",
	})

	syncPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopease_sync_pending",
		Help: "Pending sync registrations seen at the last replay",
	})
)

// Reconciler pushes locally held application state to the server.
type Reconciler func(ctx context.Context) error

// Config holds coordinator configuration.
type Config struct {
	// Tag is the sync tag this coordinator reconciles.
	Tag string
	// MaxAttempts drops a registration after this many failed runs.
	MaxAttempts int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{Tag: DefaultTag, MaxAttempts: DefaultMaxAttempts}
}

// Coordinator runs the reconciliation callback for sync events.
type Coordinator struct {
	store     Store
	reconcile Reconciler
	config    Config
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator. A nil reconcile only logs.
func NewCoordinator(store Store, reconcile Reconciler, cfg Config, logger zerolog.Logger) *Coordinator {
	if store == nil {
		panic("bgsync: store is required")
	}
	if cfg.Tag == "" {
		cfg.Tag = DefaultTag
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if reconcile == nil {
		reconcile = func(ctx context.Context) error {
			logger.Info().Msg("Syncing data...")
			return nil
		}
	}
	return &Coordinator{store: store, reconcile: reconcile, config: cfg, logger: logger}
}

// Tag returns the reconciled sync tag.
func (c *Coordinator) Tag() string {
	return c.config.Tag
}

// Register records a pending sync for tag.
func (c *Coordinator) Register(ctx context.Context, tag string) (Registration, error) {
	if tag == "" {
		return Registration{}, fmt.Errorf("sync tag is required")
	}
	reg, err := c.store.Register(ctx, tag)
	if err != nil {
		return Registration{}, err
	}
	c.logger.Debug().Str("tag", tag).Msg("Sync registered")
	return reg, nil
}

// Pending lists the pending registrations.
func (c *Coordinator) Pending(ctx context.Context) ([]Registration, error) {
	regs, err := c.store.Pending(ctx)
	if err != nil {
		return nil, err
	}
	syncPending.Set(float64(len(regs)))
	return regs, nil
}

// OnSync handles a sync event for tag. The reconciled tag runs the callback
// under ev; other tags complete immediately. A successful event clears the
// registration. A failure is logged and reported through ev; after
// MaxAttempts failures the registration is dropped.
func (c *Coordinator) OnSync(ev *event.Event, tag string) {
	c.logger.Info().Str("tag", tag).Msg("Background sync")

	if tag != c.config.Tag {
		syncRunsTotal.WithLabelValues("ignored").Inc()
		c.logger.Debug().Str("tag", tag).Msg("No handler for sync tag")
		if err := ev.WaitUntil(func(ctx context.Context) error {
			return c.complete(ctx, tag)
		}); err != nil {
			c.logger.Warn().Err(err).Msg("Sync completion not scheduled")
		}
		return
	}

	if err := ev.WaitUntil(func(ctx context.Context) error {
		if err := c.reconcile(ctx); err != nil {
			syncRunsTotal.WithLabelValues("failure").Inc()
			c.logger.Error().Err(err).Str("tag", tag).Msg("Error syncing data")
			c.recordFailure(ctx, tag, err)
			return fmt.Errorf("sync %q: %w", tag, err)
		}
		syncRunsTotal.WithLabelValues("success").Inc()
		c.logger.Info().Str("tag", tag).Msg("Data sync completed")
		return c.complete(ctx, tag)
	}); err != nil {
		c.logger.Warn().Err(err).Msg("Sync not scheduled")
	}
}

func (c *Coordinator) complete(ctx context.Context, tag string) error {
	if err := c.store.Remove(ctx, tag); err != nil {
		c.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to clear sync registration")
	}
	return nil
}

func (c *Coordinator) recordFailure(ctx context.Context, tag string, cause error) {
	reg, err := c.store.RecordFailure(ctx, tag, cause)
	if errors.Is(err, ErrNotRegistered) {
		return
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to record sync failure")
		return
	}
	if !reg.Exhausted(c.config.MaxAttempts) {
		return
	}

	syncDroppedTotal.Inc()
	c.logger.Warn().
		Str("tag", tag).
		Int("attempts", reg.Attempts).
		Str("last_error", reg.LastError).
		Msg("Dropping sync registration after repeated failures")
	if err := c.store.Remove(ctx, tag); err != nil {
		c.logger.Warn().Err(err).Str("tag", tag).Msg("Failed to drop sync registration")
	}
}
