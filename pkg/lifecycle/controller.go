// Package lifecycle drives a worker instance from install to activation.
//
// Install pre-populates the static generation from the manifest. Activate
// evicts stale generations and then claims every open window. An installed
// instance waits until SkipWaiting is requested or the prior clients close;
// a failed install or a newer instance makes it redundant.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopease-worker/pkg/cache"
	"github.com/Sternrassler/shopease-worker/pkg/classify"
	"github.com/Sternrassler/shopease-worker/pkg/precache"
)

// ErrInvalidTransition is returned when an operation does not apply to the
// current state.
var ErrInvalidTransition = errors.New("lifecycle: invalid transition")

// Claimer takes control of the open windows.
type Claimer interface {
	Claim(ctx context.Context) (int, error)
}

// Observer is notified of every state change.
type Observer func(from, to State)

// Config holds the controller configuration.
type Config struct {
	// Origin is the base URL manifest paths are resolved against.
	Origin *url.URL
	// Manifest lists the static assets fetched at install.
	Manifest classify.Manifest
	// SkipWaitingOnInstall activates right after a successful install.
	SkipWaitingOnInstall bool
}

// Controller owns the lifecycle state of one worker instance.
type Controller struct {
	registry  *cache.Registry
	populator *precache.Populator
	claimer   Claimer
	config    Config
	logger    zerolog.Logger

	mu           sync.Mutex
	state        State
	skipWaiting  bool
	priorsClosed bool
	observers    []Observer
}

// New creates a controller in StateParsed.
func New(registry *cache.Registry, populator *precache.Populator, claimer Claimer, cfg Config, logger zerolog.Logger) *Controller {
	if registry == nil || populator == nil || claimer == nil {
		panic("lifecycle: registry, populator and claimer are required")
	}
	if cfg.Origin == nil {
		panic("lifecycle: origin is required")
	}
	CurrentState.Set(float64(StateParsed))
	return &Controller{
		registry:    registry,
		populator:   populator,
		claimer:     claimer,
		config:      cfg,
		logger:      logger,
		state:       StateParsed,
		skipWaiting: cfg.SkipWaitingOnInstall,
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer. Observers run synchronously after
// the state changed and must not call back into the controller.
func (c *Controller) OnStateChange(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Install pre-populates the static generation. Every manifest asset is
// fetched before any is written; any failure makes the instance redundant.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition(StateParsed, StateInstalling); err != nil {
		return err
	}
	c.logger.Info().Msg("Installing worker")
	start := time.Now()

	handle, err := c.registry.OpenGeneration(ctx, cache.RoleStatic)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("open static cache: %w", err)
	}

	c.logger.Info().Str("cache", handle.Name()).Msg("Caching static files")
	n, err := c.populator.Populate(ctx, c.config.Origin, c.config.Manifest.Paths(), handle)
	if err != nil {
		c.fail(err)
		return fmt.Errorf("install: %w", err)
	}
	InstallDuration.Observe(time.Since(start).Seconds())

	c.logger.Info().
		Int("assets", n).
		Dur("duration", time.Since(start)).
		Msg("Static files cached successfully")

	return c.transition(StateInstalling, StateInstalled)
}

// ReadyToActivate reports whether an installed instance may activate now.
func (c *Controller) ReadyToActivate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateInstalled && (c.skipWaiting || c.priorsClosed)
}

// SkipWaiting requests activation without waiting for prior clients to
// close. It reports whether the instance is ready to activate now.
func (c *Controller) SkipWaiting() bool {
	c.mu.Lock()
	c.skipWaiting = true
	c.mu.Unlock()
	c.logger.Info().Msg("Skip waiting requested")
	return c.ReadyToActivate()
}

// PriorClientsClosed records that no client of an older instance remains.
// It reports whether the instance is ready to activate now.
func (c *Controller) PriorClientsClosed() bool {
	c.mu.Lock()
	c.priorsClosed = true
	c.mu.Unlock()
	return c.ReadyToActivate()
}

// Activate deletes every stale generation of this application and then
// claims the open windows. Eviction and claim failures are reported but do
// not stop the instance from becoming active.
func (c *Controller) Activate(ctx context.Context) (int, error) {
	if err := c.transition(StateInstalled, StateActivating); err != nil {
		return 0, err
	}
	c.logger.Info().Msg("Activating worker")

	var errs []error
	evicted, err := c.registry.EvictStale(ctx, c.registry.CurrentNames())
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to evict stale caches")
		errs = append(errs, fmt.Errorf("evict stale caches: %w", err))
	}

	c.logger.Info().Msg("Claiming clients")
	claimed, err := c.claimer.Claim(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to claim clients")
		errs = append(errs, fmt.Errorf("claim clients: %w", err))
	}

	c.logger.Info().
		Int("evicted", evicted).
		Int("claimed", claimed).
		Msg("Worker active")

	if err := c.transition(StateActivating, StateActive); err != nil {
		errs = append(errs, err)
	}
	return evicted, errors.Join(errs...)
}

// Supersede marks the instance redundant because a newer one replaced it.
func (c *Controller) Supersede() error {
	c.mu.Lock()
	from := c.state
	if from == StateRedundant {
		c.mu.Unlock()
		return fmt.Errorf("%w: already %s", ErrInvalidTransition, from)
	}
	c.mu.Unlock()

	c.logger.Info().Str("from", from.String()).Msg("Worker superseded")
	return c.transition(from, StateRedundant)
}

func (c *Controller) fail(err error) {
	c.logger.Error().Err(err).Msg("Error caching static files")
	c.mu.Lock()
	from := c.state
	c.mu.Unlock()
	if from != StateRedundant {
		_ = c.transition(from, StateRedundant)
	}
}

// transition moves from one state to another and notifies observers.
func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	if c.state != from {
		current := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s (state is %s)", ErrInvalidTransition, from, to, current)
	}
	c.state = to
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	Transitions.WithLabelValues(to.String()).Inc()
	CurrentState.Set(float64(to))
	c.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Lifecycle transition")

	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}
