// Package worker dispatches inbound events to the worker components.
//
// Every method starts one event and returns its completion. Handlers may
// keep the event alive past their return (cache writes, notification
// display, sync runs); Close waits for all of them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopease-worker/pkg/bgsync"
	"github.com/Sternrassler/shopease-worker/pkg/cache"
	"github.com/Sternrassler/shopease-worker/pkg/classify"
	"github.com/Sternrassler/shopease-worker/pkg/clients"
	"github.com/Sternrassler/shopease-worker/pkg/event"
	"github.com/Sternrassler/shopease-worker/pkg/lifecycle"
	"github.com/Sternrassler/shopease-worker/pkg/notify"
	"github.com/Sternrassler/shopease-worker/pkg/precache"
	"github.com/Sternrassler/shopease-worker/pkg/strategy"
)

// ErrClosed is returned for events dispatched after Close.
var ErrClosed = errors.New("worker: closed")

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// Options wires a worker.
type Options struct {
	// Origin is the storefront base URL.
	Origin *url.URL
	// Backend stores the cache generations.
	Backend cache.Backend
	// Cache names the generations.
	Cache cache.RegistryConfig
	// Manifest lists the static assets; empty uses classify.DefaultPaths.
	Manifest classify.Manifest
	// Strategy configures the offline shell.
	Strategy strategy.Config
	// Precache configures install-time fetching.
	Precache precache.Config
	// SkipWaitingOnInstall activates right after install.
	SkipWaitingOnInstall bool
	// Network reaches the origin.
	Network Fetcher
	// SyncStore keeps pending sync registrations; nil uses a memory store.
	SyncStore bgsync.Store
	// Sync configures the sync coordinator.
	Sync bgsync.Config
	// Reconcile runs for the sync tag; nil only logs.
	Reconcile bgsync.Reconciler
	// Displayer shows notifications; nil uses a Tray.
	Displayer notify.Displayer
	// Windows are the open windows; nil starts with none. A registry shared
	// with an earlier instance carries that instance's control, so this
	// instance reports UpdateAvailable once installed.
	Windows *clients.Registry
	// Connected reports origin reachability. When it reports true,
	// RegisterSync dispatches the sync right away.
	Connected func() bool
	Logger    zerolog.Logger
}

// Worker is one worker instance.
type Worker struct {
	network   Fetcher
	registry  *cache.Registry
	executor  *strategy.Executor
	lifecycle *lifecycle.Controller
	bridge    *notify.Bridge
	sync      *bgsync.Coordinator
	windows   *clients.Registry
	displayer notify.Displayer
	connected func() bool
	logger    zerolog.Logger

	mu              sync.Mutex
	closed          bool
	inflight        sync.WaitGroup
	updateAvailable bool
	syncing         map[string]struct{}
}

// New wires a worker in the parsed state.
func New(opts Options) (*Worker, error) {
	if opts.Origin == nil || opts.Backend == nil || opts.Network == nil {
		return nil, fmt.Errorf("origin, backend and network are required")
	}
	if opts.Manifest.Len() == 0 {
		opts.Manifest = classify.NewManifest(classify.DefaultPaths)
	}
	if opts.SyncStore == nil {
		opts.SyncStore = bgsync.NewMemoryStore()
	}
	if opts.Displayer == nil {
		opts.Displayer = notify.NewTray()
	}
	logger := opts.Logger

	registry := cache.NewRegistry(opts.Backend, opts.Cache, logger.With().Str("component", "cache").Logger())
	classifier := classify.New(opts.Manifest)
	windows := opts.Windows
	if windows == nil {
		windows = clients.NewRegistry(opts.Origin, logger.With().Str("component", "clients").Logger())
	}

	w := &Worker{
		network:  opts.Network,
		registry: registry,
		executor: strategy.New(registry, classifier, opts.Network, opts.Strategy,
			logger.With().Str("component", "strategy").Logger()),
		lifecycle: lifecycle.New(registry, precache.NewPopulator(opts.Network, opts.Precache), windows, lifecycle.Config{
			Origin:               opts.Origin,
			Manifest:             opts.Manifest,
			SkipWaitingOnInstall: opts.SkipWaitingOnInstall,
		}, logger.With().Str("component", "lifecycle").Logger()),
		bridge:    notify.NewBridge(opts.Displayer, windows, logger.With().Str("component", "notify").Logger()),
		sync:      bgsync.NewCoordinator(opts.SyncStore, opts.Reconcile, opts.Sync, logger.With().Str("component", "bgsync").Logger()),
		windows:   windows,
		displayer: opts.Displayer,
		connected: opts.Connected,
		logger:    logger.With().Str("component", "worker").Logger(),
		syncing:   make(map[string]struct{}),
	}

	w.lifecycle.OnStateChange(func(from, to lifecycle.State) {
		if to == lifecycle.StateInstalled && windows.Controlled() {
			w.mu.Lock()
			w.updateAvailable = true
			w.mu.Unlock()
			w.logger.Info().Msg("New version available")
		}
	})
	return w, nil
}

// Registry returns the cache generation registry.
func (w *Worker) Registry() *cache.Registry { return w.registry }

// Windows returns the window client registry.
func (w *Worker) Windows() *clients.Registry { return w.windows }

// Displayer returns the notification displayer.
func (w *Worker) Displayer() notify.Displayer { return w.displayer }

// Coordinator returns the sync coordinator.
func (w *Worker) Coordinator() *bgsync.Coordinator { return w.sync }

// State returns the lifecycle state.
func (w *Worker) State() lifecycle.State { return w.lifecycle.State() }

// UpdateAvailable reports whether this instance installed while windows
// were controlled by a previous one.
func (w *Worker) UpdateAvailable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updateAvailable
}

// begin starts and tracks an event.
func (w *Worker) begin(ctx context.Context, typ event.Type) (*event.Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	ev := event.New(ctx, typ)
	w.inflight.Add(1)
	EventsTotal.WithLabelValues(string(typ)).Inc()
	EventsInFlight.Inc()
	go func() {
		<-ev.Done()
		EventsInFlight.Dec()
		w.inflight.Done()
	}()
	return ev, nil
}

// Install pre-populates the static generation. On success the worker
// activates when it is allowed to skip waiting.
func (w *Worker) Install(ctx context.Context) (*event.Event, error) {
	ev, err := w.begin(ctx, event.TypeInstall)
	if err != nil {
		return nil, err
	}
	w.logger.Info().Msg("Installing")

	if err := ev.WaitUntil(func(ctx context.Context) error {
		if err := w.lifecycle.Install(ctx); err != nil {
			return err
		}
		if w.lifecycle.ReadyToActivate() {
			w.activateAsync(ctx)
		}
		return nil
	}); err != nil {
		ev.Fail(err)
		return ev, nil
	}
	ev.Settle()
	return ev, nil
}

// Activate evicts stale generations and claims the open windows.
func (w *Worker) Activate(ctx context.Context) (*event.Event, error) {
	ev, err := w.begin(ctx, event.TypeActivate)
	if err != nil {
		return nil, err
	}
	w.logger.Info().Msg("Activating")

	if err := ev.WaitUntil(func(ctx context.Context) error {
		_, err := w.lifecycle.Activate(ctx)
		return err
	}); err != nil {
		ev.Fail(err)
		return ev, nil
	}
	ev.Settle()
	return ev, nil
}

func (w *Worker) activateAsync(ctx context.Context) {
	if _, err := w.Activate(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("Activation not dispatched")
	}
}

// Fetch answers an intercepted request. req.URL must be the absolute origin
// URL. Until the worker is active, requests go straight to the network.
// The returned event completes once the response's cache copy is stored.
func (w *Worker) Fetch(ctx context.Context, req *http.Request) (*http.Response, *event.Event, error) {
	ev, err := w.begin(ctx, event.TypeFetch)
	if err != nil {
		return nil, nil, err
	}
	defer ev.Settle()

	if w.lifecycle.State() != lifecycle.StateActive {
		resp, err := w.network.Fetch(req)
		return resp, ev, err
	}
	resp, err := w.executor.Handle(ev, req)
	return resp, ev, err
}

// Push displays the notification for a push payload.
func (w *Worker) Push(ctx context.Context, payload []byte) (*event.Event, notify.Descriptor, error) {
	ev, err := w.begin(ctx, event.TypePush)
	if err != nil {
		return nil, notify.Descriptor{}, err
	}
	defer ev.Settle()
	return ev, w.bridge.OnPush(ev, payload), nil
}

// NotificationClick handles a click on a displayed notification.
func (w *Worker) NotificationClick(ctx context.Context, in notify.Interaction) (*event.Event, error) {
	ev, err := w.begin(ctx, event.TypeNotificationClick)
	if err != nil {
		return nil, err
	}
	defer ev.Settle()
	w.bridge.OnInteraction(ev, in)
	return ev, nil
}

// Sync handles a background sync event for tag.
func (w *Worker) Sync(ctx context.Context, tag string) (*event.Event, error) {
	ev, err := w.begin(ctx, event.TypeSync)
	if err != nil {
		return nil, err
	}
	defer ev.Settle()
	w.sync.OnSync(ev, tag)
	return ev, nil
}

// RegisterSync records a pending sync for tag. While connected the sync is
// dispatched right away; otherwise Online replays it.
func (w *Worker) RegisterSync(ctx context.Context, tag string) (bgsync.Registration, error) {
	reg, err := w.sync.Register(ctx, tag)
	if err != nil {
		return reg, err
	}
	if w.connected != nil && w.connected() {
		if _, err := w.dispatchSync(ctx, tag); err != nil {
			w.logger.Warn().Err(err).Str("tag", tag).Msg("Sync not dispatched")
		}
	}
	return reg, nil
}

// dispatchSync runs Sync for tag unless a sync for tag is still running,
// in which case it returns a nil event.
func (w *Worker) dispatchSync(ctx context.Context, tag string) (*event.Event, error) {
	w.mu.Lock()
	if _, running := w.syncing[tag]; running {
		w.mu.Unlock()
		return nil, nil
	}
	w.syncing[tag] = struct{}{}
	w.mu.Unlock()

	ev, err := w.Sync(ctx, tag)
	if err != nil {
		w.doneSyncing(tag)
		return nil, err
	}
	go func() {
		<-ev.Done()
		w.doneSyncing(tag)
	}()
	return ev, nil
}

func (w *Worker) doneSyncing(tag string) {
	w.mu.Lock()
	delete(w.syncing, tag)
	w.mu.Unlock()
}

// Message handles a message from the application.
func (w *Worker) Message(ctx context.Context, msg Message) (*event.Event, error) {
	ev, err := w.begin(ctx, event.TypeMessage)
	if err != nil {
		return nil, err
	}
	defer ev.Settle()

	w.logger.Info().Str("type", msg.Type).Msg("Message received")
	if msg.Type == MessageSkipWaiting && w.lifecycle.SkipWaiting() {
		w.activateAsync(ctx)
	}
	return ev, nil
}

// PriorClientsClosed signals that no window of an older instance remains.
func (w *Worker) PriorClientsClosed(ctx context.Context) {
	if w.lifecycle.PriorClientsClosed() {
		w.activateAsync(ctx)
	}
}

// Supersede marks this instance redundant.
func (w *Worker) Supersede() error {
	return w.lifecycle.Supersede()
}

// Online replays every pending sync registration, one at a time, skipping
// tags whose sync is still running. Returns the joined errors of the failed
// syncs.
func (w *Worker) Online(ctx context.Context) error {
	regs, err := w.sync.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending syncs: %w", err)
	}
	if len(regs) > 0 {
		w.logger.Info().Int("pending", len(regs)).Msg("Replaying background syncs")
	}

	var errs []error
	for _, reg := range regs {
		ev, err := w.dispatchSync(ctx, reg.Tag)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if ev == nil {
			continue
		}
		if err := ev.Wait(ctx); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting events and waits for every in-flight event,
// including kept-alive cache writes, or for ctx to end.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info().Msg("Worker closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close worker: %w", ctx.Err())
	}
}
