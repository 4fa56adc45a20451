package bgsync

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var connectivityOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "shopease_connectivity_online",
	Help: "1 while the origin is reachable, 0 otherwise",
})

// Prober checks whether the origin is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Fetcher sends a request to the network.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

// HTTPProber probes the origin with a HEAD request. Any response, whatever
// its status, counts as reachable.
type HTTPProber struct {
	Fetcher Fetcher
	URL     string
}

// Probe implements Prober.
func (p HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	resp, err := p.Fetcher.Fetch(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Monitor tracks connectivity and calls onRestore on every offline to
// online transition. An OnOnline callback runs after the other successful
// probes.
type Monitor struct {
	prober    Prober
	interval  time.Duration
	onRestore func(ctx context.Context)
	logger    zerolog.Logger

	mu       sync.Mutex
	online   bool
	onOnline func(ctx context.Context)
}

// NewMonitor creates a monitor that starts in the online state.
func NewMonitor(prober Prober, interval time.Duration, onRestore func(ctx context.Context), logger zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	connectivityOnline.Set(1)
	return &Monitor{
		prober:    prober,
		interval:  interval,
		onRestore: onRestore,
		logger:    logger,
		online:    true,
	}
}

// OnOnline sets fn to run after each successful probe that does not
// restore connectivity.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// Online reports the last observed connectivity.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes once and returns the new connectivity state.
func (m *Monitor) Check(ctx context.Context) bool {
	err := m.prober.Probe(ctx)
	online := err == nil

	m.mu.Lock()
	restored := online && !m.online
	changed := online != m.online
	m.online = online
	onOnline := m.onOnline
	m.mu.Unlock()

	if changed {
		if online {
			connectivityOnline.Set(1)
			m.logger.Info().Msg("Connectivity restored")
		} else {
			connectivityOnline.Set(0)
			m.logger.Warn().Err(err).Msg("Origin unreachable")
		}
	}
	switch {
	case restored && m.onRestore != nil:
		m.onRestore(ctx)
	case online && !restored && onOnline != nil:
		onOnline(ctx)
	}
	return online
}

// Run probes every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
