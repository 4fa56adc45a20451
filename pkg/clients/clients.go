// Package clients tracks the open application windows a worker controls.
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for an unknown window ID.
var ErrNotFound = errors.New("clients: window not found")

// ErrForeignOrigin is returned for a URL outside the application origin.
var ErrForeignOrigin = errors.New("clients: url outside application origin")

// Window is a snapshot of one open application window.
type Window struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Focused    bool      `json:"focused"`
	Controlled bool      `json:"controlled"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Registry holds the open windows of the application.
type Registry struct {
	base   *url.URL
	logger zerolog.Logger

	mu      sync.RWMutex
	windows map[string]*Window
	order   []string
	claimed bool
}

// NewRegistry creates an empty registry. Window URLs are resolved against base.
func NewRegistry(base *url.URL, logger zerolog.Logger) *Registry {
	if base == nil {
		panic("clients: base url is required")
	}
	return &Registry{
		base:    base,
		logger:  logger,
		windows: make(map[string]*Window),
	}
}

// Resolve turns rawURL into an absolute URL on the application origin.
func (r *Registry) Resolve(rawURL string) (string, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	abs := r.base.ResolveReference(ref)
	if abs.Scheme != r.base.Scheme || abs.Host != r.base.Host {
		return "", fmt.Errorf("%w: %s", ErrForeignOrigin, abs)
	}
	return abs.String(), nil
}

// Register records a window the application opened itself. It is
// controlled only once the worker has claimed clients.
func (r *Registry) Register(rawURL string) (Window, error) {
	return r.add(rawURL, false)
}

// OpenWindow opens a new focused window at rawURL.
func (r *Registry) OpenWindow(rawURL string) (Window, error) {
	w, err := r.add(rawURL, true)
	if err == nil {
		r.logger.Info().Str("window", w.ID).Str("url", w.URL).Msg("Window opened")
	}
	return w, err
}

func (r *Registry) add(rawURL string, focus bool) (Window, error) {
	abs, err := r.Resolve(rawURL)
	if err != nil {
		return Window{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w := &Window{
		ID:         uuid.NewString(),
		URL:        abs,
		Controlled: r.claimed,
		OpenedAt:   time.Now(),
	}
	r.windows[w.ID] = w
	r.order = append(r.order, w.ID)
	if focus {
		r.focusLocked(w.ID)
	}
	return *w, nil
}

// MatchAll returns every open window, controlled or not, oldest first.
func (r *Registry) MatchAll() []Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Window, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.windows[id])
	}
	return out
}

// Get returns the window with id.
func (r *Registry) Get(id string) (Window, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[id]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Focus brings the window with id to the front.
func (r *Registry) Focus(id string) (Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.windows[id]; !ok {
		return Window{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.focusLocked(id)
	r.logger.Debug().Str("window", id).Msg("Window focused")
	return *r.windows[id], nil
}

func (r *Registry) focusLocked(id string) {
	for wid, w := range r.windows {
		w.Focused = wid == id
	}
}

// Navigate points the window with id at rawURL.
func (r *Registry) Navigate(id, rawURL string) (Window, error) {
	abs, err := r.Resolve(rawURL)
	if err != nil {
		return Window{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.windows[id]
	if !ok {
		return Window{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	w.URL = abs
	return *w, nil
}

// Close forgets the window with id. Reports whether it existed.
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.windows[id]; !ok {
		return false
	}
	delete(r.windows, id)
	for i, wid := range r.order {
		if wid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Claim makes the worker the controller of every open window and of
// windows opened later. Returns the number of newly controlled windows.
func (r *Registry) Claim(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.claimed = true
	n := 0
	for _, w := range r.windows {
		if !w.Controlled {
			w.Controlled = true
			n++
		}
	}
	return n, nil
}

// Controlled reports whether any open window is controlled.
func (r *Registry) Controlled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.windows {
		if w.Controlled {
			return true
		}
	}
	return false
}
