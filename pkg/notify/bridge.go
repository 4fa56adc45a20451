package notify

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/shopease-worker/pkg/clients"
	"github.com/Sternrassler/shopease-worker/pkg/event"
)

var (
	// Shown counts displayed notifications
	Shown = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopease_notifications_shown_total",
		Help: "Notifications displayed from push messages",
	})

	// Interactions counts notification clicks by action and outcome
	Interactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_notification_interactions_total",
		Help: "Notification interactions by action and outcome (dismissed, focused, opened)",
	}, []string{"action", "outcome"})

	// MalformedPayloads counts push payloads that fell back to defaults
	MalformedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopease_push_malformed_payloads_total",
		Help: "Push payloads that could not be parsed",
	})
)

// Windows gives access to the open application windows.
type Windows interface {
	MatchAll() []clients.Window
	Focus(id string) (clients.Window, error)
	OpenWindow(rawURL string) (clients.Window, error)
	Resolve(rawURL string) (string, error)
}

// Interaction is a click on a displayed notification.
type Interaction struct {
	// Action is "view", "dismiss" or empty for a click on the body.
	Action string `json:"action"`
	// NotificationID identifies the clicked notification, if known.
	NotificationID string `json:"notification_id"`
	// Data is the notification's data payload.
	Data map[string]any `json:"data"`
}

// Bridge connects push and click events to the displayer and the windows.
type Bridge struct {
	display Displayer
	windows Windows
	logger  zerolog.Logger
}

// NewBridge creates a bridge.
func NewBridge(display Displayer, windows Windows, logger zerolog.Logger) *Bridge {
	if display == nil || windows == nil {
		panic("notify: displayer and windows are required")
	}
	return &Bridge{display: display, windows: windows, logger: logger}
}

// OnPush displays the notification built from payload. Display runs as an
// extension of ev.
func (b *Bridge) OnPush(ev *event.Event, payload []byte) Descriptor {
	b.logger.Info().Msg("Push received")

	d, err := BuildDescriptor(payload)
	if err != nil {
		MalformedPayloads.Inc()
		b.logger.Error().Err(err).Msg("Error parsing push data")
	}

	if err := ev.WaitUntil(func(ctx context.Context) error {
		if _, err := b.display.Show(d); err != nil {
			return fmt.Errorf("show notification: %w", err)
		}
		Shown.Inc()
		return nil
	}); err != nil {
		b.logger.Warn().Err(err).Msg("Notification not scheduled")
	}
	return d
}

// OnInteraction closes the clicked notification and, unless it was
// dismissed, focuses the window showing the target URL or opens one.
func (b *Bridge) OnInteraction(ev *event.Event, in Interaction) {
	b.logger.Info().Str("action", in.Action).Msg("Notification clicked")

	if in.NotificationID != "" {
		b.display.Close(in.NotificationID)
	}

	if in.Action == ActionDismiss {
		Interactions.WithLabelValues(ActionDismiss, "dismissed").Inc()
		return
	}

	action := in.Action
	if action == "" {
		action = "default"
	}
	target := targetURL(in.Data)

	if err := ev.WaitUntil(func(ctx context.Context) error {
		return b.focusOrOpen(action, target)
	}); err != nil {
		b.logger.Warn().Err(err).Msg("Window focus not scheduled")
	}
}

func (b *Bridge) focusOrOpen(action, target string) error {
	resolved, err := b.windows.Resolve(target)
	if err != nil {
		return fmt.Errorf("resolve notification target: %w", err)
	}

	for _, w := range b.windows.MatchAll() {
		if w.URL != resolved {
			continue
		}
		if _, err := b.windows.Focus(w.ID); err != nil {
			return fmt.Errorf("focus window: %w", err)
		}
		Interactions.WithLabelValues(action, "focused").Inc()
		b.logger.Debug().Str("window", w.ID).Str("url", resolved).Msg("Focused existing window")
		return nil
	}

	w, err := b.windows.OpenWindow(resolved)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	Interactions.WithLabelValues(action, "opened").Inc()
	b.logger.Debug().Str("window", w.ID).Str("url", resolved).Msg("Opened new window")
	return nil
}
