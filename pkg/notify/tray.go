package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Displayer shows and closes notifications.
type Displayer interface {
	Show(d Descriptor) (Notification, error)
	Close(id string) bool
}

// Notification is a displayed notification.
type Notification struct {
	ID         string     `json:"id"`
	Descriptor Descriptor `json:"descriptor"`
	ShownAt    time.Time  `json:"shown_at"`
}

// Tray is an in-memory Displayer. A notification with the same tag as a
// displayed one replaces it.
type Tray struct {
	mu    sync.Mutex
	items []Notification
}

// NewTray creates an empty tray.
func NewTray() *Tray {
	return &Tray{}
}

// Show displays d, replacing any notification with the same tag.
func (t *Tray) Show(d Descriptor) (Notification, error) {
	n := Notification{
		ID:         uuid.NewString(),
		Descriptor: d,
		ShownAt:    time.Now(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if d.Tag != "" {
		for i, item := range t.items {
			if item.Descriptor.Tag == d.Tag {
				t.items = append(t.items[:i], t.items[i+1:]...)
				break
			}
		}
	}
	t.items = append(t.items, n)
	return n, nil
}

// Close removes the notification with id. Reports whether it was shown.
func (t *Tray) Close(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, item := range t.items {
		if item.ID == id {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the displayed notification with id.
func (t *Tray) Get(id string) (Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, item := range t.items {
		if item.ID == id {
			return item, true
		}
	}
	return Notification{}, false
}

// List returns the displayed notifications, oldest first.
func (t *Tray) List() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Notification(nil), t.items...)
}
