// Package notify turns push payloads into notifications and routes
// notification clicks to application windows.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Notification defaults, used for every field the push payload omits.
const (
	DefaultTitle = "ShopEase"
	DefaultBody  = "You have a new notification!"
	DefaultIcon  = "/icons/icon-192.png"
	DefaultBadge = "/icons/icon-192.png"
	DefaultTag   = "shopease-notification"
	DefaultURL   = "/"
)

// Notification actions.
const (
	ActionView    = "view"
	ActionDismiss = "dismiss"
)

// Action is a button shown on the notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Descriptor is a notification ready to be displayed.
type Descriptor struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon"`
	Badge              string         `json:"badge"`
	Tag                string         `json:"tag"`
	Data               map[string]any `json:"data"`
	Actions            []Action       `json:"actions"`
	Vibrate            []int          `json:"vibrate"`
	RequireInteraction bool           `json:"requireInteraction"`
}

// TargetURL returns data.url, or "/" when absent.
func (d Descriptor) TargetURL() string {
	return targetURL(d.Data)
}

func targetURL(data map[string]any) string {
	if u, ok := data["url"].(string); ok && u != "" {
		return u
	}
	return DefaultURL
}

// payload is the wire form of a push message. Every field is optional.
type payload struct {
	Title *string         `json:"title"`
	Body  *string         `json:"body"`
	Icon  *string         `json:"icon"`
	Badge *string         `json:"badge"`
	Tag   *string         `json:"tag"`
	Data  *map[string]any `json:"data"`
}

// Defaults returns the descriptor shown for an empty or malformed payload.
func Defaults() Descriptor {
	return Descriptor{
		Title: DefaultTitle,
		Body:  DefaultBody,
		Icon:  DefaultIcon,
		Badge: DefaultBadge,
		Tag:   DefaultTag,
		Data:  map[string]any{"url": DefaultURL},
		Actions: []Action{
			{Action: ActionView, Title: "View"},
			{Action: ActionDismiss, Title: "Dismiss"},
		},
		Vibrate:            []int{100, 50, 100},
		RequireInteraction: false,
	}
}

// BuildDescriptor merges a JSON push payload over the defaults. Payload
// fields win; a payload data object replaces the default data as a whole.
// A payload that is not a JSON object with string fields yields the full
// defaults together with the parse error.
func BuildDescriptor(raw []byte) (Descriptor, error) {
	d := Defaults()
	if len(bytes.TrimSpace(raw)) == 0 {
		return d, nil
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Defaults(), fmt.Errorf("parse push payload: %w", err)
	}

	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Body != nil {
		d.Body = *p.Body
	}
	if p.Icon != nil {
		d.Icon = *p.Icon
	}
	if p.Badge != nil {
		d.Badge = *p.Badge
	}
	if p.Tag != nil {
		d.Tag = *p.Tag
	}
	if p.Data != nil && *p.Data != nil {
		d.Data = *p.Data
	}
	return d, nil
}
