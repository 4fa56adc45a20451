package worker

import (
	"encoding/json"
	"fmt"
)

// MessageSkipWaiting asks an installed worker to activate immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// Message is a message posted to the worker by the application.
type Message struct {
	Type string `json:"type"`
}

// ParseMessage decodes a JSON message.
func ParseMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	return m, nil
}
