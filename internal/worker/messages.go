package worker

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kjstillabower/meteo-pwa/internal/models"
)

// MessageType names a control message understood by the worker.
type MessageType string

const (
	MessageSkipWaiting      MessageType = "SKIP_WAITING"
	MessageShowNotification MessageType = "SHOW_NOTIFICATION"
)

// ErrUnknownMessage is returned for a control message with an unrecognised type.
var ErrUnknownMessage = errors.New("unknown worker message")

// Message is a control message posted to the worker.
type Message struct {
	Type  MessageType `json:"type"`
	Title string      `json:"title,omitempty"`
	Body  string      `json:"body,omitempty"`
	Tag   string      `json:"tag,omitempty"`
	Icon  string      `json:"icon,omitempty"`
	Badge string      `json:"badge,omitempty"`
}

// ParseMessage decodes a JSON control message.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode worker message: %w", err)
	}
	switch m.Type {
	case MessageSkipWaiting, MessageShowNotification:
		return m, nil
	}
	return Message{}, fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
}

// NotificationMessage wraps a notification as a SHOW_NOTIFICATION message.
func NotificationMessage(n models.Notification) Message {
	return Message{
		Type:  MessageShowNotification,
		Title: n.Title,
		Body:  n.Body,
		Tag:   n.Tag,
		Icon:  n.Icon,
		Badge: n.Badge,
	}
}

// notification fills the display defaults for a SHOW_NOTIFICATION message.
func notification(m Message, basePath string) models.Notification {
	n := models.Notification{
		Title:   m.Title,
		Body:    m.Body,
		Tag:     m.Tag,
		Icon:    m.Icon,
		Badge:   m.Badge,
		Vibrate: []int{200, 100, 200},
	}
	if n.Icon == "" {
		n.Icon = basePath + "icons/icon-192.png"
	}
	if n.Badge == "" {
		n.Badge = basePath + "icons/icon-72.png"
	}
	if n.Tag == "" {
		n.Tag = "default"
	}
	return n
}
