// Package events publishes domain events after successful state changes.
// Delivery is best-effort: a publish failure is logged and never fails the
// request that caused it.
package events

import (
	"context"
	"time"
)

// Event types emitted by the gateway.
const (
	UserRegistered  = "user.registered"
	UsernameChanged = "profile.username"
	PictureChanged  = "profile.picture"
	SysdataUpdated  = "sysdata.updated"
)

// Event is the JSON body published for every domain event.
type Event struct {
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Publisher emits events.
type Publisher interface {
	Publish(ctx context.Context, eventType, userID string, payload map[string]string)
}

// Noop discards every event.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, string, string, map[string]string) {}
