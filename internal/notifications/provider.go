// Package notifications delivers rotation events to external endpoints.
//
// Delivery is asynchronous and best-effort: a slow or failing endpoint never
// delays or fails a rotation.
package notifications

import (
	"context"
)

// Provider defines the interface for sending rotation notifications.
type Provider interface {
	// Name returns the provider name (e.g. "webhook:ops").
	Name() string

	// Send sends a notification for the given event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}
