package config

import "time"

// NotificationConfig holds configuration for rotation notifications.
type NotificationConfig struct {
	// QueueSize bounds the async delivery queue; events beyond it are dropped.
	QueueSize int `yaml:"queue_size"`

	// Webhooks configuration for custom webhook notifications.
	Webhooks []WebhookNotificationConfig `yaml:"webhooks,omitempty"`
}

// WebhookNotificationConfig holds configuration for a custom webhook.
type WebhookNotificationConfig struct {
	// Name is a human-readable name for this webhook.
	Name string `yaml:"name"`

	// URL is the webhook endpoint URL.
	URL string `yaml:"url"`

	// Method is the HTTP method (POST, PUT, PATCH). Default: POST.
	Method string `yaml:"method,omitempty"`

	// Headers are additional HTTP headers to include.
	Headers map[string]string `yaml:"headers,omitempty"`

	// Events specifies which events trigger the webhook.
	// Valid values: rotated, rotation_failed, rotation_timed_out, sweep_completed.
	// If empty, all events are sent.
	Events []string `yaml:"events,omitempty"`

	// Timeout for each HTTP request. Default: 10s.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxAttempts is the number of delivery attempts. Default: 3.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// AllEventNames lists the event names accepted in WebhookNotificationConfig.Events.
var AllEventNames = []string{"rotated", "rotation_failed", "rotation_timed_out", "sweep_completed"}
