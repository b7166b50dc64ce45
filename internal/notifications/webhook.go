package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/systmms/kvrotate/internal/config"
)

// RetryConfig holds retry configuration for webhooks.
type RetryConfig struct {
	// MaxAttempts is the maximum number of delivery attempts (default: 3).
	MaxAttempts int

	// Backoff strategy: linear, exponential, fixed (default: exponential).
	Backoff string

	// InitialWait is the base wait between attempts.
	InitialWait time.Duration
}

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	Name    string
	URL     string
	Method  string
	Headers map[string]string

	// Events specifies which event types are delivered. If empty, all are.
	Events []string

	Retry   *RetryConfig
	Timeout time.Duration
}

// WebhookProvider posts rotation events as JSON to an HTTP endpoint.
type WebhookProvider struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookProvider creates a new webhook notification provider.
func NewWebhookProvider(cfg WebhookConfig) *WebhookProvider {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = &RetryConfig{}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.Backoff == "" {
		cfg.Retry.Backoff = "exponential"
	}
	if cfg.Retry.InitialWait == 0 {
		cfg.Retry.InitialWait = time.Second
	}

	return &WebhookProvider{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateWebhookProvider builds and validates a provider from its
// configuration entry.
func CreateWebhookProvider(cfg config.WebhookNotificationConfig) (*WebhookProvider, error) {
	provider := NewWebhookProvider(WebhookConfig{
		Name:    cfg.Name,
		URL:     cfg.URL,
		Method:  cfg.Method,
		Headers: cfg.Headers,
		Events:  cfg.Events,
		Timeout: cfg.Timeout,
		Retry:   &RetryConfig{MaxAttempts: cfg.MaxAttempts},
	})
	if err := provider.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", provider.Name(), err)
	}
	return provider, nil
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
	if len(p.config.Events) == 0 {
		return true
	}
	for _, e := range p.config.Events {
		if strings.EqualFold(e, string(eventType)) {
			return true
		}
	}
	return false
}

// Validate checks if the provider configuration is valid.
func (p *WebhookProvider) Validate(ctx context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid URL: %s", p.config.URL)
	}

	switch strings.ToUpper(p.config.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("invalid method: %s (must be POST, PUT, or PATCH)", p.config.Method)
	}

	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear", "exponential", "fixed":
	default:
		return fmt.Errorf("invalid backoff strategy: %s (must be linear, exponential, or fixed)", p.config.Retry.Backoff)
	}

	for _, e := range p.config.Events {
		if !knownEvent(e) {
			return fmt.Errorf("unknown event: %s", e)
		}
	}

	return nil
}

// Send posts the event, retrying failed deliveries with backoff.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(buildPayload(event))
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	var lastErr error
	err = retry.Retry(func(attempt uint) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			lastErr = ctxErr
			return nil
		}
		lastErr = p.doSend(ctx, payload)
		return lastErr
	},
		strategy.Limit(uint(p.config.Retry.MaxAttempts)),
		p.backoffStrategy(),
	)

	if lastErr == nil {
		return nil
	}
	if err == nil {
		// Stopped by context cancellation.
		return fmt.Errorf("%s: %w", p.Name(), lastErr)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", p.Name(), p.config.Retry.MaxAttempts, lastErr)
}

func (p *WebhookProvider) doSend(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(p.config.Method), p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *WebhookProvider) backoffStrategy() strategy.Strategy {
	initial := p.config.Retry.InitialWait
	switch strings.ToLower(p.config.Retry.Backoff) {
	case "linear":
		return strategy.Backoff(backoff.Linear(initial))
	case "fixed":
		return strategy.Backoff(backoff.Incremental(initial, 0))
	default:
		return strategy.Backoff(backoff.BinaryExponential(initial))
	}
}

// webhookPayload is the JSON body posted for every event.
type webhookPayload struct {
	Event           EventType      `json:"event"`
	Vault           string         `json:"keyVault"`
	Trigger         string         `json:"trigger"`
	Timestamp       string         `json:"timestamp"`
	Certificate     string         `json:"certificate,omitempty"`
	Outcome         string         `json:"outcome,omitempty"`
	Error           string         `json:"error,omitempty"`
	ErrorKind       string         `json:"errorKind,omitempty"`
	OldThumbprint   string         `json:"oldThumbprint,omitempty"`
	NewThumbprint   string         `json:"newThumbprint,omitempty"`
	DurationSeconds float64        `json:"durationSeconds,omitempty"`
	RunID           string         `json:"runId,omitempty"`
	DryRun          bool           `json:"dryRun,omitempty"`
	Counts          *countsPayload `json:"counts,omitempty"`
}

type countsPayload struct {
	Total    int `json:"total"`
	Rotated  int `json:"rotated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timedOut"`
	Problems int `json:"problems"`
}

func buildPayload(event Event) webhookPayload {
	payload := webhookPayload{
		Event:         event.Type,
		Vault:         event.Vault,
		Trigger:       string(event.Trigger),
		Timestamp:     event.Timestamp.UTC().Format(time.RFC3339),
		Certificate:   event.Certificate,
		Outcome:       string(event.Outcome),
		Error:         event.Error,
		ErrorKind:     event.ErrorKind,
		OldThumbprint: event.OldThumbprint,
		NewThumbprint: event.NewThumbprint,
		RunID:         event.RunID,
		DryRun:        event.DryRun,
	}
	if event.Duration > 0 {
		payload.DurationSeconds = event.Duration.Seconds()
	}
	if c := event.Counts; c != nil {
		payload.Counts = &countsPayload{
			Total:    c.Total,
			Rotated:  c.Rotated,
			Skipped:  c.Skipped,
			Failed:   c.Failed,
			TimedOut: c.TimedOut,
			Problems: c.Problems(),
		}
	}
	return payload
}

func knownEvent(name string) bool {
	for _, t := range AllEventTypes() {
		if strings.EqualFold(name, string(t)) {
			return true
		}
	}
	return false
}
