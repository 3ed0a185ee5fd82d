package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	webhookTimeout = 5 * time.Second

	defaultBackoffBase = 2 * time.Second
	defaultRetryCount  = 3
)

// AlertKey marks a record for webhook delivery. The webhook handler ignores
// records without alert=true no matter their level, so routine logging never
// pages anyone.
const AlertKey = "alert"

// BackoffConfig defines the retry backoff for webhook delivery.
type BackoffConfig struct {
	Base       time.Duration // base interval for exponential backoff
	RetryCount int           // number of retry attempts after the first try
}

// DefaultBackoffConfig is the production backoff configuration.
var DefaultBackoffConfig = BackoffConfig{
	Base:       defaultBackoffBase,
	RetryCount: defaultRetryCount,
}

// Webhook delivery errors.
var (
	ErrServerError       = errors.New("server error")
	ErrClientError       = errors.New("client error")
	ErrInvalidWebhookURL = errors.New("invalid webhook URL")
)

// WebhookHandler is a slog.Handler that forwards alert records to an HTTPS
// webhook, typically to notify on denied command requests. Delivery is
// synchronous so a short-lived process gets the alert out before it exits.
type WebhookHandler struct {
	webhookURL string
	runID      string
	httpClient *http.Client
	level      slog.Level
	attrs      []slog.Attr
	groups     []string
	backoff    BackoffConfig
}

// webhookPayload is the JSON body POSTed to the webhook. The top-level text
// field keeps Slack-compatible receivers working without translation.
type webhookPayload struct {
	Text     string            `json:"text"`
	Level    string            `json:"level"`
	Hostname string            `json:"hostname"`
	RunID    string            `json:"run_id"`
	Time     time.Time         `json:"time"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// NewWebhookHandler creates a WebhookHandler with URL validation and the
// default backoff configuration.
func NewWebhookHandler(webhookURL, runID string) (*WebhookHandler, error) {
	return NewWebhookHandlerWithConfig(webhookURL, runID, DefaultBackoffConfig)
}

// NewWebhookHandlerWithConfig creates a WebhookHandler with a custom backoff
// configuration.
func NewWebhookHandlerWithConfig(webhookURL, runID string, backoff BackoffConfig) (*WebhookHandler, error) {
	if err := validateWebhookURL(webhookURL); err != nil {
		return nil, err
	}
	return &WebhookHandler{
		webhookURL: webhookURL,
		runID:      runID,
		httpClient: &http.Client{Timeout: webhookTimeout},
		level:      slog.LevelInfo,
		backoff:    backoff,
	}, nil
}

// validateWebhookURL requires an HTTPS URL with a host. Alert payloads carry
// command lines, which must not travel in clear text.
func validateWebhookURL(webhookURL string) error {
	if webhookURL == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidWebhookURL)
	}
	parsed, err := url.Parse(webhookURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhookURL, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be https, got %q", ErrInvalidWebhookURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidWebhookURL)
	}
	return nil
}

// Enabled reports whether the handler handles records at the given level.
func (h *WebhookHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle sends the record to the webhook when it carries alert=true.
func (h *WebhookHandler) Handle(ctx context.Context, r slog.Record) error {
	record := r.Clone()
	record.AddAttrs(prefixAttrs(h.attrs, h.groups)...)

	shouldSend := false
	fields := make(map[string]string)
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == AlertKey {
			if attr.Value.Kind() == slog.KindBool && attr.Value.Bool() {
				shouldSend = true
			}
			return true
		}
		fields[attr.Key] = formatValue(attr.Value)
		return true
	})
	if !shouldSend {
		return nil
	}

	hostname, _ := os.Hostname()
	payload := webhookPayload{
		Text:     record.Message,
		Level:    record.Level.String(),
		Hostname: hostname,
		RunID:    h.runID,
		Time:     record.Time.UTC(),
		Fields:   fields,
	}
	return h.send(ctx, payload)
}

// WithAttrs returns a new handler with additional attributes.
func (h *WebhookHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	newAttrs := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	newAttrs = append(newAttrs, h.attrs...)
	newAttrs = append(newAttrs, attrs...)

	clone := *h
	clone.attrs = newAttrs
	return &clone
}

// WithGroup returns a new handler with an additional group.
func (h *WebhookHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, 0, len(h.groups)+1)
	newGroups = append(newGroups, h.groups...)
	newGroups = append(newGroups, name)

	clone := *h
	clone.groups = newGroups
	return &clone
}

// generateBackoffIntervals creates exponential backoff intervals:
// [base*2^0, base*2^1, ...].
func generateBackoffIntervals(base time.Duration, count int) []time.Duration {
	intervals := make([]time.Duration, count)
	for i := 0; i < count; i++ {
		intervals[i] = base * time.Duration(1<<i)
	}
	return intervals
}

// send POSTs the payload with retries. Rate limiting and server errors are
// retried with exponential backoff; other client errors are final.
func (h *WebhookHandler) send(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	intervals := generateBackoffIntervals(h.backoff.Base, h.backoff.RetryCount)
	var lastErr error
	for attempt := 0; attempt <= h.backoff.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(intervals[attempt-1]):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to send request: %w", err)
			continue
		}
		statusCode := resp.StatusCode
		resp.Body.Close()

		switch {
		case statusCode >= 200 && statusCode < 300:
			return nil
		case statusCode == http.StatusTooManyRequests || statusCode >= 500:
			lastErr = fmt.Errorf("%w: %d", ErrServerError, statusCode)
		default:
			return fmt.Errorf("%w: %d", ErrClientError, statusCode)
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", h.backoff.RetryCount+1, lastErr)
}
