package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Message is the (recipient, subject, body) shape the external channel accepts.
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Channel delivers a message through an external transport. Failures are
// channel-local and reported to the caller for retry; they never carry
// engine semantics.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// WebhookChannel posts messages as JSON to a configured endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds a webhook-backed channel.
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the message to the webhook endpoint.
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal delivery message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery endpoint %s returned %d", c.url, resp.StatusCode)
	}
	return nil
}

// LogChannel writes messages to the application log. Used when no webhook
// endpoint is configured, mirroring the development behaviour of the
// original delivery function.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel builds a log-backed channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Send logs the message instead of delivering it.
func (c *LogChannel) Send(_ context.Context, msg Message) error {
	c.logger.Info("delivery message logged",
		zap.String("recipient", msg.Recipient),
		zap.String("subject", msg.Subject),
	)
	return nil
}
