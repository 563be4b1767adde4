package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"order-lifecycle/config"
	"order-lifecycle/internal/util"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// ChatNotifier posts plain text alerts to an incoming chat webhook
type ChatNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewChatNotifier creates a new chat notifier
func NewChatNotifier(cfg config.ChatConfig) *ChatNotifier {
	return &ChatNotifier{
		webhookURL: cfg.WebhookURL,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: util.ComponentLogger("chat"),
	}
}

// Send posts text. Without a configured webhook it logs and returns nil.
func (c *ChatNotifier) Send(ctx context.Context, text string) error {
	if c.webhookURL == "" {
		c.logger.Debug("Chat webhook not configured, skipping alert")
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}
