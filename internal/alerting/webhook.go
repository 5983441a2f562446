package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"price-move-alerts/internal/alerts"
)

const webhookSource = "pricealerts"

// WebhookTransport POST JSON 到固定地址。
type WebhookTransport struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookTransport 构造 webhook 通道。
func NewWebhookTransport(url string, timeout time.Duration, logger zerolog.Logger) *WebhookTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookTransport{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

// Name implements Transport.
func (w *WebhookTransport) Name() string { return "webhook" }

type webhookAlert struct {
	alerts.Payload
	Source      string `json:"source"`
	Destination string `json:"destination,omitempty"`
}

type webhookText struct {
	Source      string `json:"source"`
	Destination string `json:"destination,omitempty"`
	Text        string `json:"text"`
}

// Send implements Transport.
func (w *WebhookTransport) Send(ctx context.Context, dest string, p alerts.Payload) error {
	return w.post(ctx, webhookAlert{Payload: p, Source: webhookSource, Destination: dest})
}

// SendText implements Transport.
func (w *WebhookTransport) SendText(ctx context.Context, dest, text string) error {
	return w.post(ctx, webhookText{Source: webhookSource, Destination: dest, Text: text})
}

func (w *WebhookTransport) post(ctx context.Context, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{
			Transport:  w.Name(),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Detail:     string(detail),
		}
	}
	w.logger.Debug().Int("status", resp.StatusCode).Msg("webhook delivered")
	return nil
}
