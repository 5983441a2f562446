package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-move-alerts/internal/alerts"
)

// TelegramTransport 通过 Telegram Bot API 推送消息。
type TelegramTransport struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramTransport 构造 Telegram 通道; chatID 是目标为空时的默认会话。
func NewTelegramTransport(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramTransport{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Transport.
func (n *TelegramTransport) Name() string { return "telegram" }

// Send implements Transport.
func (n *TelegramTransport) Send(ctx context.Context, dest string, p alerts.Payload) error {
	return n.SendText(ctx, dest, renderMessage(p))
}

// SendText 调用 sendMessage API 推送文本。
func (n *TelegramTransport) SendText(ctx context.Context, dest, text string) error {
	chatID := dest
	if chatID == "" {
		chatID = n.chatID
	}
	if chatID == "" {
		return ErrNoDestination
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if result.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(result.Parameters.RetryAfter) * time.Second
		}
		return &DeliveryError{
			Transport:  n.Name(),
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Detail:     result.Description,
		}
	}
	if decodeErr == nil && !result.OK {
		return &DeliveryError{Transport: n.Name(), StatusCode: http.StatusBadRequest, Detail: "telegram 返回 ok=false"}
	}

	n.logger.Debug().Msg("消息已发送 (Telegram)")
	return nil
}

func renderMessage(p alerts.Payload) string {
	builder := strings.Builder{}
	builder.WriteString("[Price Alert] ")
	builder.WriteString(p.Description)
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Token: %s\n", p.Token))
	builder.WriteString(fmt.Sprintf("Baseline: $%s\n", alerts.FormatPrice(p.BaselinePrice)))
	builder.WriteString(fmt.Sprintf("Current: $%s\n", alerts.FormatPrice(p.CurrentPrice)))
	builder.WriteString(fmt.Sprintf("Change: %s\n", alerts.FormatPercent(p.PercentChange)))
	builder.WriteString(fmt.Sprintf("Time: %s UTC", p.Timestamp.UTC().Format(time.RFC3339)))
	return builder.String()
}
