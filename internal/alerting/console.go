package alerting

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"price-move-alerts/internal/alerts"
)

// ConsoleTransport 把告警写到日志与可选的输出流。
type ConsoleTransport struct {
	out    io.Writer
	logger zerolog.Logger
}

// NewConsoleTransport 构造控制台通道; out 为 nil 时只写日志。
func NewConsoleTransport(out io.Writer, logger zerolog.Logger) *ConsoleTransport {
	return &ConsoleTransport{out: out, logger: logger.With().Str("component", "alert_console").Logger()}
}

// Name implements Transport.
func (c *ConsoleTransport) Name() string { return "console" }

// Send implements Transport.
func (c *ConsoleTransport) Send(ctx context.Context, dest string, p alerts.Payload) error {
	c.logger.Info().
		Str("alert_id", p.ID).
		Str("token", p.Token).
		Str("kind", string(p.Kind)).
		Str("baseline", p.BaselinePrice.String()).
		Str("price", p.CurrentPrice.String()).
		Str("change_pct", p.PercentChange.StringFixed(2)).
		Msg(p.Description)
	return c.SendText(ctx, dest, alerts.FormatMessage(p))
}

// SendText implements Transport.
func (c *ConsoleTransport) SendText(_ context.Context, _ string, text string) error {
	if c.out == nil {
		return nil
	}
	if _, err := fmt.Fprintf(c.out, "%s\n\n", text); err != nil {
		return fmt.Errorf("write console alert: %w", err)
	}
	return nil
}
