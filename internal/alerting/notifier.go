package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/backoff"
)

var (
	// ErrNoDestination 表示没有可用的投递目标。
	ErrNoDestination = errors.New("alerting: no destination")
	// ErrUndelivered 表示重试耗尽仍未送达。
	ErrUndelivered = errors.New("alerting: message not delivered")
)

// Notifier 定义告警输送接口。投递失败只记录日志, 不会返回错误。
type Notifier interface {
	Notify(ctx context.Context, dest string, payload alerts.Payload) bool
}

// Transport 是单次投递的通道实现。
type Transport interface {
	Name() string
	Send(ctx context.Context, dest string, payload alerts.Payload) error
	SendText(ctx context.Context, dest, text string) error
}

// DeliveryError 携带下游返回的状态码。
type DeliveryError struct {
	Transport  string
	StatusCode int
	RetryAfter time.Duration
	Detail     string
}

func (e *DeliveryError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s delivery failed: status %d: %s", e.Transport, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s delivery failed: status %d", e.Transport, e.StatusCode)
}

// Retryable 判断错误是否值得重试: 429 与 5xx 重试, 其余 4xx 终止, 网络错误重试。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNoDestination) {
		return false
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.StatusCode == http.StatusTooManyRequests || de.StatusCode >= 500
	}
	return true
}

// RetryingNotifier 在 Transport 之上加有界指数退避。
type RetryingNotifier struct {
	transport Transport
	policy    backoff.Policy
	logger    zerolog.Logger
}

// NewRetryingNotifier 构造带重试的告警器。
func NewRetryingNotifier(transport Transport, policy backoff.Policy, logger zerolog.Logger) *RetryingNotifier {
	return &RetryingNotifier{
		transport: transport,
		policy:    policy,
		logger:    logger.With().Str("component", "notifier").Str("transport", transport.Name()).Logger(),
	}
}

// Channel 返回底层通道名。
func (n *RetryingNotifier) Channel() string {
	return n.transport.Name()
}

// Notify 投递结构化告警, 成功返回 true。
func (n *RetryingNotifier) Notify(ctx context.Context, dest string, payload alerts.Payload) bool {
	ok := n.deliver(ctx, func(ctx context.Context) error {
		return n.transport.Send(ctx, dest, payload)
	})
	event := n.logger.Info()
	if !ok {
		event = n.logger.Warn()
	}
	event.Str("alert_id", payload.ID).
		Str("token", alerts.TruncateToken(payload.Token, 6)).
		Str("kind", string(payload.Kind)).
		Bool("delivered", ok).
		Msg("alert dispatched")
	return ok
}

// NotifyText 投递纯文本消息 (汇总、广播)。
func (n *RetryingNotifier) NotifyText(ctx context.Context, dest, text string) bool {
	return n.deliver(ctx, func(ctx context.Context) error {
		return n.transport.SendText(ctx, dest, text)
	})
}

// SendText 与 NotifyText 相同, 但以 error 报告失败。
func (n *RetryingNotifier) SendText(ctx context.Context, dest, text string) error {
	if !n.NotifyText(ctx, dest, text) {
		return ErrUndelivered
	}
	return nil
}

func (n *RetryingNotifier) deliver(ctx context.Context, send func(context.Context) error) bool {
	attempts := n.policy.MaxAttempts()
	for attempt := 0; attempt < attempts; attempt++ {
		err := send(ctx)
		if err == nil {
			return true
		}
		if !Retryable(err) || attempt == attempts-1 {
			n.logger.Error().Err(err).Int("attempt", attempt+1).Msg("delivery failed")
			return false
		}

		wait := n.policy.Delay(attempt)
		var de *DeliveryError
		if errors.As(err, &de) && de.RetryAfter > wait {
			wait = de.RetryAfter
			if n.policy.Max > 0 && wait > n.policy.Max {
				wait = n.policy.Max
			}
		}
		n.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("delivery failed, retrying")
		if err := backoff.Sleep(ctx, wait); err != nil {
			n.logger.Warn().Err(err).Msg("delivery abandoned")
			return false
		}
	}
	return false
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

var _ Notifier = (*RetryingNotifier)(nil)
