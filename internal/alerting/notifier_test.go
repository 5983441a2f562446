package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/backoff"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testPayload() alerts.Payload {
	return alerts.NewPayload("42", "TokenMint", alerts.Up30, decimal.NewFromInt(100), decimal.NewFromInt(130), time.Now())
}

func fastPolicy() backoff.Policy {
	return backoff.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond, Attempts: 3}
}

func TestTelegramTransportSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, testLogger())
	if err := transport.Send(context.Background(), "", testPayload()); err != nil {
		t.Fatalf("Telegram Send 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "TokenMint") {
		t.Fatalf("text 应包含 token: %q", received["text"])
	}

	if err := transport.SendText(context.Background(), "99", "hello"); err != nil {
		t.Fatalf("SendText 应成功: %v", err)
	}
	if received["chat_id"] != "99" {
		t.Fatalf("目标会话应覆盖默认值: %#v", received)
	}
}

func TestTelegramTransportOKFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, testLogger())
	err := transport.Send(context.Background(), "", testPayload())
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	if Retryable(err) {
		t.Fatalf("ok=false 不应重试: %v", err)
	}
}

func TestTelegramTransportNoDestination(t *testing.T) {
	transport := NewTelegramTransport("token", "", "http://127.0.0.1:1", time.Second, testLogger())
	if err := transport.SendText(context.Background(), "", "hi"); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
}

func TestTelegramTransportRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":          false,
			"description": "Too Many Requests",
			"parameters":  map[string]any{"retry_after": 3},
		})
	}))
	defer srv.Close()

	transport := NewTelegramTransport("token", "chat", srv.URL, time.Second, testLogger())
	err := transport.SendText(context.Background(), "", "hi")
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if de.StatusCode != http.StatusTooManyRequests || de.RetryAfter != 3*time.Second {
		t.Fatalf("unexpected delivery error %+v", de)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &DeliveryError{StatusCode: 429}, true},
		{"server error", &DeliveryError{StatusCode: 503}, true},
		{"bad request", &DeliveryError{StatusCode: 400}, false},
		{"forbidden", &DeliveryError{StatusCode: 403}, false},
		{"network", errors.New("connection refused"), true},
		{"cancelled", context.Canceled, false},
		{"no destination", ErrNoDestination, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewRetryingNotifier(NewWebhookTransport(srv.URL, time.Second, testLogger()), fastPolicy(), testLogger())
	if !n.Notify(context.Background(), "42", testPayload()) {
		t.Fatal("third attempt should succeed")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if body["source"] != webhookSource || body["alertType"] != string(alerts.Up30) || body["token"] != "TokenMint" {
		t.Fatalf("unexpected webhook body %#v", body)
	}
}

func TestWebhookRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewRetryingNotifier(NewWebhookTransport(srv.URL, time.Second, testLogger()), fastPolicy(), testLogger())
	if !n.Notify(context.Background(), "", testPayload()) {
		t.Fatal("retry after 429 should succeed")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestWebhookClientErrorIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewRetryingNotifier(NewWebhookTransport(srv.URL, time.Second, testLogger()), fastPolicy(), testLogger())
	if n.Notify(context.Background(), "", testPayload()) {
		t.Fatal("400 should fail")
	}
	if calls.Load() != 1 {
		t.Fatalf("400 must not be retried, got %d attempts", calls.Load())
	}
}

func TestWebhookGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewRetryingNotifier(NewWebhookTransport(srv.URL, time.Second, testLogger()), fastPolicy(), testLogger())
	if n.Notify(context.Background(), "", testPayload()) {
		t.Fatal("persistent 500 should fail")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestNetworkErrorsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	n := NewRetryingNotifier(NewWebhookTransport(url, 100*time.Millisecond, testLogger()), fastPolicy(), testLogger())
	if n.Notify(context.Background(), "", testPayload()) {
		t.Fatal("closed server should fail")
	}
}

func TestNotifyStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	policy := backoff.Policy{Base: time.Hour, Max: time.Hour, Attempts: 3}
	n := NewRetryingNotifier(NewWebhookTransport(srv.URL, time.Second, testLogger()), policy, testLogger())

	done := make(chan bool)
	go func() { done <- n.Notify(ctx, "", testPayload()) }()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("cancelled delivery must report false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Notify did not return after cancellation")
	}
	if calls.Load() != 1 {
		t.Fatalf("no retry should happen after cancellation, got %d", calls.Load())
	}
}

func TestConsoleTransportWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	n := NewRetryingNotifier(NewConsoleTransport(&buf, testLogger()), fastPolicy(), testLogger())
	if !n.Notify(context.Background(), "", testPayload()) {
		t.Fatal("console delivery should succeed")
	}
	if !strings.Contains(buf.String(), "30% price increase") || !strings.Contains(buf.String(), "TokenMint") {
		t.Fatalf("console output missing alert: %q", buf.String())
	}
	if !n.NotifyText(context.Background(), "", "summary") || !strings.Contains(buf.String(), "summary") {
		t.Fatalf("NotifyText should write text")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("7"); got != 7*time.Second {
		t.Fatalf("expected 7s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Fatalf("expected 0, got %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("expected 0 for garbage, got %s", got)
	}
}

func TestSendTextReportsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := NewRetryingNotifier(NewWebhookTransport(server.URL, time.Second, zerolog.Nop()), fastPolicy(), zerolog.Nop())
	if err := n.SendText(context.Background(), "42", "hello"); !errors.Is(err, ErrUndelivered) {
		t.Fatalf("expected ErrUndelivered, got %v", err)
	}
}
