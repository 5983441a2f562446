// Package commands implements the caller-facing operations: start, stop,
// stopall, status and the admin stats and broadcast commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-move-alerts/internal/access"
	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/monitor"
	"price-move-alerts/internal/ratelimit"
	"price-move-alerts/internal/service"
	"price-move-alerts/internal/storage"
)

// Messenger delivers free text to a caller.
type Messenger interface {
	SendText(ctx context.Context, dest, text string) error
}

// Options tune command limits.
type Options struct {
	MaxPerUser         int
	Window             time.Duration
	StartTimeout       time.Duration
	PollInterval       time.Duration
	RateLimitPerMinute int
	StrictMint         bool
	Now                func() time.Time
}

// MonitorView is a caller-facing snapshot of one monitor.
type MonitorView struct {
	Token            string          `json:"token"`
	BaselinePrice    decimal.Decimal `json:"baselinePrice"`
	LastPrice        decimal.Decimal `json:"lastPrice"`
	MaxPrice         decimal.Decimal `json:"maxPrice"`
	MinPrice         decimal.Decimal `json:"minPrice"`
	PercentChange    decimal.Decimal `json:"percentChange"`
	FiredAlerts      []alerts.Kind   `json:"firedAlerts"`
	StartedAt        time.Time       `json:"startedAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	RemainingSeconds int64           `json:"remainingSeconds"`
}

// StartResult answers Start.
type StartResult struct {
	Monitor MonitorView `json:"monitor"`
	Created bool        `json:"created"`
	Count   int         `json:"count"`
	Max     int         `json:"max"`
}

// StopResult answers Stop.
type StopResult struct {
	Token           string `json:"token"`
	Removed         bool   `json:"removed"`
	CancelledLookup bool   `json:"cancelledLookup"`
}

// StatusResult answers Status.
type StatusResult struct {
	Monitors []MonitorView `json:"monitors"`
	Count    int           `json:"count"`
	Max      int           `json:"max"`
}

// StatsResult answers Stats.
type StatsResult struct {
	Users              int    `json:"users"`
	TotalMonitors      int    `json:"totalMonitors"`
	ActiveMonitors     int    `json:"activeMonitors"`
	Tokens             int    `json:"tokens"`
	Mode               string `json:"mode"`
	PollIntervalSecs   int64  `json:"pollIntervalSeconds"`
	MaxPerUser         int    `json:"maxMonitorsPerUser"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`
}

// BroadcastResult answers Broadcast.
type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
}

// Handler runs every command through access control and the rate limiter.
type Handler struct {
	access    *access.Control
	limiter   *ratelimit.Limiter
	svc       *service.Service
	store     *storage.Store
	messenger Messenger
	opts      Options
	now       func() time.Time
	logger    zerolog.Logger
}

// New wires a Handler.
func New(ctrl *access.Control, limiter *ratelimit.Limiter, svc *service.Service, messenger Messenger, opts Options, logger zerolog.Logger) *Handler {
	if opts.MaxPerUser < 1 {
		opts.MaxPerUser = 10
	}
	if opts.Window <= 0 {
		opts.Window = monitor.DefaultWindow
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		access:    ctrl,
		limiter:   limiter,
		svc:       svc,
		store:     svc.Store(),
		messenger: messenger,
		opts:      opts,
		now:       opts.Now,
		logger:    logger.With().Str("component", "commands").Logger(),
	}
}

func (h *Handler) admit(caller string) (access.Result, error) {
	res := h.access.Check(caller)
	if !res.Allowed {
		h.logger.Info().Str("caller", access.SanitizeID(caller)).Msg("denied access")
		return res, ErrAccessDenied
	}
	return res, h.consume(caller)
}

func (h *Handler) admitAdmin(caller string) error {
	res := h.access.Check(caller)
	if !res.Allowed {
		h.logger.Info().Str("caller", access.SanitizeID(caller)).Msg("denied access")
		return ErrAccessDenied
	}
	if !res.IsAdmin {
		return ErrAdminOnly
	}
	return h.consume(caller)
}

func (h *Handler) consume(caller string) error {
	d := h.limiter.TryConsume(caller)
	if !d.Allowed {
		h.logger.Debug().Str("caller", access.SanitizeID(caller)).Dur("retry_after", d.RetryAfter).Msg("rate limited")
		return &RateLimitedError{RetryAfter: d.RetryAfter}
	}
	return nil
}

func (h *Handler) view(m monitor.Monitor) MonitorView {
	return MonitorView{
		Token:            m.Token,
		BaselinePrice:    m.BaselinePrice,
		LastPrice:        m.LastPrice,
		MaxPrice:         m.MaxPrice,
		MinPrice:         m.MinPrice,
		PercentChange:    m.PercentChange(),
		FiredAlerts:      m.FiredAlerts,
		StartedAt:        m.BaselineTime,
		ExpiresAt:        m.BaselineTime.Add(h.opts.Window),
		RemainingSeconds: int64(m.Remaining(h.now(), h.opts.Window) / time.Second),
	}
}

// Start begins monitoring token for caller at its current price.
func (h *Handler) Start(ctx context.Context, caller, token string) (StartResult, error) {
	if _, err := h.admit(caller); err != nil {
		return StartResult{}, err
	}
	token = strings.TrimSpace(token)
	if err := ValidateToken(token, h.opts.StrictMint); err != nil {
		return StartResult{}, err
	}

	id := monitor.Identity{Owner: caller, Token: token}
	if m, ok := h.store.Get(id); ok && h.store.IsLive(id) {
		return StartResult{Monitor: h.view(m), Count: h.store.OwnerLiveCount(caller), Max: h.opts.MaxPerUser}, ErrAlreadyMonitoring
	}
	if h.svc.Pending(id) {
		return StartResult{}, ErrAlreadyMonitoring
	}
	if count := h.store.OwnerLiveCount(caller); count >= h.opts.MaxPerUser {
		return StartResult{}, &MonitorLimitError{Current: count, Max: h.opts.MaxPerUser}
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.StartTimeout)
	defer cancel()

	m, err := h.svc.EstablishBaseline(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrAlreadyExists), errors.Is(err, service.ErrBaselinePending):
		return StartResult{Monitor: h.view(m), Count: h.store.OwnerLiveCount(caller), Max: h.opts.MaxPerUser}, ErrAlreadyMonitoring
	default:
		h.logger.Warn().Err(err).Str("caller", access.SanitizeID(caller)).Str("token", alerts.TruncateToken(token, 6)).Msg("start failed")
		return StartResult{}, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
	}

	h.logger.Info().Str("caller", access.SanitizeID(caller)).Str("token", alerts.TruncateToken(token, 6)).Msg("monitor started")
	return StartResult{
		Monitor: h.view(m),
		Created: true,
		Count:   h.store.OwnerLiveCount(caller),
		Max:     h.opts.MaxPerUser,
	}, nil
}

// Stop ends caller's monitor for token, including a pending baseline lookup.
func (h *Handler) Stop(ctx context.Context, caller, token string) (StopResult, error) {
	if _, err := h.admit(caller); err != nil {
		return StopResult{}, err
	}
	token = strings.TrimSpace(token)
	id := monitor.Identity{Owner: caller, Token: token}

	cancelled := h.svc.Cancel(id)
	removed, err := h.store.Remove(id)
	if err != nil {
		return StopResult{Token: token, Removed: removed, CancelledLookup: cancelled}, fmt.Errorf("%w: %v", ErrNotConfirmed, err)
	}
	if !removed && !cancelled {
		return StopResult{Token: token}, ErrNotMonitoring
	}
	return StopResult{Token: token, Removed: removed, CancelledLookup: cancelled}, nil
}

// StopAll ends every monitor of caller and returns how many were stopped.
func (h *Handler) StopAll(ctx context.Context, caller string) (int, error) {
	if _, err := h.admit(caller); err != nil {
		return 0, err
	}

	cancelled := h.svc.CancelOwner(caller)
	removed, err := h.store.RemoveOwner(caller)
	if err != nil {
		return removed, fmt.Errorf("%w: %v", ErrNotConfirmed, err)
	}
	if removed+cancelled == 0 {
		return 0, ErrNoMonitors
	}
	return removed + cancelled, nil
}

// Status lists caller's live monitors.
func (h *Handler) Status(ctx context.Context, caller string) (StatusResult, error) {
	if _, err := h.admit(caller); err != nil {
		return StatusResult{}, err
	}
	live := h.store.OwnerLive(caller)
	views := make([]MonitorView, 0, len(live))
	for _, m := range live {
		views = append(views, h.view(m))
	}
	return StatusResult{Monitors: views, Count: len(views), Max: h.opts.MaxPerUser}, nil
}

// Stats reports service-wide counters. Admin only.
func (h *Handler) Stats(ctx context.Context, caller string) (StatsResult, error) {
	if err := h.admitAdmin(caller); err != nil {
		return StatsResult{}, err
	}
	st := h.store.Stats()
	return StatsResult{
		Users:              st.Owners,
		TotalMonitors:      st.Total,
		ActiveMonitors:     st.Live,
		Tokens:             st.Tokens,
		Mode:               string(h.access.Mode()),
		PollIntervalSecs:   int64(h.opts.PollInterval / time.Second),
		MaxPerUser:         h.opts.MaxPerUser,
		RateLimitPerMinute: h.opts.RateLimitPerMinute,
	}, nil
}

// Broadcast sends message to every owner with a live monitor. Admin only.
func (h *Handler) Broadcast(ctx context.Context, caller, message string) (BroadcastResult, error) {
	if err := h.admitAdmin(caller); err != nil {
		return BroadcastResult{}, err
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return BroadcastResult{}, ErrEmptyMessage
	}
	if h.messenger == nil {
		return BroadcastResult{}, errors.New("commands: no messenger configured")
	}

	owners := h.store.Owners()
	res := BroadcastResult{Recipients: len(owners)}
	text := "Announcement:\n\n" + message
	for _, owner := range owners {
		if err := h.messenger.SendText(ctx, owner, text); err != nil {
			res.Failed++
			h.logger.Warn().Err(err).Str("recipient", access.SanitizeID(owner)).Msg("broadcast delivery failed")
			continue
		}
		res.Sent++
	}
	h.logger.Info().Int("sent", res.Sent).Int("failed", res.Failed).Msg("broadcast complete")
	return res, nil
}
