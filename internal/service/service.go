package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-move-alerts/internal/access"
	"price-move-alerts/internal/alerting"
	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/backoff"
	"price-move-alerts/internal/monitor"
	"price-move-alerts/internal/pricefeed"
	"price-move-alerts/internal/scheduler"
	"price-move-alerts/internal/storage"
)

var (
	// ErrBaselinePending is returned when a baseline for the identity is already being acquired.
	ErrBaselinePending = errors.New("service: baseline acquisition already in progress")
	// ErrBaselineTimeout is returned when no price arrived within the window.
	ErrBaselineTimeout = errors.New("service: no baseline price within the monitoring window")
	// ErrBaselineCancelled is returned when Cancel aborted the acquisition.
	ErrBaselineCancelled = errors.New("service: baseline acquisition cancelled")
)

// Options tune the orchestrator.
type Options struct {
	Window            time.Duration
	PollInterval      time.Duration
	JitterPct         float64
	Concurrency       int
	FetchTimeout      time.Duration
	BaselineRetryBase time.Duration
	BaselineRetryMax  time.Duration
	SweepInterval     time.Duration
	StartupDelay      time.Duration
	AdvisoryLockKey   int64
	Channel           string
	// DeliveryTimeout bounds recording and sending one alert, including retries.
	DeliveryTimeout time.Duration
}

// PollStats describes one completed poll cycle.
type PollStats struct {
	At          time.Time
	Active      int
	Tokens      int
	Fetched     int
	Unavailable int
	Alerts      int
	Expired     int
	Duration    time.Duration
}

// PollObserver receives stats after each poll cycle.
type PollObserver func(PollStats)

// SummarySink receives the report of every monitor whose window elapsed.
type SummarySink func(ctx context.Context, summary monitor.Summary)

// Cleaner is periodic housekeeping, such as evicting idle rate-limit buckets.
type Cleaner interface {
	Cleanup() int
}

// Deps are the collaborators of the orchestrator. Store, Provider and Notifier are required.
type Deps struct {
	Store     *storage.Store
	Provider  pricefeed.Provider
	Notifier  alerting.Notifier
	Recorder  storage.AlertRecorder
	Locker    storage.AdvisoryLocker
	Observer  PollObserver
	Summaries SummarySink
	Cleaners  []Cleaner
	Now       func() time.Time
}

// Service drives baselines, polling, alerting and expiry for every monitor.
type Service struct {
	store     *storage.Store
	provider  pricefeed.Provider
	notifier  alerting.Notifier
	recorder  storage.AlertRecorder
	locker    storage.AdvisoryLocker
	observer  PollObserver
	summaries SummarySink
	cleaners  []Cleaner
	now       func() time.Time
	opts      Options
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// New constructs the monitoring service.
func New(deps Deps, opts Options, logger zerolog.Logger) *Service {
	if opts.Window <= 0 {
		opts.Window = monitor.DefaultWindow
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 45 * time.Second
	}
	if opts.BaselineRetryBase <= 0 {
		opts.BaselineRetryBase = 5 * time.Second
	}
	if opts.BaselineRetryMax <= 0 {
		opts.BaselineRetryMax = 30 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Hour
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 2 * time.Minute
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:     deps.Store,
		provider:  deps.Provider,
		notifier:  deps.Notifier,
		recorder:  deps.Recorder,
		locker:    deps.Locker,
		observer:  deps.Observer,
		summaries: deps.Summaries,
		cleaners:  deps.Cleaners,
		now:       now,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
		pending:   make(map[string]context.CancelFunc),
	}
}

// Store exposes the monitor store.
func (s *Service) Store() *storage.Store { return s.store }

// Pending reports whether a baseline is being acquired for id.
func (s *Service) Pending(id monitor.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[id.Key()]
	return ok
}

// Cancel aborts a pending baseline acquisition for id. Once Cancel returns,
// the acquisition either created its monitor already or never will.
func (s *Service) Cancel(id monitor.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.pending[id.Key()]
	if ok {
		cancel()
	}
	return ok
}

// CancelOwner aborts every pending baseline acquisition of owner.
func (s *Service) CancelOwner(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, cancel := range s.pending {
		if id, ok := monitor.ParseKey(key); ok && id.Owner == owner {
			cancel()
			n++
		}
	}
	return n
}

// EstablishBaseline fetches a first price for id, retrying until one arrives,
// the window passes or ctx ends, then creates the monitor.
func (s *Service) EstablishBaseline(ctx context.Context, id monitor.Identity) (monitor.Monitor, error) {
	if s.store.IsLive(id) {
		m, _ := s.store.Get(id)
		return m, storage.ErrAlreadyExists
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	key := id.Key()
	s.mu.Lock()
	if _, busy := s.pending[key]; busy {
		s.mu.Unlock()
		return monitor.Monitor{}, ErrBaselinePending
	}
	var cancelled atomic.Bool
	s.pending[key] = func() {
		cancelled.Store(true)
		cancel()
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	logger := s.logger.With().Str("owner", access.SanitizeID(id.Owner)).Str("token", alerts.TruncateToken(id.Token, 6)).Logger()
	deadline := s.now().Add(s.opts.Window)

	for attempt := 1; ; attempt++ {
		price, err := s.fetch(ctx, id.Token)
		if err == nil {
			// Create under s.mu so a concurrent Cancel lands strictly before or after it.
			s.mu.Lock()
			if cancelled.Load() {
				s.mu.Unlock()
				return monitor.Monitor{}, ErrBaselineCancelled
			}
			m, createErr := s.store.Create(id, price)
			s.mu.Unlock()
			if createErr != nil {
				return m, createErr
			}
			logger.Info().Str("baseline", price.String()).Time("expires", m.BaselineTime.Add(s.opts.Window)).Msg("baseline established")
			return m, nil
		}
		if ctx.Err() != nil {
			if cancelled.Load() {
				return monitor.Monitor{}, ErrBaselineCancelled
			}
			return monitor.Monitor{}, ctx.Err()
		}

		wait := s.opts.BaselineRetryBase * time.Duration(attempt)
		if wait > s.opts.BaselineRetryMax {
			wait = s.opts.BaselineRetryMax
		}
		wait = backoff.Jitter(wait, backoff.DefaultJitterPct)
		if !s.now().Add(wait).Before(deadline) {
			logger.Error().Err(err).Int("attempts", attempt).Msg("no baseline price within the window")
			return monitor.Monitor{}, ErrBaselineTimeout
		}

		logger.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("price unavailable, retrying baseline")
		if err := backoff.Sleep(ctx, wait); err != nil {
			if cancelled.Load() {
				return monitor.Monitor{}, ErrBaselineCancelled
			}
			return monitor.Monitor{}, err
		}
	}
}

func (s *Service) fetch(ctx context.Context, token string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	price, err := s.provider.Price(ctx, token)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive price %s: %w", price, pricefeed.ErrNoPrice)
	}
	return price, nil
}

// PollOnce runs one cycle: expire, fetch one price per token, then evaluate
// and alert for every live monitor.
func (s *Service) PollOnce(ctx context.Context) error {
	start := s.now()
	expired := s.expire(ctx)

	live := s.store.Live()
	groups := make(map[string][]monitor.Identity)
	for _, m := range live {
		groups[m.Token] = append(groups[m.Token], m.Identity())
	}

	stats := s.pollGroups(ctx, groups)
	stats.At = start
	stats.Active = len(live)
	stats.Expired = expired
	stats.Duration = s.now().Sub(start)

	s.logger.Info().
		Int("monitors", stats.Active).
		Int("tokens", stats.Tokens).
		Int("fetched", stats.Fetched).
		Int("unavailable", stats.Unavailable).
		Int("alerts", stats.Alerts).
		Int("expired", stats.Expired).
		Dur("duration", stats.Duration).
		Msg("poll cycle complete")

	if s.observer != nil {
		s.observer(stats)
	}
	return ctx.Err()
}

func (s *Service) pollGroups(ctx context.Context, groups map[string][]monitor.Identity) PollStats {
	tokens := make([]string, 0, len(groups))
	for token := range groups {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	var resMu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(tokens))

	for _, token := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			price, err := s.fetch(ctx, token)
			if err != nil {
				s.logger.Warn().Err(err).Str("token", alerts.TruncateToken(token, 6)).Msg("price unavailable this tick")
				return
			}
			resMu.Lock()
			prices[token] = price
			resMu.Unlock()
		}(token)
	}
	wg.Wait()

	stats := PollStats{Tokens: len(tokens), Fetched: len(prices), Unavailable: len(tokens) - len(prices)}
	for _, token := range tokens {
		price, ok := prices[token]
		if !ok {
			continue
		}
		for _, id := range groups[token] {
			if ctx.Err() != nil {
				return stats
			}
			stats.Alerts += s.observe(ctx, id, price)
		}
	}
	return stats
}

// observe applies one price to one monitor and delivers any alerts it crosses.
// Each kind is marked fired before delivery, so a failed delivery is not repeated.
func (s *Service) observe(ctx context.Context, id monitor.Identity, price decimal.Decimal) int {
	updated, ok := s.store.UpdatePrice(id, price)
	if !ok {
		return 0
	}

	s.logger.Debug().
		Str("owner", access.SanitizeID(id.Owner)).
		Str("token", alerts.TruncateToken(id.Token, 6)).
		Str("price", price.String()).
		Str("change", alerts.FormatPercent(updated.PercentChange())).
		Dur("remaining", updated.Remaining(s.now(), s.opts.Window)).
		Msg("price observed")

	sent := 0
	for _, kind := range alerts.Evaluate(updated, price) {
		fired, err := s.store.MarkFired(id, kind)
		if err != nil || !fired {
			continue
		}

		payload := alerts.NewPayload(id.Owner, id.Token, kind, updated.BaselinePrice, price, s.now())
		s.deliver(ctx, payload)
		sent++
	}
	return sent
}

// deliver records and sends an alert that is already marked fired. Shutdown
// does not abort it; only DeliveryTimeout bounds it.
func (s *Service) deliver(ctx context.Context, p alerts.Payload) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.DeliveryTimeout)
	defer cancel()
	s.record(ctx, p)
	s.notifier.Notify(ctx, p.Owner, p)
}

func (s *Service) record(ctx context.Context, p alerts.Payload) {
	if s.recorder == nil {
		return
	}
	rec := storage.AlertRecord{
		AlertID:       p.ID,
		Owner:         p.Owner,
		Token:         p.Token,
		Kind:          string(p.Kind),
		BaselinePrice: p.BaselinePrice,
		CurrentPrice:  p.CurrentPrice,
		PercentChange: p.PercentChange,
		Channel:       s.opts.Channel,
	}
	if _, err := s.recorder.RecordAlert(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("alert_id", p.ID).Msg("failed to persist alert record")
	}
}

// expire removes monitors past their window and hands their summaries to the sink.
func (s *Service) expire(ctx context.Context) int {
	expired, err := s.store.TakeExpired()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to persist expired monitors")
	}
	for _, m := range expired {
		summary := monitor.Summarize(m, m.BaselineTime.Add(s.opts.Window))
		s.logger.Info().
			Str("owner", access.SanitizeID(m.Owner)).
			Str("token", alerts.TruncateToken(m.Token, 6)).
			Int("alerts", len(m.FiredAlerts)).
			Msg("monitoring window complete")
		if s.summaries != nil {
			s.summaries(ctx, summary)
		}
	}
	return len(expired)
}

// Maintain runs periodic housekeeping: expiry sweep and cleaner hooks.
func (s *Service) Maintain(ctx context.Context) {
	expired := s.expire(ctx)
	evicted := 0
	for _, c := range s.cleaners {
		evicted += c.Cleanup()
	}
	s.logger.Debug().Int("expired", expired).Int("evicted", evicted).Msg("maintenance complete")
}

// Run begins the poll loop and the maintenance loop; it returns when ctx ends.
func (s *Service) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Interval:     s.opts.PollInterval,
		JitterPct:    s.opts.JitterPct,
		StartupDelay: s.opts.StartupDelay,
		Immediate:    true,
	}, s.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Maintain(ctx)
			}
		}
	}()

	err := sched.Run(ctx, s.ProcessTick)
	wg.Wait()
	return err
}

// ProcessTick runs PollOnce under the advisory lock when one is configured.
func (s *Service) ProcessTick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}
	return s.PollOnce(ctx)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
