package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-move-alerts/internal/alerting"
	"price-move-alerts/internal/backoff"
	"price-move-alerts/internal/config"
	"price-move-alerts/internal/monitor"
	"price-move-alerts/internal/pricefeed"
	"price-move-alerts/internal/service"
	"price-move-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// state bundles an opened store with the backend behind it.
type state struct {
	store    *storage.Store
	backend  storage.Backend
	postgres *storage.PostgresBackend
	release  func()
	readOnly bool
}

// close flushes pending writes, gives up the claim, then releases the backend.
func (s *state) close(logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !s.readOnly {
		if err := s.store.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("final state flush failed")
		}
	}
	if s.release != nil {
		s.release()
	}
	if err := s.backend.Close(); err != nil {
		logger.Warn().Err(err).Msg("close state backend")
	}
}

func (a *App) openBackend(ctx context.Context) (storage.Backend, *storage.PostgresBackend, error) {
	switch strings.ToLower(a.Config.State.Backend) {
	case config.BackendPostgres:
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		pg := storage.NewPostgresBackend(pool, a.Config.State.Namespace)
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg, nil
	case config.BackendRedis:
		rb := storage.NewRedisBackend(storage.NewRedisClient(a.Config.Redis), a.Config.Redis.Key)
		if err := rb.Ping(ctx); err != nil {
			rb.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return rb, nil, nil
	default:
		fb, err := storage.NewFileBackend(a.Config.State.DataDir, a.Config.State.FileName)
		if err != nil {
			return nil, nil, err
		}
		return fb, nil, nil
	}
}

// stateAccess says whether the caller writes the document.
type stateAccess int

const (
	readOnly stateAccess = iota
	exclusive
)

// openState loads the document. Writers first claim it so two processes never
// hold diverging copies; readers never flush, so they skip the claim.
func (a *App) openState(ctx context.Context, mode stateAccess) (*state, error) {
	backend, pg, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}

	var release func()
	if claimer, ok := backend.(storage.Claimer); ok && mode == exclusive {
		release, err = claimer.Claim(ctx)
		if err != nil {
			backend.Close()
			if errors.Is(err, storage.ErrStateLocked) {
				return nil, fmt.Errorf("%w; a running service owns the state, use its HTTP API (DELETE /v1/monitors/<token>) instead", err)
			}
			return nil, err
		}
	}

	store := storage.NewStore(backend, storage.Options{
		Window:   a.Config.Monitor.Window,
		Debounce: a.Config.State.Debounce,
		Logger:   a.Logger,
	})
	if err := store.Load(ctx); err != nil {
		if release != nil {
			release()
		}
		backend.Close()
		return nil, err
	}
	a.Logger.Info().
		Str("backend", a.Config.State.Backend).
		Int("monitors", store.Stats().Total).
		Msg("state loaded")
	return &state{store: store, backend: backend, postgres: pg, release: release, readOnly: mode == readOnly}, nil
}

func (a *App) newProvider() pricefeed.Provider {
	pc := a.Config.Price
	if strings.EqualFold(pc.Provider, config.ProviderChainlink) {
		return pricefeed.NewChainlink(pricefeed.ChainlinkOptions{
			RPCURL:  pc.Chainlink.RPCURL,
			Feeds:   pc.Chainlink.Feeds,
			Timeout: pc.RequestTimeout,
		}, a.Logger)
	}
	return pricefeed.NewDexScreener(pricefeed.DexScreenerOptions{
		BaseURL:     pc.BaseURL,
		ChainID:     pc.ChainID,
		MaxAttempts: pc.MaxAttempts,
		RetryBase:   pc.RetryBase,
		Timeout:     pc.RequestTimeout,
		UserAgent:   pc.UserAgent,
	}, a.Logger)
}

func (a *App) newTransport() alerting.Transport {
	ac := a.Config.Alerting
	switch strings.ToLower(ac.Channel) {
	case config.ChannelTelegram:
		return alerting.NewTelegramTransport(ac.Telegram.BotToken, ac.Telegram.ChatID, ac.Telegram.APIBase, ac.Timeout, a.Logger)
	case config.ChannelWebhook:
		return alerting.NewWebhookTransport(ac.Webhook.URL, ac.Timeout, a.Logger)
	default:
		return alerting.NewConsoleTransport(os.Stdout, a.Logger)
	}
}

func (a *App) newNotifier() *alerting.RetryingNotifier {
	ac := a.Config.Alerting
	return alerting.NewRetryingNotifier(a.newTransport(), backoff.Policy{
		Base:      ac.BackoffBase,
		Max:       ac.BackoffMax,
		Attempts:  ac.MaxAttempts,
		JitterPct: backoff.DefaultJitterPct,
	}, a.Logger)
}

func (a *App) serviceOptions() service.Options {
	mc := a.Config.Monitor
	return service.Options{
		Window:            mc.Window,
		PollInterval:      mc.PollInterval,
		JitterPct:         mc.JitterPct,
		Concurrency:       mc.Concurrency,
		FetchTimeout:      mc.FetchTimeout,
		BaselineRetryBase: mc.BaselineRetryBase,
		BaselineRetryMax:  mc.BaselineRetryMax,
		SweepInterval:     mc.SweepInterval,
		StartupDelay:      a.Config.Scheduler.StartupDelay,
		AdvisoryLockKey:   a.Config.Scheduler.AdvisoryLockKey,
		Channel:           strings.ToLower(a.Config.Alerting.Channel),
		DeliveryTimeout:   time.Duration(a.Config.Alerting.MaxAttempts) * (a.Config.Alerting.Timeout + a.Config.Alerting.BackoffMax),
	}
}

// baseDeps fills the collaborators shared by serve and watch.
func (a *App) baseDeps(st *state, notifier alerting.Notifier) service.Deps {
	deps := service.Deps{
		Store:    st.store,
		Provider: a.newProvider(),
		Notifier: notifier,
	}
	if st.postgres != nil {
		deps.Recorder = st.postgres
		deps.Locker = st.postgres
	}
	return deps
}

// summarySink delivers end-of-window reports to the monitor owner.
func (a *App) summarySink(n *alerting.RetryingNotifier) service.SummarySink {
	return func(ctx context.Context, s monitor.Summary) {
		if !n.NotifyText(ctx, s.Owner, s.Text()) {
			a.Logger.Warn().Str("token", s.Token).Msg("summary not delivered")
		}
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
