package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"price-move-alerts/internal/access"
	"price-move-alerts/internal/api"
	"price-move-alerts/internal/commands"
	"price-move-alerts/internal/config"
	"price-move-alerts/internal/ratelimit"
	"price-move-alerts/internal/service"
	"price-move-alerts/internal/version"
)

// Serve runs the multi-user monitoring service and its HTTP surface.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Config.ValidateServe(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openState(ctx, exclusive)
	if err != nil {
		return err
	}
	defer st.close(a.Logger)

	mode, err := access.ParseMode(a.Config.Access.Mode)
	if err != nil {
		return err
	}
	ctrl := access.New(mode, a.Config.Access.AllowedUserIDs, a.Config.Access.AdminUserIDs)
	limiter := ratelimit.New(a.Config.RateLimit.PerMinute, a.Config.RateLimit.IdleEviction, nil)
	health := api.NewHealth(version.Version, 3*a.Config.Monitor.PollInterval+a.Config.Monitor.FetchTimeout, nil)

	notifier := a.newNotifier()
	deps := a.baseDeps(st, notifier)
	deps.Observer = health.Observe
	deps.Summaries = a.summarySink(notifier)
	deps.Cleaners = []service.Cleaner{limiter}
	svc := service.New(deps, a.serviceOptions(), a.Logger)

	cmds := commands.New(ctrl, limiter, svc, notifier, commands.Options{
		MaxPerUser:         a.Config.Monitor.MaxPerUser,
		Window:             a.Config.Monitor.Window,
		StartTimeout:       a.Config.Monitor.StartTimeout,
		PollInterval:       a.Config.Monitor.PollInterval,
		RateLimitPerMinute: a.Config.RateLimit.PerMinute,
		StrictMint:         strings.EqualFold(a.Config.Price.Provider, config.ProviderDexScreener) && strings.EqualFold(a.Config.Price.ChainID, "solana"),
	}, a.Logger)

	a.Logger.Info().
		Str("mode", string(mode)).
		Str("channel", notifier.Channel()).
		Dur("poll_interval", a.Config.Monitor.PollInterval).
		Int("max_per_user", a.Config.Monitor.MaxPerUser).
		Msg("starting monitoring service")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(svc.Run(gctx))
	})

	if a.Config.HTTP.Enabled {
		srv := &http.Server{
			Addr:              a.Config.HTTP.Addr,
			Handler:           api.NewServer(cmds, health, a.Logger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.Logger.Info().Str("addr", srv.Addr).Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}
	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}
