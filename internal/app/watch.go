package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"price-move-alerts/internal/commands"
	"price-move-alerts/internal/monitor"
	"price-move-alerts/internal/service"
)

// WatchOptions configure the watch command.
type WatchOptions struct {
	Token    string
	Interval time.Duration
}

// Watch monitors one token until its window elapses, then prints the summary.
// Watch-mode monitors have no owner, so alerts go to the transport's default
// destination. Interrupting keeps the monitor so the next run resumes it.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	if err := a.Config.ValidateWatch(); err != nil {
		return err
	}
	token := strings.TrimSpace(opts.Token)
	if err := commands.ValidateToken(token, false); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openState(ctx, exclusive)
	if err != nil {
		return err
	}
	defer st.close(a.Logger)

	notifier := a.newNotifier()
	svcOpts := a.serviceOptions()
	svcOpts.PollInterval = a.Config.ResolveInterval(opts.Interval)
	svc := service.New(a.baseDeps(st, notifier), svcOpts, a.Logger)

	a.Logger.Info().
		Str("token", token).
		Str("channel", notifier.Channel()).
		Dur("interval", svcOpts.PollInterval).
		Dur("window", svcOpts.Window).
		Msg("starting watch")

	id := monitor.Identity{Token: token}
	summary, err := svc.Watch(ctx, id)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			a.Logger.Info().Msg("watch interrupted; monitor kept for resume")
			return nil
		}
		return err
	}

	text := summary.Text()
	fmt.Fprintln(os.Stdout, text)
	if !notifier.NotifyText(ctx, id.Owner, text) {
		a.Logger.Warn().Msg("summary not delivered")
	}
	return nil
}
