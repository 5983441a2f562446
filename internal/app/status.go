package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"price-move-alerts/internal/alerts"
	"price-move-alerts/internal/monitor"
)

// StatusOptions configure the status command.
type StatusOptions struct {
	Owner string
}

// Status prints live monitors from the state backend.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	st, err := a.openState(ctx, readOnly)
	if err != nil {
		return err
	}
	defer st.close(a.Logger)

	live := st.store.Live()
	if opts.Owner != "" {
		live = st.store.OwnerLive(opts.Owner)
	}
	if len(live) == 0 {
		fmt.Fprintln(os.Stdout, "no active monitors")
		return nil
	}

	now := time.Now()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Owner\tToken\tBaseline\tLast\tChange\tFired\tRemaining")
	for _, m := range live {
		fired := make([]string, len(m.FiredAlerts))
		for i, k := range m.FiredAlerts {
			fired[i] = string(k)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Owner,
			alerts.TruncateToken(m.Token, 6),
			alerts.FormatPrice(m.BaselinePrice),
			alerts.FormatPrice(m.LastPrice),
			alerts.FormatPercent(m.PercentChange()),
			strings.Join(fired, ","),
			alerts.FormatDuration(m.Remaining(now, st.store.Window())),
		)
	}
	return writer.Flush()
}

// Stop removes one monitor from the state backend.
func (a *App) Stop(ctx context.Context, owner, token string) error {
	st, err := a.openState(ctx, exclusive)
	if err != nil {
		return err
	}
	defer st.close(a.Logger)

	removed, err := st.store.Remove(monitor.Identity{Owner: owner, Token: strings.TrimSpace(token)})
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no monitor for %s", monitor.Identity{Owner: owner, Token: token})
	}
	fmt.Fprintf(os.Stdout, "stopped monitoring %s\n", token)
	return nil
}

// Alerts prints recent rows of the alert audit log.
func (a *App) Alerts(ctx context.Context, limit int) error {
	st, err := a.openState(ctx, readOnly)
	if err != nil {
		return err
	}
	defer st.close(a.Logger)

	if st.postgres == nil {
		return errors.New("alert audit log requires state.backend=postgres")
	}
	records, err := st.postgres.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tOwner\tToken\tAlert\tBaseline\tPrice\tChange\tChannel")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.Owner,
			alerts.TruncateToken(r.Token, 6),
			r.Kind,
			alerts.FormatPrice(r.BaselinePrice),
			alerts.FormatPrice(r.CurrentPrice),
			alerts.FormatPercent(r.PercentChange),
			r.Channel,
		)
	}
	return writer.Flush()
}
