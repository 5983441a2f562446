package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"price-move-alerts/internal/monitor"
	"price-move-alerts/internal/pricefeed"
	"price-move-alerts/internal/service"
	"price-move-alerts/internal/storage"
)

// SimulateOptions describe one simulated price move.
type SimulateOptions struct {
	Token    string
	Baseline decimal.Decimal
	Price    decimal.Decimal
}

// SimulateAlert 用静态价格跑一次基线 + 轮询, 经真实通道发出触发的告警。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !opts.Baseline.IsPositive() || !opts.Price.IsPositive() {
		return errors.New("baseline and price must be positive")
	}

	store := storage.NewStore(storage.NewMemoryBackend(), storage.Options{
		Window: a.Config.Monitor.Window,
		Logger: a.Logger,
	})
	if err := store.Load(ctx); err != nil {
		return err
	}

	prices := pricefeed.NewStatic()
	prices.Set(opts.Token, opts.Baseline, opts.Price)

	var fired int
	svc := service.New(service.Deps{
		Store:    store,
		Provider: prices,
		Notifier: a.newNotifier(),
		Observer: func(st service.PollStats) { fired = st.Alerts },
	}, a.serviceOptions(), a.Logger)

	id := monitor.Identity{Token: opts.Token}
	if _, err := svc.EstablishBaseline(ctx, id); err != nil {
		return err
	}
	if err := svc.PollOnce(ctx); err != nil {
		return err
	}

	m, _ := store.Get(id)
	fmt.Fprintf(os.Stdout, "simulated %s -> %s: %d alert(s) fired %v\n", opts.Baseline, opts.Price, fired, m.FiredAlerts)
	return nil
}
