package app

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"pool-liquidity-alerts/internal/alerting"
	"pool-liquidity-alerts/internal/fetcher"
	"pool-liquidity-alerts/internal/monitor"
	"pool-liquidity-alerts/internal/storage"
)

const simulatedPool = "0x0000000000000000000000000000000000005151"

// SimulateAlert drives one synthetic price move through the real alert
// pipeline: static reserves, an in-memory store and the configured channels.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("no alert channels configured")
	}
	_, err = a.simulate(ctx, notifier, opts, time.Now().UTC())
	return err
}

func (a *App) simulate(ctx context.Context, notifier alerting.Notifier, opts SimulateOptions, now time.Time) ([]storage.AlertRecord, error) {
	if opts.FromPrice <= 0 || opts.ToPrice <= 0 {
		return nil, errors.New("prices must be greater than zero")
	}
	if opts.Token0 == "" {
		opts.Token0 = "TOKEN0"
	}
	if opts.Token1 == "" {
		opts.Token1 = "TOKEN1"
	}

	source := fetcher.NewStatic()
	source.SetMetadata(fetcher.PoolMetadata{
		Address: simulatedPool,
		Token0:  fetcher.Token{Symbol: opts.Token0, Decimals: 18},
		Token1:  fetcher.Token{Symbol: opts.Token1, Decimals: 18},
	})
	// a_per_b: reserve0 / reserve1 equals the price with reserve1 fixed at one token.
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	source.Push(simulatedPool, toWei(opts.FromPrice), one)
	source.Push(simulatedPool, toWei(opts.ToPrice), one)

	store := storage.NewMemoryStore()
	dispatcher := alerting.NewDispatcher(notifier, store, nil, a.Logger)
	mon := monitor.New(monitor.OptionsFromConfig(a.Config), source, store, dispatcher, nil, a.Logger)

	price, liquidity := a.Config.Thresholds(a.poolConfig(simulatedPool))
	if _, err := mon.Register(ctx, monitor.PoolSpec{
		Address:            simulatedPool,
		Name:               "simulation",
		Basis:              string(monitor.BasisAPerB),
		PriceThreshold:     price,
		LiquidityThreshold: liquidity,
	}); err != nil {
		return nil, err
	}

	for _, at := range []time.Time{now.Add(-a.Config.Scheduler.Interval), now} {
		if err := mon.Cycle(ctx, at); err != nil {
			return nil, err
		}
	}

	alerts, err := store.ListRecentAlerts(ctx, 0)
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		a.Logger.Warn().Float64("from", opts.FromPrice).Float64("to", opts.ToPrice).Msg("simulated move stayed below threshold; nothing sent")
	} else {
		a.Logger.Info().Int("alerts", len(alerts)).Msg("simulated alerts dispatched")
	}
	return alerts, nil
}

func toWei(v float64) *big.Int {
	return decimal.NewFromFloat(v).Shift(18).BigInt()
}
