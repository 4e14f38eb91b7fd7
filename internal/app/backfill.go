package app

import (
	"context"
	"errors"
	"fmt"

	"pool-liquidity-alerts/internal/config"
	"pool-liquidity-alerts/internal/fetcher"
	"pool-liquidity-alerts/internal/monitor"
	"pool-liquidity-alerts/internal/storage"
)

// headSource is a reserve source that also knows the chain head.
type headSource interface {
	fetcher.ReserveSource
	LatestBlock(ctx context.Context) (uint64, error)
}

// Backfill replays historical reserves from an archive node into the sample
// store, stepping backwards from the head in fixed block increments. Alert
// state is not touched.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Blocks == 0 || opts.Step == 0 {
		return errors.New("--blocks and --step must be greater than zero")
	}
	pools, err := a.resolvePools(opts.Pool)
	if err != nil {
		return err
	}

	var store storage.SampleStore
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: samples are not written")
	} else {
		backend, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()
		if a.Config.ResolveBackend() == config.BackendMemory {
			return errors.New("backfill needs a persistent store (postgres or redis)")
		}
		store = backend
	}

	source := a.newSource()
	defer source.Close()
	return a.backfill(ctx, source, store, pools, opts)
}

func (a *App) backfill(ctx context.Context, source headSource, store storage.SampleStore, pools []string, opts BackfillOptions) error {
	head, err := source.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("fetch head block: %w", err)
	}
	first := uint64(0)
	if head > opts.Blocks {
		first = head - opts.Blocks
	}

	// The monitor resolves basis and token metadata exactly as the live loop does.
	mon := monitor.New(monitor.OptionsFromConfig(a.Config), source, store, nil, nil, a.Logger)

	processed, failed := 0, 0
	for _, address := range pools {
		pc := a.poolConfig(address)
		price, liquidity := a.Config.Thresholds(pc)
		pool, err := mon.Register(ctx, monitor.PoolSpec{
			Address:            address,
			Name:               pc.Name,
			Basis:              pc.PriceBasis,
			PriceThreshold:     price,
			LiquidityThreshold: liquidity,
		})
		if err != nil {
			return err
		}

		for block := head; block >= first && block <= head; block -= opts.Step {
			if err := ctx.Err(); err != nil {
				return err
			}

			reserves, err := source.ReservesAt(ctx, pool.Address, block)
			if err == nil {
				var sample storage.Sample
				sample, err = pool.Sample(reserves, reserves.BlockTime)
				if err == nil && store != nil {
					err = store.RecordSample(ctx, sample)
				}
			}
			if err != nil {
				failed++
				a.Logger.Error().Err(err).Str("pool", pool.Address).Uint64("block", block).Msg("backfill step failed")
			} else {
				processed++
			}

			if block < opts.Step {
				break
			}
		}
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Uint64("head", head).Msg("backfill complete")
	if failed > 0 {
		return fmt.Errorf("%d backfill steps failed; check the logs", failed)
	}
	return nil
}

// poolConfig returns the configured entry for address, or a bare entry with the
// default basis when the pool is not configured.
func (a *App) poolConfig(address string) config.PoolConfig {
	for _, p := range a.Config.Monitor.Pools {
		if storage.NormalizePoolID(p.Address) == address {
			return p
		}
	}
	return config.PoolConfig{Address: address, PriceBasis: string(monitor.BasisAPerB)}
}
