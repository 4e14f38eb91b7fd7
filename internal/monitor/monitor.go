// Package monitor runs the per-pool sampling ticks: read reserves, record the
// sample, aggregate the trailing window and drive the alert signals.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pool-liquidity-alerts/internal/alerting"
	"pool-liquidity-alerts/internal/config"
	"pool-liquidity-alerts/internal/fetcher"
	"pool-liquidity-alerts/internal/scheduler"
	"pool-liquidity-alerts/internal/storage"
	"pool-liquidity-alerts/internal/telemetry"
	"pool-liquidity-alerts/internal/window"
)

// Options tune the monitor.
type Options struct {
	Window        time.Duration
	Cooldown      time.Duration
	Parallelism   int
	QueueSize     int
	AlertsEnabled bool
}

// OptionsFromConfig maps configuration onto monitor options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Window:        cfg.Monitor.Window,
		Cooldown:      cfg.Alerting.Cooldown,
		Parallelism:   cfg.Scheduler.Parallelism,
		QueueSize:     cfg.Alerting.QueueSize,
		AlertsEnabled: cfg.Alerting.Enabled,
	}
}

// Monitor orchestrates sampling and alerting for the registered pools.
type Monitor struct {
	opts       Options
	source     fetcher.ReserveSource
	store      storage.SampleStore
	dispatcher *alerting.Dispatcher
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	pools      []*Pool
}

// New constructs the monitor. dispatcher and metrics may be nil.
func New(opts Options, source fetcher.ReserveSource, store storage.SampleStore, dispatcher *alerting.Dispatcher, metrics *telemetry.Metrics, logger zerolog.Logger) *Monitor {
	if opts.Window <= 0 {
		opts.Window = window.DefaultSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Monitor{
		opts:       opts,
		source:     source,
		store:      store,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With().Str("component", "monitor").Logger(),
	}
}

// Register validates a pool, fetches its token metadata and adds it to the
// monitored set. Errors here are fatal to startup.
func (m *Monitor) Register(ctx context.Context, spec PoolSpec) (*Pool, error) {
	basis, err := ParseBasis(spec.Basis)
	if err != nil {
		return nil, fmt.Errorf("register pool %s: %w", spec.Address, err)
	}
	if spec.PriceThreshold <= 0 || spec.LiquidityThreshold <= 0 {
		return nil, fmt.Errorf("register pool %s: thresholds must be positive", spec.Address)
	}
	address := storage.NormalizePoolID(spec.Address)
	for _, p := range m.pools {
		if p.Address == address {
			return nil, fmt.Errorf("register pool %s: already registered", spec.Address)
		}
	}

	meta, err := m.source.Metadata(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata for pool %s: %w", spec.Address, err)
	}

	pool := &Pool{
		Address:            address,
		Name:               spec.Name,
		Basis:              basis,
		Metadata:           meta,
		PriceThreshold:     decimal.NewFromFloat(spec.PriceThreshold),
		LiquidityThreshold: decimal.NewFromFloat(spec.LiquidityThreshold),
	}
	m.pools = append(m.pools, pool)

	m.logger.Info().
		Str("pool", address).
		Str("name", spec.Name).
		Str("pair", meta.Pair()).
		Str("basis", basis.Label(meta)).
		Str("price_threshold_pct", pool.PriceThreshold.String()).
		Str("liquidity_threshold_pct", pool.LiquidityThreshold.String()).
		Msg("pool registered")
	return pool, nil
}

// RegisterConfigured registers every pool listed in the configuration.
func (m *Monitor) RegisterConfigured(ctx context.Context, cfg *config.Config) error {
	for _, pc := range cfg.Monitor.Pools {
		price, liquidity := cfg.Thresholds(pc)
		if _, err := m.Register(ctx, PoolSpec{
			Address:            pc.Address,
			Name:               pc.Name,
			Basis:              pc.PriceBasis,
			PriceThreshold:     price,
			LiquidityThreshold: liquidity,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Pools returns the registered pools.
func (m *Monitor) Pools() []*Pool {
	return m.pools
}

// Run drives cycles from the scheduler until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if len(m.pools) == 0 {
		return fmt.Errorf("no pools registered")
	}
	return sched.Run(ctx, m.Cycle)
}

// Cycle ticks every pool concurrently and hands the resulting notifications to
// the dispatcher. A failing pool never affects the others. Cycle returns after
// all queued notifications have been delivered.
func (m *Monitor) Cycle(ctx context.Context, at time.Time) error {
	logger := m.logger.With().Str("cycle", uuid.NewString()).Logger()
	ctx = logger.WithContext(ctx)

	notes := make(chan alerting.Notification, m.opts.QueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if m.dispatcher == nil {
			for range notes {
			}
			return
		}
		m.dispatcher.Run(ctx, notes)
	}()

	var g errgroup.Group
	g.SetLimit(m.opts.Parallelism)
	for _, pool := range m.pools {
		pool := pool
		g.Go(func() error {
			started := time.Now()
			out, err := m.TickPool(ctx, pool, at)
			m.metrics.ObserveTick(pool.Label(), tickResult(err), time.Since(started))
			if err != nil {
				event := logger.Error()
				if errors.Is(err, ErrTickInProgress) {
					event = logger.Warn()
				}
				event.Err(err).Str("pool", pool.Address).Msg("pool tick skipped")
				return nil
			}
			for _, note := range out {
				notes <- note
			}
			return nil
		})
	}
	_ = g.Wait()
	close(notes)
	<-done

	logger.Debug().Time("at", at).Int("pools", len(m.pools)).Msg("cycle complete")
	return nil
}

// TickPool runs one tick for one pool at time now and returns the
// notifications it produced. Store failures degrade the tick but never abort
// it; only a source failure does.
func (m *Monitor) TickPool(ctx context.Context, pool *Pool, now time.Time) ([]alerting.Notification, error) {
	if !pool.mu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer pool.mu.Unlock()

	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &m.logger
	}

	reserves, err := m.source.Reserves(ctx, pool.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	current, err := pool.Sample(reserves, now)
	if err != nil {
		return nil, err
	}

	if err := m.store.RecordSample(ctx, current); err != nil {
		m.metrics.StoreError("record_sample")
		logger.Error().Err(err).Str("pool", pool.Address).Msg("failed to record sample")
	}

	since := now.Add(-m.opts.Window)
	if err := m.store.PruneBefore(ctx, pool.Address, since); err != nil {
		m.metrics.StoreError("prune")
		logger.Warn().Err(err).Str("pool", pool.Address).Msg("failed to prune samples")
	}

	samples, err := m.store.SamplesBetween(ctx, pool.Address, since, now)
	if err != nil {
		m.metrics.StoreError("read_window")
		samples = pool.staleWindow(since, current)
		logger.Warn().Err(err).Str("pool", pool.Address).Int("stale_samples", len(samples)).Msg("window read failed, using last good window")
	} else {
		pool.lastWindow = samples
	}

	priceExt := window.Aggregate(current.Price, samples, window.Price)
	liquidityExt := window.Aggregate(current.Liquidity, samples, window.Liquidity)

	event := logger.Info().
		Str("pool", pool.Address).
		Str("pair", pool.Metadata.Pair()).
		Uint64("block", reserves.BlockNumber).
		Str("reserve0", reserves.Reserve0.String()).
		Str("reserve1", reserves.Reserve1.String()).
		Str("price", current.Price.String()).
		Str("liquidity", current.Liquidity.String())
	event = logExtreme(event, "price_max_increase", priceExt.Increase)
	event = logExtreme(event, "price_max_decrease", priceExt.Decrease)
	event = logExtreme(event, "liquidity_max_increase", liquidityExt.Increase)
	event = logExtreme(event, "liquidity_max_decrease", liquidityExt.Decrease)
	event.Int("window_samples", len(samples)).Msg("pool sampled")

	var notes []alerting.Notification
	if note, ok := m.evaluate(pool, &pool.price, alerting.MetricPrice, current.Price, pool.PriceThreshold, priceExt, now); ok {
		notes = append(notes, note)
	}
	if note, ok := m.evaluate(pool, &pool.liquidity, alerting.MetricLiquidity, current.Liquidity, pool.LiquidityThreshold, liquidityExt, now); ok {
		notes = append(notes, note)
	}
	return notes, nil
}

func (m *Monitor) evaluate(pool *Pool, sig *alerting.Signal, metric string, value, threshold decimal.Decimal, ext window.Extremes, now time.Time) (alerting.Notification, bool) {
	extreme := ext.Directional()
	tr := sig.Evaluate(extreme.Change, threshold, m.opts.Cooldown, now)
	m.metrics.ObserveSignal(pool.Label(), metric, tr.String(), value.InexactFloat64(), extreme.Change.InexactFloat64())

	if tr != alerting.TransitionNone && tr != alerting.TransitionSuppressed {
		m.logger.Info().Str("pool", pool.Address).Str("metric", metric).Str("transition", tr.String()).Str("change_pct", extreme.Change.StringFixed(2)).Msg("alert state changed")
	}
	if !tr.Notifies() || !m.opts.AlertsEnabled {
		return alerting.Notification{}, false
	}

	note := alerting.NewNotification(tr, extreme.Change, threshold, value, now)
	note.PoolID = pool.Address
	note.PoolName = pool.Name
	note.Pair = pool.Metadata.Pair()
	note.Metric = metric
	if metric == alerting.MetricPrice {
		note.Basis = pool.Basis.Label(pool.Metadata)
	}
	if note.Kind == alerting.KindBreach {
		note.ExtremeAt = extreme.At
	}
	return note, true
}

func tickResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTickInProgress):
		return "skipped"
	case errors.Is(err, ErrSourceUnavailable):
		return "source_error"
	default:
		return "error"
	}
}

// logExtreme adds the change and, when a sample produced it, its time.
func logExtreme(event *zerolog.Event, prefix string, ext window.Extreme) *zerolog.Event {
	event = event.Str(prefix+"_pct", ext.Change.StringFixed(4))
	if ext.Found {
		event = event.Time(prefix+"_at", ext.At)
	}
	return event
}
