package monitor

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pool-liquidity-alerts/internal/alerting"
	"pool-liquidity-alerts/internal/fetcher"
	"pool-liquidity-alerts/internal/storage"
	"pool-liquidity-alerts/internal/window"
)

const (
	poolA = "0x00000000000000000000000000000000000000aa"
	poolB = "0x00000000000000000000000000000000000000bb"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// units returns n * 10^16, i.e. n hundredths of an 18-decimals token.
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil))
}

func metadata(addr string) fetcher.PoolMetadata {
	return fetcher.PoolMetadata{
		Address: addr,
		Token0:  fetcher.Token{Symbol: "USDC", Decimals: 18},
		Token1:  fetcher.Token{Symbol: "WETH", Decimals: 18},
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.err
}

func (r *recordingNotifier) take() []alerting.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notes
	r.notes = nil
	return out
}

// flakyStore fails window reads on demand.
type flakyStore struct {
	*storage.MemoryStore
	failReads bool
}

func (f *flakyStore) SamplesBetween(ctx context.Context, poolID string, from, to time.Time) ([]storage.Sample, error) {
	if f.failReads {
		return nil, storage.ErrUnavailable
	}
	return f.MemoryStore.SamplesBetween(ctx, poolID, from, to)
}

type harness struct {
	source   *fetcher.Static
	store    *storage.MemoryStore
	notifier *recordingNotifier
	monitor  *Monitor
}

func newHarness(t *testing.T, opts Options, store storage.SampleStore, pools ...string) *harness {
	t.Helper()
	h := &harness{
		source:   fetcher.NewStatic(),
		store:    storage.NewMemoryStore(),
		notifier: &recordingNotifier{},
	}
	if store == nil {
		store = h.store
	}
	dispatcher := alerting.NewDispatcher(h.notifier, h.store, nil, zerolog.Nop())
	h.monitor = New(opts, h.source, store, dispatcher, nil, zerolog.Nop())
	for _, addr := range pools {
		h.source.SetMetadata(metadata(addr))
		_, err := h.monitor.Register(context.Background(), PoolSpec{
			Address:            addr,
			Basis:              "a_per_b",
			PriceThreshold:     5,
			LiquidityThreshold: 5,
		})
		require.NoError(t, err)
	}
	return h
}

func defaultOptions() Options {
	return Options{Window: 24 * time.Hour, Cooldown: 3 * time.Hour, Parallelism: 4, AlertsEnabled: true}
}

func TestParseBasis(t *testing.T) {
	cases := map[string]PriceBasis{
		"a_per_b": BasisAPerB,
		"token1":  BasisAPerB,
		"B_PER_A": BasisBPerA,
		"token0":  BasisBPerA,
	}
	for in, want := range cases {
		got, err := ParseBasis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseBasis("mid")
	require.ErrorIs(t, err, ErrInvalidBasis)
}

func TestPoolSampleNormalisesDecimals(t *testing.T) {
	p := &Pool{
		Address: poolA,
		Basis:   BasisAPerB,
		Metadata: fetcher.PoolMetadata{
			Token0: fetcher.Token{Symbol: "USDC", Decimals: 6},
			Token1: fetcher.Token{Symbol: "WETH", Decimals: 18},
		},
	}
	r0 := big.NewInt(3_000_000_000_000) // 3,000,000 USDC
	r1 := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	s, err := p.Sample(fetcher.Reserves{Reserve0: r0, Reserve1: r1}, t0)
	require.NoError(t, err)
	assert.True(t, s.Price.Equal(decimal.NewFromInt(3000)), s.Price.String())
	assert.True(t, s.Liquidity.Equal(decimal.NewFromInt(3_001_000)), s.Liquidity.String())
	assert.Equal(t, "USDC", s.Token0Symbol)

	p.Basis = BasisBPerA
	s, err = p.Sample(fetcher.Reserves{Reserve0: r0, Reserve1: r1}, t0)
	require.NoError(t, err)
	assert.True(t, s.Price.Mul(decimal.NewFromInt(3000)).Round(8).Equal(decimal.NewFromInt(1)))

	_, err = p.Sample(fetcher.Reserves{Reserve0: big.NewInt(0), Reserve1: r1}, t0)
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestPoolSampleKeepsPrecisionForTinyPrices(t *testing.T) {
	p := &Pool{
		Address: poolA,
		Basis:   BasisAPerB,
		Metadata: fetcher.PoolMetadata{
			Token0: fetcher.Token{Symbol: "DUST", Decimals: 0},
			Token1: fetcher.Token{Symbol: "WHALE", Decimals: 0},
		},
	}
	e18 := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	before, err := p.Sample(fetcher.Reserves{Reserve0: big.NewInt(1000), Reserve1: e18}, t0)
	require.NoError(t, err)
	after, err := p.Sample(fetcher.Reserves{Reserve0: big.NewInt(1040), Reserve1: e18}, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, after.Price.GreaterThan(before.Price), "%s vs %s", after.Price, before.Price)

	ext := window.Aggregate(after.Price, []storage.Sample{before}, window.Price)
	require.True(t, ext.Increase.Found)
	assert.Equal(t, "4.00", ext.Increase.Change.StringFixed(2))

	e20 := new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil)
	tiny, err := p.Sample(fetcher.Reserves{Reserve0: big.NewInt(1), Reserve1: e20}, t0)
	require.NoError(t, err)
	assert.True(t, tiny.Price.Equal(decimal.New(1, -20)), tiny.Price.String())
}

func TestRegisterRejectsBadPools(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil)

	_, err := h.monitor.Register(context.Background(), PoolSpec{Address: poolA, Basis: "sideways", PriceThreshold: 5, LiquidityThreshold: 5})
	require.ErrorIs(t, err, ErrInvalidBasis)

	_, err = h.monitor.Register(context.Background(), PoolSpec{Address: poolA, Basis: "a_per_b", PriceThreshold: 5, LiquidityThreshold: 5})
	require.Error(t, err, "metadata lookup fails for unknown pool")
	assert.Empty(t, h.monitor.Pools())
}

func TestEndToEndSingleBreach(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA)
	h.source.Push(poolA, units(100), units(100)) // price 1.00
	h.source.Push(poolA, units(106), units(100)) // price 1.06, liquidity +3%

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))
	assert.Empty(t, h.notifier.take())

	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(time.Minute)))
	notes := h.notifier.take()
	require.Len(t, notes, 1)
	note := notes[0]
	assert.Equal(t, alerting.KindBreach, note.Kind)
	assert.Equal(t, alerting.MetricPrice, note.Metric)
	assert.Equal(t, alerting.DirectionIncreased, note.Direction)
	assert.Equal(t, "6.00", note.ChangePct.StringFixed(2))
	assert.Equal(t, "USDC/WETH", note.Pair)
	assert.Equal(t, "USDC per WETH", note.Basis)
	assert.Equal(t, t0, note.ExtremeAt)

	price, liquidity := h.monitor.Pools()[0].States()
	assert.Equal(t, alerting.StateAlerting, price)
	assert.Equal(t, alerting.StateNormal, liquidity)

	alerts, err := h.store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	samples, err := h.store.RecentSamples(ctx, poolA, 10)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestCooldownAcrossTicks(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(106), units(100))
	h.source.Push(poolA, units(107), units(100))

	ctx := context.Background()
	for _, at := range []time.Time{t0, t0.Add(time.Minute), t0.Add(2 * time.Minute), t0.Add(time.Hour)} {
		require.NoError(t, h.monitor.Cycle(ctx, at))
	}
	require.Len(t, h.notifier.take(), 1, "breaches inside the cooldown are suppressed")

	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(3*time.Hour+time.Minute)))
	notes := h.notifier.take()
	require.Len(t, notes, 1)
	assert.True(t, notes[0].Repeat)
}

func TestRecoveryAfterWindowExpires(t *testing.T) {
	opts := defaultOptions()
	opts.Window = 10 * time.Minute
	h := newHarness(t, opts, nil, poolA)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(106), units(100))

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))
	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(time.Minute)))
	require.Len(t, h.notifier.take(), 1)

	// every earlier sample has been pruned; the change collapses to zero
	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(30*time.Minute)))
	notes := h.notifier.take()
	require.Len(t, notes, 1)
	assert.Equal(t, alerting.KindRecovery, notes[0].Kind)
	assert.Empty(t, notes[0].Direction)

	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(31*time.Minute)))
	assert.Empty(t, h.notifier.take(), "recovery fires once")
}

func TestPriceAndLiquidityAreIndependent(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(110), units(110)) // price flat, liquidity +10%

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))
	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(time.Minute)))

	notes := h.notifier.take()
	require.Len(t, notes, 1)
	assert.Equal(t, alerting.MetricLiquidity, notes[0].Metric)
	assert.Empty(t, notes[0].Basis)

	price, liquidity := h.monitor.Pools()[0].States()
	assert.Equal(t, alerting.StateNormal, price)
	assert.Equal(t, alerting.StateAlerting, liquidity)
}

func TestSourceFailureIsIsolated(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA, poolB)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolB, units(100), units(100))
	h.source.Fail(poolA, errors.New("rpc timeout"))

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))

	a, err := h.store.RecentSamples(ctx, poolA, 10)
	require.NoError(t, err)
	assert.Empty(t, a)
	b, err := h.store.RecentSamples(ctx, poolB, 10)
	require.NoError(t, err)
	assert.Len(t, b, 1)

	_, err = h.monitor.TickPool(ctx, h.monitor.Pools()[0], t0)
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestWindowReadFailureUsesLastGoodWindow(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	h := newHarness(t, defaultOptions(), store, poolA)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(106), units(100))

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))

	store.failReads = true
	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(time.Minute)))

	notes := h.notifier.take()
	require.Len(t, notes, 1, "stale window still carries the 1.00 baseline")
	assert.Equal(t, alerting.DirectionIncreased, notes[0].Direction)
}

func TestNotificationFailureStillTransitions(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA)
	h.notifier.err = errors.New("telegram down")
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(90), units(100))

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))
	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(time.Minute)))

	notes := h.notifier.take()
	require.Len(t, notes, 1)
	assert.Equal(t, alerting.DirectionDecreased, notes[0].Direction)
	price, _ := h.monitor.Pools()[0].States()
	assert.Equal(t, alerting.StateAlerting, price)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA)
	h.source.Push(poolA, units(100), units(100))
	pool := h.monitor.Pools()[0]

	pool.mu.Lock()
	_, err := h.monitor.TickPool(context.Background(), pool, t0)
	pool.mu.Unlock()
	require.ErrorIs(t, err, ErrTickInProgress)

	_, err = h.monitor.TickPool(context.Background(), pool, t0)
	require.NoError(t, err)
}

func TestAlertsDisabledKeepsState(t *testing.T) {
	opts := defaultOptions()
	opts.AlertsEnabled = false
	h := newHarness(t, opts, nil, poolA)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(120), units(100))

	ctx := context.Background()
	require.NoError(t, h.monitor.Cycle(ctx, t0))
	require.NoError(t, h.monitor.Cycle(ctx, t0.Add(time.Minute)))
	assert.Empty(t, h.notifier.take())
	price, _ := h.monitor.Pools()[0].States()
	assert.Equal(t, alerting.StateAlerting, price)
}

func TestSampledLogOmitsMissingExtremes(t *testing.T) {
	h := newHarness(t, defaultOptions(), nil, poolA)
	h.source.Push(poolA, units(100), units(100))
	h.source.Push(poolA, units(106), units(100)) // price and liquidity both rise

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(context.Background())
	pool := h.monitor.Pools()[0]

	_, err := h.monitor.TickPool(ctx, pool, t0)
	require.NoError(t, err)
	first := buf.String()
	assert.Contains(t, first, `"price_max_increase_pct":"0.0000"`)
	assert.NotContains(t, first, "_at\"")
	buf.Reset()

	_, err = h.monitor.TickPool(ctx, pool, t0.Add(time.Minute))
	require.NoError(t, err)
	second := buf.String()
	assert.Contains(t, second, `"price_max_increase_at"`)
	assert.Contains(t, second, `"liquidity_max_increase_at"`)
	assert.NotContains(t, second, `"price_max_decrease_at"`)
	assert.NotContains(t, second, `"liquidity_max_decrease_at"`)
	assert.NotContains(t, second, "0001-01-01")
}
