package monitor

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pool-liquidity-alerts/internal/alerting"
	"pool-liquidity-alerts/internal/fetcher"
	"pool-liquidity-alerts/internal/storage"
)

var (
	// ErrSourceUnavailable marks a failed or degenerate reserve read. The
	// pool is skipped for the current tick only.
	ErrSourceUnavailable = errors.New("reserve source unavailable")
	// ErrInvalidBasis is returned for an unknown price basis at registration.
	ErrInvalidBasis = errors.New("invalid price basis")
	// ErrTickInProgress is returned when a tick for the same pool is still running.
	ErrTickInProgress = errors.New("tick already in progress")
)

// PriceBasis selects which reserve ratio is reported as the price.
type PriceBasis string

const (
	// BasisAPerB is reserve0 / reserve1: token0 units per token1.
	BasisAPerB PriceBasis = "a_per_b"
	// BasisBPerA is reserve1 / reserve0: token1 units per token0.
	BasisBPerA PriceBasis = "b_per_a"
)

// ParseBasis accepts the canonical names and the token0/token1 aliases, where
// the alias names the token being priced.
func ParseBasis(s string) (PriceBasis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "a_per_b", "token1":
		return BasisAPerB, nil
	case "b_per_a", "token0":
		return BasisBPerA, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBasis, s)
	}
}

// priceDigits is the number of significant digits kept in a derived price.
const priceDigits = 24

// Price derives the price from normalised reserves. The quotient keeps
// priceDigits significant digits whatever its magnitude, so prices of tiny
// or huge ratios still resolve sub-percent moves.
func (b PriceBasis) Price(reserve0, reserve1 decimal.Decimal) decimal.Decimal {
	if b == BasisBPerA {
		return divide(reserve1, reserve0)
	}
	return divide(reserve0, reserve1)
}

func divide(num, den decimal.Decimal) decimal.Decimal {
	places := priceDigits - (magnitude(num) - magnitude(den))
	if places < int(decimal.DivisionPrecision) {
		places = int(decimal.DivisionPrecision)
	}
	return num.DivRound(den, int32(places))
}

// magnitude is the decimal order of d, offset by a constant.
func magnitude(d decimal.Decimal) int {
	return d.NumDigits() + int(d.Exponent())
}

// Label renders "quote per base" for messages.
func (b PriceBasis) Label(meta fetcher.PoolMetadata) string {
	if b == BasisBPerA {
		return meta.Token1.Symbol + " per " + meta.Token0.Symbol
	}
	return meta.Token0.Symbol + " per " + meta.Token1.Symbol
}

// PoolSpec registers one pool with its resolved thresholds (percent).
type PoolSpec struct {
	Address            string
	Name               string
	Basis              string
	PriceThreshold     float64
	LiquidityThreshold float64
}

// Pool is a registered pool with its alert state. The signals and the cached
// window are only touched while mu is held.
type Pool struct {
	Address            string
	Name               string
	Basis              PriceBasis
	Metadata           fetcher.PoolMetadata
	PriceThreshold     decimal.Decimal
	LiquidityThreshold decimal.Decimal

	mu         sync.Mutex
	price      alerting.Signal
	liquidity  alerting.Signal
	lastWindow []storage.Sample
}

// Label is the name used in logs and metrics.
func (p *Pool) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

// States reports the current price and liquidity alert states.
func (p *Pool) States() (price, liquidity alerting.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.price.State(), p.liquidity.State()
}

// Sample converts a raw reserve read into a stored sample. Both metrics come
// from the same read. A zero reserve or a non-positive price is a degenerate
// read.
func (p *Pool) Sample(r fetcher.Reserves, at time.Time) (storage.Sample, error) {
	if isZero(r.Reserve0) || isZero(r.Reserve1) {
		return storage.Sample{}, fmt.Errorf("%w: zero reserve for pool %s", ErrSourceUnavailable, p.Address)
	}
	reserve0 := decimal.NewFromBigInt(r.Reserve0, -p.Metadata.Token0.Decimals)
	reserve1 := decimal.NewFromBigInt(r.Reserve1, -p.Metadata.Token1.Decimals)

	price := p.Basis.Price(reserve0, reserve1)
	if price.Sign() <= 0 {
		return storage.Sample{}, fmt.Errorf("%w: price underflow for pool %s", ErrSourceUnavailable, p.Address)
	}

	return storage.Sample{
		PoolID:       p.Address,
		Timestamp:    at.UTC(),
		Token0Symbol: p.Metadata.Token0.Symbol,
		Token1Symbol: p.Metadata.Token1.Symbol,
		Price:        price,
		Liquidity:    reserve0.Add(reserve1),
	}, nil
}

// staleWindow returns the last good window trimmed to since, plus current.
func (p *Pool) staleWindow(since time.Time, current storage.Sample) []storage.Sample {
	out := make([]storage.Sample, 0, len(p.lastWindow)+1)
	for _, s := range p.lastWindow {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return append(out, current)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() <= 0
}
