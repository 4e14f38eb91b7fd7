// Package window computes the largest directional percentage changes of a
// current value relative to the samples of a trailing time window.
package window

import (
	"time"

	"github.com/shopspring/decimal"

	"pool-liquidity-alerts/internal/storage"
)

// DefaultSize is the lookback used when none is configured.
const DefaultSize = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Accessor picks the metric aggregated from a sample.
type Accessor func(storage.Sample) decimal.Decimal

// Price and Liquidity are the two metrics tracked per pool.
var (
	Price     Accessor = func(s storage.Sample) decimal.Decimal { return s.Price }
	Liquidity Accessor = func(s storage.Sample) decimal.Decimal { return s.Liquidity }
)

// Extreme is one directional extreme. Found is false when no sample moved in
// that direction, in which case Change is zero.
type Extreme struct {
	Change decimal.Decimal
	At     time.Time
	Found  bool
}

// Extremes holds the largest increase (>= 0) and decrease (<= 0).
type Extremes struct {
	Increase Extreme
	Decrease Extreme
}

// Directional returns the extreme with the larger magnitude; an exact tie
// resolves to the increase.
func (e Extremes) Directional() Extreme {
	if e.Increase.Change.Abs().GreaterThanOrEqual(e.Decrease.Change.Abs()) {
		return e.Increase
	}
	return e.Decrease
}

// PercentChange returns ((current - past) / past) * 100. ok is false when past is zero.
func PercentChange(current, past decimal.Decimal) (pct decimal.Decimal, ok bool) {
	if past.IsZero() {
		return decimal.Zero, false
	}
	return current.Sub(past).Div(past).Mul(hundred), true
}

// Aggregate scans samples and reports the extremes of current relative to each
// of them. Samples whose metric is zero are skipped. Sample order does not
// matter; among equal extremes any one may be reported.
func Aggregate(current decimal.Decimal, samples []storage.Sample, value Accessor) Extremes {
	var out Extremes
	out.Increase.Change = decimal.Zero
	out.Decrease.Change = decimal.Zero

	for _, s := range samples {
		pct, ok := PercentChange(current, value(s))
		if !ok {
			continue
		}
		switch pct.Sign() {
		case 1:
			if !out.Increase.Found || pct.GreaterThan(out.Increase.Change) {
				out.Increase = Extreme{Change: pct, At: s.Timestamp, Found: true}
			}
		case -1:
			if !out.Decrease.Found || pct.LessThan(out.Decrease.Change) {
				out.Decrease = Extreme{Change: pct, At: s.Timestamp, Found: true}
			}
		}
	}
	return out
}
