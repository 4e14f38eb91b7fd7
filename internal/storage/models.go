package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample is one reserve observation for one pool. Price and Liquidity always
// come from the same reserve read.
type Sample struct {
	PoolID       string
	Timestamp    time.Time
	Token0Symbol string
	Token1Symbol string
	Price        decimal.Decimal
	Liquidity    decimal.Decimal

	// Precomputed deltas; left nil at write time since extremes are derived
	// from the window on every tick.
	PriceChange     *decimal.Decimal
	LiquidityChange *decimal.Decimal
}

// AlertRecord captures an emitted alert transition for auditing.
type AlertRecord struct {
	ID           int64
	PoolID       string
	Metric       string
	Kind         string
	Direction    string
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Value        decimal.Decimal
	FiredAt      time.Time
}

// toMillis and fromMillis convert between persisted epoch milliseconds and time.Time.
func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
