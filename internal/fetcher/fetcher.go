package fetcher

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrNotConfigured is returned when the source lacks an RPC endpoint.
var ErrNotConfigured = errors.New("reserve source not configured")

// Token describes one side of a pair.
type Token struct {
	Address  string
	Symbol   string
	Decimals int32
}

// PoolMetadata is read once per pool at registration.
type PoolMetadata struct {
	Address string
	Token0  Token
	Token1  Token
}

// Pair renders the SYM0/SYM1 label.
func (m PoolMetadata) Pair() string {
	return m.Token0.Symbol + "/" + m.Token1.Symbol
}

// Reserves is a single raw getReserves read.
type Reserves struct {
	Reserve0    *big.Int
	Reserve1    *big.Int
	BlockNumber uint64
	BlockTime   time.Time
}

// ReserveSource reads pool state from the chain.
type ReserveSource interface {
	Metadata(ctx context.Context, pool string) (PoolMetadata, error)
	Reserves(ctx context.Context, pool string) (Reserves, error)
	// ReservesAt reads reserves at a historical block; requires an archive node.
	ReservesAt(ctx context.Context, pool string, block uint64) (Reserves, error)
}
