package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Static serves fixed metadata and a queue of reserve reads per pool. It
// drives simulate-alert and package tests without an RPC endpoint.
type Static struct {
	mu       sync.Mutex
	meta     map[string]PoolMetadata
	reserves map[string][]Reserves
	errs     map[string]error
	now      func() time.Time
}

// NewStatic returns an empty static source.
func NewStatic() *Static {
	return &Static{
		meta:     make(map[string]PoolMetadata),
		reserves: make(map[string][]Reserves),
		errs:     make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetMetadata registers metadata for a pool.
func (s *Static) SetMetadata(meta PoolMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[strings.ToLower(meta.Address)] = meta
}

// Push queues reserve reads. The last queued read repeats once the queue drains.
func (s *Static) Push(pool string, r0, r1 *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(pool)
	s.reserves[key] = append(s.reserves[key], Reserves{Reserve0: r0, Reserve1: r1})
}

// Fail makes every read for pool return err until cleared with a nil error.
func (s *Static) Fail(pool string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(pool)
	if err == nil {
		delete(s.errs, key)
		return
	}
	s.errs[key] = err
}

// Metadata implements ReserveSource.
func (s *Static) Metadata(_ context.Context, pool string) (PoolMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(pool)
	if err := s.errs[key]; err != nil {
		return PoolMetadata{}, err
	}
	meta, ok := s.meta[key]
	if !ok {
		return PoolMetadata{}, fmt.Errorf("no metadata for pool %s", pool)
	}
	return meta, nil
}

// Reserves implements ReserveSource.
func (s *Static) Reserves(_ context.Context, pool string) (Reserves, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(pool)
	if err := s.errs[key]; err != nil {
		return Reserves{}, err
	}
	queue := s.reserves[key]
	if len(queue) == 0 {
		return Reserves{}, fmt.Errorf("no reserves queued for pool %s", pool)
	}
	out := queue[0]
	if len(queue) > 1 {
		s.reserves[key] = queue[1:]
	}
	out.BlockTime = s.now()
	return out, nil
}

// ReservesAt ignores the block and behaves like Reserves, stamping the block number.
func (s *Static) ReservesAt(ctx context.Context, pool string, block uint64) (Reserves, error) {
	out, err := s.Reserves(ctx, pool)
	if err != nil {
		return Reserves{}, err
	}
	out.BlockNumber = block
	return out, nil
}

var _ ReserveSource = (*Static)(nil)
