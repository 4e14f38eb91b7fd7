package fetcher

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPair = "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"

func TestChainMissingConfig(t *testing.T) {
	c := NewChain(ChainOptions{}, zerolog.Nop())
	_, err := c.Reserves(context.Background(), testPair)
	require.ErrorIs(t, err, ErrNotConfigured)

	_, err = c.Metadata(context.Background(), testPair)
	require.ErrorIs(t, err, ErrNotConfigured)

	c = NewChain(ChainOptions{RPCURL: "http://localhost"}, zerolog.Nop())
	_, err = c.Reserves(context.Background(), "not-an-address")
	require.Error(t, err)
}

func TestDecodeReserves(t *testing.T) {
	r0, _ := new(big.Int).SetString("45000000000000", 10)
	r1, _ := new(big.Int).SetString("15000000000000000000000", 10)
	packed, err := pairABI.Methods["getReserves"].Outputs.Pack(r0, r1, uint32(1700000000))
	require.NoError(t, err)

	got, err := decodeReserves(packed)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Reserve0.Cmp(r0))
	assert.Equal(t, 0, got.Reserve1.Cmp(r1))

	_, err = decodeReserves([]byte{0x01})
	require.Error(t, err)
}

func TestDecodeDecimals(t *testing.T) {
	packed, err := erc20ABI.Methods["decimals"].Outputs.Pack(uint8(6))
	require.NoError(t, err)

	got, err := decodeDecimals(packed)
	require.NoError(t, err)
	assert.Equal(t, int32(6), got)

	_, err = decodeDecimals([]byte{0x01})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode decimals")
	assert.NotNil(t, errors.Unwrap(err), "abi error is wrapped")
}

func TestChainBreakerOpensAfterFailures(t *testing.T) {
	c := NewChain(ChainOptions{RPCURL: "http://localhost", BreakerFailures: 2}, zerolog.Nop())
	c.client = &ethclient.Client{} // never dialled; fn below does not use it

	boom := errors.New("rpc down")
	calls := 0
	fn := func(context.Context, *ethclient.Client) error {
		calls++
		return boom
	}

	require.ErrorIs(t, c.call(context.Background(), fn), boom)
	require.ErrorIs(t, c.call(context.Background(), fn), boom)
	err := c.call(context.Background(), fn)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls)
}

func TestStaticSourceQueue(t *testing.T) {
	s := NewStatic()
	s.Push(testPair, big.NewInt(1), big.NewInt(2))
	s.Push(testPair, big.NewInt(3), big.NewInt(4))

	first, err := s.Reserves(context.Background(), testPair)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Reserve0.Int64())

	for i := 0; i < 2; i++ {
		r, err := s.Reserves(context.Background(), testPair)
		require.NoError(t, err)
		assert.Equal(t, int64(3), r.Reserve0.Int64(), "last read repeats")
	}

	s.Fail(testPair, errors.New("down"))
	_, err = s.Reserves(context.Background(), testPair)
	require.Error(t, err)
}
