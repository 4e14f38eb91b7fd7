package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	pairABIJSON = `[
{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

	erc20ABIJSON = `[
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}]`
)

var (
	pairABI  abi.ABI
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	pairABI = parsed

	parsed, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// ChainOptions parameterise the on-chain reserve source.
type ChainOptions struct {
	RPCURL          string
	Timeout         time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Chain reads UniswapV2-style pair contracts over Ethereum RPC. All calls share
// one rate limiter and one circuit breaker.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

// NewChain builds a new reserve source.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Chain{
		opts:    opts,
		logger:  logger.With().Str("component", "chain_source").Logger(),
		limiter: rate.NewLimiter(limit, burst),
	}

	failures := opts.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ethereum-rpc",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// caller cancellation says nothing about RPC health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("rpc circuit breaker state changed")
		},
	})
	return c
}

// Metadata reads token addresses, symbols and decimals for a pair.
func (c *Chain) Metadata(ctx context.Context, pool string) (PoolMetadata, error) {
	if err := c.checkConfig(pool); err != nil {
		return PoolMetadata{}, err
	}
	pair := common.HexToAddress(pool)

	token0, err := c.callAddress(ctx, pair, "token0")
	if err != nil {
		return PoolMetadata{}, err
	}
	token1, err := c.callAddress(ctx, pair, "token1")
	if err != nil {
		return PoolMetadata{}, err
	}

	meta := PoolMetadata{Address: strings.ToLower(pair.Hex())}
	if meta.Token0, err = c.token(ctx, token0); err != nil {
		return PoolMetadata{}, err
	}
	if meta.Token1, err = c.token(ctx, token1); err != nil {
		return PoolMetadata{}, err
	}
	return meta, nil
}

// Reserves reads the pair's reserves at the latest block.
func (c *Chain) Reserves(ctx context.Context, pool string) (Reserves, error) {
	return c.reservesAt(ctx, pool, nil)
}

// ReservesAt reads the pair's reserves at a historical block.
func (c *Chain) ReservesAt(ctx context.Context, pool string, block uint64) (Reserves, error) {
	return c.reservesAt(ctx, pool, new(big.Int).SetUint64(block))
}

// LatestBlock returns the current head block number.
func (c *Chain) LatestBlock(ctx context.Context) (uint64, error) {
	if c.opts.RPCURL == "" {
		return 0, fmt.Errorf("ethereum rpc url: %w", ErrNotConfigured)
	}
	var head uint64
	err := c.call(ctx, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		head, err = client.BlockNumber(ctx)
		return err
	})
	return head, err
}

func (c *Chain) reservesAt(ctx context.Context, pool string, block *big.Int) (Reserves, error) {
	if err := c.checkConfig(pool); err != nil {
		return Reserves{}, err
	}
	pair := common.HexToAddress(pool)

	// Pin the block first so the reserves and the reported block agree.
	var header *types.Header
	err := c.call(ctx, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, block)
		return err
	})
	if err != nil {
		return Reserves{}, fmt.Errorf("fetch block header: %w", err)
	}

	payload, err := pairABI.Pack("getReserves")
	if err != nil {
		return Reserves{}, err
	}
	var res []byte
	err = c.call(ctx, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		res, err = client.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: payload}, header.Number)
		return err
	})
	if err != nil {
		return Reserves{}, fmt.Errorf("call getReserves: %w", err)
	}

	out, err := decodeReserves(res)
	if err != nil {
		return Reserves{}, err
	}
	out.BlockNumber = header.Number.Uint64()
	out.BlockTime = time.Unix(int64(header.Time), 0).UTC()
	return out, nil
}

func decodeReserves(res []byte) (Reserves, error) {
	outputs, err := pairABI.Unpack("getReserves", res)
	if err != nil {
		return Reserves{}, fmt.Errorf("decode getReserves: %w", err)
	}
	if len(outputs) != 3 {
		return Reserves{}, errors.New("unexpected getReserves response")
	}
	r0, ok0 := outputs[0].(*big.Int)
	r1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return Reserves{}, errors.New("failed to decode getReserves output")
	}
	return Reserves{Reserve0: r0, Reserve1: r1}, nil
}

func (c *Chain) token(ctx context.Context, addr common.Address) (Token, error) {
	tok := Token{Address: strings.ToLower(addr.Hex())}

	payload, err := erc20ABI.Pack("decimals")
	if err != nil {
		return Token{}, err
	}
	res, err := c.callContract(ctx, addr, payload)
	if err != nil {
		return Token{}, fmt.Errorf("call decimals on %s: %w", addr.Hex(), err)
	}
	if tok.Decimals, err = decodeDecimals(res); err != nil {
		return Token{}, fmt.Errorf("token %s: %w", addr.Hex(), err)
	}

	tok.Symbol = shortAddress(addr)
	payload, err = erc20ABI.Pack("symbol")
	if err != nil {
		return Token{}, err
	}
	res, err = c.callContract(ctx, addr, payload)
	if err != nil {
		return Token{}, fmt.Errorf("call symbol on %s: %w", addr.Hex(), err)
	}
	// Some tokens return bytes32 symbols; keep the address label for those.
	if outputs, err := erc20ABI.Unpack("symbol", res); err == nil && len(outputs) == 1 {
		if s, ok := outputs[0].(string); ok && s != "" {
			tok.Symbol = s
		}
	} else {
		c.logger.Debug().Str("token", tok.Address).Msg("symbol not decodable as string")
	}
	return tok, nil
}

func decodeDecimals(res []byte) (int32, error) {
	outputs, err := erc20ABI.Unpack("decimals", res)
	if err != nil {
		return 0, fmt.Errorf("decode decimals: %w", err)
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", outputs[0])
	}
	return int32(decimals), nil
}

func (c *Chain) callAddress(ctx context.Context, to common.Address, method string) (common.Address, error) {
	payload, err := pairABI.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	res, err := c.callContract(ctx, to, payload)
	if err != nil {
		return common.Address{}, fmt.Errorf("call %s: %w", method, err)
	}
	outputs, err := pairABI.Unpack(method, res)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return common.Address{}, fmt.Errorf("unexpected %s response", method)
	}
	addr, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("failed to decode %s output", method)
	}
	return addr, nil
}

func (c *Chain) callContract(ctx context.Context, to common.Address, payload []byte) ([]byte, error) {
	var res []byte
	err := c.call(ctx, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		res, err = client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
		return err
	})
	return res, err
}

// call runs fn behind the rate limiter, the circuit breaker and the request timeout.
func (c *Chain) call(ctx context.Context, fn func(context.Context, *ethclient.Client) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		client, err := c.getClient(callCtx)
		if err != nil {
			return nil, err
		}
		return nil, fn(callCtx, client)
	})
	return err
}

func (c *Chain) checkConfig(pool string) error {
	if c.opts.RPCURL == "" {
		return fmt.Errorf("ethereum rpc url: %w", ErrNotConfigured)
	}
	if !common.IsHexAddress(pool) {
		return fmt.Errorf("invalid pool address %q", pool)
	}
	return nil
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

// Close releases the RPC connection.
func (c *Chain) Close() {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "…" + hex[len(hex)-4:]
}

var _ ReserveSource = (*Chain)(nil)
