package pricefeed

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
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"internalType":"uint80","name":"roundId","type":"uint80"},
    {"internalType":"int256","name":"answer","type":"int256"},
    {"internalType":"uint256","name":"startedAt","type":"uint256"},
    {"internalType":"uint256","name":"updatedAt","type":"uint256"},
    {"internalType":"uint80","name":"answeredInRound","type":"uint80"}
  ],"stateMutability":"view","type":"function"}
]`
)

var (
	aggregatorABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain provider.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads USD prices from Chainlink aggregator contracts.
type Chainlink struct {
	opts      ChainlinkOptions
	feeds     map[string]common.Address
	logger    zerolog.Logger
	caller    ethereum.ContractCaller
	clientMux sync.Mutex

	decMu    sync.Mutex
	decimals map[common.Address]int32
}

// NewChainlink builds a provider. Token keys match case-insensitively.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	feeds := make(map[string]common.Address, len(opts.Feeds))
	for token, addr := range opts.Feeds {
		feeds[strings.ToLower(token)] = common.HexToAddress(addr)
	}
	return &Chainlink{
		opts:     opts,
		feeds:    feeds,
		logger:   logger.With().Str("component", "chainlink").Logger(),
		decimals: make(map[common.Address]int32),
	}
}

// WithCaller replaces the RPC client, mainly for tests.
func (c *Chainlink) WithCaller(caller ethereum.ContractCaller) *Chainlink {
	c.caller = caller
	return c
}

// Price implements Provider.
func (c *Chainlink) Price(ctx context.Context, token string) (decimal.Decimal, error) {
	feed, ok := c.feeds[strings.ToLower(strings.TrimSpace(token))]
	if !ok {
		return decimal.Decimal{}, ErrNoPrice
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := c.getCaller(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	scale, err := c.feedDecimals(ctx, caller, feed)
	if err != nil {
		return decimal.Decimal{}, err
	}

	outputs, err := c.call(ctx, caller, feed, "latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, errors.New("unexpected latestRoundData response")
	}
	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, ErrNoPrice
	}

	return decimal.NewFromBigInt(answer, -scale), nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, caller ethereum.ContractCaller, feed common.Address) (int32, error) {
	c.decMu.Lock()
	scale, ok := c.decimals[feed]
	c.decMu.Unlock()
	if ok {
		return scale, nil
	}

	outputs, err := c.call(ctx, caller, feed, "decimals")
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	raw, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.decMu.Lock()
	c.decimals[feed] = int32(raw)
	c.decMu.Unlock()
	return int32(raw), nil
}

func (c *Chainlink) call(ctx context.Context, caller ethereum.ContractCaller, feed common.Address, method string) ([]interface{}, error) {
	payload, err := aggregatorABI.Pack(method)
	if err != nil {
		return nil, err
	}
	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, feed.Hex(), err)
	}
	return aggregatorABI.Unpack(method, res)
}

func (c *Chainlink) getCaller(ctx context.Context) (ethereum.ContractCaller, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.caller != nil {
		return c.caller, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.caller = client
	return client, nil
}

var _ Provider = (*Chainlink)(nil)
