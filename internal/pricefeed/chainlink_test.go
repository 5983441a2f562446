package pricefeed

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

type fakeAggregator struct {
	answer   *big.Int
	decimals uint8
	calls    map[string]int
}

func (f *fakeAggregator) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	for name, method := range aggregatorABI.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		f.calls[name]++
		switch name {
		case "decimals":
			return method.Outputs.Pack(f.decimals)
		case "latestRoundData":
			return method.Outputs.Pack(big.NewInt(7), f.answer, big.NewInt(0), big.NewInt(0), big.NewInt(7))
		}
	}
	return nil, errors.New("unknown selector")
}

func TestChainlinkScalesAnswer(t *testing.T) {
	agg := &fakeAggregator{answer: big.NewInt(15_012_345_678), decimals: 8}
	c := NewChainlink(ChainlinkOptions{Feeds: map[string]string{"SOL": "0x4ffC43a60e009B551865A93d232E33Fce9f01507"}}, noopLogger()).WithCaller(agg)

	price, err := c.Price(context.Background(), "sol")
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("150.12345678")) {
		t.Fatalf("unexpected price %s", price)
	}

	if _, err := c.Price(context.Background(), "SOL"); err != nil {
		t.Fatalf("second price: %v", err)
	}
	if agg.calls["decimals"] != 1 {
		t.Fatalf("decimals should be cached, called %d times", agg.calls["decimals"])
	}
}

func TestChainlinkUnknownToken(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{}, noopLogger()).WithCaller(&fakeAggregator{})
	if _, err := c.Price(context.Background(), "BONK"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestChainlinkNonPositiveAnswer(t *testing.T) {
	agg := &fakeAggregator{answer: big.NewInt(0), decimals: 8}
	c := NewChainlink(ChainlinkOptions{Feeds: map[string]string{"X": "0x01"}}, noopLogger()).WithCaller(agg)
	if _, err := c.Price(context.Background(), "X"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestChainlinkMissingRPC(t *testing.T) {
	c := NewChainlink(ChainlinkOptions{Feeds: map[string]string{"X": "0x01"}}, noopLogger())
	if _, err := c.Price(context.Background(), "X"); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
}

func TestStaticSequence(t *testing.T) {
	s := NewStatic()
	s.Set("T", decimal.NewFromInt(1), decimal.NewFromInt(2))

	for i, want := range []int64{1, 2, 2} {
		got, err := s.Price(context.Background(), "T")
		if err != nil || !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("call %d: got %s %v", i, got, err)
		}
	}
	if s.Calls("T") != 3 {
		t.Fatalf("expected 3 calls, got %d", s.Calls("T"))
	}
	if _, err := s.Price(context.Background(), "missing"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	boom := errors.New("down")
	s.Fail("T", boom)
	if _, err := s.Price(context.Background(), "T"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
}
