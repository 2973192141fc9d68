package venue

import (
	"context"
	"math"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"

	"plan-executor/internal/plan"
)

func TestSplitSymbol(t *testing.T) {
	cases := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"ETH/USDT", "ETH", "USDT"},
		{"ETHUSDT", "ETH", "USDT"},
		{"btc/usdc", "BTC", "USDC"},
		{"SOLUSDC", "SOL", "USDC"},
		{"ETH/USDT:USDT", "ETH", "USDT"},
		{"DOGE", "DOGE", "USDT"},
	}
	for _, tc := range cases {
		base, quote := splitSymbol(tc.symbol)
		if base != tc.base || quote != tc.quote {
			t.Errorf("splitSymbol(%q) = (%s, %s), want (%s, %s)", tc.symbol, base, quote, tc.base, tc.quote)
		}
	}
}

func TestCexVenue_SimulateTradeSell(t *testing.T) {
	client := &mockCexClient{lastPrice: 3300}
	v := NewCexVenue("binance", client, nil)

	ins := plan.CexTrade{Venue: "binance", TradeType: "market", Side: "sell", Symbol: "ETHUSDT", Amount: 1}
	delta, err := v.SimulateTrade(context.Background(), ins)
	if err != nil {
		t.Fatalf("SimulateTrade returned error: %v", err)
	}

	if got := delta.Get("binance", "ETH"); got != -1 {
		t.Errorf("expected ETH -1, got %f", got)
	}
	if got := delta.Get("binance", "USDT"); math.Abs(got-3300) > 1e-9 {
		t.Errorf("expected USDT +3300, got %f", got)
	}
	if len(client.calls) != 1 || client.calls[0] != "FetchTicker" {
		t.Errorf("simulation must only fetch ticker, calls=%v", client.calls)
	}
}

func TestCexVenue_ExecuteTradeUsesFillDetails(t *testing.T) {
	client := &mockCexClient{
		lastPrice: 3300,
		order: ccxt.Order{
			Filled:  floatPtr(0.9),
			Average: floatPtr(3310),
		},
	}
	v := NewCexVenue("binance", client, nil)

	ins := plan.CexTrade{Venue: "binance", TradeType: "market", Side: "sell", Symbol: "ETH/USDT", Amount: 1}
	delta, err := v.ExecuteTrade(context.Background(), ins)
	if err != nil {
		t.Fatalf("ExecuteTrade returned error: %v", err)
	}

	if len(client.calls) != 1 || client.calls[0] != "CreateMarketOrder" {
		t.Fatalf("unexpected client calls: %v", client.calls)
	}
	if got := delta.Get("binance", "ETH"); math.Abs(got-(-0.9)) > 1e-9 {
		t.Errorf("expected filled ETH -0.9, got %f", got)
	}
	if got := delta.Get("binance", "USDT"); math.Abs(got-0.9*3310) > 1e-6 {
		t.Errorf("expected USDT %f, got %f", 0.9*3310, got)
	}
}

func TestCexVenue_ExecuteTradeBuyFallsBackToTickerPrice(t *testing.T) {
	client := &mockCexClient{lastPrice: 50000, order: ccxt.Order{}}
	v := NewCexVenue("binance", client, nil)

	ins := plan.CexTrade{Venue: "binance", TradeType: "market", Side: "buy", Symbol: "BTC/USDT", Amount: 0.1}
	delta, err := v.ExecuteTrade(context.Background(), ins)
	if err != nil {
		t.Fatalf("ExecuteTrade returned error: %v", err)
	}

	if got := delta.Get("binance", "BTC"); math.Abs(got-0.1) > 1e-9 {
		t.Errorf("expected BTC +0.1, got %f", got)
	}
	if got := delta.Get("binance", "USDT"); math.Abs(got-(-5000)) > 1e-6 {
		t.Errorf("expected USDT -5000, got %f", got)
	}
}

func TestCexVenue_ExecuteTradeRejectsUnknownType(t *testing.T) {
	v := NewCexVenue("binance", &mockCexClient{lastPrice: 100}, nil)
	ins := plan.CexTrade{Venue: "binance", TradeType: "twap", Side: "buy", Symbol: "BTC/USDT", Amount: 1}
	if _, err := v.ExecuteTrade(context.Background(), ins); err == nil {
		t.Fatalf("expected error for unsupported order type")
	}
}

func TestCexVenue_ExecuteTransferWithdraws(t *testing.T) {
	client := &mockCexClient{}
	v := NewCexVenue("binance", client, nil)

	ins := plan.WalletTransfer{FromVenue: "binance", ToVenue: "onchain_wallet", Token: "USDT", Amount: 1000}
	delta, err := v.ExecuteTransfer(context.Background(), ins)
	if err != nil {
		t.Fatalf("ExecuteTransfer returned error: %v", err)
	}

	if len(client.calls) != 1 || client.calls[0] != "Withdraw" {
		t.Fatalf("unexpected client calls: %v", client.calls)
	}
	if got := delta.Get("binance", "USDT"); got != -1000 {
		t.Errorf("expected source USDT -1000, got %f", got)
	}
	if got := delta.Get("onchain_wallet", "USDT"); got != 1000 {
		t.Errorf("expected destination USDT +1000, got %f", got)
	}
}

func TestTransferDelta_SingleEndpoint(t *testing.T) {
	delta := transferDelta(plan.WalletTransfer{ToVenue: "onchain_wallet", Token: "ETH", Amount: 2})
	if got := delta.Get("onchain_wallet", "ETH"); got != 2 {
		t.Errorf("expected destination ETH +2, got %f", got)
	}
	if len(delta) != 1 {
		t.Errorf("expected single venue in delta, got %d", len(delta))
	}
}

type mockCexClient struct {
	calls     []string
	lastPrice float64
	order     ccxt.Order
	err       error
}

func (m *mockCexClient) CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateMarketOrder")
	return m.order, m.err
}

func (m *mockCexClient) CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateLimitOrder")
	return m.order, m.err
}

func (m *mockCexClient) FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error) {
	m.calls = append(m.calls, "FetchTicker")
	if m.err != nil {
		return ccxt.Ticker{}, m.err
	}
	return ccxt.Ticker{Last: floatPtr(m.lastPrice)}, nil
}

func (m *mockCexClient) Withdraw(code string, amount float64, address string, options ...ccxt.WithdrawOptions) (ccxt.Transaction, error) {
	m.calls = append(m.calls, "Withdraw")
	return ccxt.Transaction{}, m.err
}

func floatPtr(v float64) *float64 { return &v }
