package venue

import (
	"context"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"plan-executor/internal/config"
	"plan-executor/internal/plan"
)

type cexClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	Withdraw(code string, amount float64, address string, options ...ccxt.WithdrawOptions) (ccxt.Transaction, error)
}

// Client 为交易所客户端的完整能力集，供外围组件（余额对账等）复用同一连接配置。
type Client interface {
	cexClient
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// CexVenue 将中心化交易所封装为统一的场所接口，
// 同时承担交易与划转（提币）两类能力。
type CexVenue struct {
	name   string
	client cexClient
	logger *zap.Logger
}

// NewCexVenue 基于已构造的交易所客户端创建场所接口。
func NewCexVenue(name string, client cexClient, logger *zap.Logger) *CexVenue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CexVenue{
		name:   name,
		client: client,
		logger: logger,
	}
}

// NewCexVenueFromConfig 按配置初始化 ccxt 客户端并包装为场所接口。
func NewCexVenueFromConfig(cfg config.CexVenueConfig, logger *zap.Logger) (*CexVenue, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewCexVenue(cfg.Name, client, logger), nil
}

func (v *CexVenue) Name() string { return v.name }

// SimulateTrade 以最新成交价推算委托完成后的数量变动。
// 定价需要一次只读行情查询，账户与委托接口不被触达。
func (v *CexVenue) SimulateTrade(ctx context.Context, ins plan.CexTrade) (plan.Delta, error) {
	price, err := v.lastPrice(ctx, ins.Symbol)
	if err != nil {
		return nil, err
	}
	return v.tradeDelta(ins, price), nil
}

// ExecuteTrade 提交真实委托，按成交明细返回数量变动。
func (v *CexVenue) ExecuteTrade(ctx context.Context, ins plan.CexTrade) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"clientOrderId": fmt.Sprintf("pe-%s", uuid.NewString()),
	}

	var (
		order ccxt.Order
		err   error
	)
	switch ins.TradeType {
	case "market", "":
		order, err = v.client.CreateMarketOrder(ins.Symbol, ins.Side, ins.Amount,
			ccxt.WithCreateMarketOrderParams(params))
	case "limit":
		price, priceErr := v.lastPrice(ctx, ins.Symbol)
		if priceErr != nil {
			return nil, priceErr
		}
		order, err = v.client.CreateLimitOrder(ins.Symbol, ins.Side, ins.Amount, price,
			ccxt.WithCreateLimitOrderParams(params))
	default:
		return nil, fmt.Errorf("venue %s: 不支持的订单类型 %q", v.name, ins.TradeType)
	}
	if err != nil {
		return nil, fmt.Errorf("venue %s: 下单失败: %w", v.name, err)
	}

	filled := ins.Amount
	if order.Filled != nil && *order.Filled > 0 {
		filled = *order.Filled
	}
	price := 0.0
	if order.Average != nil && *order.Average > 0 {
		price = *order.Average
	} else if order.Price != nil && *order.Price > 0 {
		price = *order.Price
	}
	if price <= 0 {
		if last, priceErr := v.lastPrice(ctx, ins.Symbol); priceErr == nil {
			price = last
		}
	}
	if price <= 0 {
		return nil, fmt.Errorf("venue %s: 无法确定成交价格 %s", v.name, ins.Symbol)
	}

	v.logger.Info("委托已成交",
		zap.String("venue", v.name),
		zap.String("symbol", ins.Symbol),
		zap.String("side", ins.Side),
		zap.Float64("filled", filled),
		zap.Float64("price", price),
	)

	filledIns := ins
	filledIns.Amount = filled
	return v.tradeDelta(filledIns, price), nil
}

// SimulateTransfer 推算提币后的数量变动。
func (v *CexVenue) SimulateTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return transferDelta(ins), nil
}

// ExecuteTransfer 发起真实提币。
func (v *CexVenue) ExecuteTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := v.client.Withdraw(ins.Token, ins.Amount, ins.ToVenue); err != nil {
		return nil, fmt.Errorf("venue %s: 提币失败: %w", v.name, err)
	}

	v.logger.Info("提币已提交",
		zap.String("venue", v.name),
		zap.String("token", ins.Token),
		zap.Float64("amount", ins.Amount),
		zap.String("to", ins.ToVenue),
	)

	return transferDelta(ins), nil
}

func (v *CexVenue) tradeDelta(ins plan.CexTrade, price float64) plan.Delta {
	base, quote := splitSymbol(ins.Symbol)
	delta := plan.NewDelta()
	if ins.Side == "sell" {
		delta.Add(v.name, base, -ins.Amount)
		delta.Add(v.name, quote, ins.Amount*price)
	} else {
		delta.Add(v.name, base, ins.Amount)
		delta.Add(v.name, quote, -ins.Amount*price)
	}
	return delta
}

func (v *CexVenue) lastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ticker, err := v.client.FetchTicker(symbol)
	if err != nil {
		return 0, fmt.Errorf("venue %s: 获取行情失败 %s: %w", v.name, symbol, err)
	}
	if ticker.Last == nil || *ticker.Last <= 0 {
		return 0, fmt.Errorf("venue %s: 行情缺少最新价 %s", v.name, symbol)
	}
	return *ticker.Last, nil
}

func transferDelta(ins plan.WalletTransfer) plan.Delta {
	delta := plan.NewDelta()
	if ins.FromVenue != "" {
		delta.Add(ins.FromVenue, ins.Token, -ins.Amount)
	}
	if ins.ToVenue != "" {
		delta.Add(ins.ToVenue, ins.Token, ins.Amount)
	}
	return delta
}

var knownQuotes = []string{"USDT", "USDC", "FDUSD", "BUSD", "USD", "BTC", "ETH"}

// splitSymbol 拆分交易对为基础与计价代币，兼容 "ETH/USDT" 与 "ETHUSDT" 两种写法。
func splitSymbol(symbol string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(s, ":"); idx > 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "/"); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q
		}
	}
	return s, "USDT"
}

// NewClient 按配置构造 ccxt 交易所客户端。
func NewClient(cfg config.CexVenueConfig) (Client, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	switch strings.ToLower(cfg.Name) {
	case "binance":
		client := ccxt.NewBinance(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		return client, nil
	case "binanceusdm":
		client := ccxt.NewBinanceusdm(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		return client, nil
	case "okx":
		client := ccxt.NewOkx(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		return client, nil
	case "bybit":
		client := ccxt.NewBybit(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		return client, nil
	case "hyperliquid":
		client := ccxt.NewHyperliquid(userConfig)
		if cfg.UseSandbox {
			client.SetSandboxMode(true)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("不支持的交易所 %q", cfg.Name)
	}
}
