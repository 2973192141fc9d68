package marketdata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/markcheno/go-talib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"plan-executor/internal/config"
	"plan-executor/internal/plan"
)

type marketClient interface {
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	FetchOHLCV(symbol string, options ...ccxt.FetchOHLCVOptions) ([]ccxt.OHLCV, error)
}

// Data 为一次行情拉取的结果，仅用于执行前校验，绝不跨节拍缓存。
type Data struct {
	Prices      map[string]float64 // token -> usd 价格
	Volatility  map[string]float64 // token -> ATR/价格
	RetrievedAt time.Time
}

// Service 聚合执行前校验所需的行情数据。
type Service struct {
	cfg    config.MarketDataConfig
	client marketClient
	logger *zap.Logger
}

// NewService 按配置初始化行情客户端。
func NewService(cfg config.MarketDataConfig, logger *zap.Logger) (*Service, error) {
	client, err := newMarketClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewServiceWithClient(cfg, client, logger), nil
}

// NewServiceWithClient 基于已构造的客户端创建服务，便于测试注入。
func NewServiceWithClient(cfg config.MarketDataConfig, client marketClient, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// GetData 并行拉取全部配置标的的最新价与波动率。
func (s *Service) GetData(ctx context.Context, ts time.Time) (Data, error) {
	data := Data{
		Prices:      make(map[string]float64, len(s.cfg.Symbols)),
		Volatility:  make(map[string]float64, len(s.cfg.Symbols)),
		RetrievedAt: ts,
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)

	for _, symbol := range s.cfg.Symbols {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			ticker, err := s.client.FetchTicker(symbol)
			if err != nil {
				return fmt.Errorf("获取行情失败 %s: %w", symbol, err)
			}
			if ticker.Last == nil || *ticker.Last <= 0 {
				return fmt.Errorf("行情缺少最新价 %s", symbol)
			}
			price := *ticker.Last

			candles, err := s.client.FetchOHLCV(symbol,
				ccxt.WithFetchOHLCVTimeframe("1h"),
				ccxt.WithFetchOHLCVLimit(int64(s.cfg.ATRPeriod+1)),
			)
			if err != nil {
				return fmt.Errorf("获取K线失败 %s: %w", symbol, err)
			}

			token := baseToken(symbol)
			mu.Lock()
			data.Prices[token] = price
			data.Volatility[token] = atrRatio(candles, s.cfg.ATRPeriod, price)
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Data{}, err
	}

	s.logger.Debug("行情数据拉取完成",
		zap.Time("ts", ts),
		zap.Int("tokens", len(data.Prices)),
	)
	return data, nil
}

// Validate 以行情数据校验指令块的预估变动：名义价值超出上限即拒绝，
// 波动率偏高的代币上限减半。预估仅做校验，不参与记账。
func (s *Service) Validate(block *plan.InstructionBlock, data Data) error {
	for i, ins := range block.Instructions {
		estimated := ins.EstimatedDeltas()
		if estimated == nil || estimated.IsEmpty() {
			continue
		}

		for _, tokens := range estimated {
			for token, amount := range tokens {
				price, ok := tokenPrice(token, data.Prices)
				if !ok {
					continue
				}
				notional := abs(amount) * price
				cap := s.cfg.MaxNotionalUSD
				if data.Volatility[token] > s.cfg.VolatilityCap {
					cap /= 2
				}
				if notional > cap {
					return fmt.Errorf("marketdata: 块 %s 指令[%d] %s 预估名义价值 %.2f 超出上限 %.2f",
						block.ID, i, token, notional, cap)
				}
			}
		}
	}
	return nil
}

func atrRatio(candles []ccxt.OHLCV, period int, price float64) float64 {
	if len(candles) <= period || price <= 0 {
		return 0
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	atr := talib.Atr(highs, lows, closes, period)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1] / price
}

var stableTokens = map[string]float64{
	"USD":   1,
	"USDT":  1,
	"USDC":  1,
	"FDUSD": 1,
	"DAI":   1,
}

func tokenPrice(token string, prices map[string]float64) (float64, bool) {
	token = strings.ToUpper(token)
	if price, ok := stableTokens[token]; ok {
		return price, true
	}
	price, ok := prices[token]
	return price, ok
}

func baseToken(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(s, "/"); idx > 0 {
		return s[:idx]
	}
	return s
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func newMarketClient(cfg config.MarketDataConfig) (marketClient, error) {
	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}

	switch strings.ToLower(cfg.Exchange) {
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
	default:
		return nil, fmt.Errorf("不支持的行情交易所 %q", cfg.Exchange)
	}
}
