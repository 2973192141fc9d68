//go:build integration
// +build integration

package venue

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/config"
	"plan-executor/internal/plan"
)

func TestCexVenueIntegration_SandboxMarketOrder(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("integration test panic: %v", r)
		}
	}()

	cfg := loadIntegrationConfig(t)
	vc := cfg.Venues.Cex[0]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient(vc)
	if err != nil {
		t.Fatalf("初始化交易所客户端失败: %v", err)
	}
	v := NewCexVenue(vc.Name, client, zap.NewNop())

	symbol := "BTC/USDT"
	if len(cfg.MarketData.Symbols) > 0 {
		symbol = cfg.MarketData.Symbols[0]
	}

	price, err := v.lastPrice(ctx, symbol)
	if err != nil {
		t.Fatalf("获取最新价失败: %v", err)
	}
	if price <= 0 {
		t.Fatalf("无法解析有效市场价格")
	}

	// 名义价值约 20 USDT 的最小规模委托
	amount := 20.0 / price
	ins := plan.CexTrade{
		Venue:     vc.Name,
		TradeType: "market",
		Side:      "buy",
		Symbol:    symbol,
		Amount:    amount,
	}

	simulated, err := v.SimulateTrade(ctx, ins)
	if err != nil {
		t.Fatalf("SimulateTrade 失败: %v", err)
	}
	if simulated.IsEmpty() {
		t.Fatalf("模拟变动为空")
	}

	delta, err := v.ExecuteTrade(ctx, ins)
	if err != nil {
		t.Fatalf("ExecuteTrade 下单失败: %v", err)
	}

	base, quote := splitSymbol(symbol)
	if got := delta.Get(vc.Name, base); got <= 0 {
		t.Fatalf("买入后基础代币变动应为正，got %f", got)
	}
	if got := delta.Get(vc.Name, quote); got >= 0 {
		t.Fatalf("买入后计价代币变动应为负，got %f", got)
	}

	// 真实成交应与模拟推算处于同一量级
	simBase := simulated.Get(vc.Name, base)
	if simBase > 0 && math.Abs(delta.Get(vc.Name, base)-simBase)/simBase > 0.5 {
		t.Errorf("成交数量与模拟推算偏差过大: got %f sim %f", delta.Get(vc.Name, base), simBase)
	}

	t.Logf("成功提交沙盒委托 venue=%s symbol=%s amount=%.8f delta=%s", vc.Name, symbol, amount, delta.String())
}

func TestCexVenueIntegration_SandboxWithdraw(t *testing.T) {
	cfg := loadIntegrationConfig(t)
	vc := cfg.Venues.Cex[0]

	address := os.Getenv("PLANEXEC_WITHDRAW_ADDRESS")
	if address == "" {
		t.Skip("未设置 PLANEXEC_WITHDRAW_ADDRESS，跳过提币测试")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClient(vc)
	if err != nil {
		t.Fatalf("初始化交易所客户端失败: %v", err)
	}
	v := NewCexVenue(vc.Name, client, zap.NewNop())

	ins := plan.WalletTransfer{
		FromVenue: vc.Name,
		ToVenue:   address,
		Token:     "USDT",
		Amount:    5,
	}

	delta, err := v.ExecuteTransfer(ctx, ins)
	if err != nil {
		t.Fatalf("ExecuteTransfer 提币失败: %v", err)
	}
	if got := delta.Get(vc.Name, "USDT"); got != -5 {
		t.Fatalf("提币后来源场所 USDT 变动应为 -5，got %f", got)
	}
	if got := delta.Get(address, "USDT"); got != 5 {
		t.Fatalf("提币后目标地址 USDT 变动应为 +5，got %f", got)
	}

	t.Logf("成功提交沙盒提币 venue=%s address=%s", vc.Name, address)
}

func loadIntegrationConfig(t *testing.T) *config.Config {
	t.Helper()

	configPath := os.Getenv("PLANEXEC_CONFIG")
	if configPath == "" {
		configPath = "../../configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if len(cfg.Venues.Cex) == 0 {
		t.Skip("配置缺少交易所场所，跳过测试")
	}
	vc := cfg.Venues.Cex[0]
	if !vc.UseSandbox {
		t.Skip("use_sandbox=false，出于安全考虑跳过真实下单测试")
	}
	if vc.APIKey == "" || vc.APISecret == "" {
		t.Skip("缺少交易所 API 凭证，跳过测试")
	}

	return cfg
}
