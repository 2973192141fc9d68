package venue

import (
	"context"

	"plan-executor/internal/plan"
)

// Category 标识场所类别。
type Category string

const (
	CategoryCex     Category = "cex"
	CategoryOnChain Category = "onchain"
)

// TradeVenue 抽象交易所委托能力，模拟与真实执行各返回一份变动。
type TradeVenue interface {
	Name() string
	SimulateTrade(ctx context.Context, ins plan.CexTrade) (plan.Delta, error)
	ExecuteTrade(ctx context.Context, ins plan.CexTrade) (plan.Delta, error)
}

// ProtocolVenue 抽象链上协议操作能力。
type ProtocolVenue interface {
	Name() string
	SimulateAction(ctx context.Context, ins plan.SmartContractAction) (plan.Delta, error)
	ExecuteAction(ctx context.Context, ins plan.SmartContractAction) (plan.Delta, error)
}

// TransferVenue 抽象钱包划转能力。
type TransferVenue interface {
	Name() string
	SimulateTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error)
	ExecuteTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error)
}

// BatchProtocolVenue 为可选能力：支持将连续的同协议操作合并为单次原子调用。
// 净变动必须与逐条执行完全一致。
type BatchProtocolVenue interface {
	ProtocolVenue
	SimulateActions(ctx context.Context, batch []plan.SmartContractAction) (plan.Delta, error)
	ExecuteActions(ctx context.Context, batch []plan.SmartContractAction) (plan.Delta, error)
}
