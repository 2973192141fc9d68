package venue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plan-executor/internal/plan"
)

// chainClient 抽象链上提交通道，便于注入真实签名客户端或本地模拟。
type chainClient interface {
	SubmitActions(ctx context.Context, wallet string, actions []plan.SmartContractAction) error
	SubmitTransfer(ctx context.Context, ins plan.WalletTransfer) error
}

// localChainClient 为进程内模拟通道，提交即成功。
type localChainClient struct{}

func (localChainClient) SubmitActions(ctx context.Context, wallet string, actions []plan.SmartContractAction) error {
	return ctx.Err()
}

func (localChainClient) SubmitTransfer(ctx context.Context, ins plan.WalletTransfer) error {
	return ctx.Err()
}

// OnChainVenue 将单个链上协议封装为场所接口。
type OnChainVenue struct {
	name   string
	wallet string
	client chainClient
	logger *zap.Logger
}

// NewOnChainVenue 创建链上协议接口。client 为空时使用本地模拟通道。
func NewOnChainVenue(name, wallet string, client chainClient, logger *zap.Logger) *OnChainVenue {
	if client == nil {
		client = localChainClient{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnChainVenue{
		name:   name,
		wallet: wallet,
		client: client,
		logger: logger,
	}
}

func (v *OnChainVenue) Name() string { return v.name }

// SimulateAction 推算协议操作产生的数量变动。
func (v *OnChainVenue) SimulateAction(ctx context.Context, ins plan.SmartContractAction) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.actionDelta(ins)
}

// ExecuteAction 提交真实协议操作。
func (v *OnChainVenue) ExecuteAction(ctx context.Context, ins plan.SmartContractAction) (plan.Delta, error) {
	delta, err := v.actionDelta(ins)
	if err != nil {
		return nil, err
	}
	if err := v.client.SubmitActions(ctx, v.wallet, []plan.SmartContractAction{ins}); err != nil {
		return nil, fmt.Errorf("protocol %s: 提交操作失败: %w", v.name, err)
	}
	v.logger.Info("协议操作已提交",
		zap.String("protocol", v.name),
		zap.String("action", ins.Action),
		zap.String("token", ins.Token),
		zap.Float64("amount", ins.Amount),
	)
	return delta, nil
}

// SimulateTransfer 推算链上划转的数量变动。
func (v *OnChainVenue) SimulateTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return transferDelta(ins), nil
}

// ExecuteTransfer 提交真实链上划转。
func (v *OnChainVenue) ExecuteTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	if err := v.client.SubmitTransfer(ctx, ins); err != nil {
		return nil, fmt.Errorf("protocol %s: 划转失败: %w", v.name, err)
	}
	return transferDelta(ins), nil
}

func (v *OnChainVenue) actionDelta(ins plan.SmartContractAction) (plan.Delta, error) {
	delta := plan.NewDelta()
	switch ins.Action {
	case "deposit", "stake", "supply":
		delta.Add(v.wallet, ins.Token, -ins.Amount)
		delta.Add(v.name, ins.Token, ins.Amount)
	case "withdraw", "unstake", "redeem":
		delta.Add(v.name, ins.Token, -ins.Amount)
		delta.Add(v.wallet, ins.Token, ins.Amount)
	case "claim":
		delta.Add(v.wallet, ins.Token, ins.Amount)
	case "approve":
		// 授权不改变任何余额
	default:
		return nil, fmt.Errorf("protocol %s: 不支持的操作 %q", v.name, ins.Action)
	}
	return delta, nil
}

// BatchOnChainVenue 在 OnChainVenue 基础上支持原子合并提交。
type BatchOnChainVenue struct {
	*OnChainVenue
}

// NewBatchOnChainVenue 创建支持原子合并的链上协议接口。
func NewBatchOnChainVenue(name, wallet string, client chainClient, logger *zap.Logger) *BatchOnChainVenue {
	return &BatchOnChainVenue{OnChainVenue: NewOnChainVenue(name, wallet, client, logger)}
}

// SimulateActions 合并推算一组操作，净变动等同逐条推算之和。
func (v *BatchOnChainVenue) SimulateActions(ctx context.Context, batch []plan.SmartContractAction) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.batchDelta(batch)
}

// ExecuteActions 将一组操作作为单次原子调用提交。
func (v *BatchOnChainVenue) ExecuteActions(ctx context.Context, batch []plan.SmartContractAction) (plan.Delta, error) {
	delta, err := v.batchDelta(batch)
	if err != nil {
		return nil, err
	}
	if err := v.client.SubmitActions(ctx, v.wallet, batch); err != nil {
		return nil, fmt.Errorf("protocol %s: 原子提交失败: %w", v.name, err)
	}
	v.logger.Info("协议操作已原子提交",
		zap.String("protocol", v.name),
		zap.Int("actions", len(batch)),
	)
	return delta, nil
}

func (v *BatchOnChainVenue) batchDelta(batch []plan.SmartContractAction) (plan.Delta, error) {
	delta := plan.NewDelta()
	for _, ins := range batch {
		single, err := v.actionDelta(ins)
		if err != nil {
			return nil, err
		}
		delta.Merge(single)
	}
	return delta, nil
}

// WalletVenue 为默认链上钱包，仅承担划转能力，
// 用于两端都不是已注册场所的 wallet_transfer 兜底。
type WalletVenue struct {
	name   string
	client chainClient
	logger *zap.Logger
}

// NewWalletVenue 创建默认钱包接口。
func NewWalletVenue(name string, client chainClient, logger *zap.Logger) *WalletVenue {
	if client == nil {
		client = localChainClient{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletVenue{name: name, client: client, logger: logger}
}

func (v *WalletVenue) Name() string { return v.name }

// SimulateTransfer 推算划转变动。
func (v *WalletVenue) SimulateTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return transferDelta(ins), nil
}

// ExecuteTransfer 提交真实划转。
func (v *WalletVenue) ExecuteTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	if err := v.client.SubmitTransfer(ctx, ins); err != nil {
		return nil, fmt.Errorf("wallet %s: 划转失败: %w", v.name, err)
	}
	return transferDelta(ins), nil
}
