package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plan-executor/internal/plan"
	"plan-executor/internal/venue"
)

var (
	// ErrUnknownInstruction 表示指令类型无法识别，整块路由立即中止。
	ErrUnknownInstruction = errors.New("router: 无法识别的指令类型")
	// ErrUnknownVenue 表示指令引用了未注册的场所或协议。
	ErrUnknownVenue = errors.New("router: 未注册的场所")
)

type registryLookup interface {
	Trade(name string) (venue.TradeVenue, bool)
	Protocol(name string) (venue.ProtocolVenue, bool)
	Transfer(name string) (venue.TransferVenue, bool)
	DefaultWallet() venue.TransferVenue
	Available() map[venue.Category][]string
}

// Router 将指令块内的每条指令分发到对应场所接口并聚合净变动。
// 任一子指令失败即中止整块，已聚合的部分变动被丢弃。
type Router struct {
	registry registryLookup
	mode     plan.Mode
	logger   *zap.Logger

	mu      sync.Mutex
	current string
	history []HistoryEntry
	routed  int64
	failed  int64
}

// New 创建路由器。注册表在启动时构建完成后只读。
func New(registry registryLookup, mode plan.Mode, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		registry: registry,
		mode:     mode,
		logger:   logger,
	}
}

// Route 按顺序路由块内全部指令，返回按 (场所, 代币) 相加的净变动。
// 返回值要么是完整可信的变动，要么是错误，不存在部分聚合结果。
func (r *Router) Route(ctx context.Context, block *plan.InstructionBlock) (plan.Delta, error) {
	total := plan.NewDelta()

	i := 0
	for i < len(block.Instructions) {
		ins := block.Instructions[i]

		switch v := ins.(type) {
		case plan.CexTrade:
			r.setCurrent(fmt.Sprintf("%s %s %s %s", v.Venue, v.Side, v.Symbol, v.TradeType))
			delta, err := r.routeTrade(ctx, v)
			if err != nil {
				return nil, r.fail(block.ID, v.Kind(), err)
			}
			total.Merge(delta)
			r.succeed(block.ID, v.Kind(), delta, 0)
			i++

		case plan.SmartContractAction:
			batch := consecutiveActions(block.Instructions[i:], v.Protocol)
			delta, batched, err := r.routeActions(ctx, v.Protocol, batch)
			if err != nil {
				return nil, r.fail(block.ID, v.Kind(), err)
			}
			total.Merge(delta)
			r.succeedN(block.ID, v.Kind(), delta, batched, len(batch))
			i += len(batch)

		case plan.WalletTransfer:
			r.setCurrent(fmt.Sprintf("transfer %s %s->%s", v.Token, v.FromVenue, v.ToVenue))
			delta, err := r.routeTransfer(ctx, v)
			if err != nil {
				return nil, r.fail(block.ID, v.Kind(), err)
			}
			total.Merge(delta)
			r.succeed(block.ID, v.Kind(), delta, 0)
			i++

		default:
			err := fmt.Errorf("%w: %T (block=%s)", ErrUnknownInstruction, ins, block.ID)
			return nil, r.fail(block.ID, "unknown", err)
		}
	}

	r.setCurrent("")
	return total, nil
}

func (r *Router) routeTrade(ctx context.Context, ins plan.CexTrade) (plan.Delta, error) {
	v, ok := r.registry.Trade(ins.Venue)
	if !ok {
		return nil, fmt.Errorf("%w: 交易所 %q", ErrUnknownVenue, ins.Venue)
	}
	if r.mode == plan.ModeSimulated {
		return v.SimulateTrade(ctx, ins)
	}
	return v.ExecuteTrade(ctx, ins)
}

// routeActions 路由一段连续的同协议操作。接口支持原子合并且
// 段内多于一条时做单次合并调用，净变动与逐条调用完全一致。
func (r *Router) routeActions(ctx context.Context, protocol string, batch []plan.SmartContractAction) (plan.Delta, int, error) {
	v, ok := r.registry.Protocol(protocol)
	if !ok {
		return nil, 0, fmt.Errorf("%w: 协议 %q", ErrUnknownVenue, protocol)
	}

	r.setCurrent(fmt.Sprintf("%s x%d actions", protocol, len(batch)))

	if batcher, canBatch := v.(venue.BatchProtocolVenue); canBatch && len(batch) > 1 {
		var (
			delta plan.Delta
			err   error
		)
		if r.mode == plan.ModeSimulated {
			delta, err = batcher.SimulateActions(ctx, batch)
		} else {
			delta, err = batcher.ExecuteActions(ctx, batch)
		}
		if err != nil {
			return nil, 0, err
		}
		return delta, len(batch), nil
	}

	total := plan.NewDelta()
	for _, ins := range batch {
		var (
			delta plan.Delta
			err   error
		)
		if r.mode == plan.ModeSimulated {
			delta, err = v.SimulateAction(ctx, ins)
		} else {
			delta, err = v.ExecuteAction(ctx, ins)
		}
		if err != nil {
			return nil, 0, err
		}
		total.Merge(delta)
	}
	return total, 0, nil
}

// routeTransfer 解析划转接口：先试 from_venue，再试 to_venue，
// 两端都未注册时回落到默认链上钱包。
func (r *Router) routeTransfer(ctx context.Context, ins plan.WalletTransfer) (plan.Delta, error) {
	var v venue.TransferVenue
	if tv, ok := r.registry.Transfer(ins.FromVenue); ok {
		v = tv
	} else if tv, ok := r.registry.Transfer(ins.ToVenue); ok {
		v = tv
	} else {
		v = r.registry.DefaultWallet()
	}

	if r.mode == plan.ModeSimulated {
		return v.SimulateTransfer(ctx, ins)
	}
	return v.ExecuteTransfer(ctx, ins)
}

// Status 返回只读快照。
func (r *Router) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		CurrentInstruction: r.current,
		InstructionsRouted: r.routed,
		InstructionsFailed: r.failed,
		Mode:               r.mode,
		Venues:             r.registry.Available(),
	}
}

// History 返回最近的路由历史副本。
func (r *Router) History(limit int) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]HistoryEntry, limit)
	copy(out, r.history[len(r.history)-limit:])
	return out
}

func (r *Router) setCurrent(desc string) {
	r.mu.Lock()
	r.current = desc
	r.mu.Unlock()
}

func (r *Router) succeed(blockID string, kind plan.InstructionKind, delta plan.Delta, batched int) {
	r.succeedN(blockID, kind, delta, batched, 1)
}

func (r *Router) succeedN(blockID string, kind plan.InstructionKind, delta plan.Delta, batched, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed += int64(count)
	r.history = append(r.history, HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		BlockID:   blockID,
		Kind:      kind,
		Success:   true,
		Delta:     delta.Clone(),
		Batched:   batched,
	})
}

func (r *Router) fail(blockID string, kind plan.InstructionKind, err error) error {
	r.logger.Error("指令路由失败",
		zap.String("block", blockID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	r.current = ""
	r.history = append(r.history, HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		BlockID:   blockID,
		Kind:      kind,
		Success:   false,
		Error:     err.Error(),
	})
	return err
}

// consecutiveActions 截取从头开始、协议相同的连续操作段。
func consecutiveActions(instructions []plan.Instruction, protocol string) []plan.SmartContractAction {
	batch := make([]plan.SmartContractAction, 0, len(instructions))
	for _, ins := range instructions {
		action, ok := ins.(plan.SmartContractAction)
		if !ok || action.Protocol != protocol {
			break
		}
		batch = append(batch, action)
	}
	return batch
}
