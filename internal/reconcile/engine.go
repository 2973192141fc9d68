package reconcile

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/config"
	"plan-executor/internal/plan"
)

// Reporter 提供场所侧上报的持仓视图。
type Reporter interface {
	Reported(ctx context.Context) (plan.Delta, error)
}

// Engine 比较内部记账与场所上报的持仓，产出对账状态。
// 状态隐式关联最近一次仓位更新，每次执行尝试开始时被重置为 pending。
type Engine struct {
	tolerance float64
	reporters []Reporter
	logger    *zap.Logger

	mu          sync.Mutex
	status      plan.ReconStatus
	lastChecked time.Time
}

// NewEngine 创建对账引擎。reporters 为空时仅校验记账自身的一致性，
// 任何更新都视为对账成功（本地/模拟环境）。
func NewEngine(cfg config.ReconcileConfig, reporters []Reporter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 1e-6
	}
	return &Engine{
		tolerance: tolerance,
		reporters: reporters,
		logger:    logger,
		status:    plan.ReconPending,
	}
}

// Reset 将状态重置为 pending，由 Sequencer 在每次尝试开始时调用。
func (e *Engine) Reset() {
	e.mu.Lock()
	e.status = plan.ReconPending
	e.mu.Unlock()
}

// Current 返回当前对账状态，只读。
func (e *Engine) Current() plan.ReconStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Observe 在一次仓位更新完成后被调用，比较记账持仓与场所上报值。
// 只要某个 reporter 对其场所上报的任一代币余额与记账值偏差超出容差，
// 对账即失败。
func (e *Engine) Observe(ctx context.Context, recorded plan.Delta) plan.ReconStatus {
	status := plan.ReconSuccess

	for _, reporter := range e.reporters {
		reported, err := reporter.Reported(ctx)
		if err != nil {
			e.logger.Warn("拉取场所持仓失败", zap.Error(err))
			status = plan.ReconFailed
			break
		}
		if !e.matches(recorded, reported) {
			status = plan.ReconFailed
			break
		}
	}

	e.mu.Lock()
	e.status = status
	e.lastChecked = time.Now().UTC()
	e.mu.Unlock()

	return status
}

// matches 校验上报场所的全部代币余额都与记账值在容差内一致。
// 上报视图未覆盖的场所不参与比较。
func (e *Engine) matches(recorded, reported plan.Delta) bool {
	for venue, tokens := range reported {
		for token, amount := range tokens {
			want := recorded.Get(venue, token)
			if math.Abs(want-amount) > e.tolerance {
				e.logger.Warn("持仓对账不一致",
					zap.String("venue", venue),
					zap.String("token", token),
					zap.Float64("recorded", want),
					zap.Float64("reported", amount),
				)
				return false
			}
		}
	}
	return true
}
