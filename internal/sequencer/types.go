package sequencer

import (
	"context"
	"fmt"
	"time"

	"plan-executor/internal/plan"
)

// Router 由 Sequencer 消费的路由能力：要么返回完整可信的净变动，要么返回错误。
type Router interface {
	Route(ctx context.Context, block *plan.InstructionBlock) (plan.Delta, error)
}

// PositionUpdater 为外部仓位记账协作方。
// 其调用完成是读取对账状态的前置条件。
type PositionUpdater interface {
	Update(ctx context.Context, ts time.Time, source string, delta plan.Delta) error
}

// ReconcileReader 为外部对账协作方的只读视图，
// Reset 在每次尝试开始时将状态重置为 pending。
type ReconcileReader interface {
	Current() plan.ReconStatus
	Reset()
}

// EventRecorder 为可选的事件落盘协作方。
type EventRecorder interface {
	RecordBlockExecuted(ctx context.Context, block *plan.InstructionBlock, delta plan.Delta)
	RecordBlockFailure(ctx context.Context, block *plan.InstructionBlock, err error)
}

// StatusSnapshot 为 Sequencer 的只读快照，读取无副作用。
type StatusSnapshot struct {
	CurrentBlockID string           `json:"current_block_id"`
	LastRecon      plan.ReconStatus `json:"last_recon"`
	BlocksExecuted int64            `json:"blocks_executed"`
	BlocksFailed   int64            `json:"blocks_failed"`
	QueueDepth     int              `json:"queue_depth"`
	Mode           plan.Mode        `json:"mode"`
}

// BlockFailureError 为终态块失败信号，携带块标识与尝试次数。
type BlockFailureError struct {
	BlockID  string
	Attempts int
	Err      error
}

func (e *BlockFailureError) Error() string {
	return fmt.Sprintf("指令块 %s 终态失败（尝试 %d 次）: %v", e.BlockID, e.Attempts, e.Err)
}

func (e *BlockFailureError) Unwrap() error {
	return e.Err
}
