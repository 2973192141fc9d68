package router

import (
	"time"

	"plan-executor/internal/plan"
	"plan-executor/internal/venue"
)

// HistoryEntry 记录单条指令的路由结果。
// 历史增长与轮转由外围系统负责，路由器只负责追加。
type HistoryEntry struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	BlockID   string               `json:"block_id"`
	Kind      plan.InstructionKind `json:"kind"`
	Success   bool                 `json:"success"`
	Delta     plan.Delta           `json:"delta,omitempty"`
	Error     string               `json:"error,omitempty"`
	Batched   int                  `json:"batched,omitempty"`
}

// Status 为路由器的只读快照。
type Status struct {
	CurrentInstruction string                      `json:"current_instruction"`
	InstructionsRouted int64                       `json:"instructions_routed"`
	InstructionsFailed int64                       `json:"instructions_failed"`
	Mode               plan.Mode                   `json:"mode"`
	Venues             map[venue.Category][]string `json:"venues"`
}
