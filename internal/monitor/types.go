package monitor

import (
	"time"

	"plan-executor/internal/plan"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventBlockExecuted EventType = "block_executed"
	EventBlockFailed   EventType = "block_failed"
	EventError         EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// BlockExecutedPayload 记录一个块的成功执行。
type BlockExecutedPayload struct {
	BlockID      string     `json:"block_id"`
	Action       string     `json:"action"`
	Instructions int        `json:"instructions"`
	Delta        plan.Delta `json:"delta"`
}

// BlockFailedPayload 记录一个块的终态失败。
type BlockFailedPayload struct {
	BlockID      string `json:"block_id"`
	Action       string `json:"action"`
	Instructions int    `json:"instructions"`
	Error        string `json:"error"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// HealthReport 为拉取式健康检查的返回值。
type HealthReport struct {
	Status       string                 `json:"status"`
	LastUpdate   time.Time              `json:"last_update"`
	RecentErrors []string               `json:"recent_errors"`
	Metrics      map[string]interface{} `json:"metrics"`
}

// MetricSource 为注册一次、按需拉取的指标回调。
type MetricSource func() interface{}
