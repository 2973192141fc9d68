package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/plan"
	"plan-executor/internal/store"
)

const recentErrorWindow = 10

// Service 负责持久化监控事件并聚合健康状态。
// 实现 Sequencer 的事件落盘协作方。
type Service struct {
	db     *sql.DB
	logger *zap.Logger

	mu           sync.Mutex
	recentErrors []string
	lastUpdate   time.Time
	sources      map[string]MetricSource
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:      store.DB(),
		logger:  logger,
		sources: make(map[string]MetricSource),
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// RegisterMetricSource 注册指标回调，仅在启动时调用一次。
func (s *Service) RegisterMetricSource(name string, source MetricSource) {
	s.mu.Lock()
	s.sources[name] = source
	s.mu.Unlock()
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	s.mu.Lock()
	s.lastUpdate = event.Timestamp
	s.mu.Unlock()

	return nil
}

// RecordBlockExecuted 记录块执行成功。
func (s *Service) RecordBlockExecuted(ctx context.Context, block *plan.InstructionBlock, delta plan.Delta) {
	if err := s.Record(ctx, Event{
		Type:      EventBlockExecuted,
		Timestamp: time.Now().UTC(),
		Payload: BlockExecutedPayload{
			BlockID:      block.ID,
			Action:       block.Action,
			Instructions: len(block.Instructions),
			Delta:        delta,
		},
	}); err != nil {
		s.logger.Warn("记录执行事件失败", zap.Error(err))
	}
}

// RecordBlockFailure 记录块终态失败并纳入健康视图。
func (s *Service) RecordBlockFailure(ctx context.Context, block *plan.InstructionBlock, failure error) {
	s.pushError(fmt.Sprintf("block %s: %v", block.ID, failure))

	if err := s.Record(ctx, Event{
		Type:      EventBlockFailed,
		Timestamp: time.Now().UTC(),
		Payload: BlockFailedPayload{
			BlockID:      block.ID,
			Action:       block.Action,
			Instructions: len(block.Instructions),
			Error:        failure.Error(),
		},
	}); err != nil {
		s.logger.Warn("记录失败事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	s.pushError(fmt.Sprintf("%s: %v", msg, err))

	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// Health 返回拉取式健康报告，汇总注册的全部指标回调。
func (s *Service) Health() HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics := make(map[string]interface{}, len(s.sources))
	for name, source := range s.sources {
		metrics[name] = source()
	}

	status := "ok"
	if len(s.recentErrors) > 0 {
		status = "degraded"
	}

	errs := make([]string, len(s.recentErrors))
	copy(errs, s.recentErrors)

	return HealthReport{
		Status:       status,
		LastUpdate:   s.lastUpdate,
		RecentErrors: errs,
		Metrics:      metrics,
	}
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

func (s *Service) pushError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentErrors = append(s.recentErrors, msg)
	if len(s.recentErrors) > recentErrorWindow {
		s.recentErrors = s.recentErrors[len(s.recentErrors)-recentErrorWindow:]
	}
}
