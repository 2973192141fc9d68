package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/plan"
	"plan-executor/internal/store"
)

// Book 维护内部的分场所、分代币持仓记录，并把每次变动落盘。
// 实现 Sequencer 的仓位更新协作方。
type Book struct {
	store  *store.Store
	logger *zap.Logger

	mu         sync.Mutex
	positions  plan.Delta
	lastSource string
	lastUpdate time.Time
}

// NewBook 初始化持仓账本，创建所需表结构。
func NewBook(store *store.Store, logger *zap.Logger) (*Book, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Book{
		store:     store,
		logger:    logger,
		positions: plan.NewDelta(),
	}

	if err := b.initSchema(); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Book) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS position_updates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	delta TEXT NOT NULL,
	positions TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_position_updates_source ON position_updates(source);
`
	if _, err := b.store.DB().Exec(stmt); err != nil {
		return fmt.Errorf("ledger: 初始化表失败: %w", err)
	}
	return nil
}

// Update 将一次执行的净变动合入账本并持久化快照。
func (b *Book) Update(ctx context.Context, ts time.Time, source string, delta plan.Delta) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	b.mu.Lock()
	b.positions.Merge(delta)
	b.lastSource = source
	b.lastUpdate = ts
	snapshot := b.positions.Clone()
	b.mu.Unlock()

	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("ledger: 序列化变动失败: %w", err)
	}
	posJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("ledger: 序列化持仓失败: %w", err)
	}

	_, err = b.store.DB().ExecContext(ctx,
		`INSERT INTO position_updates (source, delta, positions, created_at) VALUES (?, ?, ?, ?)`,
		source, string(deltaJSON), string(posJSON), ts.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ledger: 写入更新失败: %w", err)
	}

	b.logger.Debug("持仓账本已更新",
		zap.String("source", source),
		zap.String("delta", delta.String()),
	)
	return nil
}

// Positions 返回当前持仓快照的深拷贝。
func (b *Book) Positions() plan.Delta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions.Clone()
}

// Position 读取单个 (场所, 代币) 的持仓量。
func (b *Book) Position(venue, token string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions.Get(venue, token)
}

// LastUpdate 返回最近一次更新的时间与来源。
func (b *Book) LastUpdate() (time.Time, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate, b.lastSource
}
