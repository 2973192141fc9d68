package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"plan-executor/internal/plan"
	"plan-executor/internal/router"
)

// ErrQueueOverflow 表示入队会超过队列深度上限，本次提交被整体拒绝，
// 已排队的块保持不变。
var ErrQueueOverflow = errors.New("sequencer: 执行队列已满")

// ErrReconTimeout 表示重试预算耗尽仍未得到对账确认。
var ErrReconTimeout = errors.New("sequencer: 对账确认超时")

// Config 定义执行编排参数。
type Config struct {
	Mode          plan.Mode
	MaxRetries    int
	RetryDelay    time.Duration
	MaxQueueDepth int
	SourceTag     string
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.Mode == "" {
		cfg.Mode = plan.ModeSimulated
	}
	if cfg.MaxRetries < 1 || cfg.MaxRetries > 9 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = 64
	}
	if cfg.SourceTag == "" {
		cfg.SourceTag = "execution-core"
	}
	return cfg
}

// Sequencer 逐块排空执行队列，并在推进前完成对账握手。
// 任一时刻至多一个块处于 in-flight 状态。
type Sequencer struct {
	cfg       Config
	router    Router
	positions PositionUpdater
	recon     ReconcileReader
	events    EventRecorder
	logger    *zap.Logger

	mu        sync.Mutex
	queue     []*plan.InstructionBlock
	current   *plan.InstructionBlock
	lastRecon plan.ReconStatus
	executed  int64
	failed    int64
}

// New 创建 Sequencer。协作方在构造时注入，调用期不可覆盖。
func New(cfg Config, rt Router, positions PositionUpdater, recon ReconcileReader, events EventRecorder, logger *zap.Logger) (*Sequencer, error) {
	if rt == nil {
		return nil, errors.New("sequencer: router 不能为空")
	}
	if positions == nil {
		return nil, errors.New("sequencer: position updater 不能为空")
	}
	if recon == nil {
		return nil, errors.New("sequencer: reconcile reader 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sequencer{
		cfg:       cfg.normalize(),
		router:    rt,
		positions: positions,
		recon:     recon,
		events:    events,
		logger:    logger,
		lastRecon: plan.ReconPending,
	}, nil
}

// Submit 校验并按提交顺序追加指令块。提交是全有或全无的：
// 任一块不合法则整批拒绝，队列与统计均不受影响。
func (s *Sequencer) Submit(blocks []*plan.InstructionBlock) error {
	var err error
	for _, block := range blocks {
		if block == nil {
			err = multierr.Append(err, errors.New("block 不能为空"))
			continue
		}
		if vErr := block.Validate(); vErr != nil {
			err = multierr.Append(err, vErr)
		}
	}
	if err != nil {
		return fmt.Errorf("sequencer: 提交被拒绝: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue)+len(blocks) > s.cfg.MaxQueueDepth {
		s.logger.Warn("执行队列已满，拒绝本次提交",
			zap.Int("depth", len(s.queue)),
			zap.Int("incoming", len(blocks)),
			zap.Int("max", s.cfg.MaxQueueDepth),
		)
		return ErrQueueOverflow
	}

	now := time.Now().UTC()
	for _, block := range blocks {
		block.Status = plan.BlockStatusQueued
		block.SubmittedAt = now
		s.queue = append(s.queue, block)
	}

	s.logger.Info("指令块已入队",
		zap.Int("count", len(blocks)),
		zap.Int("depth", len(s.queue)),
	)
	return nil
}

// Drive 为每个调度节拍的唯一入口。blocks 非空时先提交，
// 随后同步排空队列，直到队列为空、某个块终态失败或 ctx 被取消。
// 取消时正在执行的块会重新入队，不计入失败。
func (s *Sequencer) Drive(ctx context.Context, ts time.Time, trigger string, blocks []*plan.InstructionBlock) error {
	if len(blocks) > 0 {
		if err := s.Submit(blocks); err != nil {
			return err
		}
	}

	s.logger.Debug("开始排空执行队列",
		zap.Time("ts", ts),
		zap.String("trigger", trigger),
		zap.Int("depth", s.queueDepth()),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		block := s.dequeue()
		if block == nil {
			return nil
		}

		if err := s.processBlock(ctx, ts, block); err != nil {
			// 终态失败即停止排空，剩余块留在队列中等待下一次 Drive。
			return err
		}
	}
}

func (s *Sequencer) processBlock(ctx context.Context, ts time.Time, block *plan.InstructionBlock) error {
	s.beginBlock(block)

	if s.cfg.Mode == plan.ModeSimulated {
		return s.processSimulated(ctx, ts, block)
	}
	return s.processReal(ctx, ts, block)
}

// processSimulated 在模拟模式下执行：路由、记账，对账视为立即满足，
// 不轮询、不休眠、不重试。
func (s *Sequencer) processSimulated(ctx context.Context, ts time.Time, block *plan.InstructionBlock) error {
	delta, err := s.router.Route(ctx, block)
	if err != nil {
		return s.failBlock(ctx, block, 1, err)
	}

	if err := s.positions.Update(ctx, ts, s.cfg.SourceTag, delta); err != nil {
		return s.failBlock(ctx, block, 1, fmt.Errorf("仓位更新失败: %w", err))
	}

	s.setLastRecon(plan.ReconSuccess)
	s.finishBlock(ctx, block, delta)
	return nil
}

// processReal 在真实模式下执行有界重试状态机：每次尝试先将对账状态
// 重置为 pending，路由并记账后读取对账结果，未确认则等待固定间隔重试。
func (s *Sequencer) processReal(ctx context.Context, ts time.Time, block *plan.InstructionBlock) error {
	var lastErr error

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		s.recon.Reset()
		s.setLastRecon(plan.ReconPending)

		delta, err := s.router.Route(ctx, block)
		if err != nil {
			// 计划本身的缺陷不消耗重试预算，两种模式下都立即终态失败。
			if isPlanError(err) {
				return s.failBlock(ctx, block, attempt+1, err)
			}
			lastErr = err
			s.logger.Warn("路由失败，等待重试",
				zap.String("block", block.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if err := s.waitRetry(ctx, attempt); err != nil {
				return s.suspendBlock(block, err)
			}
			continue
		}

		if err := s.positions.Update(ctx, ts, s.cfg.SourceTag, delta); err != nil {
			lastErr = fmt.Errorf("仓位更新失败: %w", err)
			if err := s.waitRetry(ctx, attempt); err != nil {
				return s.suspendBlock(block, err)
			}
			continue
		}

		status := s.recon.Current()
		s.setLastRecon(status)
		if status == plan.ReconSuccess {
			s.finishBlock(ctx, block, delta)
			return nil
		}

		lastErr = fmt.Errorf("%w: 第 %d 次尝试状态为 %s", ErrReconTimeout, attempt+1, status)
		s.logger.Warn("对账未确认",
			zap.String("block", block.ID),
			zap.Int("attempt", attempt+1),
			zap.String("status", string(status)),
		)
		if err := s.waitRetry(ctx, attempt); err != nil {
			return s.suspendBlock(block, err)
		}
	}

	s.setLastRecon(plan.ReconFailed)
	if lastErr == nil {
		lastErr = ErrReconTimeout
	}
	return s.failBlock(ctx, block, s.cfg.MaxRetries, lastErr)
}

// waitRetry 在两次尝试之间阻塞固定间隔；最后一次尝试后不再等待。
func (s *Sequencer) waitRetry(ctx context.Context, attempt int) error {
	if attempt+1 >= s.cfg.MaxRetries {
		return nil
	}
	timer := time.NewTimer(s.cfg.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Status 返回只读快照，无任何副作用。
func (s *Sequencer) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := StatusSnapshot{
		LastRecon:      s.lastRecon,
		BlocksExecuted: s.executed,
		BlocksFailed:   s.failed,
		QueueDepth:     len(s.queue),
		Mode:           s.cfg.Mode,
	}
	if s.current != nil {
		snapshot.CurrentBlockID = s.current.ID
	}
	return snapshot
}

func (s *Sequencer) beginBlock(block *plan.InstructionBlock) {
	s.mu.Lock()
	block.Status = plan.BlockStatusInFlight
	s.current = block
	s.lastRecon = plan.ReconPending
	s.mu.Unlock()

	s.logger.Info("开始执行指令块",
		zap.String("block", block.ID),
		zap.String("action", block.Action),
		zap.Int("instructions", len(block.Instructions)),
	)
}

func (s *Sequencer) finishBlock(ctx context.Context, block *plan.InstructionBlock, delta plan.Delta) {
	s.mu.Lock()
	block.Status = plan.BlockStatusExecuted
	s.executed++
	s.current = nil
	s.mu.Unlock()

	if s.events != nil {
		s.events.RecordBlockExecuted(ctx, block, delta)
	}

	s.logger.Info("指令块执行完成",
		zap.String("block", block.ID),
		zap.String("delta", delta.String()),
	)
}

// suspendBlock 在取消导致执行中断时将块放回队首，等待下一次 Drive 继续。
// 中断不是块本身的缺陷：不计入失败统计，也不产生失败事件。
func (s *Sequencer) suspendBlock(block *plan.InstructionBlock, cause error) error {
	s.mu.Lock()
	block.Status = plan.BlockStatusQueued
	s.queue = append([]*plan.InstructionBlock{block}, s.queue...)
	s.current = nil
	s.mu.Unlock()

	s.logger.Warn("执行被中断，指令块重新入队",
		zap.String("block", block.ID),
		zap.Error(cause),
	)
	return cause
}

func (s *Sequencer) failBlock(ctx context.Context, block *plan.InstructionBlock, attempts int, cause error) error {
	s.mu.Lock()
	block.Status = plan.BlockStatusFailed
	s.failed++
	s.current = nil
	s.mu.Unlock()

	failure := &BlockFailureError{
		BlockID:  block.ID,
		Attempts: attempts,
		Err:      cause,
	}

	if s.events != nil {
		s.events.RecordBlockFailure(ctx, block, failure)
	}

	s.logger.Error("指令块终态失败",
		zap.String("block", block.ID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return failure
}

func (s *Sequencer) dequeue() *plan.InstructionBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	block := s.queue[0]
	s.queue = s.queue[1:]
	return block
}

func (s *Sequencer) queueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Sequencer) setLastRecon(status plan.ReconStatus) {
	s.mu.Lock()
	s.lastRecon = status
	s.mu.Unlock()
}

// isPlanError 判断错误是否源自计划本身（未知指令、未注册场所），
// 这类错误不可重试。
func isPlanError(err error) bool {
	if errors.Is(err, router.ErrUnknownInstruction) || errors.Is(err, router.ErrUnknownVenue) {
		return true
	}
	return false
}
