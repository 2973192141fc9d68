package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/config"
	"plan-executor/internal/sequencer"
	"plan-executor/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 初始化执行核心并按固定节拍排空队列，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行编排系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
		zap.Int("max_retries", a.cfg.Execution.MaxRetries),
	)

	core, err := newCore(a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	if err := startMonitorServer(ctx, core, a.cfg.Monitor.Port, a.logger); err != nil {
		return err
	}

	loopInterval := a.cfg.Scheduler.LoopInterval
	if loopInterval <= 0 {
		loopInterval = 15 * time.Second
	}

	ticker := time.NewTicker(loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := core.Tick(ctx); err != nil {
				var failure *sequencer.BlockFailureError
				if errors.As(err, &failure) {
					// 终态失败已写入监控事件，剩余块留在队列中等待人工处理
					a.logger.Error("指令块终态失败，排空已暂停",
						zap.String("block", failure.BlockID),
						zap.Int("attempts", failure.Attempts),
					)
					continue
				}
				a.logger.Error("执行调度失败", zap.Error(err))
			}
		}
	}
}
