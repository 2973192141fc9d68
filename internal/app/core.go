package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plan-executor/internal/config"
	"plan-executor/internal/ledger"
	"plan-executor/internal/marketdata"
	"plan-executor/internal/monitor"
	"plan-executor/internal/plan"
	"plan-executor/internal/reconcile"
	"plan-executor/internal/router"
	"plan-executor/internal/sequencer"
	"plan-executor/internal/store"
	"plan-executor/internal/venue"
)

// core 聚合执行编排核心及其协作方。
type core struct {
	seq     *sequencer.Sequencer
	router  *router.Router
	market  *marketdata.Service
	monitor *monitor.Service
	book    *ledger.Book
	logger  *zap.Logger
}

// reconcilingUpdater 先完成记账，再触发对账比较。
// 记账完成是读取对账状态的前置条件。
type reconcilingUpdater struct {
	book  *ledger.Book
	recon *reconcile.Engine
}

func (u *reconcilingUpdater) Update(ctx context.Context, ts time.Time, source string, delta plan.Delta) error {
	if err := u.book.Update(ctx, ts, source, delta); err != nil {
		return err
	}
	u.recon.Observe(ctx, u.book.Positions())
	return nil
}

func newCore(cfg *config.Config, logger *zap.Logger, store *store.Store) (*core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, err := venue.NewRegistry(cfg.Venues, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化场所注册表失败: %w", err)
	}

	mode := plan.ModeReal
	if cfg.Execution.Simulation {
		mode = plan.ModeSimulated
		logger.Info("执行核心处于模拟模式")
	}

	rt := router.New(registry, mode, logger)

	book, err := ledger.NewBook(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化持仓账本失败: %w", err)
	}

	var reporters []reconcile.Reporter
	if mode == plan.ModeReal {
		for _, c := range cfg.Venues.Cex {
			client, err := venue.NewClient(c)
			if err != nil {
				return nil, fmt.Errorf("初始化余额上报客户端失败 (%s): %w", c.Name, err)
			}
			reporters = append(reporters, ledger.NewCexReporter(c.Name, client, logger))
		}
	}
	recon := reconcile.NewEngine(cfg.Reconcile, reporters, logger)

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	updater := &reconcilingUpdater{book: book, recon: recon}

	seq, err := sequencer.New(sequencer.Config{
		Mode:          mode,
		MaxRetries:    cfg.Execution.MaxRetries,
		RetryDelay:    cfg.Execution.RetryDelay,
		MaxQueueDepth: cfg.Execution.MaxQueueDepth,
		SourceTag:     cfg.Execution.SourceTag,
	}, rt, updater, recon, monitorSvc, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化执行编排器失败: %w", err)
	}

	market, err := marketdata.NewService(cfg.MarketData, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化行情服务失败: %w", err)
	}

	c := &core{
		seq:     seq,
		router:  rt,
		market:  market,
		monitor: monitorSvc,
		book:    book,
		logger:  logger,
	}

	// 健康回调仅在启动时注册一次
	monitorSvc.RegisterMetricSource("sequencer", func() interface{} { return seq.Status() })
	monitorSvc.RegisterMetricSource("router", func() interface{} { return rt.Status() })
	monitorSvc.RegisterMetricSource("positions", func() interface{} { return book.Positions() })
	monitorSvc.RegisterMetricSource("statistics", func() interface{} { return c.Statistics() })

	return c, nil
}

// Statistics 汇总块级与指令级执行计数。
func (c *core) Statistics() plan.Statistics {
	seqStatus := c.seq.Status()
	rtStatus := c.router.Status()
	return plan.Statistics{
		BlocksExecuted:     seqStatus.BlocksExecuted,
		BlocksFailed:       seqStatus.BlocksFailed,
		InstructionsRouted: rtStatus.InstructionsRouted,
		InstructionsFailed: rtStatus.InstructionsFailed,
	}
}

// SubmitBlocks 对指令块做结构与行情双重校验后入队。
// 校验失败同步返回给调用方，队列不受影响。
func (c *core) SubmitBlocks(ctx context.Context, blocks []*plan.InstructionBlock) error {
	for _, block := range blocks {
		if block == nil {
			return fmt.Errorf("block 不能为空")
		}
		if err := block.Validate(); err != nil {
			return err
		}
	}

	// 行情仅服务于本次校验，不跨节拍缓存
	data, err := c.market.GetData(ctx, time.Now().UTC())
	if err != nil {
		c.monitor.RecordError(ctx, "拉取行情数据失败", err, nil)
		return fmt.Errorf("拉取行情数据失败: %w", err)
	}
	for _, block := range blocks {
		if err := c.market.Validate(block, data); err != nil {
			c.monitor.RecordError(ctx, "指令块行情校验失败", err, map[string]interface{}{"block": block.ID})
			return err
		}
	}

	return c.seq.Submit(blocks)
}

// Tick 为调度节拍入口：排空队列，终态失败由监控事件与日志承接。
func (c *core) Tick(ctx context.Context) error {
	return c.seq.Drive(ctx, time.Now().UTC(), "scheduler", nil)
}

// Monitor 返回监控服务。
func (c *core) Monitor() *monitor.Service {
	return c.monitor
}
