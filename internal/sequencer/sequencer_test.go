package sequencer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"plan-executor/internal/plan"
	"plan-executor/internal/router"
)

func TestDrive_SimulatedDrainsQueueInOrder(t *testing.T) {
	rt := &mockRouter{delta: plan.Delta{"binance": {"USDT": 100}}}
	updater := &mockUpdater{}
	recon := &mockRecon{}
	events := &mockEvents{}

	seq := newTestSequencer(t, Config{Mode: plan.ModeSimulated}, rt, updater, recon, events)

	blocks := []*plan.InstructionBlock{
		makeTradeBlock("blk-1"),
		makeTradeBlock("blk-2"),
		makeTradeBlock("blk-3"),
	}
	if err := seq.Drive(context.Background(), time.Now(), "test", blocks); err != nil {
		t.Fatalf("Drive returned error: %v", err)
	}

	if len(rt.blocks) != 3 {
		t.Fatalf("expected 3 routed blocks, got %d", len(rt.blocks))
	}
	for i, id := range []string{"blk-1", "blk-2", "blk-3"} {
		if rt.blocks[i] != id {
			t.Errorf("routing order mismatch at %d: got %s want %s", i, rt.blocks[i], id)
		}
	}
	if len(updater.sources) != 3 {
		t.Fatalf("expected 3 position updates, got %d", len(updater.sources))
	}
	if updater.sources[0] != "execution-core" {
		t.Errorf("unexpected update source: %s", updater.sources[0])
	}
	if recon.resets != 0 {
		t.Errorf("simulated mode must not reset reconcile state, got %d resets", recon.resets)
	}

	status := seq.Status()
	if status.BlocksExecuted != 3 || status.BlocksFailed != 0 {
		t.Errorf("unexpected counters: executed=%d failed=%d", status.BlocksExecuted, status.BlocksFailed)
	}
	if status.QueueDepth != 0 {
		t.Errorf("expected empty queue, got depth %d", status.QueueDepth)
	}
	if status.LastRecon != plan.ReconSuccess {
		t.Errorf("expected last recon success, got %s", status.LastRecon)
	}
	if events.executed != 3 {
		t.Errorf("expected 3 executed events, got %d", events.executed)
	}
	for _, b := range blocks {
		if b.Status != plan.BlockStatusExecuted {
			t.Errorf("block %s status = %s, want executed", b.ID, b.Status)
		}
	}
}

func TestDrive_RealModeRetriesUntilReconConfirms(t *testing.T) {
	rt := &mockRouter{delta: plan.Delta{"binance": {"ETH": -1}}}
	updater := &mockUpdater{}
	recon := &mockRecon{statuses: []plan.ReconStatus{plan.ReconPending, plan.ReconSuccess}}
	events := &mockEvents{}

	cfg := Config{Mode: plan.ModeReal, MaxRetries: 3, RetryDelay: time.Millisecond}
	seq := newTestSequencer(t, cfg, rt, updater, recon, events)

	if err := seq.Drive(context.Background(), time.Now(), "test", []*plan.InstructionBlock{makeTradeBlock("blk-1")}); err != nil {
		t.Fatalf("Drive returned error: %v", err)
	}

	if len(rt.blocks) != 2 {
		t.Fatalf("expected 2 routing attempts, got %d", len(rt.blocks))
	}
	if recon.resets != 2 {
		t.Errorf("expected reconcile reset per attempt, got %d resets", recon.resets)
	}
	if len(updater.sources) != 2 {
		t.Errorf("expected position update per attempt, got %d", len(updater.sources))
	}
	if status := seq.Status(); status.LastRecon != plan.ReconSuccess || status.BlocksExecuted != 1 {
		t.Errorf("unexpected status after confirm: %+v", status)
	}
}

func TestDrive_RealModeExhaustsRetryBudget(t *testing.T) {
	rt := &mockRouter{delta: plan.Delta{"binance": {"ETH": -1}}}
	updater := &mockUpdater{}
	recon := &mockRecon{} // Current 始终返回 pending
	events := &mockEvents{}

	cfg := Config{Mode: plan.ModeReal, MaxRetries: 3, RetryDelay: time.Millisecond}
	seq := newTestSequencer(t, cfg, rt, updater, recon, events)

	err := seq.Drive(context.Background(), time.Now(), "test", []*plan.InstructionBlock{makeTradeBlock("blk-1")})
	if err == nil {
		t.Fatalf("expected terminal failure after budget exhausted")
	}

	var failure *BlockFailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected BlockFailureError, got %T", err)
	}
	if failure.BlockID != "blk-1" || failure.Attempts != 3 {
		t.Errorf("unexpected failure detail: %+v", failure)
	}
	if !errors.Is(err, ErrReconTimeout) {
		t.Errorf("expected cause to wrap ErrReconTimeout, got %v", failure.Err)
	}
	if len(rt.blocks) != 3 {
		t.Errorf("expected exactly 3 routing attempts, got %d", len(rt.blocks))
	}
	if recon.resets != 3 {
		t.Errorf("expected 3 reconcile resets, got %d", recon.resets)
	}

	status := seq.Status()
	if status.LastRecon != plan.ReconFailed {
		t.Errorf("expected last recon failed, got %s", status.LastRecon)
	}
	if status.BlocksFailed != 1 {
		t.Errorf("expected 1 failed block, got %d", status.BlocksFailed)
	}
	if events.failed != 1 {
		t.Errorf("expected single failure event, got %d", events.failed)
	}
}

func TestDrive_CancellationRequeuesBlockWithoutFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	rt := &mockRouter{delta: plan.Delta{"binance": {"ETH": -1}}}
	rt.onRoute = func(block *plan.InstructionBlock) {
		// 第一次尝试途中收到退出信号
		cancel()
	}
	recon := &mockRecon{} // Current 始终返回 pending
	events := &mockEvents{}

	cfg := Config{Mode: plan.ModeReal, MaxRetries: 3, RetryDelay: time.Minute}
	seq := newTestSequencer(t, cfg, rt, &mockUpdater{}, recon, events)

	block := makeTradeBlock("blk-1")
	err := seq.Drive(ctx, time.Now(), "test", []*plan.InstructionBlock{block})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	var failure *BlockFailureError
	if errors.As(err, &failure) {
		t.Fatalf("cancellation must not be reported as a block failure")
	}

	status := seq.Status()
	if status.BlocksFailed != 0 {
		t.Errorf("cancellation must not count as failed, got %d", status.BlocksFailed)
	}
	if status.QueueDepth != 1 {
		t.Errorf("interrupted block should be requeued, depth=%d", status.QueueDepth)
	}
	if block.Status != plan.BlockStatusQueued {
		t.Errorf("block status = %s, want queued", block.Status)
	}
	if events.failed != 0 {
		t.Errorf("cancellation must not emit failure events, got %d", events.failed)
	}
	if len(rt.blocks) != 1 {
		t.Errorf("expected single attempt before suspension, got %d", len(rt.blocks))
	}
}

func TestDrive_PlanErrorFailsFastWithoutRetry(t *testing.T) {
	rt := &mockRouter{err: fmt.Errorf("路由失败: %w", router.ErrUnknownVenue)}
	recon := &mockRecon{}

	cfg := Config{Mode: plan.ModeReal, MaxRetries: 5, RetryDelay: time.Millisecond}
	seq := newTestSequencer(t, cfg, rt, &mockUpdater{}, recon, &mockEvents{})

	err := seq.Drive(context.Background(), time.Now(), "test", []*plan.InstructionBlock{makeTradeBlock("blk-1")})

	var failure *BlockFailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected BlockFailureError, got %v", err)
	}
	if failure.Attempts != 1 {
		t.Errorf("plan error must not consume retry budget, attempts=%d", failure.Attempts)
	}
	if len(rt.blocks) != 1 {
		t.Errorf("expected single routing attempt, got %d", len(rt.blocks))
	}
}

func TestDrive_FailureKeepsRemainingBlocksQueued(t *testing.T) {
	rt := &mockRouter{err: fmt.Errorf("%w: deposit", router.ErrUnknownInstruction)}
	seq := newTestSequencer(t, Config{Mode: plan.ModeSimulated}, rt, &mockUpdater{}, &mockRecon{}, &mockEvents{})

	blocks := []*plan.InstructionBlock{makeTradeBlock("blk-1"), makeTradeBlock("blk-2")}
	if err := seq.Drive(context.Background(), time.Now(), "test", blocks); err == nil {
		t.Fatalf("expected failure from first block")
	}

	status := seq.Status()
	if status.QueueDepth != 1 {
		t.Fatalf("expected remaining block to stay queued, depth=%d", status.QueueDepth)
	}
	if blocks[0].Status != plan.BlockStatusFailed {
		t.Errorf("first block status = %s, want failed", blocks[0].Status)
	}
	if blocks[1].Status != plan.BlockStatusQueued {
		t.Errorf("second block status = %s, want queued", blocks[1].Status)
	}
}

func TestSubmit_RejectsBatchWhenAnyBlockInvalid(t *testing.T) {
	seq := newTestSequencer(t, Config{}, &mockRouter{delta: plan.NewDelta()}, &mockUpdater{}, &mockRecon{}, &mockEvents{})

	invalid := makeTradeBlock("blk-bad")
	invalid.Instructions = nil

	err := seq.Submit([]*plan.InstructionBlock{makeTradeBlock("blk-ok"), invalid})
	if err == nil {
		t.Fatalf("expected submit rejection")
	}
	if depth := seq.Status().QueueDepth; depth != 0 {
		t.Errorf("rejected submit must not enqueue anything, depth=%d", depth)
	}
}

func TestSubmit_QueueOverflowKeepsExistingBlocks(t *testing.T) {
	cfg := Config{MaxQueueDepth: 2}
	seq := newTestSequencer(t, cfg, &mockRouter{delta: plan.NewDelta()}, &mockUpdater{}, &mockRecon{}, &mockEvents{})

	if err := seq.Submit([]*plan.InstructionBlock{makeTradeBlock("blk-1"), makeTradeBlock("blk-2")}); err != nil {
		t.Fatalf("initial submit failed: %v", err)
	}

	err := seq.Submit([]*plan.InstructionBlock{makeTradeBlock("blk-3")})
	if !errors.Is(err, ErrQueueOverflow) {
		t.Fatalf("expected ErrQueueOverflow, got %v", err)
	}
	if depth := seq.Status().QueueDepth; depth != 2 {
		t.Errorf("overflow must keep existing queue intact, depth=%d", depth)
	}
}

func TestStatus_ExposesInFlightBlock(t *testing.T) {
	var seq *Sequencer
	rt := &mockRouter{delta: plan.NewDelta()}
	rt.onRoute = func(block *plan.InstructionBlock) {
		status := seq.Status()
		if status.CurrentBlockID != block.ID {
			t.Errorf("expected current block %s, got %s", block.ID, status.CurrentBlockID)
		}
		if block.Status != plan.BlockStatusInFlight {
			t.Errorf("expected in-flight status, got %s", block.Status)
		}
	}

	seq = newTestSequencer(t, Config{Mode: plan.ModeSimulated}, rt, &mockUpdater{}, &mockRecon{}, &mockEvents{})
	if err := seq.Drive(context.Background(), time.Now(), "test", []*plan.InstructionBlock{makeTradeBlock("blk-1")}); err != nil {
		t.Fatalf("Drive returned error: %v", err)
	}
	if seq.Status().CurrentBlockID != "" {
		t.Errorf("expected no in-flight block after drain")
	}
}

func newTestSequencer(t *testing.T, cfg Config, rt Router, updater PositionUpdater, recon ReconcileReader, events EventRecorder) *Sequencer {
	t.Helper()
	seq, err := New(cfg, rt, updater, recon, events, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return seq
}

func makeTradeBlock(id string) *plan.InstructionBlock {
	return &plan.InstructionBlock{
		ID:     id,
		Action: "rebalance",
		Instructions: []plan.Instruction{
			plan.CexTrade{Venue: "binance", TradeType: "market", Side: "sell", Symbol: "ETH/USDT", Amount: 1},
		},
	}
}

type mockRouter struct {
	delta   plan.Delta
	err     error
	blocks  []string
	onRoute func(block *plan.InstructionBlock)
}

func (m *mockRouter) Route(ctx context.Context, block *plan.InstructionBlock) (plan.Delta, error) {
	m.blocks = append(m.blocks, block.ID)
	if m.onRoute != nil {
		m.onRoute(block)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.delta, nil
}

type mockUpdater struct {
	sources []string
	deltas  []plan.Delta
	err     error
}

func (m *mockUpdater) Update(ctx context.Context, ts time.Time, source string, delta plan.Delta) error {
	m.sources = append(m.sources, source)
	m.deltas = append(m.deltas, delta)
	return m.err
}

// mockRecon 按调用顺序返回预置状态，超出后保持 pending。
type mockRecon struct {
	statuses []plan.ReconStatus
	reads    int
	resets   int
}

func (m *mockRecon) Current() plan.ReconStatus {
	idx := m.reads
	m.reads++
	if idx < len(m.statuses) {
		return m.statuses[idx]
	}
	return plan.ReconPending
}

func (m *mockRecon) Reset() {
	m.resets++
}

type mockEvents struct {
	executed int
	failed   int
}

func (m *mockEvents) RecordBlockExecuted(ctx context.Context, block *plan.InstructionBlock, delta plan.Delta) {
	m.executed++
}

func (m *mockEvents) RecordBlockFailure(ctx context.Context, block *plan.InstructionBlock, err error) {
	m.failed++
}
