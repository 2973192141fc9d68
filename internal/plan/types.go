package plan

import "time"

// BlockStatus 表示指令块的生命周期状态。
type BlockStatus string

const (
	BlockStatusQueued   BlockStatus = "queued"
	BlockStatusInFlight BlockStatus = "in_flight"
	BlockStatusExecuted BlockStatus = "executed"
	BlockStatusFailed   BlockStatus = "failed"
)

// Mode 区分模拟与真实执行路径。
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeReal      Mode = "real"
)

// ReconStatus 表示单次执行尝试的对账状态。
type ReconStatus string

const (
	ReconPending ReconStatus = "pending"
	ReconSuccess ReconStatus = "success"
	ReconFailed  ReconStatus = "failed"
)

// InstructionBlock 是策略层提交的最小执行单元。
// 入队后除 Status 外不可变，队列内顺序不可调整。
type InstructionBlock struct {
	ID           string
	Action       string
	Priority     int
	Instructions []Instruction
	Status       BlockStatus
	SubmittedAt  time.Time
}

// Instruction 是封闭的指令变体集合，由路由器做穷尽匹配。
// 外部载荷须在边界处被校验转换为该类型。
type Instruction interface {
	Kind() InstructionKind
	EstimatedDeltas() Delta
}

// InstructionKind 标识指令类型。
type InstructionKind string

const (
	KindWalletTransfer      InstructionKind = "wallet_transfer"
	KindSmartContractAction InstructionKind = "smart_contract_action"
	KindCexTrade            InstructionKind = "cex_trade"
)

// WalletTransfer 表示跨场所的代币划转。
type WalletTransfer struct {
	FromVenue string
	ToVenue   string
	Token     string
	Amount    float64
	Estimated Delta
}

func (w WalletTransfer) Kind() InstructionKind  { return KindWalletTransfer }
func (w WalletTransfer) EstimatedDeltas() Delta { return w.Estimated }

// SmartContractAction 表示链上协议操作。
type SmartContractAction struct {
	Protocol  string
	Action    string
	Token     string
	Amount    float64
	Estimated Delta
}

func (s SmartContractAction) Kind() InstructionKind  { return KindSmartContractAction }
func (s SmartContractAction) EstimatedDeltas() Delta { return s.Estimated }

// CexTrade 表示中心化交易所委托。
type CexTrade struct {
	Venue     string
	TradeType string // market | limit
	Side      string // buy | sell
	Symbol    string
	Amount    float64
	Estimated Delta
}

func (c CexTrade) Kind() InstructionKind  { return KindCexTrade }
func (c CexTrade) EstimatedDeltas() Delta { return c.Estimated }

// Statistics 汇总块级与指令级执行计数，随进程生命周期单调递增。
type Statistics struct {
	BlocksExecuted     int64 `json:"blocks_executed"`
	BlocksFailed       int64 `json:"blocks_failed"`
	InstructionsRouted int64 `json:"instructions_routed"`
	InstructionsFailed int64 `json:"instructions_failed"`
}
