package app

import (
	"fmt"

	"plan-executor/internal/plan"
)

// wireBlock 为外部提交指令块的线上格式。
// 在边界处校验转换为封闭的 Instruction 类型。
type wireBlock struct {
	ID           string            `json:"id"`
	Action       string            `json:"action"`
	Priority     int               `json:"priority"`
	Instructions []wireInstruction `json:"instructions"`
}

type wireInstruction struct {
	Type string `json:"type"`

	// wallet_transfer
	FromVenue string `json:"from_venue,omitempty"`
	ToVenue   string `json:"to_venue,omitempty"`

	// smart_contract_action
	Protocol string `json:"protocol,omitempty"`
	Action   string `json:"action,omitempty"`

	// cex_trade
	Venue     string `json:"venue,omitempty"`
	TradeType string `json:"trade_type,omitempty"`
	Side      string `json:"side,omitempty"`
	Symbol    string `json:"symbol,omitempty"`

	Token           string     `json:"token,omitempty"`
	Amount          float64    `json:"amount,omitempty"`
	EstimatedDeltas plan.Delta `json:"estimated_deltas,omitempty"`
}

func (w wireBlock) toBlock() (*plan.InstructionBlock, error) {
	instructions := make([]plan.Instruction, 0, len(w.Instructions))
	for i, ins := range w.Instructions {
		converted, err := ins.toInstruction()
		if err != nil {
			return nil, fmt.Errorf("块 %q 指令[%d]: %w", w.ID, i, err)
		}
		instructions = append(instructions, converted)
	}

	return &plan.InstructionBlock{
		ID:           w.ID,
		Action:       w.Action,
		Priority:     w.Priority,
		Instructions: instructions,
	}, nil
}

func (w wireInstruction) toInstruction() (plan.Instruction, error) {
	switch plan.InstructionKind(w.Type) {
	case plan.KindWalletTransfer:
		return plan.WalletTransfer{
			FromVenue: w.FromVenue,
			ToVenue:   w.ToVenue,
			Token:     w.Token,
			Amount:    w.Amount,
			Estimated: w.EstimatedDeltas,
		}, nil
	case plan.KindSmartContractAction:
		return plan.SmartContractAction{
			Protocol:  w.Protocol,
			Action:    w.Action,
			Token:     w.Token,
			Amount:    w.Amount,
			Estimated: w.EstimatedDeltas,
		}, nil
	case plan.KindCexTrade:
		return plan.CexTrade{
			Venue:     w.Venue,
			TradeType: w.TradeType,
			Side:      w.Side,
			Symbol:    w.Symbol,
			Amount:    w.Amount,
			Estimated: w.EstimatedDeltas,
		}, nil
	default:
		return nil, fmt.Errorf("无法识别的指令类型 %q", w.Type)
	}
}
