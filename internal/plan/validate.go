package plan

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
)

// Validate 对指令块做结构校验，不合法的块不得入队。
func (b *InstructionBlock) Validate() error {
	var err error

	if b.ID == "" {
		err = multierr.Append(err, errors.New("block.id 不能为空"))
	}
	if b.Action == "" {
		err = multierr.Append(err, errors.New("block.action 不能为空"))
	}
	if b.Priority < 0 {
		err = multierr.Append(err, errors.New("block.priority 不能为负"))
	}
	if len(b.Instructions) == 0 {
		err = multierr.Append(err, errors.New("block.instructions 至少包含一条指令"))
	}

	for i, ins := range b.Instructions {
		if ins == nil {
			err = multierr.Append(err, fmt.Errorf("instructions[%d] 不能为空", i))
			continue
		}
		if insErr := validateInstruction(ins); insErr != nil {
			err = multierr.Append(err, fmt.Errorf("instructions[%d]: %w", i, insErr))
		}
	}

	if err != nil {
		return fmt.Errorf("指令块 %q 校验失败: %w", b.ID, err)
	}
	return nil
}

func validateInstruction(ins Instruction) error {
	switch v := ins.(type) {
	case WalletTransfer:
		if v.Token == "" {
			return errors.New("wallet_transfer.token 不能为空")
		}
		if v.Amount <= 0 {
			return errors.New("wallet_transfer.amount 必须大于0")
		}
		if v.FromVenue == "" && v.ToVenue == "" {
			return errors.New("wallet_transfer 至少指定一端场所")
		}
	case SmartContractAction:
		if v.Protocol == "" {
			return errors.New("smart_contract_action.protocol 不能为空")
		}
		if v.Action == "" {
			return errors.New("smart_contract_action.action 不能为空")
		}
		if v.Amount < 0 {
			return errors.New("smart_contract_action.amount 不能为负")
		}
	case CexTrade:
		if v.Venue == "" {
			return errors.New("cex_trade.venue 不能为空")
		}
		if v.Symbol == "" {
			return errors.New("cex_trade.symbol 不能为空")
		}
		if v.Side != "buy" && v.Side != "sell" {
			return fmt.Errorf("cex_trade.side 非法: %q", v.Side)
		}
		if v.Amount <= 0 {
			return errors.New("cex_trade.amount 必须大于0")
		}
	default:
		return fmt.Errorf("未知指令类型 %T", ins)
	}
	return nil
}
