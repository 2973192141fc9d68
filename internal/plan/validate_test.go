package plan

import (
	"strings"
	"testing"
)

func TestValidate_AcceptsWellFormedBlock(t *testing.T) {
	block := &InstructionBlock{
		ID:     "blk-1",
		Action: "rebalance",
		Instructions: []Instruction{
			CexTrade{Venue: "binance", TradeType: "market", Side: "sell", Symbol: "ETH/USDT", Amount: 1},
			SmartContractAction{Protocol: "aave", Action: "supply", Token: "USDC", Amount: 100},
			WalletTransfer{FromVenue: "binance", ToVenue: "onchain_wallet", Token: "USDT", Amount: 500},
		},
	}
	if err := block.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestValidate_RejectsStructuralDefects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(b *InstructionBlock)
		wantMsg string
	}{
		{
			"missing id",
			func(b *InstructionBlock) { b.ID = "" },
			"block.id",
		},
		{
			"missing action",
			func(b *InstructionBlock) { b.Action = "" },
			"block.action",
		},
		{
			"negative priority",
			func(b *InstructionBlock) { b.Priority = -1 },
			"block.priority",
		},
		{
			"empty instructions",
			func(b *InstructionBlock) { b.Instructions = nil },
			"block.instructions",
		},
		{
			"nil instruction",
			func(b *InstructionBlock) { b.Instructions = []Instruction{nil} },
			"instructions[0]",
		},
		{
			"invalid trade side",
			func(b *InstructionBlock) {
				b.Instructions = []Instruction{
					CexTrade{Venue: "binance", TradeType: "market", Side: "hold", Symbol: "ETH/USDT", Amount: 1},
				}
			},
			"cex_trade.side",
		},
		{
			"non-positive trade amount",
			func(b *InstructionBlock) {
				b.Instructions = []Instruction{
					CexTrade{Venue: "binance", TradeType: "market", Side: "buy", Symbol: "ETH/USDT", Amount: 0},
				}
			},
			"cex_trade.amount",
		},
		{
			"transfer without endpoints",
			func(b *InstructionBlock) {
				b.Instructions = []Instruction{
					WalletTransfer{Token: "USDT", Amount: 100},
				}
			},
			"至少指定一端场所",
		},
		{
			"action without protocol",
			func(b *InstructionBlock) {
				b.Instructions = []Instruction{
					SmartContractAction{Action: "supply", Token: "USDC", Amount: 100},
				}
			},
			"smart_contract_action.protocol",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			block := &InstructionBlock{
				ID:     "blk-1",
				Action: "rebalance",
				Instructions: []Instruction{
					CexTrade{Venue: "binance", TradeType: "market", Side: "buy", Symbol: "ETH/USDT", Amount: 1},
				},
			}
			tc.mutate(block)
			err := block.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestValidate_CollectsAllDefectsAtOnce(t *testing.T) {
	block := &InstructionBlock{
		Instructions: []Instruction{
			CexTrade{TradeType: "market", Side: "buy", Symbol: "ETH/USDT", Amount: -1},
		},
	}
	err := block.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"block.id", "block.action", "cex_trade.venue"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing defect %q", err, want)
		}
	}
}
