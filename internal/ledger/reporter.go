package ledger

import (
	"context"
	"fmt"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"plan-executor/internal/plan"
)

type balanceClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
}

// CexReporter 从交易所拉取真实余额，为对账引擎提供场所上报视图。
type CexReporter struct {
	venue  string
	client balanceClient
	logger *zap.Logger
}

// NewCexReporter 创建交易所余额上报器。
func NewCexReporter(venue string, client balanceClient, logger *zap.Logger) *CexReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CexReporter{
		venue:  venue,
		client: client,
		logger: logger,
	}
}

// Reported 返回交易所侧报告的分代币余额。
func (r *CexReporter) Reported(ctx context.Context) (plan.Delta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	balances, err := r.client.FetchBalance()
	if err != nil {
		return nil, fmt.Errorf("ledger: 获取 %s 账户余额失败: %w", r.venue, err)
	}

	out := plan.NewDelta()
	if balances.Total != nil {
		for code, total := range balances.Total {
			if total == nil || *total == 0 {
				continue
			}
			out.Add(r.venue, code, *total)
		}
	}

	r.logger.Debug("已拉取场所余额",
		zap.String("venue", r.venue),
		zap.String("positions", out.String()),
	)
	return out, nil
}
