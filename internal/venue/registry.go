package venue

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"plan-executor/internal/config"
)

// Registry 维护场所标识到能力对象的映射。
// 启动时构建一次，之后只读，由路由器独占使用。
type Registry struct {
	trades        map[string]TradeVenue
	protocols     map[string]ProtocolVenue
	transfers     map[string]TransferVenue
	defaultWallet TransferVenue
}

// NewRegistry 按配置构建全部场所接口。
func NewRegistry(cfg config.VenuesConfig, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		trades:    make(map[string]TradeVenue),
		protocols: make(map[string]ProtocolVenue),
		transfers: make(map[string]TransferVenue),
	}

	for _, c := range cfg.Cex {
		if _, exists := r.trades[c.Name]; exists {
			return nil, fmt.Errorf("重复注册交易所 %q", c.Name)
		}
		v, err := NewCexVenueFromConfig(c, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易所接口失败 (%s): %w", c.Name, err)
		}
		r.trades[c.Name] = v
		r.transfers[c.Name] = v
	}

	for _, p := range cfg.Protocols {
		if _, exists := r.protocols[p.Name]; exists {
			return nil, fmt.Errorf("重复注册协议 %q", p.Name)
		}
		wallet := p.Wallet
		if wallet == "" {
			wallet = cfg.DefaultWallet
		}
		var v ProtocolVenue
		if p.AtomicBatch {
			v = NewBatchOnChainVenue(p.Name, wallet, nil, logger)
		} else {
			v = NewOnChainVenue(p.Name, wallet, nil, logger)
		}
		r.protocols[p.Name] = v
		if tv, ok := v.(TransferVenue); ok {
			r.transfers[p.Name] = tv
		}
	}

	r.defaultWallet = NewWalletVenue(cfg.DefaultWallet, nil, logger)
	r.transfers[cfg.DefaultWallet] = r.defaultWallet

	logger.Info("场所接口注册完成",
		zap.Int("cex", len(cfg.Cex)),
		zap.Int("protocols", len(cfg.Protocols)),
		zap.String("default_wallet", cfg.DefaultWallet),
	)

	return r, nil
}

// Trade 按场所标识查找交易能力。
func (r *Registry) Trade(name string) (TradeVenue, bool) {
	v, ok := r.trades[name]
	return v, ok
}

// Protocol 按协议标识查找链上操作能力。
func (r *Registry) Protocol(name string) (ProtocolVenue, bool) {
	v, ok := r.protocols[name]
	return v, ok
}

// Transfer 按场所标识查找划转能力。
func (r *Registry) Transfer(name string) (TransferVenue, bool) {
	v, ok := r.transfers[name]
	return v, ok
}

// DefaultWallet 返回兜底钱包接口。
func (r *Registry) DefaultWallet() TransferVenue {
	return r.defaultWallet
}

// Available 按类别列出已注册场所，供状态快照使用。
func (r *Registry) Available() map[Category][]string {
	out := make(map[Category][]string, 3)
	for name := range r.trades {
		out[CategoryCex] = append(out[CategoryCex], name)
	}
	for name := range r.protocols {
		out[CategoryOnChain] = append(out[CategoryOnChain], name)
	}
	for name := range r.transfers {
		if _, isTrade := r.trades[name]; isTrade {
			continue
		}
		if _, isProtocol := r.protocols[name]; isProtocol {
			continue
		}
		// 纯划转场所（默认钱包）归入链上类别
		out[CategoryOnChain] = append(out[CategoryOnChain], name)
	}
	for _, names := range out {
		sort.Strings(names)
	}
	return out
}
