package registry

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"bintrader/internal/broker"
)

// Registry 持有一次运行开始时的标的目录快照，回答
// "标的 S 当前是否可交易"。符号比较按原样精确匹配、区分大小写，
// 不对命名做任何推断（EURUSD 与 EURUSD-OTC 互不相关）。
type Registry struct {
	gateway  broker.Gateway
	logger   *zap.Logger
	snapshot map[string]broker.Instrument
}

// New 通过一次 ListInstruments 调用构建注册表快照。
func New(ctx context.Context, gateway broker.Gateway, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		gateway: gateway,
		logger:  logger,
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh 丢弃并重建快照。快照在两次 Refresh 之间保持不变。
func (r *Registry) Refresh(ctx context.Context) error {
	snapshot, err := r.gateway.ListInstruments(ctx)
	if err != nil {
		return err
	}
	r.snapshot = snapshot
	r.logger.Debug("标的目录快照已更新", zap.Int("instruments", len(snapshot)))
	return nil
}

// Has 判断标的是否在目录中。
func (r *Registry) Has(symbol string) bool {
	_, ok := r.snapshot[symbol]
	return ok
}

// IsOpen 判断标的当前是否开放交易；目录中不存在时返回 false。
func (r *Registry) IsOpen(symbol string) bool {
	inst, ok := r.snapshot[symbol]
	return ok && inst.Open
}

// Instruments 按符号排序返回快照中的全部标的。
func (r *Registry) Instruments() []broker.Instrument {
	out := make([]broker.Instrument, 0, len(r.snapshot))
	for _, inst := range r.snapshot {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len 返回快照中的标的数量。
func (r *Registry) Len() int {
	return len(r.snapshot)
}
