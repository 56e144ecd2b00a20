package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"bintrader/internal/order"
)

// BalanceKind 表示账户类型，系统只支持模拟账户。
type BalanceKind string

const (
	// BalanceDemo 为模拟账户，唯一受支持的账户类型。
	BalanceDemo BalanceKind = "demo"
)

// Instrument 为标的目录中的单个条目。
type Instrument struct {
	Symbol string
	Open   bool
}

// Gateway 是对 broker 原语的最小能力面。实现保持无状态
// （连接句柄之外），不做任何重试，也不咨询标的注册表——
// 这两件事都属于批量控制器。
type Gateway interface {
	// Connect 用凭证建立会话。失败分类：auth_rejected、
	// transport_unavailable、rate_limited。
	Connect(ctx context.Context, identity, secret string) error

	// SelectBalance 切换账户类型，demo 以外一律 unsupported_balance。
	SelectBalance(ctx context.Context, kind BalanceKind) error

	// Balance 读取当前账户余额。
	Balance(ctx context.Context) (decimal.Decimal, error)

	// ListInstruments 返回标的目录的即时快照，网关不缓存。
	ListInstruments(ctx context.Context) (map[string]Instrument, error)

	// PlaceOrder 提交定向订单，成功时返回非空 correlation id。
	PlaceOrder(ctx context.Context, req order.Request) (string, error)

	// PollOutcome 非阻塞查询订单结算结果，未结算时返回 pending。
	PollOutcome(ctx context.Context, correlationID string) (order.Outcome, error)

	// Close 释放会话，可重复调用。
	Close() error
}
