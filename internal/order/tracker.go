package order

import (
	"fmt"
	"time"
)

// Tracker 按提交顺序持有一次批量执行中的全部订单记录。
// 它不做任何 broker 调用，只负责维护状态机：
// pending → win | loss | tie | unknown，终态一经写入不可更改。
type Tracker struct {
	orders []*Order
}

// NewTracker 创建空的订单跟踪器。
func NewTracker() *Tracker {
	return &Tracker{}
}

// Accept 记录一笔已被 broker 接受的订单，初始状态为 pending。
func (t *Tracker) Accept(correlationID string, req Request, submittedAt time.Time) (*Order, error) {
	if correlationID == "" {
		return nil, fmt.Errorf("order: correlation id 不能为空")
	}
	o := &Order{
		CorrelationID: correlationID,
		Request:       req,
		SubmittedAt:   submittedAt,
		Outcome:       OutcomePending,
	}
	t.orders = append(t.orders, o)
	return o, nil
}

// Reject 记录一笔提交阶段被拒绝的订单及其拒绝原因。
func (t *Tracker) Reject(req Request, kind string) *Order {
	o := &Order{
		Request:    req,
		Outcome:    OutcomeRejected,
		RejectKind: kind,
	}
	t.orders = append(t.orders, o)
	return o
}

// Resolve 将处于 pending 的订单推进到指定终态。
// 对已终结的订单重复写入视为错误，终态不可变。
func (t *Tracker) Resolve(o *Order, outcome Outcome) error {
	if !outcome.Terminal() {
		return fmt.Errorf("order: %q 不是终态", outcome)
	}
	if o.Outcome != OutcomePending {
		return fmt.Errorf("order: 订单 %s 已处于终态 %q", o.CorrelationID, o.Outcome)
	}
	o.Outcome = outcome
	return nil
}

// Pending 按提交顺序返回仍未结算的订单。
func (t *Tracker) Pending() []*Order {
	pending := make([]*Order, 0, len(t.orders))
	for _, o := range t.orders {
		if o.Outcome == OutcomePending {
			pending = append(pending, o)
		}
	}
	return pending
}

// Orders 按提交顺序返回全部订单快照。
func (t *Tracker) Orders() []Order {
	out := make([]Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	return out
}

// Len 返回记录的订单总数。
func (t *Tracker) Len() int {
	return len(t.orders)
}
