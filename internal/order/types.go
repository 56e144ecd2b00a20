package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction 表示期权方向。
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid 判断方向是否合法。
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Outcome 表示订单的结算状态。
type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeWin      Outcome = "win"
	OutcomeLoss     Outcome = "loss"
	OutcomeTie      Outcome = "tie"
	OutcomeUnknown  Outcome = "unknown"
	OutcomeRejected Outcome = "rejected"
)

// Terminal 判断状态是否为终态。
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeWin, OutcomeLoss, OutcomeTie, OutcomeUnknown, OutcomeRejected:
		return true
	default:
		return false
	}
}

// Request 描述一笔待提交的定向订单，期限固定为1分钟。
type Request struct {
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Stake     decimal.Decimal `json:"stake"`
	Duration  time.Duration   `json:"duration"`
}

// FixedDuration 为系统内所有订单的固定期限。
const FixedDuration = time.Minute

// Order 为单笔订单的生命周期记录。被拒绝的订单没有 CorrelationID，
// 只有 RejectKind；被接受的订单从 pending 推进到唯一终态。
type Order struct {
	CorrelationID string    `json:"correlation_id,omitempty"`
	Request       Request   `json:"request"`
	SubmittedAt   time.Time `json:"submitted_at,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	RejectKind    string    `json:"reject_kind,omitempty"`
}

// Rejected 判断订单是否在提交阶段被拒绝。
func (o *Order) Rejected() bool {
	return o.RejectKind != ""
}

// Settled 判断订单是否已有非 unknown 的结算结果。
func (o *Order) Settled() bool {
	switch o.Outcome {
	case OutcomeWin, OutcomeLoss, OutcomeTie:
		return true
	default:
		return false
	}
}
