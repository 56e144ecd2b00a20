package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind 为封闭的错误分类，上层只依据 Kind 决定处理策略。
type Kind string

const (
	// KindAuthRejected 表示 broker 拒绝了登录凭证。
	KindAuthRejected Kind = "auth_rejected"
	// KindTransportUnavailable 表示建立连接阶段的网络失败。
	KindTransportUnavailable Kind = "transport_unavailable"
	// KindRateLimited 表示连接被 broker 限流拒绝。
	KindRateLimited Kind = "rate_limited"
	// KindUnsupportedBalance 表示请求了 demo 以外的账户类型。
	KindUnsupportedBalance Kind = "unsupported_balance"
	// KindInstrumentClosed 表示标的当前不可交易。
	KindInstrumentClosed Kind = "instrument_closed"
	// KindInstrumentUnknown 表示标的不在目录中。
	KindInstrumentUnknown Kind = "instrument_unknown"
	// KindInsufficientBalance 表示余额不足以覆盖本金。
	KindInsufficientBalance Kind = "insufficient_balance"
	// KindRejectedByBroker 为 broker 侧拒单且无更细错误码时的兜底分类。
	KindRejectedByBroker Kind = "rejected_by_broker"
	// KindTransportError 为任意 broker 调用过程中的传输层失败。
	KindTransportError Kind = "transport_error"
)

// Error 携带分类信息的 broker 错误。SDK 或传输层抛出的任何
// 未知异常都会在网关边界被归一化为 KindTransportError，不再外泄。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("broker: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 构造分类错误。
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf 提取错误的分类；非 broker 错误一律视为 transport_error。
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindTransportError
}

// normalize 把网关内部遇到的任意错误折叠进封闭分类。
// context 取消与超时、net.Error 都归入 transport_error。
func normalize(op string, err error) error {
	if err == nil {
		return nil
	}

	var be *Error
	if errors.As(err, &be) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTransportError, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewError(KindTransportError, op, err)
	}

	return NewError(KindTransportError, op, err)
}
