package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"bintrader/internal/order"
)

// Mode 为运行摘要的输出模式。
type Mode string

const (
	ModeHuman   Mode = "human"
	ModeMachine Mode = "machine"
)

// Valid 判断输出模式是否合法。
func (m Mode) Valid() bool {
	return m == ModeHuman || m == ModeMachine
}

// Counts 为一次运行的订单计数汇总。
type Counts struct {
	Submitted      int `json:"submitted"`
	Accepted       int `json:"accepted"`
	Rejected       int `json:"rejected"`
	SettledWin     int `json:"settled_win"`
	SettledLoss    int `json:"settled_loss"`
	SettledTie     int `json:"settled_tie"`
	SettledUnknown int `json:"settled_unknown"`
}

// RunReport 为一次批量执行的对账摘要。
type RunReport struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	Orders         []order.Order   `json:"orders"`
	Counts         Counts          `json:"counts"`
}

// Build 从订单集合与前后余额构造 RunReport，计数在此一次算清。
func Build(initial, final decimal.Decimal, orders []order.Order) RunReport {
	r := RunReport{
		InitialBalance: initial,
		FinalBalance:   final,
		Orders:         orders,
	}
	for _, o := range orders {
		r.Counts.Submitted++
		switch o.Outcome {
		case order.OutcomeRejected:
			r.Counts.Rejected++
		case order.OutcomeWin:
			r.Counts.Accepted++
			r.Counts.SettledWin++
		case order.OutcomeLoss:
			r.Counts.Accepted++
			r.Counts.SettledLoss++
		case order.OutcomeTie:
			r.Counts.Accepted++
			r.Counts.SettledTie++
		case order.OutcomeUnknown:
			r.Counts.Accepted++
			r.Counts.SettledUnknown++
		default:
			r.Counts.Accepted++
		}
	}
	return r
}

// Write 按指定模式把摘要写入 sink。除写入 w 外不做任何 I/O，
// 相同输入产生逐字节相同的输出。
func Write(w io.Writer, r RunReport, mode Mode) error {
	switch mode {
	case ModeMachine:
		return writeMachine(w, r)
	default:
		return writeHuman(w, r)
	}
}

func writeMachine(w io.Writer, r RunReport) error {
	if r.Orders == nil {
		r.Orders = []order.Order{}
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: 序列化摘要失败: %w", err)
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func writeHuman(w io.Writer, r RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "#\tsymbol\tdirection\tstake\toutcome\tcorrelation\treject\n")
	for i, o := range r.Orders {
		correlation := o.CorrelationID
		if correlation == "" {
			correlation = "-"
		}
		reject := o.RejectKind
		if reject == "" {
			reject = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, o.Request.Symbol, o.Request.Direction, o.Request.Stake.String(), o.Outcome, correlation, reject)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	delta := r.FinalBalance.Sub(r.InitialBalance)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "submitted=%d accepted=%d rejected=%d win=%d loss=%d tie=%d unknown=%d\n",
		r.Counts.Submitted, r.Counts.Accepted, r.Counts.Rejected,
		r.Counts.SettledWin, r.Counts.SettledLoss, r.Counts.SettledTie, r.Counts.SettledUnknown)
	fmt.Fprintf(w, "balance %s -> %s (delta %s)\n",
		r.InitialBalance.String(), r.FinalBalance.String(), delta.String())
	return nil
}
