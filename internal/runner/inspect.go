package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bintrader/internal/broker"
	"bintrader/internal/order"
)

// Inspection 为 test 命令的产出：余额与标的目录快照。
type Inspection struct {
	Balance     decimal.Decimal
	Instruments []broker.Instrument
}

// Inspect 建立会话后并发拉取余额与标的目录，用于连通性自检。
func (c *Controller) Inspect(ctx context.Context) (Inspection, error) {
	var result Inspection

	if err := c.gateway.Connect(ctx, c.creds.Identity, c.creds.Secret); err != nil {
		return result, err
	}
	defer func() {
		if err := c.gateway.Close(); err != nil {
			c.logger.Warn("释放 broker 会话失败", zap.Error(err))
		}
	}()

	if err := c.gateway.SelectBalance(ctx, broker.BalanceDemo); err != nil {
		return result, err
	}

	var snapshot map[string]broker.Instrument

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		balance, err := c.gateway.Balance(groupCtx)
		if err != nil {
			return err
		}
		result.Balance = balance
		return nil
	})
	group.Go(func() error {
		instruments, err := c.gateway.ListInstruments(groupCtx)
		if err != nil {
			return err
		}
		snapshot = instruments
		return nil
	})
	if err := group.Wait(); err != nil {
		return result, err
	}

	result.Instruments = sortedInstruments(snapshot)
	c.logger.Info("连通性自检完成",
		zap.String("balance", result.Balance.String()),
		zap.Int("instruments", len(result.Instruments)),
	)
	return result, nil
}

// Check 跟踪单笔订单直到终态或截止时间（现在起一个期限加宽限）。
func (c *Controller) Check(ctx context.Context, correlationID string) (order.Outcome, error) {
	if correlationID == "" {
		return order.OutcomeUnknown, fmt.Errorf("runner: correlation id 不能为空")
	}

	if err := c.gateway.Connect(ctx, c.creds.Identity, c.creds.Secret); err != nil {
		return order.OutcomeUnknown, err
	}
	defer func() {
		if err := c.gateway.Close(); err != nil {
			c.logger.Warn("释放 broker 会话失败", zap.Error(err))
		}
	}()

	if err := c.gateway.SelectBalance(ctx, broker.BalanceDemo); err != nil {
		return order.OutcomeUnknown, err
	}

	deadline := c.clock.Now().Add(order.FixedDuration).Add(c.cfg.Grace)
	for {
		outcome, err := c.gateway.PollOutcome(ctx, correlationID)
		if err != nil {
			c.logger.Warn("结算查询失败，下一轮重试",
				zap.String("correlation_id", correlationID),
				zap.Error(err),
			)
		} else if outcome != order.OutcomePending {
			return outcome, nil
		}

		if !c.clock.Now().Before(deadline) {
			return order.OutcomeUnknown, nil
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return order.OutcomeUnknown, nil
		}
	}
}

func sortedInstruments(snapshot map[string]broker.Instrument) []broker.Instrument {
	out := make([]broker.Instrument, 0, len(snapshot))
	for _, inst := range snapshot {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
