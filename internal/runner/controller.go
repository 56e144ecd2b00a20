package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"bintrader/internal/broker"
	"bintrader/internal/order"
	"bintrader/internal/plan"
	"bintrader/internal/registry"
	"bintrader/internal/report"
)

// Credentials 为调用方提供的登录凭证，核心不持久化。
type Credentials struct {
	Identity string
	Secret   string
}

// Config 控制批量执行节奏。
type Config struct {
	// Pacing 为相邻两次提交之间的固定间隔，成功失败一视同仁。
	Pacing time.Duration
	// PollInterval 为结算轮询周期。
	PollInterval time.Duration
	// Grace 为到期后仍等待结算结果的宽限时长。
	Grace time.Duration
}

// Observer 接收控制器在执行过程中产出的事件，用于落运行日志。
// 实现必须非阻塞地容忍失败：事件丢失不影响执行。
type Observer interface {
	RunStarted(ctx context.Context, planSize int, initial decimal.Decimal)
	OrderRecorded(ctx context.Context, o order.Order)
	OrderSettled(ctx context.Context, o order.Order)
	RunFinished(ctx context.Context, r report.RunReport)
}

type nopObserver struct{}

func (nopObserver) RunStarted(context.Context, int, decimal.Decimal) {}
func (nopObserver) OrderRecorded(context.Context, order.Order)      {}
func (nopObserver) OrderSettled(context.Context, order.Order)       {}
func (nopObserver) RunFinished(context.Context, report.RunReport)   {}

// Controller 驱动一份 BatchPlan 从建立会话到产出对账摘要的完整
// 状态机。会话由它独占，任何退出路径都会释放。
type Controller struct {
	gateway  broker.Gateway
	creds    Credentials
	cfg      Config
	clock    Clock
	observer Observer
	logger   *zap.Logger
}

// New 创建批量控制器。clock、observer、logger 传 nil 时使用缺省值。
func New(gateway broker.Gateway, creds Credentials, cfg Config, clock Clock, observer Observer, logger *zap.Logger) *Controller {
	if clock == nil {
		clock = NewClock()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Pacing <= 0 {
		cfg.Pacing = 2 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Grace < 0 {
		cfg.Grace = 0
	}
	return &Controller{
		gateway:  gateway,
		creds:    creds,
		cfg:      cfg,
		clock:    clock,
		observer: observer,
		logger:   logger,
	}
}

// Run 执行批量计划。ctx 取消表示软停止：不再提交新订单，但已
// 提交订单仍按各自截止时间走完结算阶段；settleCtx 取消表示硬
// 停止：跳过结算，余下 pending 订单一律判 unknown。settleCtx
// 必须覆盖 ctx 的生命周期（ctx 由 settleCtx 派生）。
func (c *Controller) Run(ctx, settleCtx context.Context, p *plan.Plan) (report.RunReport, error) {
	var zero report.RunReport

	if err := c.gateway.Connect(ctx, c.creds.Identity, c.creds.Secret); err != nil {
		return zero, err
	}
	defer func() {
		if err := c.gateway.Close(); err != nil {
			c.logger.Warn("释放 broker 会话失败", zap.Error(err))
		}
	}()

	if err := c.gateway.SelectBalance(ctx, broker.BalanceDemo); err != nil {
		return zero, err
	}

	initial, err := c.gateway.Balance(ctx)
	if err != nil {
		return zero, fmt.Errorf("读取初始余额失败: %w", err)
	}

	reg, err := registry.New(ctx, c.gateway, c.logger)
	if err != nil {
		return zero, fmt.Errorf("构建标的注册表失败: %w", err)
	}

	c.logger.Info("批量执行开始",
		zap.Int("plan_size", p.Len()),
		zap.String("initial_balance", initial.String()),
		zap.Int("instruments", reg.Len()),
	)
	c.observer.RunStarted(ctx, p.Len(), initial)

	tracker := order.NewTracker()
	c.submitAll(ctx, p, reg, tracker)
	c.settle(settleCtx, tracker)

	final := c.finalBalance(settleCtx, initial)

	r := report.Build(initial, final, tracker.Orders())
	c.observer.RunFinished(settleCtx, r)
	c.logger.Info("批量执行结束",
		zap.Int("submitted", r.Counts.Submitted),
		zap.Int("accepted", r.Counts.Accepted),
		zap.Int("rejected", r.Counts.Rejected),
		zap.Int("unknown", r.Counts.SettledUnknown),
		zap.String("final_balance", final.String()),
	)
	return r, nil
}

// submitAll 按计划顺序逐条提交，条目之间保持固定步调。
// 注册表前置检查与 broker 拒单都记为 rejected 并继续，
// 单条提交内部绝不重试。
func (c *Controller) submitAll(ctx context.Context, p *plan.Plan, reg *registry.Registry, tracker *order.Tracker) {
	for i, req := range p.Entries {
		if ctx.Err() != nil {
			c.logger.Warn("收到停止信号，放弃剩余提交",
				zap.Int("remaining", len(p.Entries)-i),
			)
			return
		}

		o := c.submitOne(ctx, req, reg, tracker)
		c.observer.OrderRecorded(ctx, *o)

		if i < len(p.Entries)-1 {
			if err := c.clock.Sleep(ctx, c.cfg.Pacing); err != nil {
				c.logger.Warn("收到停止信号，放弃剩余提交",
					zap.Int("remaining", len(p.Entries)-i-1),
				)
				return
			}
		}
	}
}

func (c *Controller) submitOne(ctx context.Context, req order.Request, reg *registry.Registry, tracker *order.Tracker) *order.Order {
	if !reg.Has(req.Symbol) {
		c.logger.Warn("标的不在目录中，跳过",
			zap.String("symbol", req.Symbol),
		)
		return tracker.Reject(req, string(broker.KindInstrumentUnknown))
	}
	if !reg.IsOpen(req.Symbol) {
		c.logger.Warn("标的当前关闭，跳过",
			zap.String("symbol", req.Symbol),
		)
		return tracker.Reject(req, string(broker.KindInstrumentClosed))
	}

	correlationID, err := c.gateway.PlaceOrder(ctx, req)
	if err != nil {
		kind := broker.KindOf(err)
		c.logger.Warn("下单被拒绝",
			zap.String("symbol", req.Symbol),
			zap.String("direction", string(req.Direction)),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return tracker.Reject(req, string(kind))
	}

	submittedAt := c.clock.Now()
	o, accErr := tracker.Accept(correlationID, req, submittedAt)
	if accErr != nil {
		// broker 返回了空 correlation id，按兜底拒单处理。
		c.logger.Error("订单登记失败", zap.Error(accErr))
		return tracker.Reject(req, string(broker.KindRejectedByBroker))
	}

	c.logger.Info("订单已提交",
		zap.String("symbol", req.Symbol),
		zap.String("direction", string(req.Direction)),
		zap.String("stake", req.Stake.String()),
		zap.String("correlation_id", correlationID),
	)
	return o
}

// settle 顺序轮询所有 pending 订单直到终态或各自截止时间。
// 轮询中的传输错误不计数，下一轮继续，直至截止判 unknown。
func (c *Controller) settle(ctx context.Context, tracker *order.Tracker) {
	for {
		pending := tracker.Pending()
		if len(pending) == 0 {
			return
		}

		if ctx.Err() != nil {
			c.abandonPending(ctx, tracker)
			return
		}

		for _, o := range pending {
			if ctx.Err() != nil {
				c.abandonPending(ctx, tracker)
				return
			}

			deadline := o.SubmittedAt.Add(o.Request.Duration).Add(c.cfg.Grace)
			if !c.clock.Now().Before(deadline) {
				c.resolve(ctx, tracker, o, order.OutcomeUnknown)
				continue
			}

			outcome, err := c.gateway.PollOutcome(ctx, o.CorrelationID)
			if err != nil {
				c.logger.Warn("结算查询失败，下一轮重试",
					zap.String("correlation_id", o.CorrelationID),
					zap.Error(err),
				)
				continue
			}
			if outcome == order.OutcomePending {
				continue
			}
			c.resolve(ctx, tracker, o, outcome)
		}

		if len(tracker.Pending()) == 0 {
			return
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollInterval); err != nil {
			c.abandonPending(ctx, tracker)
			return
		}
	}
}

func (c *Controller) resolve(ctx context.Context, tracker *order.Tracker, o *order.Order, outcome order.Outcome) {
	if err := tracker.Resolve(o, outcome); err != nil {
		c.logger.Error("写入订单终态失败", zap.Error(err))
		return
	}
	c.logger.Info("订单已结算",
		zap.String("correlation_id", o.CorrelationID),
		zap.String("symbol", o.Request.Symbol),
		zap.String("outcome", string(outcome)),
	)
	c.observer.OrderSettled(ctx, *o)
}

func (c *Controller) abandonPending(ctx context.Context, tracker *order.Tracker) {
	pending := tracker.Pending()
	if len(pending) == 0 {
		return
	}
	c.logger.Warn("跳过结算阶段，余下订单判定 unknown", zap.Int("pending", len(pending)))
	for _, o := range pending {
		c.resolve(ctx, tracker, o, order.OutcomeUnknown)
	}
}

// finalBalance 读取期末余额；会话已不可用时退回期初值并告警，
// 摘要中的差值此时不具对账意义。
func (c *Controller) finalBalance(ctx context.Context, initial decimal.Decimal) decimal.Decimal {
	final, err := c.gateway.Balance(ctx)
	if err != nil {
		c.logger.Warn("读取期末余额失败，沿用期初余额", zap.Error(err))
		return initial
	}
	return final
}
