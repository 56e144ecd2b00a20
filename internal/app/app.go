package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"bintrader/internal/broker"
	"bintrader/internal/config"
	"bintrader/internal/journal"
	"bintrader/internal/order"
	"bintrader/internal/plan"
	"bintrader/internal/report"
	"bintrader/internal/runner"
	"bintrader/internal/store"
)

// 进程退出码，除此之外不定义其他取值。
const (
	ExitOK             = 0
	ExitConnectFailure = 1
	ExitUnknown        = 2
	ExitBadPlan        = 3
)

// App 聚合核心依赖并实现命令面：test、run、check。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	out    io.Writer
	mode   report.Mode
}

// New 创建 App 实例。store 传 nil 时不落运行日志。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store, out io.Writer, mode report.Mode) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !mode.Valid() {
		mode = report.ModeHuman
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		out:    out,
		mode:   mode,
	}
}

// Execute 分发命令并返回进程退出码。ctx 为软停止上下文，
// settleCtx 为硬停止上下文（见 runner.Controller.Run）。
func (a *App) Execute(ctx, settleCtx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(a.out, "用法: bintrader [flags] test | run <plan-file> | check <correlation-id>")
		return ExitBadPlan
	}

	switch args[0] {
	case "test":
		return a.runTest(ctx)
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(a.out, "用法: bintrader run <plan-file>")
			return ExitBadPlan
		}
		return a.runBatch(ctx, settleCtx, args[1])
	case "check":
		if len(args) < 2 {
			fmt.Fprintln(a.out, "用法: bintrader check <correlation-id>")
			return ExitBadPlan
		}
		return a.runCheck(ctx, args[1])
	default:
		fmt.Fprintf(a.out, "未知命令 %q\n", args[0])
		return ExitBadPlan
	}
}

func (a *App) newController() (*runner.Controller, error) {
	gateway := broker.NewClient(a.cfg.Broker, a.logger)
	creds := runner.Credentials{
		Identity: a.cfg.Broker.Identity,
		Secret:   a.cfg.Broker.Secret,
	}
	cfg := runner.Config{
		Pacing:       a.cfg.Execution.Pacing,
		PollInterval: a.cfg.Execution.PollInterval,
		Grace:        a.cfg.Execution.Grace,
	}

	var observer runner.Observer
	if a.store != nil {
		svc, err := journal.NewService(a.store, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化运行日志失败: %w", err)
		}
		a.logger.Info("运行日志已就绪", zap.String("run_id", svc.RunID()))
		observer = svc
	}

	return runner.New(gateway, creds, cfg, nil, observer, a.logger), nil
}

// runBatch 实现 run 命令：加载计划、执行、输出对账摘要。
func (a *App) runBatch(ctx, settleCtx context.Context, planPath string) int {
	p, err := plan.LoadFile(planPath)
	if err != nil {
		a.logger.Error("计划文件不可用", zap.String("path", planPath), zap.Error(err))
		fmt.Fprintf(a.out, "计划文件不可用: %v\n", err)
		return ExitBadPlan
	}

	ctrl, err := a.newController()
	if err != nil {
		a.logger.Error("初始化控制器失败", zap.Error(err))
		return ExitConnectFailure
	}

	r, err := ctrl.Run(ctx, settleCtx, p)
	if err != nil {
		a.logger.Error("批量执行失败", zap.String("kind", string(broker.KindOf(err))), zap.Error(err))
		// 连接阶段失败仍输出一份空摘要，便于机器模式消费。
		if werr := report.Write(a.out, r, a.mode); werr != nil {
			a.logger.Warn("输出摘要失败", zap.Error(werr))
		}
		return ExitConnectFailure
	}

	if err := report.Write(a.out, r, a.mode); err != nil {
		a.logger.Warn("输出摘要失败", zap.Error(err))
	}
	return exitCodeFor(r)
}

// exitCodeFor 由摘要推导退出码：存在 unknown，或全部条目都在
// 提交阶段被拒绝且无一结算，视为未达成终态。
func exitCodeFor(r report.RunReport) int {
	if r.Counts.SettledUnknown > 0 {
		return ExitUnknown
	}
	if r.Counts.Rejected > 0 && r.Counts.Accepted == 0 {
		return ExitUnknown
	}
	return ExitOK
}

// runTest 实现 test 命令：连通性自检并报告标的目录。
func (a *App) runTest(ctx context.Context) int {
	ctrl, err := a.newController()
	if err != nil {
		a.logger.Error("初始化控制器失败", zap.Error(err))
		return ExitConnectFailure
	}

	inspection, err := ctrl.Inspect(ctx)
	if err != nil {
		a.logger.Error("连通性自检失败", zap.String("kind", string(broker.KindOf(err))), zap.Error(err))
		fmt.Fprintf(a.out, "连通性自检失败: %v\n", err)
		return ExitConnectFailure
	}

	if err := a.writeInspection(inspection); err != nil {
		a.logger.Warn("输出自检结果失败", zap.Error(err))
	}
	return ExitOK
}

func (a *App) writeInspection(in runner.Inspection) error {
	if a.mode == report.ModeMachine {
		payload, err := json.Marshal(map[string]interface{}{
			"balance":     in.Balance,
			"instruments": in.Instruments,
		})
		if err != nil {
			return err
		}
		payload = append(payload, '\n')
		_, err = a.out.Write(payload)
		return err
	}

	fmt.Fprintf(a.out, "balance: %s\n", in.Balance.String())
	fmt.Fprintf(a.out, "instruments: %d\n", len(in.Instruments))
	for _, inst := range in.Instruments {
		state := "closed"
		if inst.Open {
			state = "open"
		}
		fmt.Fprintf(a.out, "  %s\t%s\n", inst.Symbol, state)
	}

	if len(a.cfg.Watchlist) > 0 {
		fmt.Fprintln(a.out, "watchlist:")
		known := make(map[string]bool, len(in.Instruments))
		for _, inst := range in.Instruments {
			known[inst.Symbol] = inst.Open
		}
		for _, symbol := range a.cfg.Watchlist {
			switch open, ok := known[symbol]; {
			case !ok:
				fmt.Fprintf(a.out, "  %s\tmissing\n", symbol)
			case open:
				fmt.Fprintf(a.out, "  %s\topen\n", symbol)
			default:
				fmt.Fprintf(a.out, "  %s\tclosed\n", symbol)
			}
		}
	}
	return nil
}

// runCheck 实现 check 命令：跟踪单笔订单到终态或截止时间。
func (a *App) runCheck(ctx context.Context, correlationID string) int {
	ctrl, err := a.newController()
	if err != nil {
		a.logger.Error("初始化控制器失败", zap.Error(err))
		return ExitConnectFailure
	}

	outcome, err := ctrl.Check(ctx, correlationID)
	if err != nil {
		a.logger.Error("查询订单失败", zap.String("kind", string(broker.KindOf(err))), zap.Error(err))
		fmt.Fprintf(a.out, "查询订单失败: %v\n", err)
		return ExitConnectFailure
	}

	if a.mode == report.ModeMachine {
		payload, merr := json.Marshal(map[string]string{
			"correlation_id": correlationID,
			"outcome":        string(outcome),
		})
		if merr == nil {
			payload = append(payload, '\n')
			_, _ = a.out.Write(payload)
		}
	} else {
		fmt.Fprintf(a.out, "%s: %s\n", correlationID, outcome)
	}

	if outcome == order.OutcomeUnknown {
		return ExitUnknown
	}
	return ExitOK
}
