package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"bintrader/internal/app"
	"bintrader/internal/config"
	"bintrader/internal/log"
	"bintrader/internal/report"
	"bintrader/internal/store"
)

func main() {
	var (
		configPath string
		outputMode string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&outputMode, "output", "human", "摘要输出模式：human 或 machine")
	flag.Parse()

	// .env 仅用于注入凭证环境变量，不存在时静默跳过。
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(app.ExitConnectFailure)
	}

	mode := report.Mode(outputMode)
	if !mode.Valid() {
		fmt.Fprintf(os.Stderr, "不支持的输出模式 %q\n", outputMode)
		os.Exit(app.ExitBadPlan)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(app.ExitConnectFailure)
	}

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(app.ExitConnectFailure)
	}

	// 两级停止：首个信号停止后续提交但仍走完结算阶段，
	// 第二个信号跳过结算、立即释放会话。
	settleCtx, hardCancel := context.WithCancel(context.Background())
	ctx, softCancel := context.WithCancel(settleCtx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("收到停止信号，不再提交新订单")
		softCancel()
		<-sigCh
		logger.Warn("再次收到停止信号，跳过结算阶段")
		hardCancel()
	}()

	trader := app.New(cfg, logger, sqliteStore, os.Stdout, mode)
	code := trader.Execute(ctx, settleCtx, flag.Args())

	softCancel()
	hardCancel()
	if closeErr := sqliteStore.Close(); closeErr != nil {
		logger.Warn("关闭数据库失败", zap.Error(closeErr))
	}
	_ = logger.Sync()
	os.Exit(code)
}
