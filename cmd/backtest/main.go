package main

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/STTM-NSU/paper-trader/internal/backtest"
	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/execution"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/marketdata"
	"github.com/STTM-NSU/paper-trader/internal/paper"
	"github.com/STTM-NSU/paper-trader/internal/risk"
	"github.com/STTM-NSU/paper-trader/internal/storage"
	"github.com/bytedance/sonic"
	"github.com/joho/godotenv"
)

const (
	_backtestCfgFilePath = "./configs/backtest.yaml"
)

// Replays the configured signals against historical bars in a fresh in-memory portfolio.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("can't detect .env file")
	}

	cfg, err := config.LoadBacktestConfig(cmp.Or(os.Getenv("BACKTEST_CONFIG"), _backtestCfgFilePath))
	if err != nil {
		log.Fatalf("%s: can't load backtest config", err)
	}

	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var barCache marketdata.BarCache = marketdata.NewMemoryBarCache()
	db, err := storage.OpenDB(ctx, cfg.BarCache, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't open bar cache", err)
	}
	if db != nil {
		defer db.Close()
		barCache = marketdata.NewSQLBarCache(db)
	}
	marketClient := marketdata.NewClient(cfg.MarketData, barCache, zapLogger)
	defer marketClient.Close()

	clock := backtest.NewClock(cfg.From)
	svc := paper.NewService(zapLogger,
		storage.NewMemoryStore(),
		execution.NewSimulator(zapLogger, cfg.Execution, nil),
		risk.NewManager(zapLogger, cfg.Risk),
		cfg.Metrics,
		paper.WithBarSource(marketClient),
		paper.WithClock(clock.Now),
	)

	report, err := backtest.NewReplay(zapLogger, svc, marketClient, clock, cfg).Run(ctx)
	if err != nil {
		zapLogger.Fatalf("%s: backtest failed", err)
	}

	zapLogger.Infof("Backtest finished: %d executed, %d rejected, %d failed", report.Executed, report.Rejected, report.Failed)
	zapLogger.Infof("Balance: %v", report.Status.Portfolio.Equity)
	zapLogger.Infof("Profit: %v", report.Status.Portfolio.Equity-report.Status.Portfolio.StartingCapital)
	zapLogger.Infof("Remaining positions: %v", report.Status.Positions)

	printInfo(report.Intervals)
	if out, err := sonic.ConfigStd.MarshalIndent(report.Status.Metrics, "", "  "); err == nil {
		fmt.Println(string(out))
	}
}

func printInfo(info []backtest.IntervalProfit) {
	for _, i := range info {
		fmt.Printf("%f,", i.Balance)
	}
	fmt.Println()
	for _, i := range info {
		fmt.Printf("%f,", i.Profit)
	}
	fmt.Println()
	for _, i := range info {
		fmt.Printf("%s,", i.Ts)
	}
	fmt.Println()
}
