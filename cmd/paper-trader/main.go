package main

import (
	"cmp"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/STTM-NSU/paper-trader/internal/api"
	"github.com/STTM-NSU/paper-trader/internal/config"
	"github.com/STTM-NSU/paper-trader/internal/execution"
	"github.com/STTM-NSU/paper-trader/internal/lock"
	"github.com/STTM-NSU/paper-trader/internal/logger"
	"github.com/STTM-NSU/paper-trader/internal/marketdata"
	"github.com/STTM-NSU/paper-trader/internal/paper"
	"github.com/STTM-NSU/paper-trader/internal/risk"
	"github.com/STTM-NSU/paper-trader/internal/scheduler"
	"github.com/STTM-NSU/paper-trader/internal/server"
	"github.com/STTM-NSU/paper-trader/internal/storage"
	"github.com/STTM-NSU/paper-trader/internal/telemetry"
	"github.com/joho/godotenv"
)

const (
	_cfgFilePath = "./configs/paper.yaml"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("can't detect .env file")
	}

	cfg, err := config.LoadConfig(cmp.Or(os.Getenv("PAPER_CONFIG"), _cfgFilePath))
	if err != nil {
		log.Fatalf("%s: can't load config", err)
	}

	zapLogger, loggerSync, err := logger.NewZapLogger(logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("%s: can't init logger", err)
	}
	defer loggerSync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, db, err := storage.Open(ctx, cfg.Storage, zapLogger)
	if err != nil {
		zapLogger.Fatalf("%s: can't open storage", err)
	}
	defer store.Close()

	var barCache marketdata.BarCache = marketdata.NewMemoryBarCache()
	if db != nil {
		barCache = marketdata.NewSQLBarCache(db)
	}
	marketClient := marketdata.NewClient(cfg.MarketData, barCache, zapLogger)
	defer marketClient.Close()

	metrics := telemetry.New()
	opts := []paper.Option{
		paper.WithBarSource(marketClient),
		paper.WithTelemetry(metrics),
	}
	if cfg.Lock.Backend == config.RedisLock {
		redisClient, err := lock.NewRedisClient(ctx, cfg.Lock.RedisAddr, cfg.Lock.RedisPassword, cfg.Lock.RedisDB)
		if err != nil {
			zapLogger.Fatalf("%s: can't connect to redis", err)
		}
		defer redisClient.Close()
		opts = append(opts, paper.WithLocker(lock.NewRedis(redisClient, zapLogger, cfg.Lock.TTL, cfg.Lock.RetryInterval)))
	}

	svc := paper.NewService(zapLogger,
		store,
		execution.NewSimulator(zapLogger, cfg.Execution, nil),
		risk.NewManager(zapLogger, cfg.Risk),
		cfg.Metrics,
		opts...,
	)
	for _, p := range cfg.Portfolios {
		if err := svc.EnsurePortfolio(ctx, p); err != nil {
			zapLogger.Fatalf("%s: can't create portfolio %s", err, p.Name)
		}
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(cfg.Scheduler, svc, marketClient, zapLogger)
		if err := sched.Start(ctx); err != nil {
			zapLogger.Fatalf("%s: can't start scheduler", err)
		}
		defer sched.Stop()
	}

	router := api.NewRouter(svc, metrics.Handler(), zapLogger)
	srv := server.NewHTTPServer(ctx, cfg.Server.Port, router, zapLogger)
	if err := srv.Run(ctx); err != nil {
		zapLogger.Errorf("%s: server stopped", err)
	}
	zapLogger.Infoln("graceful shutdown finished")
}
