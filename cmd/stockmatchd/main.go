package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jwyoon/stockmatch/params"
	"github.com/jwyoon/stockmatch/pkg/api"
	"github.com/jwyoon/stockmatch/pkg/engine"
	"github.com/jwyoon/stockmatch/pkg/ledger"
	"github.com/jwyoon/stockmatch/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logger := mustLogger(cfg)
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("starting",
		"store_path", cfg.Store.Path,
		"pass_interval_ms", cfg.Engine.PassInterval.Milliseconds(),
		"api_addr", cfg.API.ListenAddr)

	store, err := ledger.NewStore(cfg.Store.Path)
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}

	led := ledger.NewLedger(store, util.RealClock{})
	defer led.Close()

	matcher := engine.NewMatcher(led, util.RealClock{}, sugar)
	scheduler := engine.NewScheduler(matcher, cfg.Engine.PassInterval, cfg.Engine.StoreOpTimeout, util.RealClock{}, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Exactly one scheduler per store: running a second instance would
	// double-match resting orders.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := scheduler.Run(ctx); err != nil {
			sugar.Errorw("scheduler_failed", "err", err)
		}
	}()

	apiServer := api.NewServer(led, sugar)
	go func() {
		if err := apiServer.Start(cfg.API.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("api_shutdown_failed", "err", err)
	}

	// The scheduler only exits at a pass boundary, so the store is
	// always self-consistent by the time we close it.
	<-schedDone
	sugar.Infow("stopped", "skipped_ticks", scheduler.SkippedTicks())
}

func mustLogger(cfg params.Config) *zap.Logger {
	if cfg.Log.File != "" {
		l, err := util.NewLoggerWithFile(cfg.Log.File)
		if err != nil {
			log.Fatalf("logger: %v", err)
		}
		return l
	}
	l, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	return l
}
