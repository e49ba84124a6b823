package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/uhyunpark/agentmarket/params"
	"github.com/uhyunpark/agentmarket/pkg/api"
	"github.com/uhyunpark/agentmarket/pkg/app/sim"
	"github.com/uhyunpark/agentmarket/pkg/metrics"
	"github.com/uhyunpark/agentmarket/pkg/storage"
	"github.com/uhyunpark/agentmarket/pkg/util"
	"go.uber.org/zap"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Service.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Service.LogFile, cfg.Service.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Service.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", cfg.Service.LogLevel, "log_file", cfg.Service.LogFile)

	// ---- Market universe ----
	instruments, err := params.LoadUniverse(cfg.MarketFile)
	if err != nil {
		sugar.Fatalw("market_config_failed", "file", cfg.MarketFile, "err", err)
	}
	registry, err := params.NewRegistry(instruments)
	if err != nil {
		sugar.Fatalw("registry_failed", "err", err)
	}

	// ---- Journal ----
	tape, err := storage.Open(cfg.Storage.TapeDir, logger.Named("tape"))
	if err != nil {
		sugar.Fatalw("tape_open_failed", "dir", cfg.Storage.TapeDir, "err", err)
	}
	defer tape.Close()

	m := metrics.New(logger.Named("metrics"))

	simulation, err := sim.New(cfg.Sim, registry,
		sim.WithLogger(logger.Named("sim")),
		sim.WithRecorder(tape),
		sim.WithMetrics(m),
	)
	if err != nil {
		sugar.Fatalw("simulation_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API (optional) ----
	if cfg.Service.APIEnabled {
		server := api.NewServer(simulation, tape, m.Handler(), logger.Named("api"))
		go func() {
			if err := server.Start(ctx, cfg.Service.APIAddr); err != nil {
				sugar.Errorw("api_server_failed", "addr", cfg.Service.APIAddr, "err", err)
			}
		}()
	}

	sugar.Infow("simulation_starting",
		"seed", simulation.Seed(),
		"agents", cfg.Sim.Agents,
		"rounds", cfg.Sim.Rounds,
		"instruments", registry.Symbols(),
		"match_parallel", cfg.Sim.MatchParallel,
	)

	summary, err := simulation.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		sugar.Infow("simulation_interrupted", "rounds", summary.Rounds)
	case err != nil:
		sugar.Errorw("simulation_failed", "rounds", summary.Rounds, "err", err)
	}

	final := make(map[string]float64, len(summary.Prices))
	for symbol, h := range summary.Prices {
		if len(h) > 0 {
			final[symbol] = h[len(h)-1]
		}
	}
	sugar.Infow("simulation_summary",
		"rounds", summary.Rounds,
		"trades", summary.Trades,
		"volume", summary.Volume,
		"dividends", summary.Dividends,
		"final_prices", final,
		"volatility", summary.Volatility,
	)

	// Keep serving the finished run until interrupted.
	if cfg.Service.APIEnabled && ctx.Err() == nil {
		sugar.Infow("api_serving_results", "addr", cfg.Service.APIAddr)
		<-ctx.Done()
	}
	sugar.Info("shutdown complete")
}
