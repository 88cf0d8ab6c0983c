package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nathanyu/p2p-exchange/internal/automation"
	"github.com/nathanyu/p2p-exchange/internal/config"
	"github.com/nathanyu/p2p-exchange/internal/handler"
	"github.com/nathanyu/p2p-exchange/internal/marketdata"
	"github.com/nathanyu/p2p-exchange/internal/matching"
	"github.com/nathanyu/p2p-exchange/internal/middleware"
	"github.com/nathanyu/p2p-exchange/internal/notify"
	"github.com/nathanyu/p2p-exchange/internal/sequencer"
	"github.com/nathanyu/p2p-exchange/internal/settlement"
	"github.com/nathanyu/p2p-exchange/internal/store"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

const serviceName = "p2p-exchange"

func main() {
	cfg := config.Load()

	telemetry.InitLogger(serviceName)
	slog.Info("starting p2p exchange service")

	shutdownTracer, err := telemetry.InitTracer(serviceName)
	if err != nil {
		slog.Warn("tracer init failed, continuing without tracing", "error", err)
	} else {
		defer shutdownTracer()
	}

	// --- Stores ---

	orderStore := store.NewMemoryOrderStore()
	taskStore := store.NewMemoryTaskStore()

	var settlementStore store.SettlementStore
	if cfg.UseRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			slog.Error("redis unreachable", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		settlementStore = store.NewRedisSettlementStore(client)
		slog.Info("using redis settlement store", "addr", cfg.Redis.Addr)
	} else {
		settlementStore = store.NewMemorySettlementStore()
	}

	// --- Notifier ---

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NATSURL != "" {
		natsNotifier, err := notify.NewNATSNotifier(cfg.NATSURL)
		if err != nil {
			slog.Error("nats connection failed", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer natsNotifier.Close()
		notifier = natsNotifier
		slog.Info("connected to nats", "url", cfg.NATSURL)
	}

	// --- Core components ---

	seq := sequencer.New()

	engine := matching.NewEngine(orderStore, seq, matching.Config{
		DefaultFeeRateBps: cfg.Matching.DefaultFeeRateBps,
		BufferSize:        cfg.Matching.BufferSize,
	})

	settlements := settlement.NewEngine(settlementStore, settlement.Config{
		FeeRateBps:    cfg.Settlement.FeeRateBps,
		ExpiryHorizon: cfg.Settlement.ExpiryHorizon,
		BufferSize:    cfg.Matching.BufferSize,
	})

	rules := automation.NewRuleSet()
	evaluator := automation.NewEvaluator(taskStore, settlements, rules, notifier,
		cfg.Settlement.PollInterval, cfg.Matching.BufferSize)

	tape := marketdata.NewTape(cfg.Matching.BufferSize)

	// --- Wire channels ---
	//
	// API Handler → Matching Engine → [TradeOut] → Trade Tape
	// Settlement Engine → [EventOut] → Evaluator [EventIn]
	//                                → Notifier (NATS)

	go func() {
		for event := range engine.TradeOut {
			select {
			case tape.TradeIn <- event:
			default:
				// Explicit matches carry no taker order.
				tradeID := ""
				if len(event.Trades) > 0 {
					tradeID = event.Trades[0].TradeID
				}
				slog.Warn("trade tape channel full, dropping event", "trade_id", tradeID)
			}
		}
	}()

	go func() {
		for event := range settlements.EventOut {
			select {
			case evaluator.EventIn <- event:
			default:
				slog.Warn("evaluator channel full, dropping event",
					"settlement_id", event.Settlement.SettlementID)
			}
			if err := notifier.PublishEvent(context.Background(), event); err != nil {
				slog.Warn("event publish failed",
					"settlement_id", event.Settlement.SettlementID, "error", err)
			}
		}
	}()

	tape.Start()
	evaluator.Start()

	// --- Expiry sweeps ---

	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	go sweepLoop(sweepCtx, cfg.Matching.SweepInterval, func(now time.Time) {
		if n := engine.ExpireSweep(sweepCtx, now); n > 0 {
			slog.Info("expired orders", "count", n)
		}
	})
	go sweepLoop(sweepCtx, cfg.Settlement.SweepInterval, func(now time.Time) {
		if n := settlements.ExpireSweep(sweepCtx, now); n > 0 {
			slog.Info("expired settlements", "count", n)
		}
	})

	// --- HTTP server ---

	r := gin.Default()
	r.Use(middleware.PrometheusMiddleware())
	r.Use(middleware.Tracing())

	h := handler.NewHandler(engine, settlements, evaluator, tape, rules)
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// --- Metrics server ---

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		slog.Info("metrics server listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// --- Graceful shutdown ---

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cancelSweeps()
	evaluator.Stop()
	tape.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown error", "error", err)
	}

	slog.Info("p2p exchange service stopped")
}

func sweepLoop(ctx context.Context, interval time.Duration, sweep func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sweep(now)
		}
	}
}
