package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/garapin-pos/settlement-engine/internal/config"
	"github.com/garapin-pos/settlement-engine/internal/engine"
	"github.com/garapin-pos/settlement-engine/internal/executor"
	"github.com/garapin-pos/settlement-engine/internal/ledger"
	"github.com/garapin-pos/settlement-engine/internal/metrics"
	"github.com/garapin-pos/settlement-engine/internal/middleware"
	"github.com/garapin-pos/settlement-engine/internal/notify"
	"github.com/garapin-pos/settlement-engine/internal/resolver"
	"github.com/garapin-pos/settlement-engine/internal/settlement"
	"github.com/garapin-pos/settlement-engine/internal/storage"
	"github.com/garapin-pos/settlement-engine/internal/storage/sqlite"
	"github.com/garapin-pos/settlement-engine/internal/tenant"
	"github.com/garapin-pos/settlement-engine/pkg/logging"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("Failed to load timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	mainStore, err := sqlite.OpenMain(cfg.MainDBPath)
	if err != nil {
		slog.Error("Failed to open main database", "path", cfg.MainDBPath, "error", err)
		os.Exit(1)
	}
	defer mainStore.Close()
	slog.Info("Main database opened", "path", cfg.MainDBPath)

	tenants := tenant.NewManager(cfg.DataDir,
		func(path string) (storage.TenantStore, error) { return sqlite.OpenTenant(path) },
		tenant.WithIdleTimeout(cfg.IdleTimeout))
	defer tenants.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	lc := ledger.NewHTTPClient(cfg.LedgerBaseURL, cfg.LedgerAPIKey, cfg.PlatformAccountID,
		ledger.WithBackoff(ledger.BackoffPolicy{Base: time.Second, MaxAttempts: cfg.MaxRetryAttempts}),
		ledger.WithRetryHook(m.RateLimitRetries.Inc))

	res := resolver.New(engine.NewTemplateSource(tenants), mainStore)
	exec := executor.New(lc, mainStore)
	state := settlement.New(loc, settlement.WithCutoff(settlement.Cutoff{
		Hour:   cfg.CutoffHour,
		Minute: cfg.CutoffMinute,
	}))

	pool := engine.NewPool(cfg.MinWorkers, cfg.MaxWorkers)
	defer pool.Close()

	engCfg := engine.Config{
		BatchSize:         cfg.BatchSize,
		MaxBatches:        cfg.MaxBatches,
		PlatformAccountID: cfg.PlatformAccountID,
	}
	split := engine.New(engCfg, lc, tenants, mainStore, res, exec, state, pool, m)
	cash := engine.NewCash(lc, tenants, mainStore, res, exec, state, pool, m)
	withdrawal := engine.NewWithdrawal(engCfg, lc, tenants, mainStore, res, exec, state,
		notify.LogNotifier{}, pool, m)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /cycle/split", runCycle("split", split.RunCycle))
	mux.HandleFunc("POST /cycle/cash", runCycle("cash", cash.RunCycle))
	mux.HandleFunc("POST /cycle/withdrawal", runCycle("withdrawal", withdrawal.RunCycle))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	handler := h2c.NewHandler(middleware.Logging(mux), &http2.Server{})

	slog.Info("Settlement engine listening", "address", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, handler); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// runCycle adapts one flow's cycle to an HTTP trigger. Cycles run
// synchronously; the external scheduler drives the cadence.
func runCycle(flow string, run func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := run(r.Context()); err != nil {
			slog.Error("Cycle failed", "flow", flow, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
