package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/betbot/storedemo/internal/events"
	"github.com/betbot/storedemo/internal/inventory"
	"github.com/betbot/storedemo/internal/metrics"
	"github.com/betbot/storedemo/internal/producer"
	"github.com/betbot/storedemo/internal/registry"
	"github.com/betbot/storedemo/internal/supervisor"
	"github.com/betbot/storedemo/pkg/config"
	"github.com/betbot/storedemo/pkg/logger"
	"github.com/betbot/storedemo/pkg/syncgroup"
)

const (
	eventTimeout = 5 * time.Second
	stopGrace    = 5 * time.Second
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     7,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	if err := os.Chdir(cfg.BaseDir); err != nil {
		logger.Errorf("chdir %s failed: %v", cfg.BaseDir, err)
		os.Exit(1)
	}

	logger.Info("Store Demo: Started...")
	if f := logger.GetCurrentLogFile(); f != "" {
		logger.Infof("logging to %s", f)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT)

	var rec registry.Recorder = registry.Nop{}
	var store *registry.Store
	if cfg.StateDB != "" {
		store, err = registry.Open(cfg.StateDB)
		if err != nil {
			logger.Warnf("component registry disabled: %v", err)
		} else {
			rec = store
		}
	}

	sup := supervisor.New(supervisor.Config{
		Components:  supervisor.DefaultComponents(cfg.Paths),
		LogsDir:     cfg.ServerLogsDir,
		ScratchDir:  cfg.ScratchDir,
		SettleDelay: cfg.SettleDelay,
		Registry:    rec,
	})
	if store != nil {
		sup.OnTeardown("close registry", func(context.Context) error { return store.Close() })
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	sg := syncgroup.NewSyncGroup()
	sg.Add(func() { errCh <- run(ctx, cfg, sup, rec) })
	sg.Run()

	waitForShutdown(cancel, sigCh, errCh, sg, sup, stopGrace)
}

// waitForShutdown blocks until a signal arrives or the simulation returns,
// then cancels ctx and hands over to the supervisor, which exits the process.
// On a signal the simulation gets up to grace to wind down first.
func waitForShutdown(cancel context.CancelFunc, sigCh <-chan os.Signal, errCh <-chan error, sg *syncgroup.SyncGroup, sup *supervisor.Supervisor, grace time.Duration) {
	select {
	case sig := <-sigCh:
		cancel()
		if !sg.WaitTimeout(grace) {
			logger.Warnf("%d simulation goroutine(s) still running after %s", sg.Running(), grace)
		}
		sup.Shutdown(sig)
	case err := <-errCh:
		if err != nil {
			logger.Errorf("Received an unexpected error:%v - will clean up now", err)
		}
		cancel()
		sup.Shutdown(nil)
	}
}

// run launches the external components, serves metrics and drives the
// simulation until ctx is canceled or something fails.
func run(ctx context.Context, cfg *config.Config, sup *supervisor.Supervisor, rec registry.Recorder) error {
	if err := sup.Start(ctx); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	invMetrics, err := metrics.NewInventoryMetrics(reg, cfg.Product)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	pub, err := producer.New(producer.Config{
		Bin:     cfg.Paths.KafkaProducerBin,
		Broker:  cfg.KafkaEndpoint,
		Topic:   cfg.KafkaTopic,
		LogsDir: cfg.ServerLogsDir,
	})
	if err != nil {
		return err
	}

	sim, err := inventory.New(inventory.Options{
		Rand:      inventory.NewRand(cfg.RandSeed),
		Sink:      events.NewSink(cfg.ElasticEndpoint(), eventTimeout),
		Publisher: pub,
		Metrics:   invMetrics,
		Product:   cfg.Product,
	})
	if err != nil {
		return err
	}

	handler := metrics.NewRouter(metrics.RouterOptions{
		Gatherer:   reg,
		Product:    cfg.Product,
		Inventory:  sim,
		Components: rec,
		RunID:      sup.RunID(),
		State:      func() string { return sup.State().String() },
	})
	if _, err := metrics.StartAsync(ctx, cfg.MetricsListen, handler); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	logger.Infof("Listening to port %s...", listenPort(cfg.MetricsListen))

	return sim.Run(ctx)
}

func listenPort(addr string) string {
	if _, port, err := net.SplitHostPort(addr); err == nil {
		return port
	}
	return addr
}
