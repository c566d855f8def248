// Package main — cmd/edgelogd/main.go
//
// EDGELOGD daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/edgelogd/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open the parameter key/value store.
//  4. Build the log manager and run Init → Start.
//  5. Start the clock manager (NTP daemon before monitor goroutine).
//  6. Start the Prometheus metrics server (loopback).
//  7. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. clock Stop/Deinit.
//  2. manager Stop/Deinit (workers join on their fin commands).
//  3. Close the key/value store.
//  4. Flush logger. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edgelogd/edgelogd"
	"github.com/edgelogd/edgelogd/internal/agent"
	"github.com/edgelogd/edgelogd/internal/clockmgr"
	"github.com/edgelogd/edgelogd/internal/config"
	"github.com/edgelogd/edgelogd/internal/observability"
	"github.com/edgelogd/edgelogd/internal/platform"
	"github.com/edgelogd/edgelogd/internal/storage"
)

func main() {
	configPath := flag.String("config", "/etc/edgelogd/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("edgelogd %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("edgelogd starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("parameter store open failed", zap.Error(err),
			zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("parameter store opened", zap.String("path", cfg.Storage.DBPath))

	metrics := observability.NewMetrics()

	// The production agent runtime is linked on the target firmware;
	// this build binds the in-process simulator, forwarding local
	// http:// uploads over real HTTP.
	sim := agent.NewSim()
	sim.ForwardHTTP = true

	mgr := edgelogd.New(cfg, sim, db, nil, metrics, log)
	if err := mgr.Init(); err != nil {
		log.Fatal("log manager init failed", zap.Error(err))
	}
	if err := mgr.Start(); err != nil {
		log.Fatal("log manager start failed", zap.Error(err))
	}
	log.Info("log manager running")

	db.OnFactoryReset(mgr.Store().FactoryReset)

	clock := clockmgr.NewManager(platform.NewLinuxNtp(), mgr.Store().SaveAll,
		cfg.Clock.PollingTime, cfg.Clock.NtpErrorTime, metrics, log)
	if err := clock.Init(); err != nil {
		log.Fatal("clock manager init failed", zap.Error(err))
	}
	if err := clock.Start(); err != nil {
		log.Fatal("clock manager start failed", zap.Error(err))
	}
	if err := clock.RegisterSyncComplete(func(ok bool) {
		log.Info("ntp sync complete", zap.Bool("success", ok))
	}); err != nil {
		log.Warn("sync-complete registration failed", zap.Error(err))
	}
	log.Info("clock manager running")

	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	if err := clock.Stop(); err != nil {
		log.Error("clock manager stop failed", zap.Error(err))
	}
	if err := clock.Deinit(); err != nil {
		log.Error("clock manager deinit failed", zap.Error(err))
	}
	if err := mgr.Stop(); err != nil {
		log.Error("log manager stop failed", zap.Error(err))
	}
	if err := mgr.Deinit(); err != nil {
		log.Error("log manager deinit failed", zap.Error(err))
	}

	log.Info("edgelogd shutdown complete")
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
