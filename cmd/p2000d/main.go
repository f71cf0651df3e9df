// Package main implements p2000d, the P2000 pager alert monitor. It ingests
// decoded FLEX/POCSAG lines from an SDR pipeline, classifies them via the
// capcode table, keeps a retention-bounded history and fans alerts out to
// filtered websocket viewers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/aoi-validoku/p2000/capcode"
	"github.com/aoi-validoku/p2000/classify"
	"github.com/aoi-validoku/p2000/config"
	"github.com/aoi-validoku/p2000/gateway"
	"github.com/aoi-validoku/p2000/health"
	"github.com/aoi-validoku/p2000/hub"
	"github.com/aoi-validoku/p2000/ingest"
	"github.com/aoi-validoku/p2000/metric"
	"github.com/aoi-validoku/p2000/natspub"
	"github.com/aoi-validoku/p2000/store"
)

const (
	Version = "0.1.0"
	appName = "p2000d"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("monitor failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	applyOverrides(cfg, cliCfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid")
		return nil
	}

	logger.Info("starting p2000 monitor",
		"config", cliCfg.ConfigPath,
		"capcodes", cfg.Capcode.Path,
		"addr", cfg.Gateway.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	tables, err := capcode.NewStore(cfg.Capcode.Path)
	if err != nil {
		return err
	}
	table := tables.Table()
	logger.Info("capcode table loaded",
		"records", table.Len(), "skipped", table.Skipped())

	st, err := store.New(store.Config{
		Path:          cfg.Store.Path,
		Retention:     cfg.Store.Retention.Std(),
		FlushInterval: cfg.Store.FlushInterval.Std(),
		SweepInterval: cfg.Store.SweepInterval.Std(),
	}, registry, logger)
	if err != nil {
		return err
	}
	logger.Info("alert store ready", "path", cfg.Store.Path, "alerts", st.Len())

	broadcast, err := hub.New(hub.Config{QueueSize: cfg.Hub.QueueSize}, registry, logger)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		Addr:         cfg.Gateway.Addr,
		PingInterval: cfg.Gateway.PingInterval.Std(),
		WriteTimeout: cfg.Gateway.WriteTimeout.Std(),
	}, st, broadcast, monitor, registry, logger)
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}

	loop := ingest.New(ingest.Config{Command: cfg.Ingest.Command},
		classify.New(tables), st, broadcast,
		registry.CoreMetrics(), monitor, logger)

	var mirror *natspub.Publisher
	if cfg.NATS.Enabled {
		mirror, err = natspub.New(natspub.Config{
			Enabled: true,
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
		}, registry.CoreMetrics(), logger)
		if err != nil {
			return err
		}
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, "/metrics", registry)
	}

	g, gctx := errgroup.WithContext(ctx)

	// SIGHUP swaps in a freshly loaded capcode table without a restart.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := tables.Reload(); err != nil {
					logger.Error("capcode table reload failed, keeping current table", "error", err)
					continue
				}
				t := tables.Table()
				logger.Info("capcode table reloaded", "records", t.Len(), "skipped", t.Skipped())
			}
		}
	})

	g.Go(func() error { return st.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })

	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx, broadcast) })
	}
	if metricsServer != nil {
		g.Go(func() error { return metricsServer.Start() })
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Stop()
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return gw.Stop(cliCfg.ShutdownTimeout)
	})

	err = g.Wait()
	stop()

	broadcast.Close()
	if mirror != nil {
		mirror.Close()
	}

	if err != nil && ctx.Err() == nil {
		// A component failed before any shutdown signal; exit non-zero.
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// applyOverrides lets flags win over the config file.
func applyOverrides(cfg *config.Config, cli *CLIConfig) {
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.ListenAddr != "" {
		cfg.Gateway.Addr = cli.ListenAddr
	}
	if cli.CapcodePath != "" {
		cfg.Capcode.Path = cli.CapcodePath
	}
	if cli.StorePath != "" {
		cfg.Store.Path = cli.StorePath
	}
	if cli.DecoderCommand != "" {
		cfg.Ingest.Command = cli.DecoderCommand
	}
}
