// Command lbotd runs the fabric as a standalone process: it builds a
// Manager, wires whichever built-in plugins the configuration enables,
// starts the clock node, and waits for a termination signal before a
// graceful shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/labrat-eu/lbot-go/internal/config"
	"github.com/labrat-eu/lbot-go/internal/lbot"
	"github.com/labrat-eu/lbot-go/internal/lbot/plugins"
	"github.com/labrat-eu/lbot-go/internal/logging"
	"github.com/labrat-eu/lbot-go/internal/metrics"
)

func main() {
	printConfig := flag.Bool("print-config", false, "print loaded configuration and exit")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "grace period for shutdown")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "lbotd: loading configuration:", err)
		os.Exit(1)
	}

	if *printConfig {
		cfg.Print(func(format string, args ...any) { fmt.Printf(format+"\n", args...) })
		return
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metricsReg := metrics.New()

	mgr := lbot.New(lbot.Options{
		Logger:             logger,
		Config:             cfg,
		WorkerCount:        cfg.WorkerCount,
		WorkerQueueSize:    cfg.WorkerQueueSize,
		BroadcastRateLimit: cfg.BroadcastRateLimit,
		BroadcastRateBurst: cfg.BroadcastRateBurst,
		Metrics:            metricsReg,
	})

	clockMode := lbot.ClockSystem
	switch cfg.ClockMode {
	case "steady":
		clockMode = lbot.ClockSteady
	case "custom":
		clockMode = lbot.ClockCustom
	}
	if err := mgr.AddNode(lbot.NewClockNode(clockMode)); err != nil {
		logger.Fatal().Err(err).Msg("starting clock node")
	}

	if cfg.EnablePromExport {
		mgr.AddPlugin(plugins.NewPromExport(metricsReg), lbot.NewBlacklistFilter())
	}
	if logSink, err := plugins.NewLogSink(mgr.Topics(), logger); err != nil {
		logger.Error().Err(err).Msg("starting logsink plugin")
	} else {
		mgr.AddPlugin(logSink, lbot.NewBlacklistFilter("/log"))
	}

	if cfg.NATSURL != "" {
		bridge, err := plugins.NewNATSBridge(cfg.NATSURL, "lbot.", cfg.BroadcastRateLimit, cfg.BroadcastRateBurst)
		if err != nil {
			logger.Error().Err(err).Msg("starting nats bridge")
		} else {
			mgr.AddPlugin(bridge, lbot.NewBlacklistFilter())
			defer bridge.Close()
		}
	}

	if cfg.KafkaBrokers != "" {
		bridge, err := plugins.NewKafkaBridge(strings.Split(cfg.KafkaBrokers, ","), "lbot.")
		if err != nil {
			logger.Error().Err(err).Msg("starting kafka bridge")
		} else {
			mgr.AddPlugin(bridge, lbot.NewBlacklistFilter())
			defer bridge.Close()
		}
	}

	if cfg.FoxgloveAddr != "" {
		bridge := plugins.NewFoxgloveBridge()
		mgr.AddPlugin(bridge, lbot.NewBlacklistFilter())
		foxgloveSrv := &http.Server{Addr: cfg.FoxgloveAddr, Handler: bridge}
		go func() {
			if err := foxgloveSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("foxglove bridge server stopped")
			}
		}()
		defer foxgloveSrv.Close()
	}

	if cfg.ResourceGuardEnabled {
		guard, err := metrics.NewResourceGuard(metricsReg, cfg.ResourceGuardPeriod, cfg.ResourceGuardCPUPct, cfg.ResourceGuardMemPct)
		if err != nil {
			logger.Error().Err(err).Msg("starting resource guard")
		} else {
			guardCtx, guardCancel := context.WithCancel(context.Background())
			go guard.StartMonitoring(guardCtx)
			defer guardCancel()
		}
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsReg.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	logger.Info().Msg("lbotd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	mgr.Shutdown()
}
