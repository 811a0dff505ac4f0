package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/config"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/history"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/logger"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/metrics"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/mock"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/netsource"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/reachability"
	"github.com/GetRighhttt/HandlingNetworkConnectivity/internal/ws"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reachd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	mockMode := flag.Bool("mock", false, "Use the simulated interface source")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	logLevel := flag.String("log-level", "", "Override log level")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mockMode {
		cfg.Source.Kind = config.SourceMock
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var logFile io.WriteCloser
	if cfg.Log.File != "" {
		f, err := logger.OpenFile(cfg.Log.File)
		if err != nil {
			return err
		}
		logFile = f
		defer logFile.Close()
	}
	logCfg := logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}
	if logFile != nil {
		logCfg.Writer = logFile
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	var mt *metrics.Metrics
	if cfg.Metrics.Enabled {
		mt = metrics.New(nil)
	}

	src := newSource(cfg, log, mt)
	monitor := reachability.NewMonitor(src,
		reachability.WithLogger(log),
		reachability.WithMetrics(mt),
	)
	broadcaster := ws.NewBroadcaster(monitor, ws.BroadcasterConfig{
		BufferSize: cfg.Server.ClientBuffer,
		MaxConns:   cfg.Server.MaxConnections,
		Logger:     log,
		Metrics:    mt,
	})

	server := ws.NewServer(cfg.Server, monitor, broadcaster, log)
	if hr, ok := src.(netsource.HealthReporter); ok {
		server.SetHealthReporter(hr)
	}
	if mt != nil {
		server.SetMetricsHandler(cfg.Metrics.Path, mt.Handler())
	}

	var recorder *history.Recorder
	if cfg.History.Enabled {
		recorder, err = history.NewRecorder(history.NewStore(cfg.History.Dir), history.RecorderConfig{
			MaxEntries:   cfg.History.MaxEntries,
			SaveInterval: cfg.History.SaveInterval,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		server.SetRecorder(recorder)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if recorder != nil {
		// The recorder keeps the source watched for the life of the process.
		g.Go(func() error {
			if _, err := recorder.Attach(ctx, monitor); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("attach history recorder: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			recorder.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		log.Info("Server listening", "addr", httpServer.Addr, "source", src.Name())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		broadcaster.Close()
		return multierr.Combine(
			httpServer.Shutdown(shutdownCtx),
			monitor.Close(),
		)
	})

	return g.Wait()
}

func newSource(cfg *config.Config, log *slog.Logger, mt *metrics.Metrics) reachability.ConnectivitySource {
	if cfg.Source.Kind == config.SourceMock {
		specs := make([]mock.InterfaceSpec, 0, len(cfg.Source.Mock.Interfaces))
		for _, mi := range cfg.Source.Mock.Interfaces {
			specs = append(specs, mock.InterfaceSpec{Name: mi.Name, Pattern: mi.Pattern, Period: mi.Period})
		}
		log.Info("Starting in mock mode")
		return mock.NewSource(mock.Config{
			Interval:       cfg.Source.Mock.Interval,
			Interfaces:     specs,
			Seed:           cfg.Source.Mock.Seed,
			FailActivation: cfg.Source.Mock.FailActivation,
		}, clock.New(), log)
	}

	return netsource.NewPollSource(netsource.PollConfig{
		Interval:         cfg.Source.PollInterval,
		FastInterval:     cfg.Source.FastPollInterval,
		FastDuration:     cfg.Source.FastPollDuration,
		FailureThreshold: cfg.Source.FailureThreshold,
		Ignore:           cfg.Source.Ignore,
	},
		netsource.WithPollLogger(log),
		netsource.WithPollMetrics(mt),
	)
}
