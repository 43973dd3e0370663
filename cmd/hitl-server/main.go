// Command hitl-server serves the approval, demo and chat workflows over HTTP.
//
// Usage:
//
//	hitl-server -config config.yaml
//
// Every setting can be overridden from the environment; see package config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/langgraph-hitl/api"
	"github.com/dshills/langgraph-hitl/config"
	"github.com/dshills/langgraph-hitl/graph"
	"github.com/dshills/langgraph-hitl/graph/store"
	"github.com/dshills/langgraph-hitl/graph/tool"
	"github.com/dshills/langgraph-hitl/records"
	"github.com/dshills/langgraph-hitl/workflow"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recs, err := openRecords(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = recs.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := graph.NewPrometheusMetrics(registry)

	dial, err := checkpointDialer(cfg)
	if err != nil {
		return err
	}
	manager := store.NewManager(dial,
		store.WithFreshness(cfg.Checkpoint.Freshness),
		store.WithManagerLogger(logger),
		store.WithReconnectObserver(metrics),
	)
	defer func() { _ = manager.Close() }()

	// A checkpoint store that cannot be reached at startup is fatal.
	if _, err := manager.Get(ctx); err != nil {
		return fmt.Errorf("checkpoint store (%s): %w", cfg.Checkpoint.Driver, err)
	}
	logger.Info("checkpoint store ready", slog.String("driver", cfg.Checkpoint.Driver))

	var exporter sdktrace.SpanExporter
	if cfg.Tracing.Enabled {
		exporter, err = newSpanExporter(ctx, cfg.Tracing, os.Stderr)
		if err != nil {
			return fmt.Errorf("tracing exporter: %w", err)
		}
	}
	emitter, shutdownTracing := newEmitter(cfg.Tracing, logger, exporter)
	defer shutdownTracing()

	opts := []graph.Option{
		graph.WithEmitter(emitter),
		graph.WithMetrics(metrics),
		graph.WithMaxSteps(cfg.Engine.MaxSteps),
	}
	if cfg.Engine.NodeTimeout > 0 {
		opts = append(opts, graph.WithNodeTimeout(cfg.Engine.NodeTimeout))
	}

	engines, err := buildEngines(cfg, recs, manager, opts)
	if err != nil {
		return err
	}

	handler := api.New(engines,
		api.WithLogger(logger),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		api.WithHealthCheck(func(ctx context.Context) error {
			if err := recs.Ping(ctx); err != nil {
				return fmt.Errorf("records: %w", err)
			}
			if _, err := manager.Get(ctx); err != nil {
				return fmt.Errorf("checkpoints: %w", err)
			}
			return nil
		}),
	).Handler()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openRecords(ctx context.Context, cfg config.DatabaseConfig) (*records.Store, error) {
	dsn := cfg.Path
	if cfg.Driver == "mysql" {
		dsn = store.MySQLDSN(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)
	}
	recs, err := records.Open(ctx, cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("records database (%s): %w", cfg.Driver, err)
	}
	return recs, nil
}

func buildEngines(cfg *config.Config, recs *records.Store, stores store.Provider, opts []graph.Option) (api.Engines, error) {
	var engines api.Engines

	approvalGraph, err := workflow.NewApprovalGraph(recs)
	if err != nil {
		return engines, err
	}
	if engines.Approval, err = graph.New(approvalGraph, stores, opts...); err != nil {
		return engines, err
	}

	demoGraph, err := workflow.NewDemoGraph(nil)
	if err != nil {
		return engines, err
	}
	if engines.Demo, err = graph.New(demoGraph, stores, opts...); err != nil {
		return engines, err
	}

	demoApprovalGraph, err := workflow.NewDemoApprovalGraph(nil)
	if err != nil {
		return engines, err
	}
	if engines.DemoApproval, err = graph.New(demoApprovalGraph, stores, opts...); err != nil {
		return engines, err
	}

	code, platform := cfg.Platform()
	llm, err := newChatModel(platform)
	if err != nil {
		return engines, fmt.Errorf("llm platform %s: %w", code, err)
	}
	tools, err := tool.NewRegistry(workflow.GetDatetime(nil), workflow.BookHotel())
	if err != nil {
		return engines, err
	}
	chatGraph, err := workflow.NewChatGraph(llm, tools)
	if err != nil {
		return engines, err
	}
	chatEngine, err := graph.New(chatGraph, stores, opts...)
	if err != nil {
		return engines, err
	}
	engines.Chat = workflow.NewChatAgent(chatEngine)

	return engines, nil
}
