package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/langgraph-hitl/config"
	"github.com/dshills/langgraph-hitl/graph/emit"
	"github.com/dshills/langgraph-hitl/graph/model"
	"github.com/dshills/langgraph-hitl/graph/model/anthropic"
	"github.com/dshills/langgraph-hitl/graph/model/google"
	"github.com/dshills/langgraph-hitl/graph/model/openai"
	"github.com/dshills/langgraph-hitl/graph/store"
)

// checkpointDialer returns the manager's connect function for the
// configured checkpoint driver.
func checkpointDialer(cfg *config.Config) (store.DialFunc, error) {
	cp := cfg.Checkpoint
	switch cp.Driver {
	case "postgres":
		pg := store.PostgresConfig{
			Host:           cp.Postgres.Host,
			Port:           cp.Postgres.Port,
			User:           cp.Postgres.Username,
			Password:       cp.Postgres.Password,
			Database:       cp.Postgres.Database,
			ConnectTimeout: cp.Postgres.ConnectTimeout,
			KeepAlive:      store.DefaultKeepAlive,
		}
		return func(ctx context.Context) (store.ClosableStore, error) {
			return store.NewPostgresStore(ctx, pg)
		}, nil
	case "mysql":
		db := cfg.Database
		dsn := store.MySQLDSN(db.Host, db.Port, db.Username, db.Password, db.Database)
		return func(ctx context.Context) (store.ClosableStore, error) {
			return store.NewMySQLStore(ctx, dsn)
		}, nil
	case "sqlite":
		path := cp.Path
		return func(context.Context) (store.ClosableStore, error) {
			return store.NewSQLiteStore(path)
		}, nil
	case "redis":
		rc := store.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
		return func(ctx context.Context) (store.ClosableStore, error) {
			return store.NewRedisStore(ctx, rc)
		}, nil
	case "memory":
		// Threads live only as long as the process.
		return func(context.Context) (store.ClosableStore, error) {
			return store.NewMemStore(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint driver %q", cp.Driver)
	}
}

// newSpanExporter builds the exporter named by cfg.Exporter. The stdout
// exporter writes to w.
func newSpanExporter(ctx context.Context, cfg config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// newEmitter logs engine events and, when tracing is enabled, records them
// as spans batched to exporter. The returned func flushes and stops the
// exporter.
func newEmitter(cfg config.TracingConfig, logger *slog.Logger, exporter sdktrace.SpanExporter) (emit.Emitter, func()) {
	logEmitter := emit.NewLogEmitter(logger)
	if !cfg.Enabled || exporter == nil {
		return logEmitter, func() {}
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled",
		slog.String("service", cfg.ServiceName),
		slog.String("exporter", cfg.Exporter))

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown failed", slog.Any("error", err))
		}
	}
	return emit.Multi{logEmitter, emit.NewOTelEmitter(tp.Tracer(cfg.ServiceName))}, shutdown
}

// newChatModel builds the chat model for platform p.
func newChatModel(p config.Platform) (model.ChatModel, error) {
	switch p.Provider {
	case "openai":
		opts := []openai.Option{openai.WithTemperature(p.Temperature)}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.NewChatModel(p.APIKey, p.Model, opts...), nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithTemperature(p.Temperature)}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.NewChatModel(p.APIKey, p.Model, opts...), nil
	case "google":
		return google.NewChatModel(p.APIKey, p.Model, google.WithTemperature(float32(p.Temperature))), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", p.Provider)
	}
}
