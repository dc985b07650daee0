// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command flowd starts the AleutianFlow workflow service.
//
// flowd serves the workflow API: natural-language chat runs, direct
// workflow execution and validation, the node catalog, and per-session
// event streams over SSE and WebSocket.
//
// Usage:
//
//	flowd -config /etc/aleutian/flowd.yaml
//	flowd -debug
//
// A missing config file starts the daemon on compiled-in defaults;
// FLOW_* environment variables override file values (see
// services/flow/config).
//
// Optional backends degrade instead of blocking startup: without an
// OpenAI key the chat and agent endpoints answer 503 while execution
// and validation keep working, and without KV, Weaviate, GCS, or
// InfluxDB the node types that need them report a configuration
// failure at run time.
//
// Example requests:
//
//	# Health check
//	curl http://localhost:12210/v1/flow/health
//
//	# List registered node types
//	curl http://localhost:12210/v1/flow/catalog | jq
//
//	# Run a workflow synchronously
//	curl -X POST http://localhost:12210/v1/flow/execute \
//	  -H "Content-Type: application/json" \
//	  -d '{"workflow": {"nodes": [{"id": "a", "type": "echo", "params": {"message": "hi"}}]}}'
//
//	# Start a chat run and stream its events
//	curl -X POST http://localhost:12210/v1/flow/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "add 2 and 3", "model": "workflow"}'
//	curl -N http://localhost:12210/v1/flow/stream/<chat_id>
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

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"google.golang.org/api/option"

	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/services/flow/catalog"
	"github.com/AleutianAI/AleutianFlow/services/flow/config"
	"github.com/AleutianAI/AleutianFlow/services/flow/engine"
	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/kv"
	"github.com/AleutianAI/AleutianFlow/services/flow/llm"
	"github.com/AleutianAI/AleutianFlow/services/flow/nodes"
	"github.com/AleutianAI/AleutianFlow/services/flow/secrets"
	"github.com/AleutianAI/AleutianFlow/services/flow/server"
	"github.com/AleutianAI/AleutianFlow/services/flow/vector"
)

func main() {
	configPath := flag.String("config", "", "path to the flowd YAML config file")
	debug := flag.Bool("debug", false, "enable gin debug mode and request logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowd: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "flowd",
		JSON:    cfg.Logging.JSON,
		Quiet:   cfg.Logging.Quiet,
	})
	slog.SetDefault(logger.Slog())

	if err := run(cfg, *debug, logger.Slog()); err != nil {
		logger.Error("flowd exited with error", slog.String("error", err.Error()))
		_ = logger.Close()
		os.Exit(1)
	}
	_ = logger.Close()
}

// run assembles the runtime and serves until SIGTERM.
//
// Description:
//
//	Wires the full stack in dependency order: telemetry, secrets,
//	optional backends (LLM, KV, vector, GCS, Influx), the node
//	catalog, the scheduler, the event bus, and the HTTP surface.
//	Construction failures of required components abort startup;
//	optional backends log a warning and leave their node types
//	degraded.
//
//	SIGTERM starts a bounded drain of in-flight requests. SIGINT is
//	owned by the secret store's interrupt hook, which wipes key
//	material and exits immediately.
func run(cfg config.Config, debug bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("telemetry shutdown", slog.String("error", err.Error()))
		}
	}()

	secretStore, err := secrets.NewStore(secrets.WithLogger(log))
	if err != nil {
		return fmt.Errorf("initialize secret store: %w", err)
	}
	defer secretStore.Purge()

	var client llm.Client
	if secretStore.Has(llm.APIKeySecret) {
		opts := []llm.OpenAIOption{
			llm.WithLogger(log),
			llm.WithRateLimit(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
		}
		if cfg.LLM.Model != "" {
			opts = append(opts, llm.WithModel(cfg.LLM.Model))
		}
		openaiClient, err := llm.NewOpenAIClient(secretStore, opts...)
		if err != nil {
			return fmt.Errorf("initialize openai client: %w", err)
		}
		client = openaiClient
	} else {
		log.Warn("no OpenAI API key found, chat and agent endpoints disabled",
			slog.String("secret", llm.APIKeySecret))
	}

	var kvStore *kv.Store
	if cfg.KV.Enabled() {
		kvCfg := kv.DefaultConfig()
		kvCfg.Path = cfg.KV.Dir()
		kvCfg.InMemory = cfg.KV.InMemory
		kvCfg.Logger = log
		kvStore, err = kv.Open(kvCfg)
		if err != nil {
			return fmt.Errorf("open kv store: %w", err)
		}
		defer func() {
			if err := kvStore.Close(); err != nil {
				log.Warn("kv store close", slog.String("error", err.Error()))
			}
		}()
		log.Info("kv store open", slog.String("path", cfg.KV.Dir()),
			slog.Bool("in_memory", cfg.KV.InMemory))
	}

	var index *vector.Index
	if cfg.Vector.Enabled() {
		index, err = vector.New(vector.Config{
			URL:        cfg.Vector.URL,
			Class:      cfg.Vector.Class,
			Vectorizer: cfg.Vector.Vectorizer,
			Timeout:    cfg.Vector.Timeout(),
			Logger:     log,
		})
		if err != nil {
			log.Warn("vector index unavailable, index nodes disabled",
				slog.String("url", cfg.Vector.URL), slog.String("error", err.Error()))
			index = nil
		} else if err := index.EnsureClass(ctx); err != nil {
			log.Warn("vector class check failed",
				slog.String("class", cfg.Vector.Class), slog.String("error", err.Error()))
		}
	}

	var gcsClient *storage.Client
	if cfg.GCS.Enabled() {
		var gcsOpts []option.ClientOption
		if cfg.GCS.CredentialsFile != "" {
			gcsOpts = append(gcsOpts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
		}
		gcsClient, err = storage.NewClient(ctx, gcsOpts...)
		if err != nil {
			log.Warn("gcs client unavailable, gcs_upload disabled",
				slog.String("error", err.Error()))
			gcsClient = nil
		} else {
			defer gcsClient.Close()
		}
	}

	var influxWriter influxapi.WriteAPIBlocking
	if cfg.Influx.Enabled() {
		token, err := secretStore.Reveal(cfg.Influx.TokenSecret)
		if err != nil {
			log.Warn("influx token unavailable, influx_write disabled",
				slog.String("secret", cfg.Influx.TokenSecret), slog.String("error", err.Error()))
		} else {
			influxClient := influxdb2.NewClient(cfg.Influx.URL, token)
			defer influxClient.Close()
			influxWriter = influxClient.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket)
		}
	}

	reg := catalog.NewRegistry()
	if err := nodes.RegisterBuiltins(reg, nodes.Deps{
		LLM:       client,
		KV:        kvStore,
		Vector:    index,
		Secrets:   secretStore,
		GCS:       gcsClient,
		GCSBucket: cfg.GCS.Bucket,
		Influx:    influxWriter,
		Logger:    log,
	}); err != nil {
		return fmt.Errorf("register builtin nodes: %w", err)
	}

	sched, err := engine.New(reg,
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithLogger(log),
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts: cfg.Engine.MaxAttempts,
			BaseDelay:   cfg.Engine.RetryBase(),
			Factor:      2,
			Jitter:      0.2,
		}),
	)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}

	if err := nodes.RegisterLoop(reg, sched); err != nil {
		return fmt.Errorf("register loop node: %w", err)
	}

	if cfg.Catalog.Path != "" {
		f, err := catalog.LoadFile(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		if err := catalog.ApplyFile(reg, f); err != nil {
			return err
		}
		log.Info("applied catalog file", slog.String("path", cfg.Catalog.Path),
			slog.Int("entries", len(f.Nodes)))
	}
	reg.Freeze()

	bus := events.NewBus(
		events.WithQueueSize(cfg.Sessions.QueueSize),
		events.WithRetention(cfg.Sessions.Retention()),
		events.WithIdleTimeout(cfg.Sessions.IdleTimeout()),
		events.WithLogger(log),
	)

	handlers, err := server.NewHandlers(server.Options{
		Registry:          reg,
		Scheduler:         sched,
		Bus:               bus,
		Client:            client,
		MaxConcurrentRuns: int64(cfg.Server.MaxConcurrentRuns),
		CancelOnFailure:   cfg.Engine.CancelOnFailure,
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("build handlers: %w", err)
	}

	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("flowd"))
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("flowd listening",
			slog.String("addr", srv.Addr),
			slog.Int("node_types", reg.Len()),
			slog.Bool("chat_enabled", client != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	stop()

	log.Info("shutting down", slog.Duration("grace", cfg.Server.ShutdownGrace()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := bus.Close(shutdownCtx); err != nil {
		log.Warn("event bus close", slog.String("error", err.Error()))
	}
	return nil
}
