// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianFlow/services/flow/config"
)

// setupTelemetry installs the OpenTelemetry SDK described by cfg.
//
// Description:
//
//	Traces go to the OTLP collector over gRPC when an endpoint is
//	configured and to stdout otherwise. Metrics default to the
//	Prometheus bridge so SDK instruments surface on /metrics next to
//	the native collectors; OTEL_METRICS_EXPORTER=stdout switches to
//	periodic stdout dumps and =none leaves the meter provider off.
//	With telemetry disabled the otel globals stay no-op.
//
// Outputs:
//   - func(context.Context) error: Flushes and stops every installed
//     provider. Always non-nil.
//   - error: Non-nil when an exporter cannot be constructed.
func setupTelemetry(ctx context.Context, cfg config.Telemetry, log *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("flowd")))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("telemetry shutdown: %v", errs)
		}
		return nil
	}

	tp, err := newTracerProvider(ctx, cfg, res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	shutdownFuncs = append(shutdownFuncs, tp.Shutdown)

	mp, err := newMeterProvider(res)
	if err != nil {
		return nil, err
	}
	if mp != nil {
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}

	if cfg.OTLPEndpoint != "" {
		log.Info("exporting traces over OTLP",
			slog.String("endpoint", cfg.OTLPEndpoint),
			slog.Float64("sample_ratio", cfg.SampleRatio))
	} else {
		log.Info("exporting traces to stdout",
			slog.Float64("sample_ratio", cfg.SampleRatio))
	}
	return shutdown, nil
}

// newTracerProvider builds the tracer provider. The OTLP path uses an
// insecure gRPC channel, which is appropriate for a collector on the
// service network.
func newTracerProvider(ctx context.Context, cfg config.Telemetry, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	if cfg.OTLPEndpoint != "" {
		conn, err := grpc.NewClient(cfg.OTLPEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("dial otlp collector: %w", err)
		}
		otlp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", err)
		}
		exporter = otlp
	} else {
		stdout, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		exporter = stdout
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)),
	), nil
}

// newMeterProvider builds the meter provider for the exporter named by
// OTEL_METRICS_EXPORTER. Nil with no error means metrics are off.
func newMeterProvider(res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	name := os.Getenv("OTEL_METRICS_EXPORTER")
	if name == "" {
		name = "prometheus"
	}

	switch name {
	case "prometheus":
		// The bridge registers with the default prometheus registry,
		// so promhttp serves SDK instruments without extra wiring.
		bridge, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(bridge),
		), nil

	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		), nil

	case "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown metric exporter %q", name)
	}
}
