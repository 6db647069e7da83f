package main

import (
	"context"

	"github.com/m-mizutani/agenteval/trace"
	traceotel "github.com/m-mizutani/agenteval/trace/otel"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupOTLP exports spans to an OTLP/HTTP endpoint such as
// http://localhost:4318. The returned function flushes and stops the exporter.
func setupOTLP(ctx context.Context, endpoint string) (trace.Handler, func(), error) {
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create OTLP exporter", goerr.V("endpoint", endpoint))
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	shutdown := func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			ctxlog.From(ctx).Warn("failed to shut down tracer provider", "error", err)
		}
	}
	return traceotel.New(traceotel.WithTracerProvider(tp)), shutdown, nil
}
