// Package telemetry bridges the in-process diagnostics bus to an OTLP
// backend. It is the reference subscriber: every diagnostic event becomes
// a zero-duration span tagged with the event's payload, batched and
// shipped by the OTel SDK. The gateway never blocks on it — the bus
// drops events when this subscriber falls behind.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/config"
)

const subscriberID = "telemetry"

// Exporter owns the OTel tracer provider and the diagnostics-bus
// subscription feeding it.
type Exporter struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
	events *bus.EventBus
}

// Start wires the exporter when telemetry is enabled. Returns nil (no
// exporter, no error) when cfg.Enabled is false.
func Start(ctx context.Context, cfg config.TelemetryConfig, events *bus.EventBus) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	traceExp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "goclaw-gateway"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	e := &Exporter{
		tp:     tp,
		tracer: tp.Tracer("goclaw/gateway/diagnostics"),
		events: events,
	}
	events.Subscribe(subscriberID, e.onEvent)
	return e, nil
}

func newClient(cfg config.TelemetryConfig) (otlptrace.Client, error) {
	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.NewClient(opts...), nil
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.NewClient(opts...), nil
	default:
		return nil, fmt.Errorf("unknown telemetry protocol %q", cfg.Protocol)
	}
}

// onEvent records one diagnostic event as an instant span. Payloads are
// attached as JSON; they are small typed structs by construction.
func (e *Exporter) onEvent(event bus.DiagnosticEvent) {
	_, span := e.tracer.Start(context.Background(), event.Kind)
	span.SetAttributes(attribute.String("diagnostic.kind", event.Kind))
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			span.SetAttributes(attribute.String("diagnostic.payload", string(data)))
		}
	}
	span.End()
}

// Stop unsubscribes from the bus and flushes pending spans.
func (e *Exporter) Stop(ctx context.Context) error {
	if e == nil {
		return nil
	}
	e.events.Unsubscribe(subscriberID)
	return e.tp.Shutdown(ctx)
}
