package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/tanpawarit/ad-buyer-orchestrator"

// Instruments groups the tracer and meters used around remote calls. They
// resolve against the global providers, so nothing is exported unless the
// host installs an SDK.
type Instruments struct {
	tracer   trace.Tracer
	calls    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func New() *Instruments {
	meter := otel.Meter(instrumentationName)
	in := &Instruments{tracer: otel.Tracer(instrumentationName)}

	// Instrument creation only fails on invalid names; keep the no-op value.
	in.calls, _ = meter.Int64Counter("buyer.remote.calls",
		metric.WithDescription("Remote seller operations issued"),
		metric.WithUnit("{call}"),
	)
	in.errors, _ = meter.Int64Counter("buyer.remote.errors",
		metric.WithDescription("Remote seller operations that failed"),
		metric.WithUnit("{error}"),
	)
	in.duration, _ = meter.Float64Histogram("buyer.remote.duration",
		metric.WithDescription("Remote seller operation latency"),
		metric.WithUnit("s"),
	)
	return in
}

// Tracer exposes the underlying tracer for non-call spans.
func (i *Instruments) Tracer() trace.Tracer {
	if i == nil || i.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return i.tracer
}

// StartCall opens a span for one remote operation. The returned func ends
// it and records the outcome.
func (i *Instruments) StartCall(ctx context.Context, protocol, operation string) (context.Context, func(error)) {
	if i == nil {
		return ctx, func(error) {}
	}
	attrs := []attribute.KeyValue{
		attribute.String("buyer.protocol", protocol),
		attribute.String("buyer.operation", operation),
	}
	ctx, span := i.Tracer().Start(ctx, "remote."+operation, trace.WithAttributes(attrs...))
	started := time.Now()

	return ctx, func(err error) {
		opt := metric.WithAttributes(attrs...)
		if i.calls != nil {
			i.calls.Add(ctx, 1, opt)
		}
		if i.duration != nil {
			i.duration.Record(ctx, time.Since(started).Seconds(), opt)
		}
		if err != nil {
			if i.errors != nil {
				i.errors.Add(ctx, 1, opt)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
