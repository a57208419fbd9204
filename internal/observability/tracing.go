package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracerName is the instrumentation scope for spans created by mljob.
const TracerName = "mljob"

// TraceOptions configures InitTracer.
type TraceOptions struct {
	ServiceName    string
	ServiceVersion string

	// OTLP gRPC collector address
	Endpoint string

	// Fraction of new traces kept; 1 keeps all
	SampleRatio float64

	// Snowflake session the spans run under
	Account string
	Role    string
	User    string
}

// InitTracer exports spans to the OTLP collector and installs the global trace
// provider. Spans carry the Snowflake account, role and user as resource
// attributes so traces from different sessions can be told apart.
// The returned function flushes and stops the exporter.
func InitTracer(ctx context.Context, opts TraceOptions) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := newResource(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(opts.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	return tp.Shutdown, nil
}

func newResource(ctx context.Context, opts TraceOptions) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceName(opts.ServiceName)}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(opts.ServiceVersion))
	}
	for key, val := range map[string]string{
		"snowflake.account": opts.Account,
		"snowflake.role":    opts.Role,
		"snowflake.user":    opts.User,
	} {
		if val != "" {
			attrs = append(attrs, attribute.String(key, val))
		}
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// newSampler keeps ratio of new traces and follows the parent's decision otherwise.
func newSampler(ratio float64) sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns the mljob tracer from the global provider. Without InitTracer
// it is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
