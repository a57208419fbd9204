// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// MeterName is the instrumentation scope of every mljob instrument.
const MeterName = "github.com/aiqojo/sf-ml-test"

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// Metrics holds the instruments recorded while preparing, submitting and
// watching jobs. A nil *Metrics records nothing.
type Metrics struct {
	polls        otelmetric.Int64Counter
	poolResumes  otelmetric.Int64Counter
	submissions  otelmetric.Int64Counter
	outcomes     otelmetric.Int64Counter
	waitDuration otelmetric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)

	polls, err := meter.Int64Counter("mljob_polls_total",
		otelmetric.WithDescription("Status polls issued, by target and observed state"))
	if err != nil {
		return nil, err
	}
	poolResumes, err := meter.Int64Counter("mljob_pool_resumes_total",
		otelmetric.WithDescription("Compute pool resume commands issued"))
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter("mljob_submissions_total",
		otelmetric.WithDescription("Job submissions, by result"))
	if err != nil {
		return nil, err
	}
	outcomes, err := meter.Int64Counter("mljob_job_outcomes_total",
		otelmetric.WithDescription("Observed job outcomes, by final status"))
	if err != nil {
		return nil, err
	}
	waitDuration, err := meter.Float64Histogram("mljob_wait_duration_seconds",
		otelmetric.WithDescription("Time spent waiting for a job"),
		otelmetric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		polls:        polls,
		poolResumes:  poolResumes,
		submissions:  submissions,
		outcomes:     outcomes,
		waitDuration: waitDuration,
	}, nil
}

// RecordPoll counts one status poll of target ("job" or "compute_pool").
func (m *Metrics) RecordPoll(ctx context.Context, target, state string) {
	if m == nil {
		return
	}
	m.polls.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("target", target),
		attribute.String("state", state),
	))
}

// RecordPoolResume counts one ALTER COMPUTE POOL ... RESUME.
func (m *Metrics) RecordPoolResume(ctx context.Context, pool string) {
	if m == nil {
		return
	}
	m.poolResumes.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("pool", pool)))
}

// RecordSubmission counts one submission attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.submissions.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("result", result)))
}

// RecordOutcome records the status a wait ended with and how long it took.
func (m *Metrics) RecordOutcome(ctx context.Context, status string, timedOut bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("timed_out", timedOut),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.waitDuration.Record(ctx, elapsed.Seconds(), attrs)
}
