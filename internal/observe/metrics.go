// Package observe holds the logging, metrics and tracing setup shared by the
// converter, the HTTP server and the CLI.
//
// Metrics are recorded through the OpenTelemetry API and exposed for
// scraping by a Prometheus exporter (see InitProvider). Tests build their own
// Metrics with NewMetrics and a ManualReader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/satindergrewal/oggaac"

// Metrics holds the instruments recorded by a running converter.
type Metrics struct {
	// ConversionDuration is the wall time of a whole conversion, by status.
	ConversionDuration metric.Float64Histogram

	// StageDuration is the wall time of one conversion stage
	// (resolve, decode, encode, commit).
	StageDuration metric.Float64Histogram

	// Conversions counts finished conversions by status and error kind.
	Conversions metric.Int64Counter

	// SyntheticFallbacks counts conversions that encoded the test tone
	// because no decoder produced PCM.
	SyntheticFallbacks metric.Int64Counter

	// EncodedFrames and EncodedBytes count ADTS output by encoder backend.
	EncodedFrames metric.Int64Counter
	EncodedBytes  metric.Int64Counter

	// QueueDepth tracks requests waiting for the worker.
	QueueDepth metric.Int64UpDownCounter

	HTTPRequestDuration metric.Float64Histogram
}

var durationBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConversionDuration, err = m.Float64Histogram("oggaac.conversion.duration",
		metric.WithDescription("Wall time of a conversion from validation to commit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("oggaac.stage.duration",
		metric.WithDescription("Wall time of a single conversion stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Conversions, err = m.Int64Counter("oggaac.conversions",
		metric.WithDescription("Finished conversions by status and error kind."),
	); err != nil {
		return nil, err
	}
	if met.SyntheticFallbacks, err = m.Int64Counter("oggaac.synthetic_fallbacks",
		metric.WithDescription("Conversions that encoded a synthetic tone instead of decoded audio."),
	); err != nil {
		return nil, err
	}
	if met.EncodedFrames, err = m.Int64Counter("oggaac.encoded.frames",
		metric.WithDescription("ADTS frames written by encoder backend."),
	); err != nil {
		return nil, err
	}
	if met.EncodedBytes, err = m.Int64Counter("oggaac.encoded.bytes",
		metric.WithDescription("ADTS bytes written by encoder backend."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("oggaac.queue.depth",
		metric.WithDescription("Conversion requests waiting for the worker."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("oggaac.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide Metrics built on the global meter
// provider. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordConversion records one finished conversion. kind is empty on success.
func (m *Metrics) RecordConversion(ctx context.Context, status, kind string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("kind", kind),
	)
	m.Conversions.Add(ctx, 1, attrs)
	m.ConversionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}

// RecordStage records the duration of one named stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordFallback counts a synthetic PCM fallback.
func (m *Metrics) RecordFallback(ctx context.Context) {
	m.SyntheticFallbacks.Add(ctx, 1)
}

// RecordEncoded adds the output of one encode run.
func (m *Metrics) RecordEncoded(ctx context.Context, backend string, frames, bytes int64) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	m.EncodedFrames.Add(ctx, frames, attrs)
	m.EncodedBytes.Add(ctx, bytes, attrs)
}
