package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const fetchMeterName = "github.com/gioswatch/gioswatch/internal/airquality/gios"

// FetchMetrics holds the instruments recorded for every upstream API request.
type FetchMetrics struct {
	duration metric.Float64Histogram
	total    metric.Int64Counter
	size     metric.Int64Histogram
}

// NewFetchMetrics creates the fetch instruments on meter.
// A nil meter uses the global meter provider.
func NewFetchMetrics(meter metric.Meter) (*FetchMetrics, error) {
	if meter == nil {
		meter = otel.Meter(fetchMeterName)
	}

	duration, err := meter.Float64Histogram(
		"gios.fetch.duration",
		metric.WithDescription("Duration of GIOŚ API requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	total, err := meter.Int64Counter(
		"gios.fetch.total",
		metric.WithDescription("Total number of GIOŚ API requests by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	size, err := meter.Int64Histogram(
		"gios.fetch.body.size",
		metric.WithDescription("Size of successful GIOŚ API response bodies in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &FetchMetrics{duration: duration, total: total, size: size}, nil
}

// Record stores one request outcome. Outcome is "ok" or a failure kind; bytes
// is only recorded for successful requests.
func (m *FetchMetrics) Record(ctx context.Context, endpoint, outcome string, elapsed time.Duration, bytes int) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("gios.endpoint", endpoint),
		attribute.String("gios.outcome", outcome),
	)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	m.total.Add(ctx, 1, attrs)
	if outcome == "ok" {
		m.size.Record(ctx, int64(bytes), metric.WithAttributes(attribute.String("gios.endpoint", endpoint)))
	}
}
