package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names.
const (
	MetricItemsPushed   = "shapekit.bulk.items.pushed"
	MetricFlushes       = "shapekit.bulk.flushes"
	MetricFlushErrors   = "shapekit.bulk.flush.errors"
	MetricFlushDuration = "shapekit.bulk.flush.duration.seconds"
	MetricOpenSessions  = "shapekit.bulk.sessions.open"
)

const meterName = "github.com/reoring/shapekit/bulk"

type metrics struct {
	itemsPushed   metric.Int64Counter
	flushes       metric.Int64Counter
	flushErrors   metric.Int64Counter
	flushDuration metric.Float64Histogram
	openSessions  metric.Int64UpDownCounter
}

// newMetrics creates the instruments on mt, or on a no-op meter when mt is nil.
func newMetrics(mt metric.Meter) (*metrics, error) {
	if mt == nil {
		mt = noop.NewMeterProvider().Meter(meterName)
	}
	var errs []error
	record := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	m := &metrics{}
	var err error
	m.itemsPushed, err = mt.Int64Counter(MetricItemsPushed,
		metric.WithDescription("Entities pushed into bulk sessions"), metric.WithUnit("{item}"))
	record(MetricItemsPushed, err)
	m.flushes, err = mt.Int64Counter(MetricFlushes,
		metric.WithDescription("Batches written to the sink"), metric.WithUnit("{batch}"))
	record(MetricFlushes, err)
	m.flushErrors, err = mt.Int64Counter(MetricFlushErrors,
		metric.WithDescription("Batches the sink failed to write"), metric.WithUnit("{batch}"))
	record(MetricFlushErrors, err)
	m.flushDuration, err = mt.Float64Histogram(MetricFlushDuration,
		metric.WithDescription("Sink write latency"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.025, 0.1, 0.5, 1, 5, 30))
	record(MetricFlushDuration, err)
	m.openSessions, err = mt.Int64UpDownCounter(MetricOpenSessions,
		metric.WithDescription("Open bulk sessions"), metric.WithUnit("{session}"))
	record(MetricOpenSessions, err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

func (m *metrics) recordFlush(ctx context.Context, shapeID string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("shape", shapeID))
	m.flushes.Add(ctx, 1, attrs)
	m.flushDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.flushErrors.Add(ctx, 1, attrs)
	}
}
