package stabilize

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// coordinatorMetrics holds the instruments created from the configured meter.
// A nil *coordinatorMetrics records nothing.
type coordinatorMetrics struct {
	renames  metric.Int64Counter
	rewrites metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram
}

func newCoordinatorMetrics(meter metric.Meter) (*coordinatorMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	m := &coordinatorMetrics{}
	var err error

	m.renames, err = meter.Int64Counter(
		"gami.stabilize.renames",
		metric.WithDescription("Resources renamed to a persistent UUID"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create renames counter: %w", err)
	}

	m.rewrites, err = meter.Int64Counter(
		"gami.stabilize.rewrites",
		metric.WithDescription("Reference rewrite rules applied"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create rewrites counter: %w", err)
	}

	m.skipped, err = meter.Int64Counter(
		"gami.stabilize.skipped",
		metric.WithDescription("Reference rewrite rules that failed and were skipped"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create skipped counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"gami.stabilize.duration",
		metric.WithDescription("Time spent in one stabilization, rules included"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return m, nil
}

func (m *coordinatorMetrics) recordRename(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.renames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *coordinatorMetrics) recordRule(ctx context.Context, kind, rule string, err error) {
	if m == nil {
		return
	}
	opts := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("rule", rule),
	)
	if err != nil {
		m.skipped.Add(ctx, 1, opts)
		return
	}
	m.rewrites.Add(ctx, 1, opts)
}

func (m *coordinatorMetrics) recordDuration(ctx context.Context, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(attribute.String("kind", kind)))
}
