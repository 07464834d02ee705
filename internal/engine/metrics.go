package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/momentum/pkg/models"
)

const meterName = "github.com/thebtf/momentum/engine"

// metrics holds the engine's OpenTelemetry instruments. Without an installed
// MeterProvider the global no-op provider is used.
type metrics struct {
	sessions metric.Int64Counter
	awards   metric.Int64Counter
	denials  metric.Int64Counter
	power    metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	sessions, err := meter.Int64Counter("momentum.drill.sessions",
		metric.WithDescription("Drill sessions recorded"))
	if err != nil {
		return nil, err
	}
	awards, err := meter.Int64Counter("momentum.awards",
		metric.WithDescription("Momentum points awarded by drills"))
	if err != nil {
		return nil, err
	}
	denials, err := meter.Int64Counter("momentum.denials",
		metric.WithDescription("Drill sessions that awarded no momentum, by reason"))
	if err != nil {
		return nil, err
	}
	power, err := meter.Int64Counter("momentum.power.updates",
		metric.WithDescription("Artifact power updates"))
	if err != nil {
		return nil, err
	}

	return &metrics{sessions: sessions, awards: awards, denials: denials, power: power}, nil
}

func (m *metrics) sessionRecorded(ctx context.Context, awarded int, reason *models.NoMomentumReason) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
	if awarded > 0 {
		m.awards.Add(ctx, int64(awarded))
	}
	if reason != nil {
		m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(*reason))))
	}
}

func (m *metrics) powerUpdated(ctx context.Context) {
	if m == nil {
		return
	}
	m.power.Add(ctx, 1)
}
