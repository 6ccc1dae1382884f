package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes the game service instruments.
const MeterName = "github.com/louisbranch/robotbattle/game"

// Instrument names.
const (
	TurnsResolvedName       = "robotbattle.turns.resolved"
	TurnsFailedName         = "robotbattle.turns.failed"
	TurnResolveDurationName = "robotbattle.turn.resolve_duration_ms"
)

// TurnMetrics records turn resolution outcomes.
type TurnMetrics struct {
	resolved metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewTurnMetrics creates the turn instruments on meter. A nil meter uses the
// global meter provider.
func NewTurnMetrics(meter metric.Meter) (*TurnMetrics, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	resolved, err := meter.Int64Counter(TurnsResolvedName,
		metric.WithDescription("Turns resolved and advanced."),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter(TurnsFailedName,
		metric.WithDescription("Turn resolution attempts that failed and were reverted."),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(TurnResolveDurationName,
		metric.WithDescription("Time from dispatch to the end of a turn resolution."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &TurnMetrics{resolved: resolved, failed: failed, duration: duration}, nil
}

// Resolved records a successful resolution. won marks the final turn.
func (m *TurnMetrics) Resolved(ctx context.Context, won bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("won", won))
	m.resolved.Add(ctx, 1, attrs)
	m.duration.Record(ctx, milliseconds(elapsed), metric.WithAttributes(attribute.String("outcome", "resolved")))
}

// Failed records a failed resolution. stage names the step that failed.
func (m *TurnMetrics) Failed(ctx context.Context, stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	m.duration.Record(ctx, milliseconds(elapsed), metric.WithAttributes(attribute.String("outcome", "failed")))
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
