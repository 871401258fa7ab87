package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// DomainMetrics carries the engine's business counters. All methods are
// nil-receiver safe so callers can skip wiring metrics entirely.
type DomainMetrics struct {
	stampsRecorded    metric.Int64Counter
	passesRegenerated metric.Int64Counter
	pushesSent        metric.Int64Counter
	pushesFailed      metric.Int64Counter
}

// NewDomainMetrics creates the domain counters on the given meter.
func NewDomainMetrics(meter metric.Meter) (*DomainMetrics, error) {
	stamps, err := meter.Int64Counter("stampwise.stamps.recorded",
		metric.WithDescription("Stamps awarded through the program surface"),
	)
	if err != nil {
		return nil, err
	}
	regenerated, err := meter.Int64Counter("stampwise.passes.regenerated",
		metric.WithDescription("Pass snapshot refreshes"),
	)
	if err != nil {
		return nil, err
	}
	sent, err := meter.Int64Counter("stampwise.pushes.sent",
		metric.WithDescription("Silent pushes delivered to wallet devices"),
	)
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("stampwise.pushes.failed",
		metric.WithDescription("Silent pushes that could not be delivered"),
	)
	if err != nil {
		return nil, err
	}

	return &DomainMetrics{
		stampsRecorded:    stamps,
		passesRegenerated: regenerated,
		pushesSent:        sent,
		pushesFailed:      failed,
	}, nil
}

// RecordStamps counts stamps awarded.
func (m *DomainMetrics) RecordStamps(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.stampsRecorded.Add(ctx, int64(n))
}

// RecordPassRegenerated counts one pass snapshot refresh.
func (m *DomainMetrics) RecordPassRegenerated(ctx context.Context) {
	if m == nil {
		return
	}
	m.passesRegenerated.Add(ctx, 1)
}

// RecordPushes counts the outcome of one dispatch fan-out.
func (m *DomainMetrics) RecordPushes(ctx context.Context, sent, failed int) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.pushesSent.Add(ctx, int64(sent))
	}
	if failed > 0 {
		m.pushesFailed.Add(ctx, int64(failed))
	}
}
