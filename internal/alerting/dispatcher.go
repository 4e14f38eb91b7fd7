package alerting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pool-liquidity-alerts/internal/storage"
	"pool-liquidity-alerts/internal/telemetry"
)

const defaultDeliveryTimeout = 15 * time.Second

// Dispatcher is the single consumer of notifications produced by pool ticks.
// It records the alert audit trail and delivers to the configured notifier.
type Dispatcher struct {
	notifier Notifier
	alerts   storage.AlertStore
	metrics  *telemetry.Metrics
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher builds a dispatcher. notifier and alerts may be nil.
func NewDispatcher(notifier Notifier, alerts storage.AlertStore, metrics *telemetry.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		alerts:   alerts,
		metrics:  metrics,
		timeout:  defaultDeliveryTimeout,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Run delivers notifications until in is closed. Delivery detaches from ctx
// cancellation so notifications already queued at shutdown still go out,
// each bounded by the delivery timeout.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Notification) {
	for note := range in {
		d.Deliver(ctx, note)
	}
}

// Deliver persists and sends one notification. Failures are logged and counted, never returned,
// since alert state has already moved on.
func (d *Dispatcher) Deliver(ctx context.Context, note Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if d.alerts != nil {
		record := storage.AlertRecord{
			PoolID:       note.PoolID,
			Metric:       note.Metric,
			Kind:         string(note.Kind),
			Direction:    note.Direction,
			ChangePct:    note.ChangePct,
			ThresholdPct: note.ThresholdPct,
			Value:        note.Value,
			FiredAt:      note.At,
		}
		if _, err := d.alerts.InsertAlert(ctx, record); err != nil {
			d.metrics.StoreError("insert_alert")
			d.logger.Error().Err(err).Str("pool", note.PoolID).Str("metric", note.Metric).Msg("failed to persist alert record")
		}
	}

	if d.notifier == nil {
		return
	}
	err := d.notifier.Notify(ctx, note)
	d.metrics.Delivery(string(note.Kind), err)
	if err != nil {
		d.logger.Error().Err(err).
			Str("pool", note.PoolID).
			Str("metric", note.Metric).
			Str("kind", string(note.Kind)).
			Msg("failed to dispatch alert")
	}
}
