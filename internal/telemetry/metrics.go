package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "poolwatch"

// Metrics holds the Prometheus collectors of the monitor. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Ticks        *prometheus.CounterVec
	TickDuration prometheus.Histogram
	StoreErrors  *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
	Deliveries   *prometheus.CounterVec
	ChangePct    *prometheus.GaugeVec
	Value        *prometheus.GaugeVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Pool ticks by outcome.",
		}, []string{"pool", "result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one pool tick.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Sample store failures by operation.",
		}, []string{"op"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_transitions_total",
			Help:      "Alert state machine transitions.",
		}, []string{"pool", "metric", "transition"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by result.",
		}, []string{"kind", "result"}),
		ChangePct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_change_pct",
			Help:      "Directional percentage change over the window.",
		}, []string{"pool", "metric"}),
		Value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_value",
			Help:      "Latest sampled metric value.",
		}, []string{"pool", "metric"}),
	}
	m.registry.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.StoreErrors,
		m.Transitions,
		m.Deliveries,
		m.ChangePct,
		m.Value,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveTick records the outcome and duration of a pool tick.
func (m *Metrics) ObserveTick(pool, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Ticks.WithLabelValues(pool, result).Inc()
	m.TickDuration.Observe(took.Seconds())
}

// StoreError counts a failed store operation.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

// ObserveSignal records the latest value, window change and transition of a metric.
func (m *Metrics) ObserveSignal(pool, metric, transition string, value, changePct float64) {
	if m == nil {
		return
	}
	m.Value.WithLabelValues(pool, metric).Set(value)
	m.ChangePct.WithLabelValues(pool, metric).Set(changePct)
	m.Transitions.WithLabelValues(pool, metric, transition).Inc()
}

// Delivery counts a notification delivery attempt.
func (m *Metrics) Delivery(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Deliveries.WithLabelValues(kind, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr, path string, logger zerolog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("path", path).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
