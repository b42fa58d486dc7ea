package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"pkt.systems/pslog"
)

// Metrics exposes a minimal Prometheus surface for a single daemon
// instance: active connections, executor queue depth, and a
// calls-total counter. Unlike the wider lockd telemetry stack this
// scopes down to client_golang's registry and HTTP handler directly;
// nothing in this daemon needs distributed tracing across hosts.
type Metrics struct {
	addr     string
	logger   pslog.Logger
	registry *prometheus.Registry
	srv      *http.Server

	ActiveConnections prometheus.Gauge
	QueueDepth        prometheus.Gauge
	CallsTotal        *prometheus.CounterVec
}

// NewMetrics builds a Metrics instance that will serve on addr once
// Start is called.
func NewMetrics(addr string, logger pslog.Logger) *Metrics {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		addr:     addr,
		logger:   logger,
		registry: registry,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loopbackd_active_connections",
			Help: "Number of handshaken sessions currently open.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loopbackd_executor_queue_depth",
			Help: "Number of execution requests waiting in the sequential executor's queue.",
		}),
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopbackd_calls_total",
			Help: "Total CALL requests handled, partitioned by outcome.",
		}, []string{"outcome"}),
	}
	registry.MustRegister(m.ActiveConnections, m.QueueDepth, m.CallsTotal)
	return m
}

// Start begins serving the Prometheus handler in the background.
func (m *Metrics) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.srv = &http.Server{Addr: m.addr, Handler: mux}
	go func() {
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Warn("metrics server error", "error", err)
		}
	}()
}

// Stop shuts down the metrics HTTP server.
func (m *Metrics) Stop() {
	if m.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
}
