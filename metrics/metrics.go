// Package metrics provides the Prometheus metrics server and the
// health/drain endpoints used by load balancers.
package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
)

// MetricsServer serves /metrics plus liveness, readiness and drain
// endpoints on its own address, separate from the main service.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
	isReady  atomic.Bool

	// DrainDuration is how long a drain request reports the server as not
	// ready before the period is considered complete.
	DrainDuration time.Duration

	// Log, when set, receives drain lifecycle messages.
	Log *slog.Logger

	// RequestsServed counts requests dispatched to the main service.
	RequestsServed prometheus.Counter

	// TLSHandshakeFailures counts handshakes that failed and were dropped.
	TLSHandshakeFailures prometheus.Counter
}

// New creates a metrics server for the given namespace, listening on
// listenAddr once ListenAndServe is called.
func New(namespace, listenAddr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)
	m := &MetricsServer{
		registry: registry,
		RequestsServed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_served_total",
			Help:      "Number of HTTP requests dispatched to the main service.",
		}),
		TLSHandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tls_handshake_failures_total",
			Help:      "Number of TLS handshakes that failed and were dropped.",
		}),
	}
	m.isReady.Store(true)

	mux := chi.NewRouter()
	mux.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)
	mux.Get("/livez", m.handleLivenessCheck)
	mux.Get("/readyz", m.handleReadinessCheck)
	mux.Get("/drain", m.handleDrain)
	mux.Get("/undrain", m.handleUndrain)

	m.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

func (m *MetricsServer) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"alive"}`))
}

func (m *MetricsServer) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !m.isReady.Load() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"not ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func (m *MetricsServer) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !m.isReady.Swap(false) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already draining"}`))
		return
	}

	// Hold the not-ready state for the drain window so load balancers can
	// observe the change before shutdown proceeds.
	go func() {
		time.Sleep(m.DrainDuration)
		if m.Log != nil {
			m.Log.Info("Drain period completed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"draining"}`))
}

func (m *MetricsServer) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if m.isReady.Swap(true) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"already ready"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// ListenAndServe starts the metrics server and blocks until it stops.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
