package sidecart

import (
	"database/sql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strings"
)

// Metrics holds the sidecar's Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry
	queries  *prometheus.CounterVec
}

// NewMetrics creates a registry with the Go runtime, process and query collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sidecart_demo_queries_total",
			Help: "Demonstration queries run, by query kind and status.",
		}, []string{"query", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queries,
	)
	return m
}

// RegisterPool exports the database/sql pool counters (open, in use, idle, waits).
func (m *Metrics) RegisterPool(db *sql.DB, dbName string) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, dbName))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe counts one demonstration query. A nil Metrics counts nothing.
func (m *Metrics) observe(name string, err error) {
	if m == nil {
		return
	}
	// count:<table> and sample:<table> are counted by kind only
	kind, _, _ := strings.Cut(name, ":")
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.queries.WithLabelValues(kind, status).Inc()
}
