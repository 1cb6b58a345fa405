package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the counters and gauges §4.4 requires the ConnectionPool
// to surface, labeled per pool key so callers can see per-target behavior.
type Metrics struct {
	ConnectionsCreated   *prometheus.CounterVec
	ConnectionsDestroyed *prometheus.CounterVec
	ActiveBorrows        *prometheus.GaugeVec
	Idle                 *prometheus.GaugeVec
	ReuseCount           *prometheus.CounterVec
	ConnectFailures      *prometheus.CounterVec
}

// NewMetrics builds and registers pool metrics on reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xec", Subsystem: "pool", Name: "connections_created_total",
			Help: "Connections created per pool key.",
		}, []string{"key"}),
		ConnectionsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xec", Subsystem: "pool", Name: "connections_destroyed_total",
			Help: "Connections destroyed per pool key.",
		}, []string{"key"}),
		ActiveBorrows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xec", Subsystem: "pool", Name: "active_borrows",
			Help: "Currently borrowed references per pool key.",
		}, []string{"key"}),
		Idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xec", Subsystem: "pool", Name: "idle",
			Help: "Currently idle (unborrowed) connections per pool key.",
		}, []string{"key"}),
		ReuseCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xec", Subsystem: "pool", Name: "reuse_total",
			Help: "Times an existing connection was reused instead of dialed per pool key.",
		}, []string{"key"}),
		ConnectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xec", Subsystem: "pool", Name: "connect_failures_total",
			Help: "Dial failures per pool key.",
		}, []string{"key"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsCreated, m.ConnectionsDestroyed,
			m.ActiveBorrows, m.Idle, m.ReuseCount, m.ConnectFailures,
		)
	}
	return m
}
