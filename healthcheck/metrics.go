// Package healthcheck exposes a thin HTTP surface next to a long-running
// stage/server/results-listener process: /health answers a liveness
// probe (spec.md §6's HEALTH_CHECK/HEALTH_OK pair, repurposed here for
// orchestration rather than the client<->server wire), and /metrics
// exposes Prometheus counters for replica throughput and EOF-ring
// passes.
//
// Grounded on adred-codev-ws_poc's go-server/internal/metrics package
// (promauto-registered Counter/Gauge/Histogram fields on one struct) and
// its internal/server.go's http.ServeMux wiring of /health next to a
// metrics endpoint — the nearest pack example of an HTTP surface beside a
// long-running worker, since the teacher has none.
package healthcheck

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks one stage replica's (or the server's) throughput and
// ring-protocol progress for the /metrics endpoint.
type Metrics struct {
	messagesReceived prometheus.Counter
	messagesSent     prometheus.Counter
	duplicatesCaught prometheus.Counter
	ringPasses       prometheus.Counter
	ringRetries      prometheus.Counter
	clientsActive    prometheus.Gauge
	walAppendLatency prometheus.Histogram
}

// NewMetrics registers a fresh set of counters/gauges under name (e.g.
// "dos_mas_rapidos", "server") so multiple replicas in one process
// (tests) don't collide in the default Prometheus registry.
func NewMetrics(name string) *Metrics {
	return &Metrics{
		messagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: name + "_messages_received_total",
			Help: "Total number of PROTOCOL messages received on the input queue.",
		}),
		messagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: name + "_messages_sent_total",
			Help: "Total number of output messages published downstream.",
		}),
		duplicatesCaught: promauto.NewCounter(prometheus.CounterOpts{
			Name: name + "_duplicates_caught_total",
			Help: "Total number of messages recognized as already-processed by the duplicate catcher.",
		}),
		ringPasses: promauto.NewCounter(prometheus.CounterOpts{
			Name: name + "_eof_ring_passes_total",
			Help: "Total number of completed EOF ring convergence passes.",
		}),
		ringRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: name + "_eof_ring_retries_total",
			Help: "Total number of EOF ring passes that failed to converge and restarted.",
		}),
		clientsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: name + "_clients_active",
			Help: "Number of client_ids with in-flight state on this replica.",
		}),
		walAppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    name + "_wal_append_latency_seconds",
			Help:    "Latency of a single write-ahead log append.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) MessageReceived()          { m.messagesReceived.Inc() }
func (m *Metrics) MessageSent()              { m.messagesSent.Inc() }
func (m *Metrics) DuplicateCaught()          { m.duplicatesCaught.Inc() }
func (m *Metrics) RingPassed()               { m.ringPasses.Inc() }
func (m *Metrics) RingRetried()              { m.ringRetries.Inc() }
func (m *Metrics) SetClientsActive(n int)    { m.clientsActive.Set(float64(n)) }
func (m *Metrics) ObserveWALAppend(secs float64) { m.walAppendLatency.Observe(secs) }
