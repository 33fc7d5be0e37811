// Package metrics exports client statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pior/mcplus"
)

// Source is implemented by *mcplus.Client.
type Source interface {
	Stats() mcplus.ClientStats
	AllConnectionStats() []mcplus.ServerConnectionStats
}

// Collector reads the statistics of a client on every scrape.
type Collector struct {
	source Source

	// Operations
	operations *prometheus.Desc
	getHits    *prometheus.Desc
	errors     *prometheus.Desc

	// Queue and autodiscovery
	queued       *prometheus.Desc
	queueRejects *prometheus.Desc
	discoveries  *prometheus.Desc

	// Connections
	connState     *prometheus.Desc
	connPending   *prometheus.Desc
	connBuffered  *prometheus.Desc
	connSent      *prometheus.Desc
	connDials     *prometheus.Desc
	connDialErrs  *prometheus.Desc
	connResets    *prometheus.Desc
	connOverflows *prometheus.Desc
	connAbandoned *prometheus.Desc

	// Circuit Breaker
	circuitState *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for source. Register it with
// prometheus.Registry.MustRegister.
func NewCollector(source Source) *Collector {
	server := []string{"server"}

	return &Collector{
		source: source,

		operations: prometheus.NewDesc(
			"memcache_operations_total",
			"Total number of memcache operations",
			[]string{"operation"}, nil,
		),
		getHits: prometheus.NewDesc(
			"memcache_get_hits_total",
			"Total number of retrievals that found the key",
			nil, nil,
		),
		errors: prometheus.NewDesc(
			"memcache_errors_total",
			"Total number of failed operations",
			nil, nil,
		),
		queued: prometheus.NewDesc(
			"memcache_queued_operations_total",
			"Operations held until autodiscovery completed",
			nil, nil,
		),
		queueRejects: prometheus.NewDesc(
			"memcache_queue_rejects_total",
			"Operations rejected by a full queue",
			nil, nil,
		),
		discoveries: prometheus.NewDesc(
			"memcache_autodiscovery_total",
			"Autodiscovery rounds",
			[]string{"result"}, // success, failed
			nil,
		),
		connState: prometheus.NewDesc(
			"memcache_connection_state",
			"Connection state (0=connecting, 1=ready, 2=closed)",
			server, nil,
		),
		connPending: prometheus.NewDesc(
			"memcache_connection_pending_requests",
			"Requests written and awaiting a reply",
			server, nil,
		),
		connBuffered: prometheus.NewDesc(
			"memcache_connection_buffered_requests",
			"Requests waiting for the connection to be ready",
			server, nil,
		),
		connSent: prometheus.NewDesc(
			"memcache_connection_requests_sent_total",
			"Requests written to the socket",
			server, nil,
		),
		connDials: prometheus.NewDesc(
			"memcache_connection_dials_total",
			"Successful connects",
			server, nil,
		),
		connDialErrs: prometheus.NewDesc(
			"memcache_connection_dial_errors_total",
			"Failed connects",
			server, nil,
		),
		connResets: prometheus.NewDesc(
			"memcache_connection_resets_total",
			"Established sockets torn down",
			server, nil,
		),
		connOverflows: prometheus.NewDesc(
			"memcache_connection_overflows_total",
			"Requests rejected by a full write buffer",
			server, nil,
		),
		connAbandoned: prometheus.NewDesc(
			"memcache_connection_abandoned_total",
			"Requests given up by their caller",
			server, nil,
		),
		circuitState: prometheus.NewDesc(
			"memcache_circuit_breaker_state",
			"Circuit breaker state (0=closed, 1=half-open, 2=open)",
			server, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.operations, c.getHits, c.errors,
		c.queued, c.queueRejects, c.discoveries,
		c.connState, c.connPending, c.connBuffered,
		c.connSent, c.connDials, c.connDialErrs,
		c.connResets, c.connOverflows, c.connAbandoned,
		c.circuitState,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.operations, stats.Gets, "get")
	counter(c.operations, stats.Sets, "set")
	counter(c.operations, stats.Deletes, "delete")
	counter(c.operations, stats.Increments, "increment")
	counter(c.operations, stats.Touches, "touch")
	counter(c.getHits, stats.GetHits)
	counter(c.errors, stats.Errors)
	counter(c.queued, stats.Queued)
	counter(c.queueRejects, stats.QueueRejects)
	counter(c.discoveries, stats.Discoveries, "success")
	counter(c.discoveries, stats.DiscoveryErrors, "failed")

	for _, s := range c.source.AllConnectionStats() {
		conn := s.Connection
		gauge(c.connState, float64(conn.State), s.Addr)
		gauge(c.connPending, float64(conn.Pending), s.Addr)
		gauge(c.connBuffered, float64(conn.Buffered), s.Addr)
		counter(c.connSent, conn.Sent, s.Addr)
		counter(c.connDials, conn.Dials, s.Addr)
		counter(c.connDialErrs, conn.DialErrors, s.Addr)
		counter(c.connResets, conn.Resets, s.Addr)
		counter(c.connOverflows, conn.Overflows, s.Addr)
		counter(c.connAbandoned, conn.Abandoned, s.Addr)
		gauge(c.circuitState, float64(s.CircuitBreakerState), s.Addr)
	}
}
