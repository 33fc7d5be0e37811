package mcplus

import (
	"sync/atomic"
)

// ConnectionStats contains statistics about a single server connection.
//
// For Prometheus integration, expose these as:
//   - Gauges: State, Pending, Buffered
//   - Counters: Sent, Dials, DialErrors, Resets, Overflows, Abandoned
type ConnectionStats struct {
	Addr  string
	State ConnectionState

	Pending  int // Requests written and awaiting a reply
	Buffered int // Requests accepted while not ready

	Sent       uint64 // Requests written to the socket
	Dials      uint64 // Successful connects
	DialErrors uint64 // Failed connects
	Resets     uint64 // Sockets torn down while established
	Overflows  uint64 // Requests rejected by a full write buffer
	Abandoned  uint64 // Requests given up by their waiter
}

// ClientStats contains statistics about client operations.
// All fields are safe for concurrent access.
//
// For Prometheus integration, expose these as:
//   - Counters: Gets, Sets, Deletes, Increments, Touches, Errors
//   - Counter: GetHits (derive hit rate as GetHits/Gets)
//   - Counters: Queued, QueueRejects, Discoveries, DiscoveryErrors
type ClientStats struct {
	Gets            uint64 // Total Get and Gets operations
	GetHits         uint64 // Get operations that found the key
	Sets            uint64 // Total storage operations
	Deletes         uint64 // Total Delete operations
	Increments      uint64 // Total Incr and Decr operations
	Touches         uint64 // Total Touch operations
	Errors          uint64 // Total errors across all operations
	Queued          uint64 // Operations buffered while discovery was pending
	QueueRejects    uint64 // Operations rejected by a full queue
	Discoveries     uint64 // Successful autodiscovery rounds
	DiscoveryErrors uint64 // Failed autodiscovery rounds
}

// connectionStatsCollector provides internal methods for updating connection stats.
type connectionStatsCollector struct {
	sent       atomic.Uint64
	dials      atomic.Uint64
	dialErrors atomic.Uint64
	resets     atomic.Uint64
	overflows  atomic.Uint64
	abandoned  atomic.Uint64
}

func (c *connectionStatsCollector) recordSent()      { c.sent.Add(1) }
func (c *connectionStatsCollector) recordDial()      { c.dials.Add(1) }
func (c *connectionStatsCollector) recordDialError() { c.dialErrors.Add(1) }
func (c *connectionStatsCollector) recordReset()     { c.resets.Add(1) }
func (c *connectionStatsCollector) recordOverflow()  { c.overflows.Add(1) }
func (c *connectionStatsCollector) recordAbandon()   { c.abandoned.Add(1) }

func (c *connectionStatsCollector) snapshot() ConnectionStats {
	return ConnectionStats{
		Sent:       c.sent.Load(),
		Dials:      c.dials.Load(),
		DialErrors: c.dialErrors.Load(),
		Resets:     c.resets.Load(),
		Overflows:  c.overflows.Load(),
		Abandoned:  c.abandoned.Load(),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
// Not exported - client updates its own stats.
type clientStatsCollector struct {
	stats *ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{
		stats: &ClientStats{},
	}
}

func (c *clientStatsCollector) recordGet(found bool) {
	atomic.AddUint64(&c.stats.Gets, 1)
	if found {
		atomic.AddUint64(&c.stats.GetHits, 1)
	}
}

func (c *clientStatsCollector) recordSet() {
	atomic.AddUint64(&c.stats.Sets, 1)
}

func (c *clientStatsCollector) recordDelete() {
	atomic.AddUint64(&c.stats.Deletes, 1)
}

func (c *clientStatsCollector) recordIncrement() {
	atomic.AddUint64(&c.stats.Increments, 1)
}

func (c *clientStatsCollector) recordTouch() {
	atomic.AddUint64(&c.stats.Touches, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) recordQueued() {
	atomic.AddUint64(&c.stats.Queued, 1)
}

func (c *clientStatsCollector) recordQueueReject() {
	atomic.AddUint64(&c.stats.QueueRejects, 1)
}

func (c *clientStatsCollector) recordDiscovery(err error) {
	if err != nil {
		atomic.AddUint64(&c.stats.DiscoveryErrors, 1)
		return
	}
	atomic.AddUint64(&c.stats.Discoveries, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:            atomic.LoadUint64(&c.stats.Gets),
		GetHits:         atomic.LoadUint64(&c.stats.GetHits),
		Sets:            atomic.LoadUint64(&c.stats.Sets),
		Deletes:         atomic.LoadUint64(&c.stats.Deletes),
		Increments:      atomic.LoadUint64(&c.stats.Increments),
		Touches:         atomic.LoadUint64(&c.stats.Touches),
		Errors:          atomic.LoadUint64(&c.stats.Errors),
		Queued:          atomic.LoadUint64(&c.stats.Queued),
		QueueRejects:    atomic.LoadUint64(&c.stats.QueueRejects),
		Discoveries:     atomic.LoadUint64(&c.stats.Discoveries),
		DiscoveryErrors: atomic.LoadUint64(&c.stats.DiscoveryErrors),
	}
}
