package mcplus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/pior/mcplus/internal/hashring"
	"github.com/pior/mcplus/text"
)

type Querier interface {
	Get(ctx context.Context, key string, opts ...GetOption) (Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, delta uint64) (uint64, error)
}

var _ Querier = (*Client)(nil)

// server is one member of the hash ring.
type server struct {
	addr    string
	conn    *Connection
	breaker *gobreaker.CircuitBreaker[struct{}] // nil if not configured
}

// queuedOp is an operation accepted before the server set is known.
type queuedOp struct {
	key string

	// Guarded by Client.mu.
	done          bool
	abandonIssued func(error)

	issue func(*Connection)
	fail  func(error)
}

// Client is a memcached client distributing keys over a set of servers with
// consistent hashing. Each server is reached through one pipelined
// Connection.
type Client struct {
	cfg    Config
	logger *slog.Logger
	stats  *clientStatsCollector

	mu           sync.Mutex
	servers      map[string]*server
	ring         *hashring.Ring // nil until the server set is known
	discoveryErr error
	queue        *deque.Deque[*queuedOp]
	detached     bool // every server was disconnected
	closed       bool

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup

	ns namespaceCache
}

// NewClient creates a client and starts connecting in the background.
// A nil config uses DefaultConfig.
func NewClient(config *Config) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	hosts, err := normalizeHosts(cfg.Hosts)
	if err != nil {
		return nil, err
	}
	cfg.Hosts = hosts

	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.BackoffLimit <= 0 {
		cfg.BackoffLimit = DefaultBackoffLimit
	}
	if cfg.NamespaceTTL <= 0 {
		cfg.NamespaceTTL = DefaultNamespaceTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		stats:   newClientStatsCollector(),
		servers: make(map[string]*server),
		queue:   deque.NewDeque[*queuedOp](),
		closeCh: make(chan struct{}),
	}

	if cfg.Disabled {
		return c, nil
	}

	if cfg.Autodiscover {
		c.wg.Add(1)
		go c.discoverLoop()
		return c, nil
	}

	c.mu.Lock()
	err = c.installLocked(hosts)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// installLocked connects to addrs, builds the ring and replays the
// operations queued meanwhile.
func (c *Client) installLocked(addrs []string) error {
	servers := make(map[string]*server, len(addrs))
	for _, addr := range addrs {
		conn, err := NewConnection(addr, c.cfg.connectionConfig(c.logger))
		if err != nil {
			for _, s := range servers {
				s.conn.Disconnect()
			}
			return fmt.Errorf("connecting to %s: %w", addr, err)
		}

		s := &server{addr: conn.Addr(), conn: conn}
		if c.cfg.NewCircuitBreaker != nil {
			s.breaker = c.cfg.NewCircuitBreaker(s.addr)
		}
		servers[s.addr] = s
	}

	c.servers = servers
	c.ring = hashring.New(addrs, hashring.DefaultReplicas)
	c.discoveryErr = nil

	replayed := 0
	for c.queue.Len() > 0 {
		q := c.queue.PopBack()
		if q.done {
			continue
		}
		q.done = true

		s := c.routeLocked(q.key)
		if s == nil {
			q.fail(ErrNoServers)
			continue
		}
		q.issue(s.conn)
		replayed++
	}

	c.logger.Debug("memcached servers installed", "servers", len(servers), "replayed", replayed)
	return nil
}

// failQueueLocked rejects every queued operation with err.
func (c *Client) failQueueLocked(err error) {
	for c.queue.Len() > 0 {
		q := c.queue.PopBack()
		if !q.done {
			q.done = true
			q.fail(err)
		}
	}
}

func (c *Client) routeLocked(key string) *server {
	if c.ring == nil {
		return nil
	}
	return c.servers[c.ring.Get(key)]
}

// Ready reports whether the server set is known and every connection is
// ready.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring == nil || len(c.servers) == 0 {
		return false
	}
	for _, s := range c.servers {
		if !s.conn.Ready() {
			return false
		}
	}
	return true
}

// Servers returns the addresses of the current servers.
func (c *Client) Servers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ring == nil {
		return nil
	}
	return c.ring.Nodes()
}

// Disconnect closes the connections to targets, or to every server when
// none is given, and removes them from the ring. Pending requests on those
// connections fail with ErrConnectionLost. Once no server is left the client
// stops reconnecting and discovering.
func (c *Client) Disconnect(targets ...string) error {
	c.mu.Lock()

	if len(targets) == 0 {
		for addr := range c.servers {
			targets = append(targets, addr)
		}
	} else {
		for i, t := range targets {
			addr, err := NormalizeAddr(t)
			if err != nil {
				c.mu.Unlock()
				return err
			}
			if _, ok := c.servers[addr]; !ok {
				c.mu.Unlock()
				return fmt.Errorf("%w: %s", ErrNotConnected, t)
			}
			targets[i] = addr
		}
	}

	removed := make([]*server, 0, len(targets))
	for _, addr := range targets {
		if s, ok := c.servers[addr]; ok {
			removed = append(removed, s)
			delete(c.servers, addr)
		}
	}
	if c.ring != nil {
		c.ring = c.ring.Without(targets...)
	}
	if len(c.servers) == 0 {
		c.detached = true
		c.cfg.Reconnect = false
		if c.ring == nil {
			c.ring = hashring.New(nil, 0)
			c.failQueueLocked(ErrNoServers)
		}
	}
	c.mu.Unlock()

	for _, s := range removed {
		s.conn.Disconnect()
	}
	return nil
}

// Close disconnects every server and stops background work. Queued
// operations fail with ErrConnectionClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		servers := c.servers
		c.servers = make(map[string]*server)
		c.failQueueLocked(ErrConnectionClosed)
		c.mu.Unlock()

		close(c.closeCh)
		for _, s := range servers {
			s.conn.Disconnect()
		}
	})
	c.wg.Wait()
}

// Stats returns a snapshot of client statistics.
func (c *Client) Stats() ClientStats {
	return c.stats.snapshot()
}

// ServerConnectionStats contains the stats of one server connection.
type ServerConnectionStats struct {
	Addr                string
	Connection          ConnectionStats
	CircuitBreakerState gobreaker.State
}

// AllConnectionStats returns stats for all server connections, ordered by
// address.
func (c *Client) AllConnectionStats() []ServerConnectionStats {
	c.mu.Lock()
	servers := make([]*server, 0, len(c.servers))
	for _, s := range c.servers {
		servers = append(servers, s)
	}
	c.mu.Unlock()

	sort.Slice(servers, func(i, j int) bool {
		return servers[i].addr < servers[j].addr
	})

	stats := make([]ServerConnectionStats, 0, len(servers))
	for _, s := range servers {
		st := ServerConnectionStats{
			Addr:       s.addr,
			Connection: s.conn.Stats(),
		}
		if s.breaker != nil {
			st.CircuitBreakerState = s.breaker.State()
		}
		stats = append(stats, st)
	}
	return stats
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.NetTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.cfg.NetTimeout)
}

// submit routes an operation on key. It returns the server to issue it on,
// or, when the operation was queued or cannot run, its future.
func submit[T any](c *Client, key string, op func(*Connection) *Future[T]) (*server, *Future[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, failedFuture[T](ErrConnectionClosed)
	}
	if c.ring == nil {
		return nil, enqueue(c, key, op)
	}

	s := c.routeLocked(key)
	if s == nil {
		return nil, failedFuture[T](ErrNoServers)
	}
	if !c.cfg.Queue && !s.conn.Ready() {
		return nil, failedFuture[T](fmt.Errorf("%w: %s", ErrNotReady, s.addr))
	}
	return s, nil
}

// enqueue holds op until the server set is known. Called with c.mu held.
func enqueue[T any](c *Client, key string, op func(*Connection) *Future[T]) *Future[T] {
	if c.discoveryErr != nil {
		return failedFuture[T](c.discoveryErr)
	}
	if !c.cfg.Queue {
		return failedFuture[T](fmt.Errorf("%w: autodiscovery pending", ErrNotReady))
	}
	if c.queue.Len() >= c.cfg.QueueLimit {
		c.stats.recordQueueReject()
		return failedFuture[T](fmt.Errorf("%w: %d operations waiting", ErrQueueFull, c.cfg.QueueLimit))
	}

	f := newFuture[T]()
	q := &queuedOp{key: key}
	q.issue = func(conn *Connection) {
		inner := op(conn)
		q.abandonIssued = inner.abandon
		forward(inner, f)
	}
	q.fail = func(err error) {
		var zero T
		f.resolve(zero, err)
	}
	f.abandon = func(err error) {
		c.mu.Lock()
		queued := !q.done
		q.done = true
		abandonIssued := q.abandonIssued
		c.mu.Unlock()

		switch {
		case queued:
			q.fail(err)
		case abandonIssued != nil:
			abandonIssued(err)
		}
	}

	c.queue.PushFront(q)
	c.stats.recordQueued()
	return f
}

// call runs op on the server owning key and waits for its result.
func call[T any](ctx context.Context, c *Client, key string, op func(*Connection) *Future[T]) (T, error) {
	var zero T
	if c.cfg.Disabled {
		return zero, nil
	}
	if err := text.ValidateKey(key); err != nil {
		return zero, invalidKeyError(err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	s, f := submit(c, key, op)
	if s == nil {
		return f.Wait(ctx)
	}
	if s.breaker == nil {
		return op(s.conn).Wait(ctx)
	}

	var v T
	_, err := s.breaker.Execute(func() (struct{}, error) {
		var err error
		v, err = op(s.conn).Wait(ctx)
		return struct{}{}, err
	})
	return v, err
}

// callAsync is call without waiting. The circuit breaker does not apply.
func callAsync[T any](c *Client, key string, op func(*Connection) *Future[T]) *Future[T] {
	if c.cfg.Disabled {
		var zero T
		f := newFuture[T]()
		f.resolve(zero, nil)
		return f
	}
	if err := text.ValidateKey(key); err != nil {
		return failedFuture[T](invalidKeyError(err))
	}

	s, f := submit(c, key, op)
	if s == nil {
		return f
	}
	return op(s.conn)
}

// broadcast runs op on every server concurrently. Results are keyed by
// server address; servers that failed are missing from the map.
func broadcast[T any](ctx context.Context, c *Client, op func(*Connection) *Future[T]) (map[string]T, error) {
	if c.cfg.Disabled {
		return map[string]T{}, nil
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	case c.ring == nil && c.discoveryErr != nil:
		err := c.discoveryErr
		c.mu.Unlock()
		return nil, err
	case c.ring == nil:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: autodiscovery pending", ErrNotReady)
	}
	servers := make([]*server, 0, len(c.servers))
	for _, s := range c.servers {
		servers = append(servers, s)
	}
	c.mu.Unlock()

	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]T, len(servers))
		failed  = make(map[string]error)
	)
	for _, s := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := op(s.conn).Wait(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[s.addr] = fmt.Errorf("%s: %w", s.addr, err)
				return
			}
			results[s.addr] = v
		}()
	}
	wg.Wait()

	errs := make([]error, 0, len(failed))
	for _, addr := range sortedAddrs(failed) {
		errs = append(errs, failed[addr])
	}
	return results, errors.Join(errs...)
}

// sortedAddrs returns the keys of m in order.
func sortedAddrs[T any](m map[string]T) []string {
	addrs := make([]string, 0, len(m))
	for addr := range m {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// sleep waits for d, returning false if the client is closed meanwhile.
func (c *Client) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-c.closeCh:
		return false
	}
}
