package mcplus

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/jackc/puddle/v2"

	"github.com/pior/mcplus/internal/coarsetime"
	"github.com/pior/mcplus/text"
)

const (
	DefaultBackoffLimit      = 10 * time.Second
	DefaultBufferBeforeError = 1000
	DefaultMaxValueSize      = 1 << 20
	DefaultDialTimeout       = 5 * time.Second

	initialBackoff = 10 * time.Millisecond
	ioBufferSize   = 16 * 1024
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateReady
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// ConnectionConfig holds the settings of a single server connection.
// Start from DefaultConnectionConfig.
type ConnectionConfig struct {
	// Reconnect re-dials after the socket is lost. When false the connection
	// becomes Closed on the first failure.
	Reconnect bool

	// BackoffLimit caps the wait between reconnect attempts. The wait starts
	// at 10ms, doubles on each failed cycle and resets on connect.
	BackoffLimit time.Duration

	// BufferBeforeError is the number of requests buffered while not ready.
	// Beyond it the oldest buffered request fails with ErrBufferOverflow.
	BufferBeforeError int

	// MaxValueSize is the largest encoded value accepted by storage commands.
	MaxValueSize int

	DialTimeout time.Duration

	// WriteTimeout bounds each socket write. Zero means no deadline.
	WriteTimeout time.Duration

	// Dialer is used to open TCP connections. If nil, a zero net.Dialer is used.
	Dialer *net.Dialer

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	Logger *slog.Logger

	// OnNetError is called for dial failures and lost sockets. Reconnection
	// is automatic; the hook is informational.
	OnNetError func(addr string, err error)

	// OnStateChange is called after each state transition, in order, from a
	// goroutine dedicated to the hook. It may call Disconnect.
	OnStateChange func(addr string, state ConnectionState)
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Reconnect:         true,
		BackoffLimit:      DefaultBackoffLimit,
		BufferBeforeError: DefaultBufferBeforeError,
		MaxValueSize:      DefaultMaxValueSize,
		DialTimeout:       DefaultDialTimeout,
	}
}

// Connection is a pipelined connection to one memcached server.
//
// Requests are written in call order on a single socket and replies are
// matched to requests strictly in FIFO order. While the socket is not ready,
// requests are buffered and written in order once it connects.
//
// All methods are safe for concurrent use.
type Connection struct {
	addr   string
	cfg    ConnectionConfig
	logger *slog.Logger
	slot   *puddle.Pool[net.Conn]

	mu       sync.Mutex
	state    ConnectionState
	closing  bool
	conn     net.Conn
	bw       *bufio.Writer
	current  *pendingRequest               // head being assembled by the reader
	pending  *deque.Deque[*pendingRequest] // written, oldest at the back
	writeBuf *deque.Deque[*pendingRequest] // not yet written, oldest at the back

	stats connectionStatsCollector

	dialCtx    context.Context
	cancelDial context.CancelFunc
	closeOnce  sync.Once
	closeCh    chan struct{}
	wg         sync.WaitGroup

	hookMu   sync.Mutex
	hookWake chan struct{}
	states   *deque.Deque[ConnectionState]
}

// NewConnection starts connecting to addr in the background and returns
// immediately. Requests issued before the socket is ready are buffered.
func NewConnection(addr string, cfg ConnectionConfig) (*Connection, error) {
	addr, err := NormalizeAddr(addr)
	if err != nil {
		return nil, err
	}

	if cfg.BackoffLimit <= 0 {
		cfg.BackoffLimit = DefaultBackoffLimit
	}
	if cfg.BufferBeforeError <= 0 {
		cfg.BufferBeforeError = DefaultBufferBeforeError
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = DefaultMaxValueSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Connection{
		addr:     addr,
		cfg:      cfg,
		logger:   logger.With("server", addr),
		state:    StateConnecting,
		pending:  deque.NewDeque[*pendingRequest](),
		writeBuf: deque.NewDeque[*pendingRequest](),
		closeCh:  make(chan struct{}),
	}
	c.dialCtx, c.cancelDial = context.WithCancel(context.Background())

	// The pool holds at most the one live socket of this connection.
	c.slot, err = puddle.NewPool(&puddle.Config[net.Conn]{
		Constructor: c.dial,
		Destructor: func(nc net.Conn) {
			_ = nc.Close()
		},
		MaxSize: 1,
	})
	if err != nil {
		return nil, err
	}

	if cfg.OnStateChange != nil {
		c.hookWake = make(chan struct{}, 1)
		c.states = deque.NewDeque[ConnectionState]()
		go c.deliverStates()
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

// Addr returns the normalized server address.
func (c *Connection) Addr() string {
	return c.addr
}

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) Ready() bool {
	return c.State() == StateReady
}

// Stats returns a snapshot of connection statistics.
func (c *Connection) Stats() ConnectionStats {
	s := c.stats.snapshot()
	s.Addr = c.addr

	c.mu.Lock()
	s.State = c.state
	s.Pending = c.pending.Len()
	if c.current != nil {
		s.Pending++
	}
	s.Buffered = c.writeBuf.Len()
	c.mu.Unlock()

	return s
}

// Disconnect closes the connection for good. Buffered and in-flight requests
// fail with ErrConnectionLost. Safe to call more than once.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		nc := c.conn
		c.mu.Unlock()

		close(c.closeCh)
		c.cancelDial()
		if nc != nil {
			_ = nc.Close()
		}
	})
	c.wg.Wait()
}

func (c *Connection) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	if c.cfg.TLS != nil {
		d := &tls.Dialer{NetDialer: c.cfg.Dialer, Config: c.cfg.TLS}
		return d.DialContext(ctx, "tcp", c.addr)
	}
	return c.cfg.Dialer.DialContext(ctx, "tcp", c.addr)
}

// run owns the socket lifecycle: dial, drain the write buffer, read replies,
// tear down, back off and start over.
func (c *Connection) run() {
	defer c.wg.Done()
	defer c.slot.Close()

	backoff := initialBackoff

	for {
		res, err := c.slot.Acquire(c.dialCtx)
		if err != nil {
			if c.isClosing() {
				c.shutdown(nil)
				return
			}

			c.stats.recordDialError()
			err = &text.ConnectionError{Op: "dial", Err: err}
			c.netError(err)

			if !c.cfg.Reconnect {
				c.shutdown(err)
				return
			}
			if !c.sleep(backoff) {
				c.shutdown(nil)
				return
			}
			backoff = nextBackoff(backoff, c.cfg.BackoffLimit)
			continue
		}

		c.stats.recordDial()
		backoff = initialBackoff
		nc := res.Value()

		if !c.establish(nc) {
			res.Destroy()
			c.shutdown(nil)
			return
		}

		cause := c.readLoop(nc)
		c.teardown(cause)
		res.Destroy()

		if c.isClosing() {
			c.shutdown(nil)
			return
		}

		c.stats.recordReset()
		c.netError(cause)

		if !c.cfg.Reconnect {
			c.shutdown(cause)
			return
		}
		if !c.sleep(backoff) {
			c.shutdown(nil)
			return
		}
		backoff = nextBackoff(backoff, c.cfg.BackoffLimit)
	}
}

// establish installs a fresh socket, writes buffered requests in order and
// only then marks the connection ready.
func (c *Connection) establish(nc net.Conn) bool {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return false
	}

	c.conn = nc
	c.bw = bufio.NewWriterSize(nc, ioBufferSize)

	drained := 0
	for c.writeBuf.Len() > 0 {
		p := c.writeBuf.PopBack()
		if p.state == stateDone {
			continue
		}
		c.writeLocked(p)
		drained++
	}
	c.flushLocked()

	// A failed drain write already broke the socket.
	ready := c.bw != nil
	if ready {
		c.state = StateReady
	}
	c.mu.Unlock()

	c.logger.Debug("memcached connection ready", "drained", drained)
	if ready {
		c.notifyState(StateReady)
	}
	return true
}

// teardown rejects everything that was written on the lost socket.
func (c *Connection) teardown(cause error) {
	c.mu.Lock()
	lost := c.takeInFlightLocked()
	c.conn = nil
	c.bw = nil
	closing := c.closing
	if c.state != StateClosed {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	err := connectionLost(cause)
	for _, p := range lost {
		p.fail(err)
	}

	if len(lost) > 0 {
		c.logger.Debug("memcached connection lost with requests in flight", "count", len(lost), "error", cause)
	}
	if !closing {
		c.notifyState(StateConnecting)
	}
}

// shutdown moves to Closed and rejects every remaining request.
func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	c.state = StateClosed
	c.closing = true
	lost := c.takeInFlightLocked()
	for c.writeBuf.Len() > 0 {
		p := c.writeBuf.PopBack()
		if p.state != stateDone {
			p.state = stateDone
			lost = append(lost, p)
		}
	}
	c.mu.Unlock()

	err := connectionLost(cause)
	for _, p := range lost {
		p.fail(err)
	}

	c.notifyState(StateClosed)
}

func (c *Connection) takeInFlightLocked() []*pendingRequest {
	var lost []*pendingRequest
	if c.current != nil {
		lost = append(lost, c.current)
		c.current = nil
	}
	for c.pending.Len() > 0 {
		lost = append(lost, c.pending.PopBack())
	}

	out := lost[:0]
	for _, p := range lost {
		if p.state != stateDone {
			p.state = stateDone
			out = append(out, p)
		}
	}
	return out
}

func (c *Connection) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// sleep waits for d, returning false if the connection is closed meanwhile.
func (c *Connection) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-c.closeCh:
		return false
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func (c *Connection) netError(err error) {
	if c.cfg.OnNetError != nil {
		c.cfg.OnNetError(c.addr, err)
		return
	}
	c.logger.Warn("memcached network error", "error", err)
}

func (c *Connection) notifyState(state ConnectionState) {
	if c.cfg.OnStateChange == nil {
		return
	}

	c.hookMu.Lock()
	c.states.PushFront(state)
	c.hookMu.Unlock()

	select {
	case c.hookWake <- struct{}{}:
	default:
	}
}

// deliverStates runs the state hook off the lifecycle goroutine, so the hook
// never holds up the socket. It returns after delivering StateClosed.
func (c *Connection) deliverStates() {
	for range c.hookWake {
		for {
			c.hookMu.Lock()
			if c.states.Len() == 0 {
				c.hookMu.Unlock()
				break
			}
			state := c.states.PopBack()
			c.hookMu.Unlock()

			c.cfg.OnStateChange(c.addr, state)
			if state == StateClosed {
				return
			}
		}
	}
}

// enqueue writes p immediately when the socket is ready and nothing is
// buffered ahead of it, and buffers it otherwise.
func (c *Connection) enqueue(p *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closing || c.state == StateClosed:
		p.state = stateDone
		p.fail(ErrConnectionClosed)

	case c.state == StateReady && c.writeBuf.Len() == 0:
		c.writeLocked(p)
		c.flushLocked()

	default:
		if c.writeBuf.Len() >= c.cfg.BufferBeforeError {
			oldest := c.writeBuf.PopBack()
			if oldest.state != stateDone {
				oldest.state = stateDone
				c.stats.recordOverflow()
				oldest.fail(fmt.Errorf("%w: %d requests waiting for %s", ErrBufferOverflow, c.cfg.BufferBeforeError, c.addr))
			}
		}
		p.state = stateBuffered
		c.writeBuf.PushFront(p)
	}
}

// writeLocked writes p to the socket buffer and records it as in flight.
// A write failure breaks the socket; p stays in flight and is rejected by
// the teardown that follows.
func (c *Connection) writeLocked(p *pendingRequest) {
	p.state = stateSent
	c.pending.PushFront(p)
	c.stats.recordSent()

	if c.bw == nil {
		return
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(coarsetime.Now().Add(c.cfg.WriteTimeout))
	}
	if err := text.WriteRequest(c.bw, p.req); err != nil {
		c.breakLocked(&text.ConnectionError{Op: "write", Err: err})
	}
}

func (c *Connection) flushLocked() {
	if c.bw == nil {
		return
	}
	if err := c.bw.Flush(); err != nil {
		c.breakLocked(&text.ConnectionError{Op: "write", Err: err})
	}
}

// breakLocked closes the socket so the reader exits and tears down. New
// requests are buffered from now on.
func (c *Connection) breakLocked(err error) {
	c.logger.Debug("memcached socket write failed", "error", err)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.bw = nil
	if c.state == StateReady {
		c.state = StateConnecting
	}
}

// abandon gives up on p after its waiter stopped waiting.
func (c *Connection) abandon(p *pendingRequest, err error) {
	c.mu.Lock()
	state := p.state
	var nc net.Conn
	if state != stateDone {
		p.state = stateDone
		c.stats.recordAbandon()
		if state == stateSent && c.conn != nil {
			// Requests issued from now on wait for the next socket.
			nc = c.conn
			c.bw = nil
			if c.state == StateReady {
				c.state = StateConnecting
			}
		}
	}
	c.mu.Unlock()

	if state == stateDone {
		return
	}

	p.fail(err)

	// The reply to p may still arrive and would be taken for the reply of
	// the next request: reset the socket.
	if nc != nil {
		c.logger.Debug("resetting memcached connection after abandoned request", "command", p.req.Command)
		_ = nc.Close()
	}
}

// readLoop decodes replies and resolves requests until the socket fails or
// the stream desynchronizes.
func (c *Connection) readLoop(nc net.Conn) error {
	r := text.NewReader(bufio.NewReaderSize(nc, ioBufferSize))
	swallowError := false

	for {
		ev, err := r.Next()
		if err != nil {
			var typed text.ErrorWithConnectionState
			if !errors.As(err, &typed) {
				err = &text.ConnectionError{Op: "read", Err: err}
			}
			return err
		}

		if ev.IsError() && text.ShouldCloseConnection(ev.Err) {
			return ev.Err
		}

		// A CLIENT_ERROR to a storage command is followed by an ERROR for
		// the data block the server then tried to parse as a command.
		if swallowError {
			swallowError = false
			if ev.Type == text.EventError {
				continue
			}
		}

		p, err := c.head(ev)
		if err != nil {
			return err
		}
		if p == nil {
			continue
		}

		done, err := p.accept(ev)
		if err != nil {
			return err
		}

		if ev.Type == text.EventClientError && p.req.IsStorage() {
			swallowError = true
		}

		if done {
			c.finish(p)
		}
	}
}

// head returns the request the event belongs to, popping the oldest in
// flight request if none is being assembled. It returns nil for a stray
// ERROR with nothing in flight.
func (c *Connection) head(ev *text.Event) (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return c.current, nil
	}

	if c.pending.Len() == 0 {
		if ev.Type == text.EventError {
			c.logger.Warn("memcached sent ERROR with no request in flight")
			return nil, nil
		}
		return nil, &text.ParseError{Message: "unexpected " + ev.Type.String() + " reply with no request in flight"}
	}

	c.current = c.pending.PopBack()
	return c.current, nil
}

func (c *Connection) finish(p *pendingRequest) {
	c.mu.Lock()
	c.current = nil
	alive := p.state != stateDone
	p.state = stateDone
	c.mu.Unlock()

	if alive {
		p.complete(&p.reply, nil)
	}
}
