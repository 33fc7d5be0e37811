// Package testutils provides an in-process memcached speaking the text
// protocol, with fault injection for connection tests.
package testutils

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	Version        = "1.6.21-testutils"
	relativeTTLMax = 30 * 24 * 60 * 60
	maxItemSize    = 1 << 20
)

type item struct {
	flags   uint32
	expires time.Time // zero for no expiration
	data    []byte
	cas     uint64
}

func (it *item) expired(now time.Time) bool {
	return !it.expires.IsZero() && !now.Before(it.expires)
}

// Server is a memcached text protocol server backed by a map.
type Server struct {
	t    testing.TB
	addr string

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	items    map[string]*item
	casSeq   uint64
	commands []string
	accepted int
	delay    time.Duration
	gate     chan struct{} // nil unless stalled
	cluster  string        // "config get cluster" payload, empty to reply ERROR
	clusterV int

	wg sync.WaitGroup
}

// NewServer starts a server on a random local port. It is stopped when the
// test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		t:     t,
		conns: make(map[net.Conn]struct{}),
		items: make(map[string]*item),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testutils: listen: %v", err)
	}
	s.addr = ln.Addr().String()
	s.serve(ln)

	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) serve(ln net.Listener) {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}

			s.mu.Lock()
			if s.ln != ln {
				s.mu.Unlock()
				_ = conn.Close()
				return
			}
			s.conns[conn] = struct{}{}
			s.accepted++
			s.mu.Unlock()

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handle(conn)
			}()
		}
	}()
}

// Stop closes the listener and every client connection. The data is kept.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if gate != nil {
		close(gate)
	}
	s.DropConnections()
	s.wg.Wait()
}

// Start listens again on the address of the server after Stop.
func (s *Server) Start() {
	var (
		ln  net.Listener
		err error
	)
	// The port can stay in TIME_WAIT for a moment.
	for range 50 {
		ln, err = net.Listen("tcp", s.addr)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		s.t.Fatalf("testutils: listen again on %s: %v", s.addr, err)
	}
	s.serve(ln)
}

func (s *Server) Close() {
	s.Stop()
}

// DropConnections closes every client connection; the listener stays up.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// SetDelay delays every reply by d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Stall holds every reply until Resume is called.
func (s *Server) Stall() {
	s.mu.Lock()
	if s.gate == nil {
		s.gate = make(chan struct{})
	}
	s.mu.Unlock()
}

func (s *Server) Resume() {
	s.mu.Lock()
	gate := s.gate
	s.gate = nil
	s.mu.Unlock()

	if gate != nil {
		close(gate)
	}
}

// SetCluster sets the nodes returned by "config get cluster", as
// "hostname|ip|port" entries. No entries makes the command fail with ERROR.
func (s *Server) SetCluster(nodes ...string) {
	s.mu.Lock()
	s.clusterV++
	s.cluster = strings.Join(nodes, " ")
	s.mu.Unlock()
}

// Commands returns the command lines received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Has reports whether key is stored and not expired.
func (s *Server) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	return ok && !it.expired(time.Now())
}

// Value returns the raw stored payload of key.
func (s *Server) Value(key string) ([]byte, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok || it.expired(time.Now()) {
		return nil, 0, false
	}
	return append([]byte(nil), it.data...), it.flags, true
}

// Put stores a raw payload, bypassing the protocol.
func (s *Server) Put(key string, data []byte, flags uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casSeq++
	s.items[key] = &item{flags: flags, data: append([]byte(nil), data...), cas: s.casSeq}
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		s.mu.Lock()
		s.commands = append(s.commands, line)
		delay := s.delay
		gate := s.gate
		s.mu.Unlock()

		reply, quit, err := s.execute(line, r)
		if err != nil {
			return
		}

		if delay > 0 {
			time.Sleep(delay)
		}
		if gate != nil {
			<-gate
		}

		if _, err := w.WriteString(reply); err != nil {
			return
		}
		// Pipelined requests are answered in one write.
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
		if quit {
			_ = w.Flush()
			return
		}
	}
}

func (s *Server) execute(line string, r *bufio.Reader) (string, bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "set", "add", "replace", "append", "prepend", "cas":
		return s.store(cmd, args, r)
	case "get", "gets":
		return s.get(cmd == "gets", args), false, nil
	case "incr", "decr":
		return s.arithmetic(cmd == "incr", args), false, nil
	case "delete":
		return s.delete(args), false, nil
	case "touch":
		return s.touch(args), false, nil
	case "flush_all":
		return s.flushAll(args), false, nil
	case "stats":
		return s.stats(args), false, nil
	case "version":
		return "VERSION " + Version + "\r\n", false, nil
	case "config":
		return s.config(args), false, nil
	case "quit":
		return "", true, nil
	}
	return "ERROR\r\n", false, nil
}

func (s *Server) store(cmd string, args []string, r *bufio.Reader) (string, bool, error) {
	want := 4
	if cmd == "cas" {
		want = 5
	}
	if len(args) != want && len(args) != want+1 {
		return "ERROR\r\n", false, nil
	}

	key := args[0]
	flags, err1 := strconv.ParseUint(args[1], 10, 32)
	exptime, err2 := strconv.ParseInt(args[2], 10, 64)
	size, err3 := strconv.Atoi(args[3])
	if err := errors.Join(err1, err2, err3); err != nil || size < 0 || len(key) > 250 {
		return "CLIENT_ERROR bad command line format\r\n", false, nil
	}

	data := make([]byte, size+2)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", false, err
	}
	if !bytes.HasSuffix(data, []byte("\r\n")) {
		// memcached then reads the rest of the data as a command.
		return "CLIENT_ERROR bad data chunk\r\nERROR\r\n", false, nil
	}
	data = data[:size]

	if size > maxItemSize {
		return "SERVER_ERROR object too large for cache\r\n", false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	existing, ok := s.items[key]
	if ok && existing.expired(now) {
		delete(s.items, key)
		existing, ok = nil, false
	}

	switch cmd {
	case "add":
		if ok {
			return "NOT_STORED\r\n", false, nil
		}
	case "replace", "append", "prepend":
		if !ok {
			return "NOT_STORED\r\n", false, nil
		}
	case "cas":
		if !ok {
			return "NOT_FOUND\r\n", false, nil
		}
		cas, err := strconv.ParseUint(args[4], 10, 64)
		if err != nil {
			return "CLIENT_ERROR bad command line format\r\n", false, nil
		}
		if cas != existing.cas {
			return "EXISTS\r\n", false, nil
		}
	}

	s.casSeq++
	switch cmd {
	case "append":
		existing.data = append(existing.data, data...)
		existing.cas = s.casSeq
	case "prepend":
		existing.data = append(data, existing.data...)
		existing.cas = s.casSeq
	default:
		s.items[key] = &item{
			flags:   uint32(flags),
			expires: expiry(now, exptime),
			data:    data,
			cas:     s.casSeq,
		}
	}
	return "STORED\r\n", false, nil
}

func expiry(now time.Time, exptime int64) time.Time {
	switch {
	case exptime == 0:
		return time.Time{}
	case exptime < 0:
		return now
	case exptime > relativeTTLMax:
		return time.Unix(exptime, 0)
	}
	return now.Add(time.Duration(exptime) * time.Second)
}

func (s *Server) lookupLocked(key string) (*item, bool) {
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(time.Now()) {
		delete(s.items, key)
		return nil, false
	}
	return it, true
}

func (s *Server) get(withCAS bool, keys []string) string {
	if len(keys) == 0 {
		return "ERROR\r\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, key := range keys {
		it, ok := s.lookupLocked(key)
		if !ok {
			continue
		}
		if withCAS {
			fmt.Fprintf(&b, "VALUE %s %d %d %d\r\n", key, it.flags, len(it.data), it.cas)
		} else {
			fmt.Fprintf(&b, "VALUE %s %d %d\r\n", key, it.flags, len(it.data))
		}
		b.Write(it.data)
		b.WriteString("\r\n")
	}
	b.WriteString("END\r\n")
	return b.String()
}

func (s *Server) arithmetic(incr bool, args []string) string {
	if len(args) < 2 {
		return "ERROR\r\n"
	}
	delta, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return "CLIENT_ERROR invalid numeric delta argument\r\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookupLocked(args[0])
	if !ok {
		return "NOT_FOUND\r\n"
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(it.data)), 10, 64)
	if err != nil {
		return "CLIENT_ERROR cannot increment or decrement non-numeric value\r\n"
	}

	switch {
	case incr:
		n += delta
	case delta > n:
		n = 0
	default:
		n -= delta
	}

	s.casSeq++
	it.data = []byte(strconv.FormatUint(n, 10))
	it.cas = s.casSeq
	return strconv.FormatUint(n, 10) + "\r\n"
}

func (s *Server) delete(args []string) string {
	if len(args) < 1 {
		return "ERROR\r\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookupLocked(args[0]); !ok {
		return "NOT_FOUND\r\n"
	}
	delete(s.items, args[0])
	return "DELETED\r\n"
}

func (s *Server) touch(args []string) string {
	if len(args) < 2 {
		return "ERROR\r\n"
	}
	exptime, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "CLIENT_ERROR invalid exptime argument\r\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lookupLocked(args[0])
	if !ok {
		return "NOT_FOUND\r\n"
	}
	it.expires = expiry(time.Now(), exptime)
	return "TOUCHED\r\n"
}

func (s *Server) flushAll(args []string) string {
	var delay int64
	if len(args) > 0 {
		var err error
		if delay, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return "CLIENT_ERROR bad command line format\r\n"
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if delay <= 0 {
		clear(s.items)
		return "OK\r\n"
	}
	at := time.Now().Add(time.Duration(delay) * time.Second)
	for _, it := range s.items {
		if it.expires.IsZero() || it.expires.After(at) {
			it.expires = at
		}
	}
	return "OK\r\n"
}

// Every item lives in slab class 1.
func (s *Server) stats(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.items))
	for key, it := range s.items {
		if !it.expired(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	switch {
	case len(args) == 0:
		fmt.Fprintf(&b, "STAT pid 1\r\nSTAT version %s\r\nSTAT curr_items %d\r\nSTAT curr_connections %d\r\n", Version, len(keys), len(s.conns))

	case args[0] == "items":
		if len(keys) > 0 {
			fmt.Fprintf(&b, "STAT items:1:number %d\r\nSTAT items:1:age 0\r\nSTAT items:1:evicted 0\r\n", len(keys))
		}

	case args[0] == "cachedump" && len(args) == 3:
		slab, _ := strconv.Atoi(args[1])
		limit, _ := strconv.Atoi(args[2])
		if slab != 1 {
			break
		}
		for i, key := range keys {
			if limit > 0 && i >= limit {
				break
			}
			it := s.items[key]
			var exp int64
			if !it.expires.IsZero() {
				exp = it.expires.Unix()
			}
			fmt.Fprintf(&b, "ITEM %s [%d b; %d s]\r\n", key, len(it.data), exp)
		}

	default:
		return "ERROR\r\n"
	}

	b.WriteString("END\r\n")
	return b.String()
}

func (s *Server) config(args []string) string {
	if len(args) != 2 || args[0] != "get" || args[1] != "cluster" {
		return "ERROR\r\n"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cluster == "" {
		return "ERROR\r\n"
	}
	payload := strconv.Itoa(s.clusterV) + "\n" + s.cluster + "\n"
	return fmt.Sprintf("CONFIG cluster 0 %d\r\n%s\r\nEND\r\n", len(payload), payload)
}
