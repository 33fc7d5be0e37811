package mcplus

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pior/mcplus/text"
)

// issue registers a request on c and returns the future its reply resolves.
// convert turns an assembled reply into the typed result; server error
// replies never reach it.
func issue[T any](c *Connection, kind requestKind, req *text.Request, convert func(*reply) (T, error)) *Future[T] {
	f := newFuture[T]()
	p := &pendingRequest{kind: kind, req: req}

	p.complete = func(r *reply, err error) {
		var zero T
		if err != nil {
			f.resolve(zero, err)
			return
		}
		if r.err != nil {
			f.resolve(zero, serverError(kind, req, r.err))
			return
		}
		v, err := convert(r)
		f.resolve(v, err)
	}
	f.abandon = func(err error) {
		c.abandon(p, err)
	}

	c.enqueue(p)
	return f
}

func serverError(kind requestKind, req *text.Request, err error) error {
	perr := &ProtocolError{Command: req.Command, Key: req.Key, Err: err}

	// incr/decr on a non-numeric value is a CLIENT_ERROR.
	var clientErr *text.ClientError
	if (kind == kindIncr || kind == kindDecr) && errors.As(err, &clientErr) {
		return fmt.Errorf("%w: %w", ErrKeyNotFound, perr)
	}
	return perr
}

func unexpectedStatus(req *text.Request, status text.StatusType) error {
	return &ProtocolError{Command: req.Command, Key: req.Key, Err: fmt.Errorf("unexpected reply %q", status)}
}

// Set stores item unconditionally.
func (c *Connection) Set(item Item) *Future[struct{}] {
	return c.store(kindSet, text.CmdSet, item)
}

// Add stores item only if the key does not exist yet.
func (c *Connection) Add(item Item) *Future[struct{}] {
	return c.store(kindAdd, text.CmdAdd, item)
}

// Replace stores item only if the key already exists.
func (c *Connection) Replace(item Item) *Future[struct{}] {
	return c.store(kindReplace, text.CmdReplace, item)
}

// Append adds item's value after the existing value.
func (c *Connection) Append(item Item) *Future[struct{}] {
	return c.store(kindAppend, text.CmdAppend, item)
}

// Prepend adds item's value before the existing value.
func (c *Connection) Prepend(item Item) *Future[struct{}] {
	return c.store(kindPrepend, text.CmdPrepend, item)
}

func (c *Connection) storageRequest(cmd text.CmdType, item Item) (*text.Request, error) {
	if err := text.ValidateKey(item.Key); err != nil {
		return nil, invalidKeyError(err)
	}

	data, flags, err := encodeValue(item.Value, item.Compressed)
	if err != nil {
		return nil, err
	}
	if len(data) > c.cfg.MaxValueSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrValueTooLarge, len(data), c.cfg.MaxValueSize)
	}

	req := text.NewStorageRequest(cmd, item.Key, data, flags, ttlSeconds(item.TTL))
	req.CAS = item.CAS
	return req, nil
}

func (c *Connection) store(kind requestKind, cmd text.CmdType, item Item) *Future[struct{}] {
	req, err := c.storageRequest(cmd, item)
	if err != nil {
		return failedFuture[struct{}](err)
	}

	return issue(c, kind, req, func(r *reply) (struct{}, error) {
		switch {
		case r.status == text.StatusStored:
			return struct{}{}, nil
		case r.status == text.StatusNotStored && kind == kindAdd:
			return struct{}{}, fmt.Errorf("%w: key %q already exists", ErrNotStored, req.Key)
		case r.status == text.StatusNotStored && kind != kindSet:
			return struct{}{}, fmt.Errorf("%w: key %q does not exist", ErrNotStored, req.Key)
		}
		return struct{}{}, unexpectedStatus(req, r.status)
	})
}

// Cas stores item if its CAS token still matches. It resolves to false when
// the item changed or disappeared since it was read.
func (c *Connection) Cas(item Item) *Future[bool] {
	req, err := c.storageRequest(text.CmdCas, item)
	if err != nil {
		return failedFuture[bool](err)
	}

	return issue(c, kindCas, req, func(r *reply) (bool, error) {
		switch r.status {
		case text.StatusStored:
			return true, nil
		case text.StatusExists, text.StatusNotFound:
			return false, nil
		}
		return false, unexpectedStatus(req, r.status)
	})
}

// Get fetches key. A miss resolves to an Item with Found false. With
// compressed set, the value is decompressed even if it is not flagged as
// compressed; a value that fails to decompress is reported as a miss.
func (c *Connection) Get(key string, compressed bool) *Future[Item] {
	return c.retrieve(kindGet, text.CmdGet, key, compressed)
}

// Gets is Get with the CAS token of the item.
func (c *Connection) Gets(key string, compressed bool) *Future[Item] {
	return c.retrieve(kindGets, text.CmdGets, key, compressed)
}

func (c *Connection) retrieve(kind requestKind, cmd text.CmdType, key string, compressed bool) *Future[Item] {
	if err := text.ValidateKey(key); err != nil {
		return failedFuture[Item](invalidKeyError(err))
	}

	req := &text.Request{Command: cmd, Key: key}
	return issue(c, kind, req, func(r *reply) (Item, error) {
		item := Item{Key: key}
		if r.value == nil {
			return item, nil
		}

		value, ok := decodeValue(r.value.Data, r.value.Flags, compressed)
		if !ok {
			c.logger.Debug("memcached value failed to decompress, treating as miss", "key", key)
			return item, nil
		}

		item.Value = value
		item.Flags = r.value.Flags
		item.CAS = r.value.CAS
		item.Compressed = r.value.Flags&FlagCompressed != 0
		item.Found = true
		return item, nil
	})
}

// Incr adds delta to a numeric value and resolves to the new value.
func (c *Connection) Incr(key string, delta uint64) *Future[uint64] {
	return c.arithmetic(kindIncr, text.CmdIncr, key, delta)
}

// Decr subtracts delta from a numeric value. memcached floors the result at 0.
func (c *Connection) Decr(key string, delta uint64) *Future[uint64] {
	return c.arithmetic(kindDecr, text.CmdDecr, key, delta)
}

func (c *Connection) arithmetic(kind requestKind, cmd text.CmdType, key string, delta uint64) *Future[uint64] {
	if err := text.ValidateKey(key); err != nil {
		return failedFuture[uint64](invalidKeyError(err))
	}

	req := text.NewArithmeticRequest(cmd, key, delta)
	return issue(c, kind, req, func(r *reply) (uint64, error) {
		if r.status == text.StatusNotFound {
			return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
		}
		if r.status != "" {
			return 0, unexpectedStatus(req, r.status)
		}

		n, err := strconv.ParseUint(strings.TrimSpace(r.line), 10, 64)
		if err != nil {
			return 0, &ProtocolError{Command: cmd, Key: key, Err: fmt.Errorf("invalid %s reply %q: %w", cmd, r.line, err)}
		}
		return n, nil
	})
}

// Delete resolves to true if the key existed.
func (c *Connection) Delete(key string) *Future[bool] {
	if err := text.ValidateKey(key); err != nil {
		return failedFuture[bool](invalidKeyError(err))
	}

	req := text.NewDeleteRequest(key)
	return issue(c, kindDelete, req, func(r *reply) (bool, error) {
		switch r.status {
		case text.StatusDeleted:
			return true, nil
		case text.StatusNotFound:
			return false, nil
		}
		return false, unexpectedStatus(req, r.status)
	})
}

// Touch updates the TTL of key and resolves to true if the key existed.
func (c *Connection) Touch(key string, ttl time.Duration) *Future[bool] {
	if err := text.ValidateKey(key); err != nil {
		return failedFuture[bool](invalidKeyError(err))
	}

	req := text.NewTouchRequest(key, ttlSeconds(ttl))
	return issue(c, kindTouch, req, func(r *reply) (bool, error) {
		switch r.status {
		case text.StatusTouched:
			return true, nil
		case text.StatusNotFound:
			return false, nil
		}
		return false, unexpectedStatus(req, r.status)
	})
}

// FlushAll invalidates all items, after delay if positive.
func (c *Connection) FlushAll(delay time.Duration) *Future[bool] {
	req := text.NewFlushAllRequest(ttlSeconds(delay))
	return issue(c, kindFlushAll, req, func(r *reply) (bool, error) {
		if r.status == text.StatusOK {
			return true, nil
		}
		return false, unexpectedStatus(req, r.status)
	})
}

// ServerStats returns the general server statistics.
func (c *Connection) ServerStats() *Future[map[string]string] {
	req := text.NewStatsRequest()
	return issue(c, kindStats, req, func(r *reply) (map[string]string, error) {
		if r.stats == nil {
			return map[string]string{}, nil
		}
		return r.stats, nil
	})
}

// ItemStats returns the per slab "stats items" counters in server order.
func (c *Connection) ItemStats() *Future[[]SlabStats] {
	req := text.NewStatsRequest("items")
	return issue(c, kindStatsItems, req, func(r *reply) ([]SlabStats, error) {
		for i := range r.slabs {
			r.slabs[i].Server = c.addr
		}
		return r.slabs, nil
	})
}

// Cachedump lists up to limit keys of a slab class. A limit of 0 lists all.
func (c *Connection) Cachedump(slabID, limit int) *Future[[]DumpedItem] {
	req := text.NewStatsRequest("cachedump", strconv.Itoa(slabID), strconv.Itoa(limit))
	return issue(c, kindStatsCachedump, req, func(r *reply) ([]DumpedItem, error) {
		return r.items, nil
	})
}

func (c *Connection) Version() *Future[string] {
	req := text.NewVersionRequest()
	return issue(c, kindVersion, req, func(r *reply) (string, error) {
		return r.version, nil
	})
}

// Autodiscovery queries the cluster configuration and resolves to the
// "host:port" addresses of its nodes.
func (c *Connection) Autodiscovery() *Future[[]string] {
	req := text.NewClusterConfigRequest()
	return issue(c, kindAutodiscovery, req, func(r *reply) ([]string, error) {
		if r.config == nil {
			return nil, &ProtocolError{Command: req.Command, Err: errors.New("no CONFIG block in reply")}
		}
		return parseClusterConfig(r.config)
	})
}
