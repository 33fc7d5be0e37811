package mcplus

import (
	"context"
	"time"
)

type getOptions struct {
	compressed bool
}

// GetOption configures a retrieval.
type GetOption func(*getOptions)

// Compressed decompresses the value even when it is not flagged as
// compressed. A value that does not decompress is reported as a miss.
func Compressed() GetOption {
	return func(o *getOptions) {
		o.compressed = true
	}
}

func applyGetOptions(opts []GetOption) getOptions {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (c *Client) recordResult(err error) {
	if err != nil {
		c.stats.recordError()
	}
}

// Get retrieves a single item. A miss returns an Item with Found false and
// no error.
func (c *Client) Get(ctx context.Context, key string, opts ...GetOption) (Item, error) {
	o := applyGetOptions(opts)
	item, err := call(ctx, c, key, func(conn *Connection) *Future[Item] {
		return conn.Get(key, o.compressed)
	})
	if err != nil {
		c.stats.recordError()
		return Item{}, err
	}

	c.stats.recordGet(item.Found)
	return item, nil
}

// Gets is Get returning the CAS token, for use with CompareAndSwap.
func (c *Client) Gets(ctx context.Context, key string, opts ...GetOption) (Item, error) {
	o := applyGetOptions(opts)
	item, err := call(ctx, c, key, func(conn *Connection) *Future[Item] {
		return conn.Gets(key, o.compressed)
	})
	if err != nil {
		c.stats.recordError()
		return Item{}, err
	}

	c.stats.recordGet(item.Found)
	return item, nil
}

// GetAsync starts a Get and returns its future.
func (c *Client) GetAsync(key string, opts ...GetOption) *Future[Item] {
	o := applyGetOptions(opts)
	return callAsync(c, key, func(conn *Connection) *Future[Item] {
		return conn.Get(key, o.compressed)
	})
}

func (c *Client) store(ctx context.Context, item Item, op func(*Connection) *Future[struct{}]) error {
	_, err := call(ctx, c, item.Key, op)
	c.recordResult(err)
	if err == nil {
		c.stats.recordSet()
	}
	return err
}

// Set stores an item unconditionally.
func (c *Client) Set(ctx context.Context, item Item) error {
	return c.store(ctx, item, func(conn *Connection) *Future[struct{}] {
		return conn.Set(item)
	})
}

// SetAsync starts a Set and returns its future.
func (c *Client) SetAsync(item Item) *Future[struct{}] {
	return callAsync(c, item.Key, func(conn *Connection) *Future[struct{}] {
		return conn.Set(item)
	})
}

// Add stores an item only if the key doesn't already exist. Otherwise it
// fails with ErrNotStored.
func (c *Client) Add(ctx context.Context, item Item) error {
	return c.store(ctx, item, func(conn *Connection) *Future[struct{}] {
		return conn.Add(item)
	})
}

// Replace stores an item only if the key already exists. Otherwise it fails
// with ErrNotStored.
func (c *Client) Replace(ctx context.Context, item Item) error {
	return c.store(ctx, item, func(conn *Connection) *Future[struct{}] {
		return conn.Replace(item)
	})
}

// Append adds the value of item at the end of the existing value.
// The TTL and flags of the existing item are kept.
func (c *Client) Append(ctx context.Context, item Item) error {
	return c.store(ctx, item, func(conn *Connection) *Future[struct{}] {
		return conn.Append(item)
	})
}

// Prepend adds the value of item at the start of the existing value.
func (c *Client) Prepend(ctx context.Context, item Item) error {
	return c.store(ctx, item, func(conn *Connection) *Future[struct{}] {
		return conn.Prepend(item)
	})
}

// CompareAndSwap stores item if item.CAS still matches the stored item.
// It returns false if the item was modified or deleted since it was read.
func (c *Client) CompareAndSwap(ctx context.Context, item Item) (bool, error) {
	ok, err := call(ctx, c, item.Key, func(conn *Connection) *Future[bool] {
		return conn.Cas(item)
	})
	c.recordResult(err)
	if ok {
		c.stats.recordSet()
	}
	return ok, err
}

// Incr increments a numeric value by delta and returns the new value.
// A missing key fails with ErrKeyNotFound. memcached wraps at 2^64.
func (c *Client) Incr(ctx context.Context, key string, delta uint64) (uint64, error) {
	n, err := call(ctx, c, key, func(conn *Connection) *Future[uint64] {
		return conn.Incr(key, delta)
	})
	c.recordResult(err)
	if err == nil {
		c.stats.recordIncrement()
	}
	return n, err
}

// Decr decrements a numeric value by delta, stopping at 0.
func (c *Client) Decr(ctx context.Context, key string, delta uint64) (uint64, error) {
	n, err := call(ctx, c, key, func(conn *Connection) *Future[uint64] {
		return conn.Decr(key, delta)
	})
	c.recordResult(err)
	if err == nil {
		c.stats.recordIncrement()
	}
	return n, err
}

// Delete removes an item. It returns false if the key did not exist.
func (c *Client) Delete(ctx context.Context, key string) (bool, error) {
	deleted, err := call(ctx, c, key, func(conn *Connection) *Future[bool] {
		return conn.Delete(key)
	})
	c.recordResult(err)
	if err == nil {
		c.stats.recordDelete()
	}
	return deleted, err
}

// Touch sets a new TTL on an item. It returns false if the key did not
// exist.
func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	touched, err := call(ctx, c, key, func(conn *Connection) *Future[bool] {
		return conn.Touch(key, ttl)
	})
	c.recordResult(err)
	if err == nil {
		c.stats.recordTouch()
	}
	return touched, err
}

// FlushAll invalidates every item on every server, after delay if positive.
func (c *Client) FlushAll(ctx context.Context, delay time.Duration) error {
	_, err := broadcast(ctx, c, func(conn *Connection) *Future[bool] {
		return conn.FlushAll(delay)
	})
	c.recordResult(err)
	return err
}

// Version returns the version of every server, keyed by address.
func (c *Client) Version(ctx context.Context) (map[string]string, error) {
	versions, err := broadcast(ctx, c, func(conn *Connection) *Future[string] {
		return conn.Version()
	})
	c.recordResult(err)
	return versions, err
}

// ServerStats returns the general statistics of every server, keyed by
// address.
func (c *Client) ServerStats(ctx context.Context) (map[string]map[string]string, error) {
	stats, err := broadcast(ctx, c, func(conn *Connection) *Future[map[string]string] {
		return conn.ServerStats()
	})
	c.recordResult(err)
	return stats, err
}

// ItemStats returns the slab statistics of every server, ordered by server
// address then slab.
func (c *Client) ItemStats(ctx context.Context) ([]SlabStats, error) {
	perServer, err := broadcast(ctx, c, func(conn *Connection) *Future[[]SlabStats] {
		return conn.ItemStats()
	})
	c.recordResult(err)

	var all []SlabStats
	for _, addr := range sortedAddrs(perServer) {
		all = append(all, perServer[addr]...)
	}
	return all, err
}

// Cachedump lists up to limit keys of a slab class on every server. A limit
// of 0 lists all of them.
func (c *Client) Cachedump(ctx context.Context, slabID, limit int) ([]DumpedItem, error) {
	perServer, err := broadcast(ctx, c, func(conn *Connection) *Future[[]DumpedItem] {
		return conn.Cachedump(slabID, limit)
	})
	c.recordResult(err)

	var all []DumpedItem
	for _, addr := range sortedAddrs(perServer) {
		all = append(all, perServer[addr]...)
	}
	return all, err
}
