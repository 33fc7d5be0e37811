package mcplus

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pior/mcplus/text"
)

// GetMulti retrieves several keys at once. Every key is sent as its own
// request, pipelined on the connection of its server, so a miss or failure on
// one key never affects the others. Misses are present in the result with
// Found false. Keys are validated before anything is sent.
func (c *Client) GetMulti(ctx context.Context, keys []string, opts ...GetOption) (map[string]Item, error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}
	o := applyGetOptions(opts)

	return fanOut(ctx, c, keys, func(key string) *Future[Item] {
		return callAsync(c, key, func(conn *Connection) *Future[Item] {
			return conn.Get(key, o.compressed)
		})
	}, func(item Item) {
		c.stats.recordGet(item.Found)
	})
}

// DeleteMulti deletes several keys at once. The result tells for each key
// whether it existed.
func (c *Client) DeleteMulti(ctx context.Context, keys []string) (map[string]bool, error) {
	if err := validateKeys(keys); err != nil {
		return nil, err
	}

	return fanOut(ctx, c, keys, func(key string) *Future[bool] {
		return callAsync(c, key, func(conn *Connection) *Future[bool] {
			return conn.Delete(key)
		})
	}, func(bool) {
		c.stats.recordDelete()
	})
}

// SetMulti stores several items at once and returns the first failure.
func (c *Client) SetMulti(ctx context.Context, items []Item) error {
	keys := make([]string, len(items))
	byKey := make(map[string]Item, len(items))
	for i, item := range items {
		keys[i] = item.Key
		byKey[item.Key] = item
	}
	if err := validateKeys(keys); err != nil {
		return err
	}

	_, err := fanOut(ctx, c, keys, func(key string) *Future[struct{}] {
		item := byKey[key]
		return callAsync(c, key, func(conn *Connection) *Future[struct{}] {
			return conn.Set(item)
		})
	}, func(struct{}) {
		c.stats.recordSet()
	})
	return err
}

func validateKeys(keys []string) error {
	for _, key := range keys {
		if err := text.ValidateKey(key); err != nil {
			return invalidKeyError(err)
		}
	}
	return nil
}

// fanOut issues one request per distinct key before waiting for any of them.
// The results of the successful keys are returned along with the first
// error.
func fanOut[T any](ctx context.Context, c *Client, keys []string, issue func(string) *Future[T], record func(T)) (map[string]T, error) {
	futures := make(map[string]*Future[T], len(keys))
	for _, key := range keys {
		if _, ok := futures[key]; !ok {
			futures[key] = issue(key)
		}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]T, len(futures))
		g       errgroup.Group
	)
	for key, f := range futures {
		g.Go(func() error {
			v, err := f.Wait(ctx)
			if err != nil {
				c.stats.recordError()
				return fmt.Errorf("key %q: %w", key, err)
			}
			record(v)

			mu.Lock()
			results[key] = v
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return results, err
}
