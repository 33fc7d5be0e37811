package mcplus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pior/mcplus/internal/coarsetime"
	"github.com/pior/mcplus/text"
)

// namespaceKeyPrefix prefixes the key holding the generation of a namespace.
const namespaceKeyPrefix = "__ns:"

type namespaceEntry struct {
	prefix  string
	expires time.Time
}

// namespaceCache holds the prefixes resolved by this process. Other
// processes invalidating a namespace are seen once the entry expires.
type namespaceCache struct {
	mu      sync.Mutex
	entries map[string]namespaceEntry
	lookups singleflight.Group
}

func (n *namespaceCache) get(ns string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	e, ok := n.entries[ns]
	if !ok || coarsetime.Expired(e.expires) {
		return "", false
	}
	return e.prefix, true
}

func (n *namespaceCache) put(ns, prefix string, ttl time.Duration) {
	n.mu.Lock()
	if n.entries == nil {
		n.entries = make(map[string]namespaceEntry)
	}
	n.entries[ns] = namespaceEntry{prefix: prefix, expires: coarsetime.Now().Add(ttl)}
	n.mu.Unlock()
}

func namespaceKey(ns string) (string, error) {
	key := namespaceKeyPrefix + ns
	if err := text.ValidateKey(key); err != nil {
		return "", invalidKeyError(fmt.Errorf("namespace %q: %w", ns, err))
	}
	return key, nil
}

func namespacePrefix(ns string, generation uint64) string {
	return ns + ":" + strconv.FormatUint(generation, 10) + ":"
}

// newGeneration seeds a namespace from the clock, so a generation that was
// evicted never comes back with a value already used.
func newGeneration() uint64 {
	return uint64(time.Now().UnixMilli())
}

// GetNamespacePrefix returns the key prefix of the current generation of ns,
// in the form "<ns>:<generation>:". The generation is stored in memcached and
// created on first use.
func (c *Client) GetNamespacePrefix(ctx context.Context, ns string) (string, error) {
	key, err := namespaceKey(ns)
	if err != nil {
		return "", err
	}

	if prefix, ok := c.ns.get(ns); ok {
		return prefix, nil
	}

	v, err, _ := c.ns.lookups.Do(ns, func() (any, error) {
		gen, err := c.namespaceGeneration(ctx, key)
		if err != nil {
			return "", err
		}

		prefix := namespacePrefix(ns, gen)
		c.ns.put(ns, prefix, c.cfg.NamespaceTTL)
		return prefix, nil
	})
	if err != nil {
		return "", fmt.Errorf("namespace %q: %w", ns, err)
	}
	return v.(string), nil
}

func (c *Client) namespaceGeneration(ctx context.Context, key string) (uint64, error) {
	item, err := c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if item.Found {
		return item.Value.Uint64()
	}

	gen := newGeneration()
	err = c.Add(ctx, Item{Key: key, Value: Uint(gen)})
	if err == nil {
		return gen, nil
	}
	if !errors.Is(err, ErrNotStored) {
		return 0, err
	}

	// Created concurrently by another client.
	item, err = c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !item.Found {
		return 0, fmt.Errorf("%w: generation key %q vanished", ErrKeyNotFound, key)
	}
	return item.Value.Uint64()
}

// InvalidateNamespace moves ns to a new generation. Keys written under the
// previous prefix become unreachable and age out of the cache.
func (c *Client) InvalidateNamespace(ctx context.Context, ns string) error {
	key, err := namespaceKey(ns)
	if err != nil {
		return err
	}

	gen, err := c.Incr(ctx, key, 1)
	if errors.Is(err, ErrKeyNotFound) {
		gen = newGeneration()
		err = c.Add(ctx, Item{Key: key, Value: Uint(gen)})
		if errors.Is(err, ErrNotStored) {
			gen, err = c.Incr(ctx, key, 1)
		}
	}
	if err != nil {
		return fmt.Errorf("namespace %q: %w", ns, err)
	}

	c.ns.lookups.Forget(ns)
	c.ns.put(ns, namespacePrefix(ns, gen), c.cfg.NamespaceTTL)
	c.logger.Debug("memcached namespace invalidated", "namespace", ns, "generation", gen)
	return nil
}

// Namespace is a view of the client where keys are scoped to a namespace.
type Namespace struct {
	client *Client
	name   string
}

func (c *Client) Namespace(name string) *Namespace {
	return &Namespace{client: c, name: name}
}

func (n *Namespace) Name() string {
	return n.name
}

// Key returns the physical key for key in the current generation.
func (n *Namespace) Key(ctx context.Context, key string) (string, error) {
	prefix, err := n.client.GetNamespacePrefix(ctx, n.name)
	if err != nil {
		return "", err
	}
	return prefix + key, nil
}

// Get retrieves key in the namespace. The returned item carries the
// unprefixed key.
func (n *Namespace) Get(ctx context.Context, key string, opts ...GetOption) (Item, error) {
	physical, err := n.Key(ctx, key)
	if err != nil {
		return Item{}, err
	}

	item, err := n.client.Get(ctx, physical, opts...)
	item.Key = key
	return item, err
}

func (n *Namespace) Set(ctx context.Context, item Item) error {
	physical, err := n.Key(ctx, item.Key)
	if err != nil {
		return err
	}
	item.Key = physical
	return n.client.Set(ctx, item)
}

func (n *Namespace) Add(ctx context.Context, item Item) error {
	physical, err := n.Key(ctx, item.Key)
	if err != nil {
		return err
	}
	item.Key = physical
	return n.client.Add(ctx, item)
}

func (n *Namespace) Delete(ctx context.Context, key string) (bool, error) {
	physical, err := n.Key(ctx, key)
	if err != nil {
		return false, err
	}
	return n.client.Delete(ctx, physical)
}

// Invalidate drops every key of the namespace at once.
func (n *Namespace) Invalidate(ctx context.Context) error {
	return n.client.InvalidateNamespace(ctx, n.name)
}
