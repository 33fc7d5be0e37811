package mcplus

import (
	"context"
	"errors"
	"fmt"
)

// discoverLoop queries the seed hosts until one of them returns the cluster
// configuration, then installs the discovered servers. Between failed rounds
// operations fail with ErrAutodiscoveryFailed.
func (c *Client) discoverLoop() {
	defer c.wg.Done()

	backoff := initialBackoff
	for {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.closeCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		addrs, err := c.discover(ctx)
		cancel()
		c.stats.recordDiscovery(err)

		if err == nil {
			c.mu.Lock()
			if c.closed || c.detached {
				c.mu.Unlock()
				return
			}
			err = c.installLocked(addrs)
			c.mu.Unlock()
			if err == nil {
				c.logger.Info("memcached autodiscovery complete", "servers", addrs)
				return
			}
			err = fmt.Errorf("%w: %w", ErrAutodiscoveryFailed, err)
		}

		c.mu.Lock()
		stop := c.closed || c.detached
		if !stop {
			c.discoveryErr = err
			c.failQueueLocked(err)
		}
		c.mu.Unlock()
		if stop {
			return
		}

		c.logger.Warn("memcached autodiscovery failed", "error", err, "retry_in", backoff)
		if !c.sleep(backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.cfg.BackoffLimit)
	}
}

type discoveryResult struct {
	seed  string
	addrs []string
	err   error
}

// discover asks every seed concurrently and returns the first successful
// answer. The other requests are abandoned.
func (c *Client) discover(ctx context.Context) ([]string, error) {
	timeout := c.cfg.DialTimeout + c.cfg.NetTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.mu.Lock()
	cfg := c.cfg.connectionConfig(c.logger)
	c.mu.Unlock()
	cfg.Reconnect = false
	cfg.OnNetError = func(addr string, err error) {
		c.logger.Debug("memcached autodiscovery seed unreachable", "server", addr, "error", err)
	}

	results := make(chan discoveryResult, len(c.cfg.Hosts))
	seeds := make([]*Connection, 0, len(c.cfg.Hosts))
	defer func() {
		for _, conn := range seeds {
			conn.Disconnect()
		}
	}()

	for _, seed := range c.cfg.Hosts {
		conn, err := NewConnection(seed, cfg)
		if err != nil {
			results <- discoveryResult{seed: seed, err: err}
			continue
		}
		seeds = append(seeds, conn)

		f := conn.Autodiscovery()
		go func() {
			addrs, err := f.Wait(ctx)
			results <- discoveryResult{seed: seed, addrs: addrs, err: err}
		}()
	}

	var errs []error
	for range c.cfg.Hosts {
		r := <-results
		if r.err == nil && len(r.addrs) == 0 {
			r.err = errors.New("empty cluster configuration")
		}
		if r.err == nil {
			c.logger.Debug("memcached cluster configuration received", "seed", r.seed, "servers", r.addrs)
			return normalizeHosts(r.addrs)
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.seed, r.err))
	}

	return nil, fmt.Errorf("%w: %w", ErrAutodiscoveryFailed, errors.Join(errs...))
}
