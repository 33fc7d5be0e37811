package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	bradfitz "github.com/bradfitz/gomemcache/memcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/pior/mcplus"
	"github.com/pior/mcplus/metrics"
)

type Config struct {
	servers      []string
	autodiscover bool
	gomemcache   bool
	concurrency  int
	duration     time.Duration
	valueSize    int
	only         []string
	metricsAddr  string
}

// Client is the subset of operations exercised, implemented by mcplus and
// by gomemcache as a baseline.
type Client interface {
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) error
	GetMulti(ctx context.Context, keys []string) (int, error)
}

type Test struct {
	Name      string
	Operation func(ctx context.Context, client Client, worker int, n int64) error
}

type Result struct {
	name     string
	count    int64
	errors   int64
	duration time.Duration
	latency  *hdrhistogram.Histogram
}

func main() {
	config := Config{}
	servers := flag.StringP("servers", "s", "localhost:11211", "comma separated memcached servers")
	flag.BoolVarP(&config.autodiscover, "autodiscover", "a", false, "treat the servers as seeds of a cluster configuration")
	flag.BoolVar(&config.gomemcache, "gomemcache", false, "run against github.com/bradfitz/gomemcache instead of mcplus")
	flag.IntVarP(&config.concurrency, "concurrency", "c", 8, "number of concurrent workers")
	flag.DurationVarP(&config.duration, "duration", "d", 5*time.Second, "duration of each benchmark")
	flag.IntVar(&config.valueSize, "value-size", 100, "size of the stored values in bytes")
	flag.StringSliceVar(&config.only, "only", nil, "run only these benchmarks")
	flag.StringVar(&config.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (mcplus only)")
	flag.Parse()

	var err error
	config.servers, err = mcplus.ParseHosts(*servers)
	if err != nil {
		log.Fatalf("Invalid servers: %v", err)
	}

	fmt.Printf("Memcache Benchmark Tool\n")
	fmt.Printf("=======================\n")
	fmt.Printf("Client:      %s\n", map[bool]string{true: "gomemcache", false: "mcplus"}[config.gomemcache])
	fmt.Printf("Servers:     %s\n", strings.Join(config.servers, ", "))
	fmt.Printf("Concurrency: %d\n", config.concurrency)
	fmt.Printf("Duration:    %v\n\n", config.duration)

	client, closeFunc := createClient(config)
	defer closeFunc()

	ctx := context.Background()
	if err := client.Set(ctx, "bench-preflight", []byte("ok")); err != nil {
		log.Fatalf("Failed to reach the servers: %v", err)
	}

	uid := rand.Int64N(1_000_000)
	value := make([]byte, config.valueSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}
	key := func(worker int, n int64) string {
		return fmt.Sprintf("bench-%d-%d-%d", uid, worker, n%1000)
	}

	tests := []Test{
		{"set", func(ctx context.Context, c Client, w int, n int64) error {
			return c.Set(ctx, key(w, n), value)
		}},
		{"get-hit", func(ctx context.Context, c Client, w int, n int64) error {
			_, err := c.Get(ctx, key(w, n))
			return err
		}},
		{"get-miss", func(ctx context.Context, c Client, w int, n int64) error {
			_, err := c.Get(ctx, fmt.Sprintf("bench-miss-%d-%d-%d", uid, w, n))
			return err
		}},
		{"get-multi-10", func(ctx context.Context, c Client, w int, n int64) error {
			keys := make([]string, 10)
			for i := range keys {
				keys[i] = key(w, n+int64(i))
			}
			_, err := c.GetMulti(ctx, keys)
			return err
		}},
		{"incr", func(ctx context.Context, c Client, w int, n int64) error {
			return c.Incr(ctx, fmt.Sprintf("bench-counter-%d-%d", uid, w))
		}},
		{"delete", func(ctx context.Context, c Client, w int, n int64) error {
			return c.Delete(ctx, key(w, n))
		}},
	}

	var results []Result
	for _, test := range tests {
		if len(config.only) > 0 && !slices.Contains(config.only, test.Name) {
			continue
		}
		fmt.Printf("Running: %s\n", test.Name)
		results = append(results, runBenchmark(ctx, client, config, test))
	}

	fmt.Printf("\n%-14s %10s %8s %12s %10s %10s %10s %10s\n", "Operation", "Count", "Errors", "Ops/sec", "Mean", "P50", "P99", "Max")
	for _, r := range results {
		fmt.Printf("%-14s %10d %8d %12.0f %10s %10s %10s %10s\n",
			r.name,
			r.count,
			r.errors,
			float64(r.count)/r.duration.Seconds(),
			time.Duration(r.latency.Mean()).Round(time.Microsecond),
			time.Duration(r.latency.ValueAtQuantile(50)),
			time.Duration(r.latency.ValueAtQuantile(99)),
			time.Duration(r.latency.Max()),
		)
	}
}

func createClient(config Config) (Client, func()) {
	if config.gomemcache {
		c := bradfitz.New(config.servers...)
		c.MaxIdleConns = config.concurrency * 2
		return &gomemcacheClient{c}, func() {}
	}

	cfg := mcplus.DefaultConfig()
	cfg.Hosts = config.servers
	cfg.Autodiscover = config.autodiscover
	cfg.NetTimeout = time.Second
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	c, err := mcplus.NewClient(&cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	if config.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(metrics.NewCollector(c))
		go func() {
			err := http.ListenAndServe(config.metricsAddr, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			log.Printf("Metrics server stopped: %v", err)
		}()
	}

	return &mcplusClient{c}, c.Close
}

func runBenchmark(ctx context.Context, client Client, config Config, test Test) Result {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		count    int64
		errCount int64
		merged   = newHistogram()
	)

	start := time.Now()
	deadline := start.Add(config.duration)

	for w := range config.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			hist := newHistogram()
			var n, failed int64
			for ; time.Now().Before(deadline); n++ {
				opStart := time.Now()
				if err := test.Operation(ctx, client, w, n); err != nil {
					failed++
				}
				_ = hist.RecordValue(int64(time.Since(opStart)))
			}

			mu.Lock()
			count += n
			errCount += failed
			merged.Merge(hist)
			mu.Unlock()
		}()
	}
	wg.Wait()

	return Result{
		name:     test.Name,
		count:    count,
		errors:   errCount,
		duration: time.Since(start),
		latency:  merged,
	}
}

// newHistogram tracks latencies from 1µs to 10s.
func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(int64(time.Microsecond), int64(10*time.Second), 3)
}

type mcplusClient struct {
	*mcplus.Client
}

func (c *mcplusClient) Get(ctx context.Context, key string) (bool, error) {
	item, err := c.Client.Get(ctx, key)
	return item.Found, err
}

func (c *mcplusClient) Set(ctx context.Context, key string, value []byte) error {
	return c.Client.Set(ctx, mcplus.Item{Key: key, Value: mcplus.Bytes(value), TTL: time.Minute})
}

func (c *mcplusClient) Delete(ctx context.Context, key string) error {
	_, err := c.Client.Delete(ctx, key)
	return err
}

func (c *mcplusClient) Incr(ctx context.Context, key string) error {
	_, err := c.Client.Incr(ctx, key, 1)
	if errors.Is(err, mcplus.ErrKeyNotFound) {
		err = c.Client.Add(ctx, mcplus.Item{Key: key, Value: mcplus.Uint(0)})
		if errors.Is(err, mcplus.ErrNotStored) {
			err = nil
		}
	}
	return err
}

func (c *mcplusClient) GetMulti(ctx context.Context, keys []string) (int, error) {
	items, err := c.Client.GetMulti(ctx, keys)
	found := 0
	for _, item := range items {
		if item.Found {
			found++
		}
	}
	return found, err
}

type gomemcacheClient struct {
	*bradfitz.Client
}

func (c *gomemcacheClient) Get(ctx context.Context, key string) (bool, error) {
	_, err := c.Client.Get(key)
	if errors.Is(err, bradfitz.ErrCacheMiss) {
		return false, nil
	}
	return err == nil, err
}

func (c *gomemcacheClient) Set(ctx context.Context, key string, value []byte) error {
	return c.Client.Set(&bradfitz.Item{Key: key, Value: value, Expiration: 60})
}

func (c *gomemcacheClient) Delete(ctx context.Context, key string) error {
	err := c.Client.Delete(key)
	if errors.Is(err, bradfitz.ErrCacheMiss) {
		return nil
	}
	return err
}

func (c *gomemcacheClient) Incr(ctx context.Context, key string) error {
	_, err := c.Client.Increment(key, 1)
	if errors.Is(err, bradfitz.ErrCacheMiss) {
		err = c.Client.Add(&bradfitz.Item{Key: key, Value: []byte("0")})
		if errors.Is(err, bradfitz.ErrNotStored) {
			err = nil
		}
	}
	return err
}

func (c *gomemcacheClient) GetMulti(ctx context.Context, keys []string) (int, error) {
	items, err := c.Client.GetMulti(keys)
	return len(items), err
}
