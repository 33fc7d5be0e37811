package mcplus

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/pior/mcplus/internal/testutils"
)

var ctx = context.Background()

func newBenchmarkClient(b *testing.B) *Client {
	server := testutils.NewServer(b)
	return newTestClient(b, []string{server.Addr()})
}

// BenchmarkClient_Get benchmarks the Get method
func BenchmarkClient_Get(b *testing.B) {
	client := newBenchmarkClient(b)
	if err := client.Set(ctx, Item{Key: "testkey", Value: String("hello")}); err != nil {
		b.Fatal(err)
	}

	for b.Loop() {
		_, _ = client.Get(ctx, "testkey")
	}
}

// BenchmarkClient_Get_Miss benchmarks Get with cache miss
func BenchmarkClient_Get_Miss(b *testing.B) {
	client := newBenchmarkClient(b)

	for b.Loop() {
		_, _ = client.Get(ctx, "testkey")
	}
}

// BenchmarkClient_Set benchmarks the Set method
func BenchmarkClient_Set(b *testing.B) {
	client := newBenchmarkClient(b)
	item := Item{
		Key:   "key",
		Value: String("value"),
		TTL:   60 * time.Second,
	}

	for b.Loop() {
		_ = client.Set(ctx, item)
	}
}

// BenchmarkClient_Get_Parallel measures pipelining: every goroutine shares
// the same connection.
func BenchmarkClient_Get_Parallel(b *testing.B) {
	client := newBenchmarkClient(b)
	if err := client.Set(ctx, Item{Key: "testkey", Value: String("hello")}); err != nil {
		b.Fatal(err)
	}

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = client.Get(ctx, "testkey")
		}
	})
}

func BenchmarkClient_GetMulti(b *testing.B) {
	client := newBenchmarkClient(b)
	keys := make([]string, 10)
	for i := range keys {
		keys[i] = "key-" + strconv.Itoa(i)
	}

	for b.Loop() {
		_, _ = client.GetMulti(ctx, keys)
	}
}
