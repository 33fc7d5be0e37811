package mcplus_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pior/mcplus"
)

func ExampleNewClient() {
	cfg := mcplus.DefaultConfig()
	cfg.Hosts = []string{"cache-1:11211", "cache-2:11211"}

	client, err := mcplus.NewClient(&cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()

	err = client.Set(ctx, mcplus.Item{Key: "greeting", Value: mcplus.String("hello"), TTL: time.Hour})
	if err != nil {
		log.Printf("Set failed: %v", err)
		return
	}

	item, err := client.Get(ctx, "greeting")
	if err != nil {
		log.Printf("Get failed: %v", err)
		return
	}
	if item.Found {
		fmt.Println(item.Value.String())
	}
}

// Operations issued before the cluster configuration arrives are queued and
// run once the nodes are known.
func ExampleConfig_autodiscovery() {
	cfg := mcplus.DefaultConfig()
	cfg.Hosts = []string{"my-cluster.cfg.use1.cache.amazonaws.com:11211"}
	cfg.Autodiscover = true

	client, err := mcplus.NewClient(&cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if _, err := client.Get(context.Background(), "key"); errors.Is(err, mcplus.ErrAutodiscoveryFailed) {
		log.Printf("no seed host answered: %v", err)
	}
}

func ExampleConfig_NewCircuitBreaker() {
	cfg := mcplus.DefaultConfig()
	cfg.NewCircuitBreaker = mcplus.NewCircuitBreakerConfig(
		3,              // requests allowed while half-open
		time.Minute,    // interval resetting the counts while closed
		10*time.Second, // time spent open before probing again
	)

	client, err := mcplus.NewClient(&cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	for _, st := range client.AllConnectionStats() {
		fmt.Printf("%s: %s, breaker %s\n", st.Addr, st.Connection.State, st.CircuitBreakerState)
	}
}

func ExampleClient_Stats() {
	client, err := mcplus.NewClient(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	stats := client.Stats()
	if stats.Gets > 0 {
		fmt.Printf("hit rate: %.2f\n", float64(stats.GetHits)/float64(stats.Gets))
	}
}

func ExampleClient_GetAsync() {
	client, err := mcplus.NewClient(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	a := client.GetAsync("a")
	b := client.GetAsync("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, f := range []*mcplus.Future[mcplus.Item]{a, b} {
		item, err := f.Wait(ctx)
		if err != nil {
			log.Printf("Get failed: %v", err)
			continue
		}
		fmt.Println(item.Key, item.Found)
	}
}

func ExampleClient_Namespace() {
	client, err := mcplus.NewClient(nil)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	ctx := context.Background()
	users := client.Namespace("users")

	if err := users.Set(ctx, mcplus.Item{Key: "42", Value: mcplus.String("alice")}); err != nil {
		log.Printf("Set failed: %v", err)
		return
	}

	// Every key of the namespace is gone at once.
	if err := users.Invalidate(ctx); err != nil {
		log.Printf("Invalidate failed: %v", err)
	}
}

func ExampleParseHosts() {
	hosts, err := mcplus.ParseHosts("cache-1, cache-2:11212 :11213 [::1]")
	if err != nil {
		log.Fatal(err)
	}
	for _, h := range hosts {
		fmt.Println(h)
	}
	// Output:
	// cache-1:11211
	// cache-2:11212
	// localhost:11213
	// [::1]:11211
}

func ExampleJSON() {
	v, err := mcplus.JSON(map[string]int{"visits": 3})
	if err != nil {
		log.Fatal(err)
	}

	var decoded map[string]int
	if err := v.Unmarshal(&decoded); err != nil {
		log.Fatal(err)
	}
	fmt.Println(v.Type(), decoded["visits"])
	// Output: json 3
}
