package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/pior/mcplus"
)

var (
	hosts        = flag.StringP("servers", "s", "", "comma separated memcached servers (default $MEMCACHED_HOSTS or localhost:11211)")
	autodiscover = flag.BoolP("autodiscover", "a", false, "treat the servers as seeds of a cluster configuration")
	timeout      = flag.DurationP("timeout", "t", 0, "timeout of each operation (default $MEMCACHED_NET_TIMEOUT or 500ms)")
	verbose      = flag.BoolP("verbose", "v", false, "log connection events")
)

func main() {
	flag.Parse()

	cfg, err := mcplus.ConfigFromEnv()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if *hosts != "" {
		cfg.Hosts, err = mcplus.ParseHosts(*hosts)
		if err != nil {
			fmt.Printf("Invalid servers: %v\n", err)
			os.Exit(1)
		}
	}
	if *autodiscover {
		cfg.Autodiscover = true
	}
	if *timeout > 0 {
		cfg.NetTimeout = *timeout
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := mcplus.NewClient(&cfg)
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Println("Memcache CLI Tool")
	fmt.Println("=================")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		command := strings.ToLower(parts[0])
		if command == "quit" || command == "exit" {
			fmt.Println("Goodbye!")
			return
		}

		start := time.Now()
		err := run(context.Background(), client, command, parts[1:])
		duration := time.Since(start)

		switch {
		case errors.Is(err, errUsage):
			fmt.Println(err)
		case err != nil:
			fmt.Printf("Error: %v (took %v)\n", err, duration)
		default:
			fmt.Printf("(took %v)\n", duration)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

const help = `Commands:
  get <key>...                    - Get one or more values
  gets <key>                      - Get a value and its CAS token
  set <key> <value> [ttl]         - Store a value (add, replace, append and prepend too)
  cas <key> <value> <cas> [ttl]   - Store a value if unchanged since gets
  incr <key> [delta]              - Increment a counter (decr too)
  delete <key>...                 - Delete one or more keys
  touch <key> <ttl>               - Set a new TTL
  ns <namespace>                  - Show the key prefix of a namespace
  invalidate <namespace>          - Drop every key of a namespace
  flush [delay]                   - Invalidate every item on every server
  version                         - Show server versions
  stats [items|dump <slab>]       - Show server statistics
  servers                         - Show connections and client statistics
  quit                            - Exit the CLI`

func run(ctx context.Context, client *mcplus.Client, command string, args []string) error {
	switch command {
	case "help":
		fmt.Println(help)
		return nil

	case "get":
		if len(args) == 0 {
			return usage("get <key>...")
		}
		if len(args) == 1 {
			item, err := client.Get(ctx, args[0])
			if err != nil {
				return err
			}
			printItem(item)
			return nil
		}
		items, err := client.GetMulti(ctx, args)
		for _, key := range args {
			if item, ok := items[key]; ok {
				printItem(item)
			}
		}
		return err

	case "gets":
		if len(args) != 1 {
			return usage("gets <key>")
		}
		item, err := client.Gets(ctx, args[0])
		if err != nil {
			return err
		}
		printItem(item)
		if item.Found {
			fmt.Printf("  cas: %d\n", item.CAS)
		}
		return nil

	case "set", "add", "replace", "append", "prepend":
		if len(args) < 2 || len(args) > 3 {
			return usage(command + " <key> <value> [ttl]")
		}
		item, err := parseItem(args[0], args[1], args[2:])
		if err != nil {
			return err
		}
		store := map[string]func(context.Context, mcplus.Item) error{
			"set":     client.Set,
			"add":     client.Add,
			"replace": client.Replace,
			"append":  client.Append,
			"prepend": client.Prepend,
		}[command]
		if err := store(ctx, item); err != nil {
			return err
		}
		fmt.Println("STORED")
		return nil

	case "cas":
		if len(args) < 3 || len(args) > 4 {
			return usage("cas <key> <value> <cas> [ttl]")
		}
		item, err := parseItem(args[0], args[1], args[3:])
		if err != nil {
			return err
		}
		if item.CAS, err = strconv.ParseUint(args[2], 10, 64); err != nil {
			return fmt.Errorf("invalid cas token: %w", err)
		}
		swapped, err := client.CompareAndSwap(ctx, item)
		if err != nil {
			return err
		}
		if swapped {
			fmt.Println("STORED")
		} else {
			fmt.Println("EXISTS")
		}
		return nil

	case "incr", "decr":
		if len(args) < 1 || len(args) > 2 {
			return usage(command + " <key> [delta]")
		}
		delta := uint64(1)
		if len(args) == 2 {
			var err error
			if delta, err = strconv.ParseUint(args[1], 10, 64); err != nil {
				return fmt.Errorf("invalid delta: %w", err)
			}
		}
		op := client.Incr
		if command == "decr" {
			op = client.Decr
		}
		n, err := op(ctx, args[0], delta)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil

	case "delete", "del":
		if len(args) == 0 {
			return usage("delete <key>...")
		}
		deleted, err := client.DeleteMulti(ctx, args)
		for _, key := range args {
			if existed, ok := deleted[key]; ok {
				fmt.Printf("  %s: %s\n", key, map[bool]string{true: "deleted", false: "not found"}[existed])
			}
		}
		return err

	case "touch":
		if len(args) != 2 {
			return usage("touch <key> <ttl>")
		}
		ttl, err := parseTTL(args[1])
		if err != nil {
			return err
		}
		touched, err := client.Touch(ctx, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Println(map[bool]string{true: "TOUCHED", false: "NOT_FOUND"}[touched])
		return nil

	case "ns":
		if len(args) != 1 {
			return usage("ns <namespace>")
		}
		prefix, err := client.GetNamespacePrefix(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(prefix)
		return nil

	case "invalidate":
		if len(args) != 1 {
			return usage("invalidate <namespace>")
		}
		return client.InvalidateNamespace(ctx, args[0])

	case "flush":
		var delay time.Duration
		if len(args) == 1 {
			var err error
			if delay, err = parseTTL(args[0]); err != nil {
				return err
			}
		}
		return client.FlushAll(ctx, delay)

	case "version":
		versions, err := client.Version(ctx)
		printMap(versions)
		return err

	case "stats":
		return runStats(ctx, client, args)

	case "servers":
		for _, st := range client.AllConnectionStats() {
			c := st.Connection
			fmt.Printf("%s: %s, pending=%d buffered=%d sent=%d dials=%d resets=%d breaker=%s\n",
				st.Addr, c.State, c.Pending, c.Buffered, c.Sent, c.Dials, c.Resets, st.CircuitBreakerState)
		}
		s := client.Stats()
		fmt.Printf("gets=%d hits=%d sets=%d deletes=%d errors=%d\n", s.Gets, s.GetHits, s.Sets, s.Deletes, s.Errors)
		return nil
	}

	return fmt.Errorf("%w: unknown command %q, type 'help'", errUsage, command)
}

func runStats(ctx context.Context, client *mcplus.Client, args []string) error {
	switch {
	case len(args) == 0:
		stats, err := client.ServerStats(ctx)
		for _, addr := range sortedKeys(stats) {
			fmt.Printf("%s:\n", addr)
			for _, name := range sortedKeys(stats[addr]) {
				fmt.Printf("  %s: %s\n", name, stats[addr][name])
			}
		}
		return err

	case args[0] == "items":
		slabs, err := client.ItemStats(ctx)
		for _, s := range slabs {
			fmt.Printf("%s slab %d:\n", s.Server, s.SlabID)
			for _, name := range sortedKeys(s.Data) {
				fmt.Printf("  %s: %d\n", name, s.Data[name])
			}
		}
		return err

	case args[0] == "dump" && len(args) == 2:
		slab, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid slab: %w", err)
		}
		items, err := client.Cachedump(ctx, slab, 100)
		for _, it := range items {
			fmt.Printf("  %s (%d bytes, expires %d)\n", it.Key, it.Bytes, it.Expiration)
		}
		return err
	}

	return usage("stats [items|dump <slab>]")
}

func parseItem(key, value string, ttlArg []string) (mcplus.Item, error) {
	item := mcplus.Item{Key: key, Value: mcplus.String(value)}
	if len(ttlArg) == 1 {
		ttl, err := parseTTL(ttlArg[0])
		if err != nil {
			return item, err
		}
		item.TTL = ttl
	}
	return item, nil
}

// parseTTL accepts seconds or a Go duration.
func parseTTL(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ttl %q", s)
	}
	return d, nil
}

func printItem(item mcplus.Item) {
	if !item.Found {
		fmt.Printf("  %s: <not found>\n", item.Key)
		return
	}
	fmt.Printf("  %s: %s (%s)\n", item.Key, item.Value.String(), item.Value.Type())
}

func printMap(m map[string]string) {
	for _, k := range sortedKeys(m) {
		fmt.Printf("  %s: %s\n", k, m[k])
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
