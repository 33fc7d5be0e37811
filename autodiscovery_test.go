package mcplus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pior/mcplus/internal/testutils"
)

// clusterNode returns the "hostname|ip|port" entry of a test server.
func clusterNode(t *testing.T, server *testutils.Server) string {
	t.Helper()
	host, port, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)
	return "|" + host + "|" + port
}

func newDiscoveryClient(t *testing.T, seeds []string, modify ...func(*Config)) *Client {
	t.Helper()
	return newTestClient(t, seeds, append([]func(*Config){func(cfg *Config) {
		cfg.Autodiscover = true
	}}, modify...)...)
}

func TestClient_Autodiscovery(t *testing.T) {
	seed := testutils.NewServer(t)
	nodes, addrs := startServers(t, 2)
	seed.SetCluster(clusterNode(t, nodes[0]), clusterNode(t, nodes[1]))

	client := newDiscoveryClient(t, []string{seed.Addr()})
	ctx := context.Background()

	require.Eventually(t, client.Ready, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, addrs, client.Servers())

	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, client.Set(ctx, Item{Key: key, Value: String(key)}))
		ownerOf(t, nodes, key)
		assert.False(t, seed.Has(key), "the seed is not a cache node")
	}

	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Discoveries)
	assert.Zero(t, stats.DiscoveryErrors)
}

func TestClient_Autodiscovery_QueuesUntilDiscovered(t *testing.T) {
	seed := testutils.NewServer(t)
	node := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, node))
	seed.Stall()

	client := newDiscoveryClient(t, []string{seed.Addr()})

	first := client.SetAsync(Item{Key: "k", Value: String("first")})
	second := client.SetAsync(Item{Key: "k", Value: String("second")})
	get := client.GetAsync("k")

	assert.False(t, client.Ready())
	assert.Nil(t, client.Servers())
	assert.Equal(t, uint64(3), client.Stats().Queued)

	seed.Resume()

	await(t, first)
	await(t, second)
	item := await(t, get)
	assert.Equal(t, "second", item.Value.String(), "queued operations run in order")
}

func TestClient_Autodiscovery_QueueDisabled(t *testing.T) {
	seed := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, seed))
	seed.Stall()
	defer seed.Resume()

	client := newDiscoveryClient(t, []string{seed.Addr()}, func(cfg *Config) {
		cfg.Queue = false
	})

	_, err := client.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrNotReady)

	_, err = client.Version(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
}

func TestClient_Autodiscovery_QueueLimit(t *testing.T) {
	seed := testutils.NewServer(t)
	node := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, node))
	seed.Stall()

	client := newDiscoveryClient(t, []string{seed.Addr()}, func(cfg *Config) {
		cfg.QueueLimit = 2
	})

	a := client.SetAsync(Item{Key: "a", Value: String("a")})
	b := client.SetAsync(Item{Key: "b", Value: String("b")})
	rejected := client.SetAsync(Item{Key: "c", Value: String("c")})

	select {
	case <-rejected.Done():
	default:
		t.Fatal("the operation over the limit should be rejected immediately")
	}
	assert.ErrorIs(t, awaitErr(t, rejected), ErrQueueFull)
	assert.Equal(t, uint64(1), client.Stats().QueueRejects)

	seed.Resume()
	await(t, a)
	await(t, b)
	assert.True(t, node.Has("a"))
	assert.False(t, node.Has("c"))
}

func TestClient_Autodiscovery_AbandonedQueuedOperation(t *testing.T) {
	seed := testutils.NewServer(t)
	node := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, node))
	seed.Stall()

	client := newDiscoveryClient(t, []string{seed.Addr()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.Set(ctx, Item{Key: "abandoned", Value: String("v")})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	seed.Resume()
	require.NoError(t, client.Set(context.Background(), Item{Key: "kept", Value: String("v")}))

	assert.True(t, node.Has("kept"))
	assert.False(t, node.Has("abandoned"))
	assert.Zero(t, countCommands(node, "set abandoned"))
}

func TestClient_Autodiscovery_FailureIsStickyUntilRecovery(t *testing.T) {
	seed := testutils.NewServer(t)
	node := testutils.NewServer(t)

	client := newDiscoveryClient(t, []string{seed.Addr()})
	ctx := context.Background()

	// Without a cluster configuration the seed answers ERROR.
	require.Eventually(t, func() bool {
		return client.Stats().DiscoveryErrors > 0
	}, 2*time.Second, 5*time.Millisecond)

	_, err := client.Get(ctx, "k")
	require.ErrorIs(t, err, ErrAutodiscoveryFailed)
	assert.ErrorIs(t, awaitErr(t, client.GetAsync("k")), ErrAutodiscoveryFailed)
	_, err = client.Version(ctx)
	require.ErrorIs(t, err, ErrAutodiscoveryFailed)

	seed.SetCluster(clusterNode(t, node))

	require.Eventually(t, client.Ready, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, client.Set(ctx, Item{Key: "k", Value: String("v")}))
	assert.True(t, node.Has("k"))
	assert.Equal(t, uint64(1), client.Stats().Discoveries)
}

func TestClient_Autodiscovery_FirstSeedToAnswerWins(t *testing.T) {
	dead := testutils.NewServer(t)
	deadAddr := dead.Addr()
	dead.Stop()

	seed := testutils.NewServer(t)
	node := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, node))

	client := newDiscoveryClient(t, []string{deadAddr, seed.Addr()})

	require.Eventually(t, client.Ready, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{node.Addr()}, client.Servers())
}

func TestClient_Autodiscovery_DisconnectWhilePending(t *testing.T) {
	seed := testutils.NewServer(t)
	node := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, node))
	seed.Stall()

	client := newDiscoveryClient(t, []string{seed.Addr()})
	queued := client.GetAsync("k")

	require.NoError(t, client.Disconnect())
	assert.ErrorIs(t, awaitErr(t, queued), ErrNoServers)

	seed.Resume()
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, client.Servers())
	assert.Zero(t, node.Accepted(), "discovery stops once the client is detached")
}

func TestClient_Autodiscovery_DisconnectDuringRetries(t *testing.T) {
	seed := testutils.NewServer(t) // no cluster configured: every round fails

	client := newDiscoveryClient(t, []string{seed.Addr()})
	require.Eventually(t, func() bool {
		return client.Stats().DiscoveryErrors >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, client.Disconnect())

	rounds := client.Stats().DiscoveryErrors
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, client.Stats().DiscoveryErrors, rounds+1, "discovery stops once the client is detached")
	assert.Empty(t, client.Servers())
}

func TestClient_Autodiscovery_CloseWhilePending(t *testing.T) {
	seed := testutils.NewServer(t)
	seed.SetCluster(clusterNode(t, seed))
	seed.Stall()
	defer seed.Resume()

	client := newDiscoveryClient(t, []string{seed.Addr()})
	queued := client.GetAsync("k")

	client.Close()
	assert.ErrorIs(t, awaitErr(t, queued), ErrConnectionClosed)
}
