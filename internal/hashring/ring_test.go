package hashring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var servers = []string{"10.0.0.1:11211", "10.0.0.2:11211", "10.0.0.3:11211"}

func TestRing_Empty(t *testing.T) {
	r := New(nil, 0)

	assert.Equal(t, "", r.Get("key"))
	assert.Equal(t, 0, r.Len())
}

func TestRing_SingleNode(t *testing.T) {
	r := New([]string{"localhost:11211"}, 0)

	for i := range 100 {
		assert.Equal(t, "localhost:11211", r.Get(fmt.Sprintf("key-%d", i)))
	}
}

func TestRing_Deterministic(t *testing.T) {
	a := New(servers, 0)
	b := New([]string{servers[2], servers[0], servers[1]}, 0)

	for i := range 1000 {
		key := fmt.Sprintf("key-%d", i)
		require.Equal(t, a.Get(key), a.Get(key))
		require.Equal(t, a.Get(key), b.Get(key), "ring must not depend on node order")
	}
}

func TestRing_Distribution(t *testing.T) {
	r := New(servers, 0)

	counts := map[string]int{}
	for i := range 30000 {
		counts[r.Get(fmt.Sprintf("key-%d", i))]++
	}

	require.Len(t, counts, 3)
	for node, n := range counts {
		assert.InDelta(t, 10000, n, 2500, "node %s", node)
	}
}

func TestRing_RemovalOnlyMovesOwnedKeys(t *testing.T) {
	full := New(servers, 0)
	reduced := full.Without(servers[1])

	assert.Equal(t, []string{servers[0], servers[2]}, reduced.Nodes())

	for i := range 5000 {
		key := fmt.Sprintf("key-%d", i)
		before := full.Get(key)
		after := reduced.Get(key)

		if before != servers[1] {
			require.Equal(t, before, after, "key %s moved although its node stayed", key)
		} else {
			require.NotEqual(t, servers[1], after)
		}
	}
}

func TestRing_DuplicateNodes(t *testing.T) {
	r := New([]string{"a:1", "a:1", "b:1"}, 10)

	assert.Equal(t, []string{"a:1", "b:1"}, r.Nodes())
	assert.Equal(t, 2, r.Len())
}

func BenchmarkRing_Get(b *testing.B) {
	r := New(servers, 0)
	for b.Loop() {
		_ = r.Get("benchmark-key")
	}
}
