package mcplus

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GetMulti(t *testing.T) {
	servers, addrs := startServers(t, 3)
	client := newTestClient(t, addrs)
	ctx := context.Background()

	var keys []string
	for i := range 30 {
		key := "multi-" + strconv.Itoa(i)
		keys = append(keys, key)
		if i%3 != 0 {
			require.NoError(t, client.Set(ctx, Item{Key: key, Value: String("v" + strconv.Itoa(i))}))
		}
	}

	items, err := client.GetMulti(ctx, append(keys, keys[1]))
	require.NoError(t, err)
	require.Len(t, items, len(keys))

	for i, key := range keys {
		item := items[key]
		assert.Equal(t, key, item.Key)
		if i%3 == 0 {
			assert.False(t, item.Found, key)
			continue
		}
		assert.True(t, item.Found, key)
		assert.Equal(t, "v"+strconv.Itoa(i), item.Value.String())
	}

	// One request per distinct key.
	gets := 0
	for _, s := range servers {
		for _, cmd := range s.Commands() {
			if strings.HasPrefix(cmd, "get ") {
				assert.Len(t, strings.Fields(cmd), 2, "one key per request")
				gets++
			}
		}
	}
	assert.Equal(t, len(keys), gets)

	stats := client.Stats()
	assert.Equal(t, uint64(len(keys)), stats.Gets)
	assert.Equal(t, uint64(20), stats.GetHits)
}

func TestClient_GetMulti_InvalidKey(t *testing.T) {
	servers, addrs := startServers(t, 1)
	client := newTestClient(t, addrs)

	_, err := client.GetMulti(context.Background(), []string{"good", "bad key"})
	require.ErrorIs(t, err, ErrInvalidKey)
	assert.Empty(t, servers[0].Commands(), "nothing is sent when a key is invalid")
}

func TestClient_GetMulti_Empty(t *testing.T) {
	_, addrs := startServers(t, 1)
	client := newTestClient(t, addrs)

	items, err := client.GetMulti(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_GetMulti_PartialFailure(t *testing.T) {
	servers, addrs := startServers(t, 2)
	client := newTestClient(t, addrs, func(cfg *Config) {
		cfg.NetTimeout = 100 * time.Millisecond
	})
	ctx := context.Background()

	var keys []string
	for i := range 20 {
		key := "partial-" + strconv.Itoa(i)
		keys = append(keys, key)
		require.NoError(t, client.Set(ctx, Item{Key: key, Value: String("v")}))
	}

	servers[1].Stall()
	defer servers[1].Resume()

	items, err := client.GetMulti(ctx, keys)
	require.Error(t, err)

	for _, key := range keys {
		if ownerOf(t, servers, key) == 0 {
			assert.True(t, items[key].Found, key)
		} else {
			assert.NotContains(t, items, key)
		}
	}
}

func TestClient_SetMulti_DeleteMulti(t *testing.T) {
	servers, addrs := startServers(t, 2)
	client := newTestClient(t, addrs)
	ctx := context.Background()

	items := []Item{
		{Key: "a", Value: String("1")},
		{Key: "b", Value: Int(2)},
		{Key: "c", Value: String("3"), TTL: time.Hour},
	}
	require.NoError(t, client.SetMulti(ctx, items))
	for _, item := range items {
		ownerOf(t, servers, item.Key)
	}
	assert.Equal(t, uint64(3), client.Stats().Sets)

	deleted, err := client.DeleteMulti(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "missing": false}, deleted)

	got, err := client.GetMulti(ctx, []string{"a", "c"})
	require.NoError(t, err)
	assert.False(t, got["a"].Found)
	assert.True(t, got["c"].Found)

	err = client.SetMulti(ctx, []Item{{Key: "ok"}, {Key: "not ok"}})
	require.ErrorIs(t, err, ErrInvalidKey)
	for _, s := range servers {
		assert.False(t, s.Has("ok"))
	}
}
