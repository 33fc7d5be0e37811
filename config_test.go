package mcplus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	expected := DefaultConfig()
	assert.Equal(t, expected.Hosts, cfg.Hosts)
	assert.Equal(t, expected.Reconnect, cfg.Reconnect)
	assert.Equal(t, expected.Queue, cfg.Queue)
	assert.Equal(t, expected.NetTimeout, cfg.NetTimeout)
	assert.Equal(t, expected.NamespaceTTL, cfg.NamespaceTTL)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MEMCACHED_HOSTS", "cache-1:11211,cache-2")
	t.Setenv("MEMCACHED_AUTODISCOVER", "true")
	t.Setenv("MEMCACHED_QUEUE", "false")
	t.Setenv("MEMCACHED_NET_TIMEOUT", "250ms")
	t.Setenv("MEMCACHED_NAMESPACE_TTL", "1m")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"cache-1:11211", "cache-2"}, cfg.Hosts)
	assert.True(t, cfg.Autodiscover)
	assert.False(t, cfg.Queue)
	assert.True(t, cfg.Reconnect)
	assert.Equal(t, 250*time.Millisecond, cfg.NetTimeout)
	assert.Equal(t, time.Minute, cfg.NamespaceTTL)
	assert.Equal(t, DefaultBufferBeforeError, cfg.BufferBeforeError)
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	t.Setenv("MEMCACHED_NET_TIMEOUT", "soon")

	_, err := ConfigFromEnv()
	require.Error(t, err)
}
