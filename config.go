package mcplus

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultNetTimeout   = 500 * time.Millisecond
	DefaultQueueLimit   = 10000
	DefaultNamespaceTTL = 10 * time.Second
)

// Config holds the client configuration. Start from DefaultConfig: the zero
// value disables reconnection and queueing.
type Config struct {
	// Hosts are the memcached servers, or the seed hosts when Autodiscover is
	// set. Addresses default to port 11211 and ":port" means localhost.
	// Empty means localhost:11211.
	Hosts []string

	// Reconnect re-dials lost connections with exponential backoff.
	Reconnect bool

	// Autodiscover queries the seed hosts with "config get cluster" and
	// connects to the returned nodes instead of Hosts.
	Autodiscover bool

	// NetTimeout bounds each blocking operation. A request abandoned on
	// timeout after it was written resets its connection. Zero disables it.
	NetTimeout time.Duration

	DialTimeout time.Duration

	// BackoffLimit caps the wait between reconnect or discovery attempts.
	BackoffLimit time.Duration

	// BufferBeforeError is the per server number of requests buffered while
	// the connection is down. The oldest is failed beyond it.
	BufferBeforeError int

	// MaxValueSize is the largest encoded value accepted by storage commands.
	MaxValueSize int

	// Queue buffers operations until their server is ready. When false,
	// operations on a server that is not ready fail with ErrNotReady.
	Queue bool

	// QueueLimit bounds the operations held while autodiscovery is pending.
	QueueLimit int

	// Disabled turns every operation into a no-op returning zero values.
	Disabled bool

	// OnNetError is called for connection failures. Defaults to a warning log.
	OnNetError func(addr string, err error)

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// Dialer is the net.Dialer used to create connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	Logger *slog.Logger

	// NewCircuitBreaker creates a circuit breaker for a server.
	// Called once per server address when its connection is created.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) *gobreaker.CircuitBreaker[struct{}]

	// NamespaceTTL is how long a namespace generation is cached in process.
	NamespaceTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Hosts:             []string{net.JoinHostPort(DefaultHost, DefaultPort)},
		Reconnect:         true,
		NetTimeout:        DefaultNetTimeout,
		DialTimeout:       DefaultDialTimeout,
		BackoffLimit:      DefaultBackoffLimit,
		BufferBeforeError: DefaultBufferBeforeError,
		MaxValueSize:      DefaultMaxValueSize,
		Queue:             true,
		QueueLimit:        DefaultQueueLimit,
		NamespaceTTL:      DefaultNamespaceTTL,
	}
}

// envConfig lists the settings read by ConfigFromEnv.
type envConfig struct {
	Hosts        []string      `envconfig:"MEMCACHED_HOSTS"`
	Autodiscover bool          `envconfig:"MEMCACHED_AUTODISCOVER"`
	Reconnect    bool          `envconfig:"MEMCACHED_RECONNECT"`
	Queue        bool          `envconfig:"MEMCACHED_QUEUE"`
	QueueLimit   int           `envconfig:"MEMCACHED_QUEUE_LIMIT"`
	Disabled     bool          `envconfig:"MEMCACHED_DISABLED"`
	NetTimeout   time.Duration `envconfig:"MEMCACHED_NET_TIMEOUT"`
	DialTimeout  time.Duration `envconfig:"MEMCACHED_DIAL_TIMEOUT"`
	BackoffLimit time.Duration `envconfig:"MEMCACHED_BACKOFF_LIMIT"`
	NamespaceTTL time.Duration `envconfig:"MEMCACHED_NAMESPACE_TTL"`
}

// ConfigFromEnv returns DefaultConfig overridden by the MEMCACHED_*
// environment variables. MEMCACHED_HOSTS is a comma separated list.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	env := envConfig{
		Hosts:        cfg.Hosts,
		Reconnect:    cfg.Reconnect,
		Queue:        cfg.Queue,
		QueueLimit:   cfg.QueueLimit,
		NetTimeout:   cfg.NetTimeout,
		DialTimeout:  cfg.DialTimeout,
		BackoffLimit: cfg.BackoffLimit,
		NamespaceTTL: cfg.NamespaceTTL,
	}
	if err := envconfig.Process("", &env); err != nil {
		return Config{}, fmt.Errorf("mcplus: reading environment: %w", err)
	}

	cfg.Hosts = env.Hosts
	cfg.Autodiscover = env.Autodiscover
	cfg.Reconnect = env.Reconnect
	cfg.Queue = env.Queue
	cfg.QueueLimit = env.QueueLimit
	cfg.Disabled = env.Disabled
	cfg.NetTimeout = env.NetTimeout
	cfg.DialTimeout = env.DialTimeout
	cfg.BackoffLimit = env.BackoffLimit
	cfg.NamespaceTTL = env.NamespaceTTL
	return cfg, nil
}

func (c Config) connectionConfig(logger *slog.Logger) ConnectionConfig {
	return ConnectionConfig{
		Reconnect:         c.Reconnect,
		BackoffLimit:      c.BackoffLimit,
		BufferBeforeError: c.BufferBeforeError,
		MaxValueSize:      c.MaxValueSize,
		DialTimeout:       c.DialTimeout,
		WriteTimeout:      c.NetTimeout,
		Dialer:            c.Dialer,
		TLS:               c.TLS,
		Logger:            logger,
		OnNetError:        c.OnNetError,
	}
}
