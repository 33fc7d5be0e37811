package mcplus

import (
	"errors"
	"fmt"

	"github.com/pior/mcplus/text"
)

var (
	// ErrInvalidKey is returned before any network activity when a key is
	// empty, too long or contains whitespace/control characters.
	// The wrapped *text.InvalidKeyError carries the details.
	ErrInvalidKey = errors.New("mcplus: invalid key")

	// ErrValueTooLarge is returned before any network activity when the
	// encoded value exceeds the configured MaxValueSize.
	ErrValueTooLarge = errors.New("mcplus: value too large")

	// ErrNotStored is the negative outcome of add, replace, append and prepend.
	ErrNotStored = errors.New("mcplus: not stored")

	// ErrKeyNotFound is returned by incr/decr on a missing or non-numeric key.
	ErrKeyNotFound = errors.New("mcplus: key not found")

	// ErrConnectionLost rejects requests that were in flight when the socket
	// went away. No response will ever arrive for them.
	ErrConnectionLost = errors.New("mcplus: connection lost")

	// ErrConnectionClosed is returned for requests issued on a closed Connection.
	ErrConnectionClosed = errors.New("mcplus: connection closed")

	// ErrBufferOverflow rejects the oldest buffered request when the write
	// buffer of a disconnected server is full.
	ErrBufferOverflow = errors.New("mcplus: write buffer overflow")

	// ErrAutodiscoveryFailed is returned while no seed host answered the
	// cluster configuration query.
	ErrAutodiscoveryFailed = errors.New("mcplus: autodiscovery failed")

	// ErrNotConnected is returned by Disconnect for an unknown server.
	ErrNotConnected = errors.New("mcplus: not connected")

	// ErrNotReady is returned when queueing is disabled and the target
	// server (or the client) is not ready.
	ErrNotReady = errors.New("mcplus: not ready")

	// ErrQueueFull is returned when the client operation queue is at QueueLimit.
	ErrQueueFull = errors.New("mcplus: operation queue full")

	ErrNoServers = errors.New("mcplus: no servers available")
)

// ProtocolError is returned when the server replied with ERROR, CLIENT_ERROR
// or SERVER_ERROR, or with a reply that does not fit the command.
type ProtocolError struct {
	Command text.CmdType
	Key     string
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("mcplus: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("mcplus: %s %s: %v", e.Command, e.Key, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func invalidKeyError(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidKey, err)
}

func connectionLost(cause error) error {
	if cause == nil {
		return ErrConnectionLost
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, cause)
}

// isValueError reports whether err is a legitimate negative outcome rather
// than a failure of the server or the connection.
func isValueError(err error) bool {
	return errors.Is(err, ErrNotStored) ||
		errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrValueTooLarge)
}
