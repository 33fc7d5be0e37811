package text

import (
	"errors"
	"fmt"
)

// Error types for text protocol operations.
// These errors let callers decide whether the connection is still usable.

// ClientError represents a CLIENT_ERROR reply.
//
// In the text protocol a CLIENT_ERROR for a storage command is usually
// followed by a bare ERROR, because the server parses the data block as a
// command. The protocol state is recoverable as long as the caller discards
// that second line.
//
// Common causes:
//   - Key too long or malformed
//   - Bad data chunk (size mismatch)
//   - Non-numeric value for incr/decr
//
// Connection handling: connection can be REUSED
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return ErrorClientPrefix + " " + e.Message
}

// ShouldCloseConnection returns false - the reply stream is still aligned
func (e *ClientError) ShouldCloseConnection() bool {
	return false
}

// ServerError represents a SERVER_ERROR reply.
//
// Common causes:
//   - Out of memory
//   - Object too large for cache
//
// Connection handling: connection can be REUSED, operation may be retried
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return ErrorServerPrefix + " " + e.Message
}

// ShouldCloseConnection returns false - server errors don't corrupt protocol state
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// GenericError represents a bare ERROR reply (unknown command).
//
// Connection handling: connection can be REUSED
type GenericError struct {
	Message string
}

func (e *GenericError) Error() string {
	return e.Message
}

// ShouldCloseConnection returns false
func (e *GenericError) ShouldCloseConnection() bool {
	return false
}

// InvalidKeyError is returned when a key fails validation.
// The request never reaches the network.
type InvalidKeyError struct {
	Key     string
	Message string
}

func (e *InvalidKeyError) Error() string {
	return "invalid key: " + e.Message
}

// ParseError represents a client-side parsing error.
// The reply stream can no longer be trusted.
//
// Common causes:
//   - Malformed VALUE or CONFIG header
//   - Missing or truncated data block
//   - Unexpected EOF
//
// Connection handling: connection should be CLOSED
type ParseError struct {
	Message string
	Err     error // Underlying error, if any
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "parse error: " + e.Message + ": " + e.Err.Error()
	}
	return "parse error: " + e.Message
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - parse errors indicate corrupted state
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

// ConnectionError wraps underlying I/O errors from connection operations.
//
// Connection handling: connection is already broken, CLOSE and RECONNECT
type ConnectionError struct {
	Op  string // Operation that failed (dial, read, write)
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by all protocol error types.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err requires closing the connection.
// Unknown error types are treated as fatal for the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}
