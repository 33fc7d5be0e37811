package mcplus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Flag bits stored alongside each value. Values written without any type bit
// are plain strings. FlagCompressed is orthogonal to the type bits.
const (
	FlagJSON       uint32 = 1 << 1
	FlagBinary     uint32 = 1 << 2
	FlagNumeric    uint32 = 1 << 3
	FlagCompressed uint32 = 1 << 4
)

// NoTTL represents an infinite TTL (no expiration).
const NoTTL = 0

// relativeTTLLimit is the largest exptime memcached treats as relative.
// Larger values are read as a unix timestamp.
const relativeTTLLimit = 30 * 24 * time.Hour

// ValueType tags the encoding of a Value.
type ValueType uint8

const (
	TypeString ValueType = iota
	TypeNumber
	TypeBinary
	TypeJSON
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBinary:
		return "binary"
	case TypeJSON:
		return "json"
	}
	return "unknown"
}

func (t ValueType) flag() uint32 {
	switch t {
	case TypeNumber:
		return FlagNumeric
	case TypeBinary:
		return FlagBinary
	case TypeJSON:
		return FlagJSON
	}
	return 0
}

func typeFromFlags(flags uint32) ValueType {
	switch {
	case flags&FlagJSON != 0:
		return TypeJSON
	case flags&FlagBinary != 0:
		return TypeBinary
	case flags&FlagNumeric != 0:
		return TypeNumber
	}
	return TypeString
}

// Value is a cache value tagged with its encoding.
// The zero Value is an empty string.
type Value struct {
	typ  ValueType
	data []byte
}

var jsonNull = []byte("null")

func String(s string) Value {
	return Value{typ: TypeString, data: []byte(s)}
}

func Int(n int64) Value {
	return Value{typ: TypeNumber, data: strconv.AppendInt(nil, n, 10)}
}

func Uint(n uint64) Value {
	return Value{typ: TypeNumber, data: strconv.AppendUint(nil, n, 10)}
}

func Float(f float64) Value {
	return Value{typ: TypeNumber, data: strconv.AppendFloat(nil, f, 'g', -1, 64)}
}

func Bytes(b []byte) Value {
	return Value{typ: TypeBinary, data: b}
}

// JSON encodes v with encoding/json.
func JSON(v any) (Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("mcplus: encode json value: %w", err)
	}
	return Value{typ: TypeJSON, data: data}, nil
}

// RawJSON wraps already encoded JSON.
func RawJSON(data []byte) Value {
	return Value{typ: TypeJSON, data: data}
}

// Null is the JSON null value.
func Null() Value {
	return Value{typ: TypeJSON, data: jsonNull}
}

func (v Value) Type() ValueType {
	return v.typ
}

// Bytes returns the encoded payload.
func (v Value) Bytes() []byte {
	return v.data
}

func (v Value) String() string {
	return string(v.data)
}

func (v Value) IsNull() bool {
	return v.typ == TypeJSON && bytes.Equal(bytes.TrimSpace(v.data), jsonNull)
}

// Int64 parses the payload as a base 10 integer. Surrounding spaces, which
// memcached leaves after an incr that shortened the number, are ignored.
func (v Value) Int64() (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(string(v.data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("mcplus: value is not an integer: %w", err)
	}
	return n, nil
}

func (v Value) Uint64() (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(string(v.data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("mcplus: value is not an unsigned integer: %w", err)
	}
	return n, nil
}

func (v Value) Float64() (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(v.data)), 64)
	if err != nil {
		return math.NaN(), fmt.Errorf("mcplus: value is not a number: %w", err)
	}
	return f, nil
}

// Unmarshal decodes a JSON value into dst.
func (v Value) Unmarshal(dst any) error {
	if v.typ != TypeJSON {
		return fmt.Errorf("mcplus: cannot unmarshal %s value", v.typ)
	}
	return json.Unmarshal(v.data, dst)
}

func (v Value) Equal(o Value) bool {
	return v.typ == o.typ && bytes.Equal(v.data, o.data)
}

// Item is a cache entry.
type Item struct {
	Key   string
	Value Value

	// TTL of zero means no expiration. Values above 30 days are sent as an
	// absolute unix timestamp.
	TTL time.Duration

	// Compressed stores the value zlib compressed and base64 encoded.
	Compressed bool

	// CAS is set by Gets and consumed by CompareAndSwap.
	CAS uint64

	// Flags holds the raw flags read from the server.
	Flags uint32

	// Found indicates whether the key was found in cache.
	Found bool
}

// encodeValue returns the payload and flags to store for v.
func encodeValue(v Value, compressed bool) ([]byte, uint32, error) {
	data := v.data
	flags := v.typ.flag()

	if compressed {
		var err error
		data, err = compressValue(data)
		if err != nil {
			return nil, 0, err
		}
		flags |= FlagCompressed
	}

	return data, flags, nil
}

// decodeValue turns a stored payload back into a Value. ok is false when the
// payload should be treated as a miss: compression was requested or flagged
// but the payload does not decompress.
func decodeValue(data []byte, flags uint32, compressed bool) (Value, bool) {
	if compressed || flags&FlagCompressed != 0 {
		raw, err := decompressValue(data)
		if err != nil {
			return Value{}, false
		}
		data = raw
	}

	return Value{typ: typeFromFlags(flags), data: data}, true
}

// ttlSeconds converts a TTL into the protocol exptime field.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	if ttl > relativeTTLLimit {
		return time.Now().Add(ttl).Unix()
	}

	secs := int64(ttl / time.Second)
	if ttl%time.Second != 0 {
		secs++
	}
	return secs
}
