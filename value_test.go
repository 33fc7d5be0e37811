package mcplus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Types(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		typ   ValueType
		flags uint32
		data  string
	}{
		{"string", String("hello"), TypeString, 0, "hello"},
		{"int", Int(-42), TypeNumber, FlagNumeric, "-42"},
		{"uint", Uint(42), TypeNumber, FlagNumeric, "42"},
		{"float", Float(1.5), TypeNumber, FlagNumeric, "1.5"},
		{"bytes", Bytes([]byte{0, 1, 2}), TypeBinary, FlagBinary, "\x00\x01\x02"},
		{"null", Null(), TypeJSON, FlagJSON, "null"},
		{"zero value", Value{}, TypeString, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, flags, err := encodeValue(tt.value, false)
			require.NoError(t, err)
			assert.Equal(t, tt.data, string(data))
			assert.Equal(t, tt.flags, flags)

			decoded, ok := decodeValue(data, flags, false)
			require.True(t, ok)
			assert.Equal(t, tt.typ, decoded.Type())
			assert.True(t, tt.value.Equal(decoded) || len(tt.data) == 0)
		})
	}
}

func TestValue_Numbers(t *testing.T) {
	n, err := Int(-7).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), n)

	u, err := Uint(18446744073709551615).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(18446744073709551615), u)

	f, err := Float(3.25).Float64()
	require.NoError(t, err)
	assert.Equal(t, 3.25, f)

	// memcached pads a shortened incr result with spaces.
	u, err = String("9  ").Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), u)

	_, err = String("abc").Int64()
	require.Error(t, err)
}

func TestValue_JSON(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	v, err := JSON(user{Name: "ada", Age: 36})
	require.NoError(t, err)
	assert.Equal(t, TypeJSON, v.Type())
	assert.False(t, v.IsNull())

	var got user
	require.NoError(t, v.Unmarshal(&got))
	assert.Equal(t, user{Name: "ada", Age: 36}, got)

	assert.True(t, Null().IsNull())
	assert.False(t, String("null").IsNull())

	err = String("x").Unmarshal(&got)
	require.Error(t, err)

	_, err = JSON(make(chan int))
	require.Error(t, err)
}

func TestValue_Compression(t *testing.T) {
	original := String("a value that compresses well well well well well well")

	data, flags, err := encodeValue(original, true)
	require.NoError(t, err)
	assert.NotEqual(t, original.Bytes(), data)
	assert.Equal(t, FlagCompressed, flags&FlagCompressed)

	// Flagged as compressed: decompressed whether or not it was requested.
	for _, requested := range []bool{true, false} {
		decoded, ok := decodeValue(data, flags, requested)
		require.True(t, ok)
		assert.True(t, original.Equal(decoded))
	}
}

func TestValue_CompressedTypeIsKept(t *testing.T) {
	data, flags, err := encodeValue(Int(12345), true)
	require.NoError(t, err)

	decoded, ok := decodeValue(data, flags, false)
	require.True(t, ok)
	assert.Equal(t, TypeNumber, decoded.Type())

	n, err := decoded.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(12345), n)
}

func TestValue_CompressionRequestedOnPlainValueIsMiss(t *testing.T) {
	_, ok := decodeValue([]byte("plain text"), 0, true)
	assert.False(t, ok)

	// Valid base64 but not zlib.
	_, ok = decodeValue([]byte("aGVsbG8="), 0, true)
	assert.False(t, ok)
}

func TestTTLSeconds(t *testing.T) {
	assert.Equal(t, int64(0), ttlSeconds(NoTTL))
	assert.Equal(t, int64(0), ttlSeconds(-time.Second))
	assert.Equal(t, int64(1), ttlSeconds(time.Millisecond))
	assert.Equal(t, int64(60), ttlSeconds(time.Minute))
	assert.Equal(t, int64(2), ttlSeconds(1500*time.Millisecond))
	assert.Equal(t, int64(30*24*3600), ttlSeconds(30*24*time.Hour))

	abs := ttlSeconds(31 * 24 * time.Hour)
	assert.InDelta(t, time.Now().Add(31*24*time.Hour).Unix(), abs, 2)
}
