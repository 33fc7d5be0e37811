package text

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteRequest(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "set",
			req:      NewStorageRequest(CmdSet, "mykey", []byte("hello"), 0, 0),
			expected: "set mykey 0 0 5\r\nhello\r\n",
		},
		{
			name:     "set with flags and ttl",
			req:      NewStorageRequest(CmdSet, "mykey", []byte("42"), 8, 300),
			expected: "set mykey 8 300 2\r\n42\r\n",
		},
		{
			name:     "set empty value",
			req:      NewStorageRequest(CmdSet, "mykey", nil, 0, 0),
			expected: "set mykey 0 0 0\r\n\r\n",
		},
		{
			name:     "add",
			req:      NewStorageRequest(CmdAdd, "k", []byte("v"), 0, 10),
			expected: "add k 0 10 1\r\nv\r\n",
		},
		{
			name:     "replace",
			req:      NewStorageRequest(CmdReplace, "k", []byte("v"), 0, 0),
			expected: "replace k 0 0 1\r\nv\r\n",
		},
		{
			name:     "append",
			req:      NewStorageRequest(CmdAppend, "k", []byte("tail"), 0, 0),
			expected: "append k 0 0 4\r\ntail\r\n",
		},
		{
			name:     "prepend",
			req:      NewStorageRequest(CmdPrepend, "k", []byte("head"), 0, 0),
			expected: "prepend k 0 0 4\r\nhead\r\n",
		},
		{
			name:     "cas",
			req:      NewCasRequest("k", []byte("v"), 2, 0, 12345),
			expected: "cas k 2 0 1 12345\r\nv\r\n",
		},
		{
			name:     "get",
			req:      NewGetRequest("k"),
			expected: "get k\r\n",
		},
		{
			name:     "gets",
			req:      NewGetsRequest("k"),
			expected: "gets k\r\n",
		},
		{
			name:     "incr",
			req:      NewArithmeticRequest(CmdIncr, "counter", 5),
			expected: "incr counter 5\r\n",
		},
		{
			name:     "decr",
			req:      NewArithmeticRequest(CmdDecr, "counter", 1),
			expected: "decr counter 1\r\n",
		},
		{
			name:     "delete",
			req:      NewDeleteRequest("k"),
			expected: "delete k\r\n",
		},
		{
			name:     "touch",
			req:      NewTouchRequest("k", 60),
			expected: "touch k 60\r\n",
		},
		{
			name:     "flush_all",
			req:      NewFlushAllRequest(0),
			expected: "flush_all\r\n",
		},
		{
			name:     "flush_all with delay",
			req:      NewFlushAllRequest(10),
			expected: "flush_all 10\r\n",
		},
		{
			name:     "stats",
			req:      NewStatsRequest(),
			expected: "stats\r\n",
		},
		{
			name:     "stats items",
			req:      NewStatsRequest("items"),
			expected: "stats items\r\n",
		},
		{
			name:     "stats cachedump",
			req:      NewStatsRequest("cachedump", "3", "100"),
			expected: "stats cachedump 3 100\r\n",
		},
		{
			name:     "version",
			req:      NewVersionRequest(),
			expected: "version\r\n",
		},
		{
			name:     "config get cluster",
			req:      NewClusterConfigRequest(),
			expected: "config get cluster\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteRequest(&buf, tt.req))
			require.Equal(t, tt.expected, buf.String())
		})
	}
}

func TestWriteRequestRejectsInvalidKey(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRequest(&buf, NewGetRequest("bad key"))

	var keyErr *InvalidKeyError
	require.ErrorAs(t, err, &keyErr)
	require.Zero(t, buf.Len(), "nothing should be written for an invalid key")
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"simple", "user:123", true},
		{"max length", strings.Repeat("a", 249), true},
		{"utf8", "clé", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 250), false},
		{"space", "a b", false},
		{"tab", "a\tb", false},
		{"newline", "a\nb", false},
		{"carriage return", "a\rb", false},
		{"nul", "a\x00b", false},
		{"del", "a\x7fb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.valid {
				require.NoError(t, err)
				return
			}
			var keyErr *InvalidKeyError
			require.ErrorAs(t, err, &keyErr)
			require.Equal(t, tt.key, keyErr.Key)
		})
	}
}
