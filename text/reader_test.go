package text

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []*Event {
	t.Helper()
	r := NewReader(strings.NewReader(input))
	var events []*Event
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestReaderValue(t *testing.T) {
	events := readAll(t, "VALUE mykey 8 5\r\nhello\r\nEND\r\n")
	require.Len(t, events, 2)

	v := events[0]
	require.Equal(t, EventValue, v.Type)
	require.Equal(t, "mykey", v.Key)
	require.Equal(t, uint32(8), v.Flags)
	require.Equal(t, []byte("hello"), v.Data)
	require.False(t, v.HasCAS)

	require.Equal(t, EventEnd, events[1].Type)
}

func TestReaderValueWithCAS(t *testing.T) {
	events := readAll(t, "VALUE k 0 3 987654321\r\nabc\r\nEND\r\n")
	require.Len(t, events, 2)
	require.True(t, events[0].HasCAS)
	require.Equal(t, uint64(987654321), events[0].CAS)
}

func TestReaderValueDataContainingProtocolWords(t *testing.T) {
	// Data is framed by length, so reply keywords inside it are not parsed.
	data := "END\r\nSTORED\r\nERROR"
	events := readAll(t, "VALUE k 0 "+itoa(len(data))+"\r\n"+data+"\r\nEND\r\n")
	require.Len(t, events, 2)
	require.Equal(t, data, string(events[0].Data))
	require.Equal(t, EventEnd, events[1].Type)
}

func TestReaderEmptyValue(t *testing.T) {
	events := readAll(t, "VALUE k 0 0\r\n\r\nEND\r\n")
	require.Len(t, events, 2)
	require.Empty(t, events[0].Data)
}

func TestReaderStatuses(t *testing.T) {
	for _, status := range []StatusType{StatusStored, StatusNotStored, StatusExists, StatusNotFound, StatusDeleted, StatusTouched, StatusOK} {
		t.Run(string(status), func(t *testing.T) {
			events := readAll(t, string(status)+"\r\n")
			require.Len(t, events, 1)
			require.Equal(t, EventStatus, events[0].Type)
			require.Equal(t, status, events[0].Status)
		})
	}
}

func TestReaderErrors(t *testing.T) {
	events := readAll(t, "ERROR\r\nCLIENT_ERROR bad data chunk\r\nSERVER_ERROR out of memory\r\n")
	require.Len(t, events, 3)

	require.Equal(t, EventError, events[0].Type)
	var generic *GenericError
	require.ErrorAs(t, events[0].Err, &generic)

	require.Equal(t, EventClientError, events[1].Type)
	var clientErr *ClientError
	require.ErrorAs(t, events[1].Err, &clientErr)
	require.Equal(t, "bad data chunk", clientErr.Message)

	require.Equal(t, EventServerError, events[2].Type)
	var serverErr *ServerError
	require.ErrorAs(t, events[2].Err, &serverErr)
	require.Equal(t, "out of memory", serverErr.Message)

	for _, ev := range events {
		require.True(t, ev.IsError())
		require.False(t, ShouldCloseConnection(ev.Err))
	}
}

func TestReaderStats(t *testing.T) {
	events := readAll(t, "STAT items:1:number 5\r\nSTAT items:1:age 30\r\nSTAT version 1.6.21\r\nEND\r\n")
	require.Len(t, events, 4)

	slab, field, ok := events[0].SlabField()
	require.True(t, ok)
	require.Equal(t, 1, slab)
	require.Equal(t, "number", field)
	require.Equal(t, "5", events[0].Value)

	require.Equal(t, "version", events[2].Name)
	require.Equal(t, "1.6.21", events[2].Value)
	_, _, ok = events[2].SlabField()
	require.False(t, ok)
}

func TestReaderItems(t *testing.T) {
	events := readAll(t, "ITEM foo [3 b; 1700000000 s]\r\nITEM bar [10 b; 0 s]\r\nEND\r\n")
	require.Len(t, events, 3)

	require.Equal(t, EventItem, events[0].Type)
	require.Equal(t, "foo", events[0].Key)
	require.Equal(t, int64(3), events[0].Bytes)
	require.Equal(t, int64(1700000000), events[0].Expiration)

	require.Equal(t, "bar", events[1].Key)
	require.Equal(t, int64(10), events[1].Bytes)
}

func TestReaderVersion(t *testing.T) {
	events := readAll(t, "VERSION 1.6.21\r\n")
	require.Len(t, events, 1)
	require.Equal(t, EventVersion, events[0].Type)
	require.Equal(t, "1.6.21", events[0].Value)
}

func TestReaderConfig(t *testing.T) {
	payload := "12\nhost1|10.0.0.1|11211 host2|10.0.0.2|11211\n"
	input := "CONFIG cluster 0 " + itoa(len(payload)) + "\r\n" + payload + "\r\nEND\r\n"

	events := readAll(t, input)
	require.Len(t, events, 2)
	require.Equal(t, EventConfig, events[0].Type)
	require.Equal(t, "cluster", events[0].Key)
	require.Equal(t, payload, string(events[0].Data))
	require.Equal(t, EventEnd, events[1].Type)
}

func TestReaderLine(t *testing.T) {
	events := readAll(t, "\r\n42\r\n")
	require.Len(t, events, 1, "empty lines are skipped")
	require.Equal(t, EventLine, events[0].Type)
	require.Equal(t, "42", events[0].Value)
}

func TestReaderLFOnly(t *testing.T) {
	events := readAll(t, "STORED\nEND\n")
	require.Len(t, events, 2)
	require.Equal(t, EventStatus, events[0].Type)
	require.Equal(t, EventEnd, events[1].Type)
}

func TestReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 40*1024)
	events := readAll(t, long+"\r\n")
	require.Len(t, events, 1)
	require.Equal(t, long, events[0].Value)
}

func TestReaderParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"value missing fields", "VALUE k 0\r\n"},
		{"value bad flags", "VALUE k x 1\r\na\r\n"},
		{"value bad size", "VALUE k 0 abc\r\n"},
		{"value negative size", "VALUE k 0 -1\r\n"},
		{"value bad cas", "VALUE k 0 1 zz\r\na\r\n"},
		{"value truncated", "VALUE k 0 5\r\nab"},
		{"value bad terminator", "VALUE k 0 5\r\nhelloXX"},
		{"value too large", "VALUE k 0 999999999999\r\n"},
		{"config missing size", "CONFIG cluster 0\r\n"},
		{"unterminated", "STORED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(strings.NewReader(tt.input))
			_, err := r.Next()
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			require.True(t, ShouldCloseConnection(err))
		})
	}
}

func itoa(n int) string {
	return formatInt(int64(n))
}
