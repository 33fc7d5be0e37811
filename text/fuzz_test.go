package text

import (
	"bytes"
	"testing"
)

// FuzzReader checks that the reader never panics on arbitrary input.
// Run with: go test -fuzz='^FuzzReader$' -fuzztime=60s ./text
func FuzzReader(f *testing.F) {
	f.Add([]byte("STORED\r\n"))
	f.Add([]byte("VALUE k 0 5\r\nhello\r\nEND\r\n"))
	f.Add([]byte("VALUE k 0 5 77\r\nhello\r\nEND\r\n"))
	f.Add([]byte("VALUE k 0 0\r\n\r\nEND\r\n"))
	f.Add([]byte("STAT items:1:number 1\r\nEND\r\n"))
	f.Add([]byte("ITEM k [1 b; 0 s]\r\nEND\r\n"))
	f.Add([]byte("CONFIG cluster 0 4\r\nabc\n\r\nEND\r\n"))
	f.Add([]byte("CLIENT_ERROR bad\r\nERROR\r\n"))
	f.Add([]byte("SERVER_ERROR\r\n"))
	f.Add([]byte("VERSION\r\n"))
	f.Add([]byte("VALUE\r\n"))
	f.Add([]byte("VALUE k 0 99999999999999999999\r\n"))
	f.Add([]byte("ITEM\r\n"))
	f.Add([]byte("42\r\n"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		r := NewReader(bytes.NewReader(data))
		for i := 0; i < 64; i++ {
			ev, err := r.Next()
			if err != nil {
				return
			}
			if ev == nil {
				t.Fatal("nil event without error")
			}
			if ev.Type == EventValue && ev.Data == nil {
				t.Fatal("value event without data slice")
			}
		}
	})
}
