// Package text provides a low-level codec for the classic memcached text
// protocol.
//
// It focuses on serialization and parsing only. Correlating replies with
// requests, buffering and reconnecting are left to the caller.
//
// # Core Types
//
//   - Request: a command with its key, flags, exptime and data block
//   - Event: one parsed reply unit (VALUE+data, STAT line, status, END, ...)
//   - Reader: pulls Events off a byte stream
//
// # Serialization and Parsing
//
// WriteRequest validates the key and writes the command in one call:
//
//	err := text.WriteRequest(conn, text.NewStorageRequest(text.CmdSet, "k", []byte("v"), 0, 60))
//
// Reader.Next returns the next event. Multi-line replies (get, stats) are
// sequences of events terminated by EventEnd:
//
//	r := text.NewReader(conn)
//	for {
//	    ev, err := r.Next()
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Type == text.EventEnd {
//	        break
//	    }
//	    ...
//	}
//
// # Error Handling
//
// Server error replies are events carrying *ClientError, *ServerError or
// *GenericError in Event.Err. Go errors returned by Next are I/O failures or
// *ParseError; use ShouldCloseConnection to decide whether the stream is
// still usable.
package text
