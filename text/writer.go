package text

import (
	"io"
	"strconv"

	"github.com/valyala/bytebufferpool"
)

// ValidateKey checks if a key is valid for the text protocol.
// Keys must be 1-249 bytes and contain no whitespace or control characters.
func ValidateKey(key string) error {
	keyLen := len(key)

	if keyLen < MinKeyLength {
		return &InvalidKeyError{Key: key, Message: "key is empty"}
	}

	if keyLen > MaxKeyLength {
		return &InvalidKeyError{Key: key, Message: "key must be shorter than 250 bytes"}
	}

	for i := 0; i < keyLen; i++ {
		if c := key[i]; c <= ' ' || c == 0x7f {
			return &InvalidKeyError{Key: key, Message: "key contains whitespace or control characters"}
		}
	}

	return nil
}

// WriteRequest serializes a Request to wire format and writes it to w
// in a single Write call.
//
// The key is validated first so an invalid key never produces partial output.
func WriteRequest(w io.Writer, req *Request) error {
	if req.HasKey() {
		if err := ValidateKey(req.Key); err != nil {
			return err
		}
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.B = AppendRequest(buf.B, req)

	_, err := w.Write(buf.B)
	return err
}

// AppendRequest appends the wire form of req to dst without validating it.
func AppendRequest(dst []byte, req *Request) []byte {
	dst = append(dst, req.Command...)

	if req.HasKey() {
		dst = append(dst, ' ')
		dst = append(dst, req.Key...)
	}

	switch req.Command {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCas:
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(req.Flags), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, req.TTL, 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(req.Data)), 10)
		if req.Command == CmdCas {
			dst = append(dst, ' ')
			dst = strconv.AppendUint(dst, req.CAS, 10)
		}
	case CmdIncr, CmdDecr:
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, req.Delta, 10)
	case CmdTouch:
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, req.TTL, 10)
	}

	for _, arg := range req.Args {
		dst = append(dst, ' ')
		dst = append(dst, arg...)
	}

	dst = append(dst, CRLF...)

	if req.IsStorage() {
		dst = append(dst, req.Data...)
		dst = append(dst, CRLF...)
	}

	return dst
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
