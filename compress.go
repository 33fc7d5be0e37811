package mcplus

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/valyala/bytebufferpool"
)

// compressValue deflates data with a zlib wrapper and base64 encodes the
// result so it is safe to log or inspect as text.
func compressValue(data []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("mcplus: compress value: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("mcplus: compress value: %w", err)
	}

	out := make([]byte, base64.StdEncoding.EncodedLen(buf.Len()))
	base64.StdEncoding.Encode(out, buf.B)
	return out, nil
}

// decompressValue reverses compressValue. Any base64, header or checksum
// failure is reported as an error.
func decompressValue(data []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(raw, data)
	if err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(raw[:n]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	return io.ReadAll(zr)
}
