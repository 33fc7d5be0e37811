package text

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// Pre-allocated byte slices for comparisons (avoid allocation in hot path)
var (
	crlfBytes         = []byte(CRLF)
	errorGenericBytes = []byte(ErrorGeneric)
	clientErrorBytes  = []byte(ErrorClientPrefix)
	serverErrorBytes  = []byte(ErrorServerPrefix)
	valueBytes        = []byte(KeywordValue)
	endBytes          = []byte(KeywordEnd)
	statBytes         = []byte(KeywordStat)
	itemBytes         = []byte(KeywordItem)
	versionBytes      = []byte(KeywordVersion)
	configBytes       = []byte(KeywordConfig)
)

var statuses = []StatusType{
	StatusStored,
	StatusNotStored,
	StatusExists,
	StatusNotFound,
	StatusDeleted,
	StatusTouched,
	StatusOK,
}

// Reader decodes reply events from a byte stream.
// A Reader is not safe for concurrent use.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r. A *bufio.Reader is used as is.
func NewReader(r io.Reader) *Reader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 16*1024)
	}
	return &Reader{br: br}
}

// Next reads the next reply event, skipping empty lines.
//
// Error replies (ERROR, CLIENT_ERROR, SERVER_ERROR) are returned as events,
// not as Go errors. Go errors indicate I/O failures or a *ParseError, both of
// which leave the stream in an unknown state.
func (r *Reader) Next() (*Event, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return r.parseLine(line)
	}
}

// readLine returns one line without its terminator. The slice may alias the
// bufio buffer and is only valid until the next read.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Line exceeds buffer, keep what we have and read the rest
		head := append([]byte(nil), line...)
		var rest []byte
		rest, err = r.br.ReadBytes('\n')
		line = append(head, rest...)
	}
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return nil, &ParseError{Message: "unterminated line", Err: io.ErrUnexpectedEOF}
		}
		return nil, err
	}

	line = bytes.TrimSuffix(line, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return line, nil
}

func (r *Reader) parseLine(line []byte) (*Event, error) {
	switch {
	case bytes.Equal(line, endBytes):
		return &Event{Type: EventEnd}, nil

	case hasWord(line, valueBytes):
		return r.parseValue(line)

	case hasWord(line, statBytes):
		name, value := splitPair(line[len(statBytes):])
		return &Event{Type: EventStat, Name: name, Value: value}, nil

	case hasWord(line, itemBytes):
		return parseItem(line), nil

	case bytes.Equal(line, errorGenericBytes):
		return &Event{Type: EventError, Err: &GenericError{Message: ErrorGeneric}}, nil

	case hasWord(line, clientErrorBytes):
		msg := string(bytes.TrimSpace(line[len(clientErrorBytes):]))
		return &Event{Type: EventClientError, Err: &ClientError{Message: msg}}, nil

	case hasWord(line, serverErrorBytes):
		msg := string(bytes.TrimSpace(line[len(serverErrorBytes):]))
		return &Event{Type: EventServerError, Err: &ServerError{Message: msg}}, nil

	case hasWord(line, versionBytes):
		return &Event{Type: EventVersion, Value: string(bytes.TrimSpace(line[len(versionBytes):]))}, nil

	case hasWord(line, configBytes):
		return r.parseConfig(line)
	}

	for _, status := range statuses {
		if string(line) == string(status) {
			return &Event{Type: EventStatus, Status: status}, nil
		}
	}

	return &Event{Type: EventLine, Value: string(line)}, nil
}

// parseValue handles: VALUE <key> <flags> <bytes> [<cas unique>]
func (r *Reader) parseValue(line []byte) (*Event, error) {
	fields := bytes.Fields(line)
	if len(fields) != 4 && len(fields) != 5 {
		return nil, &ParseError{Message: "malformed VALUE line: " + string(line)}
	}

	ev := &Event{Type: EventValue, Key: string(fields[1])}

	flags, err := strconv.ParseUint(string(fields[2]), 10, 32)
	if err != nil {
		return nil, &ParseError{Message: "invalid flags in VALUE line", Err: err}
	}
	ev.Flags = uint32(flags)

	size, err := parseSize(fields[3])
	if err != nil {
		return nil, &ParseError{Message: "invalid size in VALUE line", Err: err}
	}

	if len(fields) == 5 {
		ev.CAS, err = strconv.ParseUint(string(fields[4]), 10, 64)
		if err != nil {
			return nil, &ParseError{Message: "invalid cas in VALUE line", Err: err}
		}
		ev.HasCAS = true
	}

	ev.Data, err = r.readData(size)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// parseConfig handles: CONFIG <name> <flags> <bytes>
func (r *Reader) parseConfig(line []byte) (*Event, error) {
	fields := bytes.Fields(line)
	if len(fields) != 4 {
		return nil, &ParseError{Message: "malformed CONFIG line: " + string(line)}
	}

	ev := &Event{Type: EventConfig, Key: string(fields[1])}

	flags, err := strconv.ParseUint(string(fields[2]), 10, 32)
	if err != nil {
		return nil, &ParseError{Message: "invalid flags in CONFIG line", Err: err}
	}
	ev.Flags = uint32(flags)

	size, err := parseSize(fields[3])
	if err != nil {
		return nil, &ParseError{Message: "invalid size in CONFIG line", Err: err}
	}

	ev.Data, err = r.readData(size)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// readData reads a data block and its CRLF terminator in a single read.
func (r *Reader) readData(size int) ([]byte, error) {
	data := make([]byte, size+2)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return nil, &ParseError{Message: "failed to read data block", Err: err}
	}

	if !bytes.HasSuffix(data, crlfBytes) {
		return nil, &ParseError{Message: "invalid data block terminator"}
	}

	return data[:size], nil
}

// parseItem handles: ITEM <key> [<bytes> b; <exptime> s]
// The bracketed part is optional and parsed leniently.
func parseItem(line []byte) *Event {
	fields := bytes.Fields(line)
	ev := &Event{Type: EventItem}
	if len(fields) > 1 {
		ev.Key = string(fields[1])
	}
	if len(fields) > 2 {
		ev.Bytes, _ = strconv.ParseInt(string(bytes.TrimPrefix(fields[2], []byte{'['})), 10, 64)
	}
	if len(fields) > 4 {
		ev.Expiration, _ = strconv.ParseInt(string(fields[4]), 10, 64)
	}
	return ev
}

func parseSize(b []byte) (int, error) {
	size, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, err
	}
	if size < 0 || size > MaxDataSize {
		return 0, strconv.ErrRange
	}
	return size, nil
}

// hasWord reports whether line starts with the keyword followed by a space
// or the end of the line.
func hasWord(line, word []byte) bool {
	return bytes.HasPrefix(line, word) && (len(line) == len(word) || line[len(word)] == ' ')
}

// splitPair splits " <name> <value...>" into its name and the remainder.
func splitPair(b []byte) (string, string) {
	b = bytes.TrimSpace(b)
	name, value, _ := bytes.Cut(b, []byte{' '})
	return string(name), string(bytes.TrimSpace(value))
}
