package text

// Request represents a text protocol request.
// This is a plain container; WriteRequest renders it.
type Request struct {
	Command CmdType

	// Key is empty for flush_all, stats, version and config get.
	Key string

	// Flags is the opaque 32-bit value stored next to the item.
	Flags uint32

	// TTL is the exptime field in seconds (storage and touch commands).
	TTL int64

	// Data is the value block for storage commands.
	Data []byte

	// CAS is the unique token for the cas command.
	CAS uint64

	// Delta is the amount for incr/decr.
	Delta uint64

	// Args are extra tokens appended after the command word
	// (flush_all delay, stats sub-command, config name).
	Args []string
}

// IsStorage reports whether the request carries a data block.
func (r *Request) IsStorage() bool {
	switch r.Command {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCas:
		return true
	}
	return false
}

// HasKey reports whether the command takes a key.
func (r *Request) HasKey() bool {
	switch r.Command {
	case CmdFlushAll, CmdStats, CmdVersion, CmdConfigGet:
		return false
	}
	return true
}

func NewStorageRequest(cmd CmdType, key string, data []byte, flags uint32, ttl int64) *Request {
	return &Request{Command: cmd, Key: key, Data: data, Flags: flags, TTL: ttl}
}

func NewCasRequest(key string, data []byte, flags uint32, ttl int64, cas uint64) *Request {
	return &Request{Command: CmdCas, Key: key, Data: data, Flags: flags, TTL: ttl, CAS: cas}
}

func NewGetRequest(key string) *Request {
	return &Request{Command: CmdGet, Key: key}
}

func NewGetsRequest(key string) *Request {
	return &Request{Command: CmdGets, Key: key}
}

func NewArithmeticRequest(cmd CmdType, key string, delta uint64) *Request {
	return &Request{Command: cmd, Key: key, Delta: delta}
}

func NewDeleteRequest(key string) *Request {
	return &Request{Command: CmdDelete, Key: key}
}

func NewTouchRequest(key string, ttl int64) *Request {
	return &Request{Command: CmdTouch, Key: key, TTL: ttl}
}

// NewFlushAllRequest builds flush_all; a delay <= 0 is omitted.
func NewFlushAllRequest(delay int64) *Request {
	req := &Request{Command: CmdFlushAll}
	if delay > 0 {
		req.Args = []string{formatInt(delay)}
	}
	return req
}

// NewStatsRequest builds "stats [args...]".
func NewStatsRequest(args ...string) *Request {
	return &Request{Command: CmdStats, Args: args}
}

func NewVersionRequest() *Request {
	return &Request{Command: CmdVersion}
}

func NewClusterConfigRequest() *Request {
	return &Request{Command: CmdConfigGet, Args: []string{ClusterConfigKey}}
}
