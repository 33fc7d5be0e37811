package text

// CmdType represents a text protocol command word.
type CmdType string

// StatusType represents a bare status reply line.
type StatusType string

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"

	// Space separates command tokens
	Space = " "
)

// Command words.
//
// Storage commands carry a data block:
//
//	<cmd> <key> <flags> <exptime> <bytes>\r\n<data>\r\n
//	cas <key> <flags> <exptime> <bytes> <cas unique>\r\n<data>\r\n
//
// Retrieval commands return zero or more VALUE blocks followed by END:
//
//	get <key>\r\n
//	gets <key>\r\n
const (
	CmdSet     CmdType = "set"
	CmdAdd     CmdType = "add"
	CmdReplace CmdType = "replace"
	CmdAppend  CmdType = "append"
	CmdPrepend CmdType = "prepend"
	CmdCas     CmdType = "cas"

	CmdGet  CmdType = "get"
	CmdGets CmdType = "gets"

	// CmdIncr and CmdDecr reply with the new value as a bare decimal line,
	// or NOT_FOUND.
	CmdIncr CmdType = "incr"
	CmdDecr CmdType = "decr"

	CmdDelete CmdType = "delete"
	CmdTouch  CmdType = "touch"

	// CmdFlushAll accepts an optional delay in seconds and replies OK.
	CmdFlushAll CmdType = "flush_all"

	// CmdStats replies with STAT lines then END. Args select a sub-report:
	// "items", or "cachedump <slab> <limit>" (which replies with ITEM lines).
	CmdStats CmdType = "stats"

	CmdVersion CmdType = "version"

	// CmdConfigGet is the cluster autodiscovery command ("config get cluster").
	// The reply is a CONFIG header, a length-framed payload, then END.
	CmdConfigGet CmdType = "config get"
)

// Status replies
const (
	StatusStored    StatusType = "STORED"
	StatusNotStored StatusType = "NOT_STORED"
	StatusExists    StatusType = "EXISTS"
	StatusNotFound  StatusType = "NOT_FOUND"
	StatusDeleted   StatusType = "DELETED"
	StatusTouched   StatusType = "TOUCHED"
	StatusOK        StatusType = "OK"
)

// Error replies
const (
	ErrorGeneric      = "ERROR"
	ErrorClientPrefix = "CLIENT_ERROR"
	ErrorServerPrefix = "SERVER_ERROR"
)

// Reply line keywords
const (
	KeywordValue   = "VALUE"
	KeywordEnd     = "END"
	KeywordStat    = "STAT"
	KeywordItem    = "ITEM"
	KeywordVersion = "VERSION"
	KeywordConfig  = "CONFIG"
)

// Key constraints. Keys must be strictly shorter than 250 bytes.
const (
	MinKeyLength = 1
	MaxKeyLength = 249
)

// MaxDataSize bounds the data block length accepted from a reply header.
const MaxDataSize = 128 << 20

// ClusterConfigKey is the configuration name queried for autodiscovery.
const ClusterConfigKey = "cluster"
