package text

import (
	"strconv"
	"strings"
)

// EventType classifies one logical reply unit.
type EventType uint8

const (
	// EventValue is a VALUE header together with its data block.
	EventValue EventType = iota + 1
	// EventConfig is a CONFIG header together with its payload.
	EventConfig
	EventEnd
	EventStat
	EventItem
	EventStatus
	EventVersion
	// EventError is a bare ERROR line.
	EventError
	EventClientError
	EventServerError
	// EventLine is any other non-empty line, e.g. the decimal reply of incr.
	EventLine
)

func (t EventType) String() string {
	switch t {
	case EventValue:
		return "VALUE"
	case EventConfig:
		return "CONFIG"
	case EventEnd:
		return "END"
	case EventStat:
		return "STAT"
	case EventItem:
		return "ITEM"
	case EventStatus:
		return "STATUS"
	case EventVersion:
		return "VERSION"
	case EventError:
		return "ERROR"
	case EventClientError:
		return "CLIENT_ERROR"
	case EventServerError:
		return "SERVER_ERROR"
	case EventLine:
		return "LINE"
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// Event is a parsed reply unit. Which fields are set depends on Type:
//
//   - EventValue: Key, Flags, Data, CAS/HasCAS (gets)
//   - EventConfig: Key, Flags (generation), Data
//   - EventStat: Name, Value
//   - EventItem: Key, Bytes, Expiration
//   - EventStatus: Status
//   - EventVersion, EventLine: Value
//   - EventError, EventClientError, EventServerError: Err
type Event struct {
	Type   EventType
	Status StatusType

	Key    string
	Flags  uint32
	CAS    uint64
	HasCAS bool
	Data   []byte

	Name  string
	Value string

	Bytes      int64
	Expiration int64

	Err error
}

// IsError reports whether the event is one of the error replies.
func (e *Event) IsError() bool {
	switch e.Type {
	case EventError, EventClientError, EventServerError:
		return true
	}
	return false
}

// SlabField splits a "items:<slab>:<field>" stat name.
func (e *Event) SlabField() (slab int, field string, ok bool) {
	rest, found := strings.CutPrefix(e.Name, "items:")
	if !found {
		return 0, "", false
	}

	id, field, found := strings.Cut(rest, ":")
	if !found {
		return 0, "", false
	}

	slab, err := strconv.Atoi(id)
	if err != nil {
		return 0, "", false
	}

	return slab, field, true
}
