package mcplus

import (
	"fmt"
	"strconv"

	"github.com/pior/mcplus/text"
)

type requestKind uint8

const (
	kindSet requestKind = iota + 1
	kindAdd
	kindReplace
	kindAppend
	kindPrepend
	kindCas
	kindGet
	kindGets
	kindIncr
	kindDecr
	kindDelete
	kindTouch
	kindFlushAll
	kindStats
	kindStatsItems
	kindStatsCachedump
	kindVersion
	kindAutodiscovery
)

type requestState uint8

const (
	stateNew requestState = iota
	stateBuffered
	stateSent
	stateDone
)

// pendingRequest is one request awaiting its reply. state is guarded by the
// owning Connection's mutex; reply is only touched by the reader.
type pendingRequest struct {
	kind  requestKind
	req   *text.Request
	state requestState
	reply reply

	// complete is called exactly once by the Connection, with either the
	// assembled reply or an error. Calls after the first are ignored by the
	// future it resolves.
	complete func(r *reply, err error)
}

func (p *pendingRequest) fail(err error) {
	p.complete(nil, err)
}

// SlabStats are the "stats items" counters of one slab class.
type SlabStats struct {
	Server string
	SlabID int
	Data   map[string]int64
}

// DumpedItem is one entry of "stats cachedump".
type DumpedItem struct {
	Key        string
	Bytes      int64
	Expiration int64 // unix timestamp, 0 for items without expiration
}

// reply accumulates the events of one response.
type reply struct {
	err     error // server error reply
	status  text.StatusType
	value   *text.Event
	line    string
	version string
	config  []byte
	stats   map[string]string
	slabs   []SlabStats
	items   []DumpedItem
}

func (r *reply) addSlabStat(slab int, field, value string) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return
	}

	for i := range r.slabs {
		if r.slabs[i].SlabID == slab {
			r.slabs[i].Data[field] = n
			return
		}
	}
	r.slabs = append(r.slabs, SlabStats{SlabID: slab, Data: map[string]int64{field: n}})
}

// accept feeds one event into the reply. It reports whether the response is
// complete. An error means the event cannot belong to this request and the
// stream is out of sync.
func (p *pendingRequest) accept(ev *text.Event) (bool, error) {
	r := &p.reply

	if ev.IsError() {
		r.err = ev.Err
		return true, nil
	}

	switch p.kind {
	case kindGet, kindGets:
		switch ev.Type {
		case text.EventValue:
			if r.value != nil || ev.Key != p.req.Key {
				return false, p.desync(ev)
			}
			r.value = ev
			return false, nil
		case text.EventEnd:
			return true, nil
		}

	case kindSet, kindAdd, kindReplace, kindAppend, kindPrepend, kindCas, kindDelete, kindTouch, kindFlushAll:
		if ev.Type == text.EventStatus {
			r.status = ev.Status
			return true, nil
		}

	case kindIncr, kindDecr:
		switch ev.Type {
		case text.EventLine:
			r.line = ev.Value
			return true, nil
		case text.EventStatus:
			r.status = ev.Status
			return true, nil
		}

	case kindStats:
		switch ev.Type {
		case text.EventStat:
			if r.stats == nil {
				r.stats = make(map[string]string)
			}
			r.stats[ev.Name] = ev.Value
			return false, nil
		case text.EventEnd:
			return true, nil
		}

	case kindStatsItems:
		switch ev.Type {
		case text.EventStat:
			if slab, field, ok := ev.SlabField(); ok {
				r.addSlabStat(slab, field, ev.Value)
			}
			return false, nil
		case text.EventEnd:
			return true, nil
		}

	case kindStatsCachedump:
		switch ev.Type {
		case text.EventItem:
			r.items = append(r.items, DumpedItem{Key: ev.Key, Bytes: ev.Bytes, Expiration: ev.Expiration})
			return false, nil
		case text.EventEnd:
			return true, nil
		}

	case kindVersion:
		if ev.Type == text.EventVersion {
			r.version = ev.Value
			return true, nil
		}

	case kindAutodiscovery:
		switch ev.Type {
		case text.EventConfig:
			r.config = ev.Data
			return false, nil
		case text.EventEnd:
			return true, nil
		}
	}

	return false, p.desync(ev)
}

func (p *pendingRequest) desync(ev *text.Event) error {
	return &text.ParseError{Message: fmt.Sprintf("unexpected %s reply to %s", ev.Type, p.req.Command)}
}
