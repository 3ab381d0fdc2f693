// Package hosttable implements the cyclic round-robin host list the scan
// engine probes against.
//
// Rather than juggling raw pointers for prev/next and the cursor, every
// entry lives in a single arena (a slice) and prev/next/cursor are indices
// into it, so every mutation is bounds-checked by the runtime instead of by
// hand.
package hosttable

import (
	"fmt"
	"log"
	"net"
	"time"
)

// HostEntry is one target host in the ring.
type HostEntry struct {
	// N is the 1-based insertion ordinal, stable for the run.
	N int

	// Addr is the host's resolved IPv4 address.
	Addr net.IP

	// Live is true while the entry still awaits a response or a retry.
	Live bool

	// Timeout is the current per-host timeout. It grows by the backoff
	// factor after each send beyond the first.
	Timeout time.Duration

	// NumSent is the count of probes dispatched to this host.
	NumSent int

	// NumRecv is the count of responses attributed to this host. In
	// practice this is 0 or 1; the field exists for protocol adapters that
	// may want to count duplicate or multi-part replies.
	NumRecv int

	// LastSendTime is the wall-clock time of the last probe sent to this
	// host, or the zero time if none has been sent.
	LastSendTime time.Time

	prev, next int // indices into HostTable.entries; non-owning.
}

// HostTable is the cyclic, doubly-linked round-robin list of target hosts.
//
// Create one with New: the zero value is not a usable empty table, because
// the empty-ring sentinels (-1) are only set there.
type HostTable struct {
	// Trace is an optional debug-trace hook. When non-nil, the table reports
	// its state transitions (removals, cursor advances, address lookups)
	// through it. A callback rather than a concrete logger keeps this package
	// free of a dependency on the output layer, which itself walks the table.
	Trace func(format string, args ...any)

	entries []*HostEntry

	head   int // index of an arbitrary member of the ring; -1 if empty.
	cursor int // index of the next candidate to probe; -1 if empty.

	// numHosts is the total number ever inserted. It never decreases and is
	// used for display and ordinals.
	numHosts int

	// liveCount is the number of entries with Live == true.
	liveCount int
}

// New returns an empty host table.
func New() *HostTable {
	return &HostTable{head: -1, cursor: -1}
}

// NumHosts returns the total number of hosts ever added.
func (t *HostTable) NumHosts() int { return t.numHosts }

// LiveCount returns the number of entries still awaiting a response or retry.
func (t *HostTable) LiveCount() int { return t.liveCount }

// Empty reports whether the table has never had a host added to it.
func (t *HostTable) Empty() bool { return t.numHosts == 0 }

// Cursor returns the entry the engine may next attempt to probe, or nil if
// the table is empty.
func (t *HostTable) Cursor() *HostEntry {
	if t.cursor < 0 {
		return nil
	}
	return t.entries[t.cursor]
}

// AddHost allocates a new entry for addr and splices it at the tail of the
// ring (equivalently, immediately before head, preserving insertion order
// under forward iteration). The returned entry has ordinal NumHosts()+1,
// Live set, Timeout set to initialTimeout, and all counters zero.
func (t *HostTable) AddHost(addr net.IP, initialTimeout time.Duration) *HostEntry {
	idx := len(t.entries)
	t.numHosts++
	e := &HostEntry{
		N:       t.numHosts,
		Addr:    addr,
		Live:    true,
		Timeout: initialTimeout,
	}
	t.liveCount++

	if t.head < 0 {
		e.prev, e.next = idx, idx
		t.head = idx
		t.cursor = idx
	} else {
		headEntry := t.entries[t.head]
		tailIdx := headEntry.prev
		tailEntry := t.entries[tailIdx]

		e.next = t.head
		e.prev = tailIdx
		tailEntry.next = idx
		headEntry.prev = idx
	}

	t.entries = append(t.entries, e)
	return e
}

// RemoveHost logically removes e from the ring: e stays linked, so scanning
// by address still finds it and a late reply from it is still matched.
//
// Calling RemoveHost on an entry that is already non-live is a programming
// error. It is logged but otherwise non-fatal.
func (t *HostTable) RemoveHost(e *HostEntry) {
	if !e.Live {
		log.Printf("***\tremove_host called on non-live host entry %d: SHOULDN'T HAPPEN", e.N)
		return
	}
	e.Live = false
	t.liveCount--
	if t.Cursor() == e {
		t.AdvanceCursor()
	}
	t.trace("remove_host: live_count now %d", t.liveCount)
}

// AdvanceCursor moves the cursor to the next live entry. It is a no-op if
// the ring has no live entries.
func (t *HostTable) AdvanceCursor() {
	if t.liveCount == 0 {
		return
	}
	for {
		t.cursor = t.entries[t.cursor].next
		if t.entries[t.cursor].Live {
			t.trace("advance_cursor: cursor now %d", t.entries[t.cursor].N)
			return
		}
	}
}

// FindHostByIP walks backwards from the entry at index start via prev,
// returning the first entry whose address equals addr, or (nil, false) after
// a full revolution finds no match.
//
// The engine always passes the cursor's predecessor as start: since
// advance_cursor has just moved past the last host probed, that host
// is the one most likely to be the one replying, and walking backward visits
// recent senders first.
func (t *HostTable) FindHostByIP(start *HostEntry, addr net.IP) (*HostEntry, bool) {
	if start == nil {
		return nil, false
	}
	p := start
	iterations := 0
	for {
		iterations++
		if p.Addr.Equal(addr) {
			t.trace("find_host_by_ip: found=true, iterations=%d", iterations)
			return p, true
		}
		p = t.entries[p.prev]
		if p == start {
			t.trace("find_host_by_ip: found=false, iterations=%d", iterations)
			return nil, false
		}
	}
}

// Prev returns the entry immediately before e in ring order.
func (t *HostTable) Prev(e *HostEntry) *HostEntry {
	return t.entries[e.prev]
}

// Next returns the entry immediately after e in ring order.
func (t *HostTable) Next(e *HostEntry) *HostEntry {
	return t.entries[e.next]
}

// All iterates every entry in insertion (ring) order, starting from head.
// It is used for the --verbose=3 pre-scan dump and has no bearing on
// scanning itself.
func (t *HostTable) All(yield func(*HostEntry) bool) {
	if t.head < 0 {
		return
	}
	p := t.entries[t.head]
	for {
		if !yield(p) {
			return
		}
		p = t.entries[p.next]
		if p == t.entries[t.head] {
			return
		}
	}
}

func (t *HostTable) trace(format string, args ...any) {
	if t.Trace != nil {
		t.Trace(format, args...)
	}
}

// RecordSend marks e as having just been sent a probe at t: increments
// NumSent and sets LastSendTime. Centralizing this in the table (rather than
// letting the protocol adapter touch the counters directly) keeps the
// num_sent <= retry invariant enforceable in one place.
func (t *HostTable) RecordSend(e *HostEntry, at time.Time) {
	e.NumSent++
	e.LastSendTime = at
}

// String renders an entry for debug and dump-list output.
func (e *HostEntry) String() string {
	return fmt.Sprintf("%d\t%s", e.N, e.Addr)
}
