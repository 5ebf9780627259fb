// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package history implements ephemeral (in-memory, ring-buffered) channel
// and conversation history, plus the selector logic shared with the
// persistent backend for IRCv3 draft/chathistory (spec.md §4.14).
package history

import (
	"sort"
	"sync"
	"time"
)

// Item is one stored line of conversation.
type Item struct {
	Nick          string
	AccountName   string
	Message       MessageData
	Tags          map[string]string
	Correspondent string // nonempty for DM "query buffers"
	Time          time.Time
}

// MessageData is the minimal payload retained per item.
type MessageData struct {
	Msgid string
	Command string
	Params []string
}

// Buffer is a fixed-capacity ring buffer of Items for one channel or client.
type Buffer struct {
	mutex sync.RWMutex
	items []Item
	start int
	size  int
	cap   int
}

func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{items: make([]Item, capacity), cap: capacity}
}

func (b *Buffer) Resize(capacity int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if capacity <= 0 {
		capacity = 1
	}
	old := b.snapshotLocked()
	b.items = make([]Item, capacity)
	b.cap = capacity
	b.start = 0
	b.size = 0
	for _, it := range old {
		b.appendLocked(it)
	}
}

func (b *Buffer) Add(item Item) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.appendLocked(item)
}

func (b *Buffer) appendLocked(item Item) {
	idx := (b.start + b.size) % b.cap
	b.items[idx] = item
	if b.size < b.cap {
		b.size++
	} else {
		b.start = (b.start + 1) % b.cap
	}
}

func (b *Buffer) snapshotLocked() []Item {
	out := make([]Item, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.start+i)%b.cap]
	}
	return out
}

func (b *Buffer) Snapshot() []Item {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.snapshotLocked()
}

// Delete removes every item matching pred, returning the count removed.
func (b *Buffer) Delete(pred func(*Item) bool) (count int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	kept := make([]Item, 0, b.size)
	for i := 0; i < b.size; i++ {
		it := b.items[(b.start+i)%b.cap]
		if pred(&it) {
			count++
			continue
		}
		kept = append(kept, it)
	}
	b.start = 0
	b.size = 0
	for i := range b.items {
		b.items[i] = Item{}
	}
	for _, it := range kept {
		b.appendLocked(it)
	}
	return count
}

// MakeSequence wraps this buffer (optionally filtered to one DM
// correspondent) as a Sequence for selector queries.
func (b *Buffer) MakeSequence(correspondent string, cutoff time.Time) Sequence {
	return &bufferSequence{buf: b, correspondent: correspondent, cutoff: cutoff}
}

// Sequence is anything CHATHISTORY can query: an ephemeral Buffer or a
// persistent-store-backed cursor (see irc/mysql).
type Sequence interface {
	// Between returns items with start < ts <= end (ts semantics chosen so
	// BEFORE/AFTER/AROUND/BETWEEN all compose from one primitive), ascending
	// by time, capped at limit. A zero Selector means "unbounded" on that side.
	Between(start, end Selector, limit int) ([]Item, error)
}

// Selector identifies a position in history: by timestamp, by msgid, or
// the sentinel "blank" meaning unbounded.
type Selector struct {
	Time  time.Time
	Msgid string
}

func (s Selector) IsZero() bool {
	return s.Time.IsZero() && s.Msgid == ""
}

type bufferSequence struct {
	buf           *Buffer
	correspondent string
	cutoff        time.Time
}

func (s *bufferSequence) Between(start, end Selector, limit int) ([]Item, error) {
	all := s.buf.Snapshot()
	sort.Slice(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })

	startTime, endTime := resolveTimes(all, start, end)

	var out []Item
	for _, it := range all {
		if s.correspondent != "" && it.Correspondent != s.correspondent {
			continue
		}
		if !s.cutoff.IsZero() && it.Time.Before(s.cutoff) {
			continue
		}
		if !startTime.IsZero() && !it.Time.After(startTime) {
			continue
		}
		if !endTime.IsZero() && it.Time.After(endTime) {
			continue
		}
		out = append(out, it)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func resolveTimes(all []Item, start, end Selector) (time.Time, time.Time) {
	resolve := func(sel Selector) time.Time {
		if sel.IsZero() {
			return time.Time{}
		}
		if sel.Msgid != "" {
			for _, it := range all {
				if it.Message.Msgid == sel.Msgid {
					return it.Time
				}
			}
			return time.Time{}
		}
		return sel.Time
	}
	return resolve(start), resolve(end)
}

// Around runs the AROUND selector of spec.md §4.14: the floor(limit/2)
// newest items up to and including the anchor, plus the remainder strictly
// after it.
func Around(seq Sequence, anchor Selector, limit int) ([]Item, error) {
	before := limit / 2
	after := limit - before

	// Between caps from the oldest end, so fetch everything up to the anchor
	beforeItems, err := seq.Between(Selector{}, anchor, 0)
	if err != nil {
		return nil, err
	}
	// keep only the newest `before` of them (the anchor included)
	if len(beforeItems) > before {
		beforeItems = beforeItems[len(beforeItems)-before:]
	}

	afterItems, err := seq.Between(anchor, Selector{}, after)
	if err != nil {
		return nil, err
	}

	out := append(beforeItems, afterItems...)
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}
