// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "sync/atomic"

// Stats is the LUSERS counter set. The Prometheus surface in metrics.go
// keeps its own collectors and does not read these counters.
type Stats struct {
	total      int64
	invisible  int64
	operators  int64
	unknown    int64
	max        int64
}

type StatsValues struct {
	Total, Invisible, Operators, Unknown, Max int64
}

// Register records a newly-registered client; invisible indicates it
// carries user mode +i.
func (s *Stats) Register(invisible bool) {
	total := atomic.AddInt64(&s.total, 1)
	if invisible {
		atomic.AddInt64(&s.invisible, 1)
	}
	for {
		max := atomic.LoadInt64(&s.max)
		if total <= max || atomic.CompareAndSwapInt64(&s.max, max, total) {
			break
		}
	}
}

func (s *Stats) Unregister(invisible, wasOperator bool) {
	atomic.AddInt64(&s.total, -1)
	if invisible {
		atomic.AddInt64(&s.invisible, -1)
	}
	if wasOperator {
		atomic.AddInt64(&s.operators, -1)
	}
}

func (s *Stats) ChangeInvisible(delta int64) {
	atomic.AddInt64(&s.invisible, delta)
}

func (s *Stats) ChangeOperators(delta int64) {
	atomic.AddInt64(&s.operators, delta)
}

func (s *Stats) AddUnknown(delta int64) {
	atomic.AddInt64(&s.unknown, delta)
}

func (s *Stats) GetValues() (values StatsValues) {
	values.Total = atomic.LoadInt64(&s.total)
	values.Invisible = atomic.LoadInt64(&s.invisible)
	values.Operators = atomic.LoadInt64(&s.operators)
	values.Unknown = atomic.LoadInt64(&s.unknown)
	values.Max = atomic.LoadInt64(&s.max)
	return
}
