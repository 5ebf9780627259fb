// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// SplitQuitMessage builds the conventional two-token netsplit QUIT reason
// (spec.md §4.13 step 2): "<upstream-name> <lost-name>", which lets clients
// recognize a netsplit rather than an ordinary disconnect.
func SplitQuitMessage(upstreamName, lostName string) string {
	return fmt.Sprintf("%s %s", upstreamName, lostName)
}

// ReconnectPolicy is the exponential-backoff schedule for one configured
// auto-reconnect link (spec.md §4.13 step 4).
type ReconnectPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Ceiling    time.Duration
	AttemptCap int // 0 means unlimited
}

// NextDelay returns the backoff delay for the given 0-indexed attempt
// number, capped at Ceiling.
func (p ReconnectPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if p.Ceiling > 0 && time.Duration(d) > p.Ceiling {
		return p.Ceiling
	}
	return time.Duration(d)
}

// ReconnectState tracks in-flight backoff for one link name so an
// operator SQUIT can cancel a scheduled attempt (spec.md §4.13
// "Cancellation").
type ReconnectState struct {
	mutex   sync.Mutex
	timers  map[string]*time.Timer
	attempt map[string]int
}

func NewReconnectState() *ReconnectState {
	return &ReconnectState{
		timers:  make(map[string]*time.Timer),
		attempt: make(map[string]int),
	}
}

// Schedule arranges for fn to run after the policy's backoff delay for the
// link's current attempt count, then increments the attempt count. If
// AttemptCap is reached, it returns false and does not schedule.
func (r *ReconnectState) Schedule(linkName string, policy ReconnectPolicy, fn func()) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	attempt := r.attempt[linkName]
	if policy.AttemptCap > 0 && attempt >= policy.AttemptCap {
		return false
	}

	delay := policy.NextDelay(attempt)
	r.attempt[linkName] = attempt + 1
	if existing, ok := r.timers[linkName]; ok {
		existing.Stop()
	}
	r.timers[linkName] = time.AfterFunc(delay, fn)
	return true
}

// Cancel stops a scheduled reconnect attempt for linkName, if any.
func (r *ReconnectState) Cancel(linkName string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if t, ok := r.timers[linkName]; ok {
		t.Stop()
		delete(r.timers, linkName)
	}
}

// Healed resets the attempt counter after a successful link-up (spec.md
// §4.13: "A subsequent successful link-up ... cancels the backoff state").
func (r *ReconnectState) Healed(linkName string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.attempt, linkName)
	if t, ok := r.timers[linkName]; ok {
		t.Stop()
		delete(r.timers, linkName)
	}
}
