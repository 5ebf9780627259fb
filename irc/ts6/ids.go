// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package ts6 implements the TS6-style server-to-server protocol of
// spec.md §4.9-§4.13: handshake, burst, timestamp conflict resolution,
// SID/UID naming, message routing, and netsplit/reconnect handling.
package ts6

import (
	"fmt"
	"regexp"
)

var sidPattern = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)
var uidSuffixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{5}$`)

// ValidSID reports whether s is a well-formed 3-char server id.
func ValidSID(s string) bool {
	return sidPattern.MatchString(s)
}

// ValidUID reports whether u is a well-formed 9-char user id (an SID
// followed by a 6-char per-server-unique suffix).
func ValidUID(u string) bool {
	if len(u) != 9 {
		return false
	}
	return ValidSID(u[:3]) && uidSuffixPattern.MatchString(u[3:])
}

// OriginOf returns the SID embedded in a UID.
func OriginOf(uid string) string {
	if len(uid) < 3 {
		return ""
	}
	return uid[:3]
}

// UIDGenerator hands out unique UIDs for one local SID, cycling through
// base-36 suffixes the way real TS6 implementations do (AAAAAA, AAAAAB, ...).
type UIDGenerator struct {
	sid  string
	next [6]byte
}

func NewUIDGenerator(sid string) *UIDGenerator {
	g := &UIDGenerator{sid: sid}
	for i := range g.next {
		g.next[i] = 'A'
	}
	return g
}

const uidAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Next returns the next UID and advances the counter.
func (g *UIDGenerator) Next() string {
	uid := fmt.Sprintf("%s%s", g.sid, string(g.next[:]))
	g.advance(5)
	return uid
}

func (g *UIDGenerator) advance(pos int) {
	if pos < 0 {
		// wrapped past AAAAAA AAAAAA: restart (a 36^6-UID server has bigger
		// problems than UID reuse by then)
		for i := range g.next {
			g.next[i] = 'A'
		}
		return
	}
	idx := indexOf(g.next[pos])
	if idx == len(uidAlphabet)-1 {
		g.next[pos] = 'A'
		g.advance(pos - 1)
		return
	}
	g.next[pos] = uidAlphabet[idx+1]
}

func indexOf(b byte) int {
	for i := 0; i < len(uidAlphabet); i++ {
		if uidAlphabet[i] == b {
			return i
		}
	}
	return 0
}

// ServiceUID builds the fixed-form UID for an in-process services
// pseudo-user (spec.md §4.15): "<sid>AAAAA<kind>".
func ServiceUID(sid string, kind byte) string {
	return fmt.Sprintf("%sAAAAA%c", sid, kind)
}
