// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import "strings"

// EncapSubcommands are the sub-commands recognized inside ENCAP (spec.md
// §4.12).
var EncapSubcommands = map[string]bool{
	"AKILL": true, "UNAKILL": true, "LOGIN": true, "LOGOUT": true,
	"CERTFP": true, "KLINE": true, "UNKLINE": true, "SASL": true,
}

// Encap is a parsed ENCAP line: ":src ENCAP {*|<target_sid>} <subcmd> <args...>".
type Encap struct {
	Target  string // "*" for network-wide
	Subcmd  string
	Args    []string
}

func ParseEncap(params []string) (Encap, bool) {
	if len(params) < 2 {
		return Encap{}, false
	}
	return Encap{Target: params[0], Subcmd: strings.ToUpper(params[1]), Args: params[2:]}, true
}

func (e Encap) Broadcast() bool {
	return e.Target == "*"
}

// AppliesToSID reports whether this ENCAP is addressed to sid (either a
// broadcast, or targeted directly at it).
func (e Encap) AppliesToSID(sid string) bool {
	return e.Broadcast() || e.Target == sid
}

// ShouldForward implements the split-horizon invariant of spec.md §4.12
// step 3 / §8 "Split-horizon": a message arriving on link X is never
// re-forwarded on link X.
func ShouldForward(arrivedOnSID, candidateLinkSID string) bool {
	return arrivedOnSID != candidateLinkSID
}

// RouteTarget classifies an S2S message target for the routing table of
// spec.md §4.12.
type RouteTarget int

const (
	RouteUnknown RouteTarget = iota
	RouteChannel
	RouteUser
	RouteServer
)

func ClassifyTarget(target string) RouteTarget {
	switch {
	case len(target) == 0:
		return RouteUnknown
	case target[0] == '#':
		return RouteChannel
	case ValidUID(target):
		return RouteUser
	case ValidSID(target):
		return RouteServer
	default:
		return RouteUnknown
	}
}
