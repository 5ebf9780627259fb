// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import (
	"fmt"
	"strings"

	"github.com/oragono/ironhold/irc/modes"
)

// ChannelSnapshot is the minimal shape of a Channel that the burst emitter
// needs; the irc package's Channel satisfies it.
type ChannelSnapshot struct {
	Name        string
	CreationTS  int64
	ModeString  string
	ModeParams  []string
	// MemberUIDs maps a UID present in the channel to its rank prefix
	// string (e.g. "@", "@%", "" for none).
	MemberUIDs map[string]string
}

// BanSnapshot is one persistent network ban to (re-)emit during burst.
type BanSnapshot struct {
	Kind    string // "KLINE" or "AKILL"
	Pattern string
	Reason  string
}

// EmitServers renders the SERVER burst lines for every known server other
// than the peer we're bursting to (spec.md §4.10 step 1).
func EmitServers(ourSID string, servers []LinkedServer, excludeSID string) []string {
	var out []string
	for _, s := range servers {
		if s.SID == excludeSID || s.SID == ourSID {
			continue
		}
		out = append(out, fmt.Sprintf(":%s SERVER %s %d %s :%s", ourSID, s.Name, s.HopCount+1, s.SID, s.Description))
	}
	return out
}

// EmitUsers renders the UID burst lines for every known user (spec.md
// §4.10 step 2). u.Modes is the user's rendered mode string, e.g. "+i".
func EmitUsers(users []RemoteUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		account := u.Account
		if account == "" {
			account = "*"
		}
		out = append(out, fmt.Sprintf(":%s UID %s 1 %d %s %s %s 0 %s %s :%s",
			u.SID, u.Nick, u.IntroducedTS, u.User, u.Host, u.UID, u.Modes, u.VHost, u.Realname))
		_ = account // account is carried over ENCAP LOGIN rather than UID itself, kept here for future SASL-state bursts
	}
	return out
}

// EmitChannel renders one channel's SJOIN burst line (spec.md §4.10 step 3).
func EmitChannel(ourSID string, ch ChannelSnapshot) string {
	var members strings.Builder
	first := true
	for uid, prefix := range ch.MemberUIDs {
		if !first {
			members.WriteByte(' ')
		}
		first = false
		members.WriteString(prefix)
		members.WriteString(uid)
	}

	params := []string{fmt.Sprintf("%d", ch.CreationTS), ch.Name, ch.ModeString}
	params = append(params, ch.ModeParams...)
	return fmt.Sprintf(":%s SJOIN %s :%s", ourSID, strings.Join(params, " "), members.String())
}

// EmitBans renders the ENCAP burst lines for persistent network bans
// (spec.md §4.10 step 4).
func EmitBans(ourSID string, bans []BanSnapshot) []string {
	out := make([]string, 0, len(bans))
	for _, b := range bans {
		out = append(out, fmt.Sprintf(":%s ENCAP * %s %s :%s", ourSID, b.Kind, b.Pattern, b.Reason))
	}
	return out
}

// SJOINResolution is the outcome of the TS6 conflict-resolution rule of
// spec.md §4.11, as decided by ResolveSJOIN: the resolved state to apply.
type SJOINResolution struct {
	CreationTS    int64
	ResetModes    bool // true: drop all local modes/status, adopt incoming wholesale
	AdoptModes    bool // true: take incoming ModeString as-is (their_ts<=local_ts cases merge, < case resets)
	KeepNewMembersWithoutStatus bool // true when their_ts > local_ts: add new members, no prefixes
	UnionMembers  bool // true when equal: union of members+modes
}

// ResolveSJOIN decides how to reconcile an incoming SJOIN against a known
// local creation_ts.
func ResolveSJOIN(localTS, theirTS int64) SJOINResolution {
	switch {
	case theirTS < localTS:
		return SJOINResolution{CreationTS: theirTS, ResetModes: true, AdoptModes: true}
	case theirTS > localTS:
		return SJOINResolution{CreationTS: localTS, KeepNewMembersWithoutStatus: true}
	default:
		return SJOINResolution{CreationTS: localTS, UnionMembers: true, AdoptModes: true}
	}
}

// RankPrefixFromLetters converts the prefix characters found in an SJOIN
// member token (e.g. "@%UID...") into the strongest ModeRank present.
func RankPrefixFromLetters(prefixes string) modes.ModeRank {
	best := modes.RankNone
	for _, r := range prefixes {
		for rank, ch := range modes.RankPrefixes {
			if byte(r) == ch && rank > best {
				best = rank
			}
		}
	}
	return best
}

// SplitSJOINMember splits one space-separated SJOIN member token into its
// prefix characters and bare UID, e.g. "@%002AAAAAA" -> ("@%", "002AAAAAA").
func SplitSJOINMember(tok string) (prefixes, uid string) {
	i := 0
	for i < len(tok) {
		isPrefix := false
		for _, ch := range modes.RankPrefixes {
			if tok[i] == ch {
				isPrefix = true
				break
			}
		}
		if !isPrefix {
			break
		}
		i++
	}
	return tok[:i], tok[i:]
}
