// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import (
	"github.com/goshuirc/irc-go/ircmsg"
)

// MaxLineLength is the S2S line ceiling of spec.md §4.1 (longer than the
// client 4096-byte ceiling).
const MaxLineLength = 8192

// Message is a parsed TS6 line: same grammar as client messages (it reuses
// ircmsg, the teacher's own wire-format library), but the source is always
// an SID or UID rather than a client nickmask.
type Message struct {
	Source  string // SID or UID; empty only for the bootstrap PASS/CAPAB/SERVER lines
	Command string
	Params  []string
}

// Parse decodes one S2S protocol line.
func Parse(line string) (Message, error) {
	irc, err := ircmsg.ParseLineStrict(line, true, MaxLineLength)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Source:  irc.Prefix,
		Command: irc.Command,
		Params:  irc.Params,
	}, nil
}

// Render encodes msg back onto the wire, prefixed by ourSID/ourUID as the
// source (S2S lines are always explicitly sourced, unlike client lines).
func Render(source, command string, params ...string) (string, error) {
	irc := ircmsg.MakeMessage(nil, source, command, params...)
	return irc.Line()
}
