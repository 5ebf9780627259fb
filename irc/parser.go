// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"github.com/goshuirc/irc-go/ircmsg"
)

// ParsedMessage is the wire-agnostic shape spec.md §4.2 describes:
// {tags, source, command, params[]}.
type ParsedMessage struct {
	Tags    map[string]string
	Source  string
	Command string
	Params  []string
}

// ParseLine decodes one client line per the grammar of spec.md §4.2,
// delegating to ircmsg (the teacher's own wire-format library) for tag
// unescaping and the middle/trailing split. The parser never fails the
// connection: a malformed line yields ok=false, and the caller's only
// obligation is to log and discard it.
func ParseLine(line string, maxLen int) (msg ParsedMessage, ok bool) {
	irc, err := ircmsg.ParseLineStrict(line, true, maxLen)
	if err != nil {
		return ParsedMessage{}, false
	}
	return ParsedMessage{
		Tags:    irc.Tags,
		Source:  irc.Prefix,
		Command: irc.Command,
		Params:  irc.Params,
	}, true
}

// RenderLine re-encodes a message for the wire, tags included.
func RenderLine(tags map[string]string, source, command string, params ...string) (string, error) {
	irc := ircmsg.MakeMessage(tags, source, command, params...)
	return irc.Line()
}
