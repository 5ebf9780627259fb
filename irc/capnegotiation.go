// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"strconv"
	"strings"

	"github.com/oragono/ironhold/irc/caps"
)

// capHandler implements CAP LS/LIST/REQ/END (component I, spec.md §4.4);
// CAP NEW/DEL are sent by the rehash path in server.go. It suspends registration (via NegotiatingState) between LS and
// END the way the teacher gates tryRegister on session.capState.
func capHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	subcommand := strings.ToUpper(msg.Params[0])
	supported := caps.SupportedSet()
	values := server.Config().Server.capValues

	switch subcommand {
	case "LS":
		session.capState = caps.NegotiatingState
		if len(msg.Params) > 1 {
			if v, err := strconv.Atoi(msg.Params[1]); err == nil && v >= int(caps.Cap302) {
				session.capVersion = caps.Cap302
			}
		}
		tokens := supported.Strings(session.capVersion, values, 0)
		rb.Add(nil, server.name, "CAP", client.Nick(), "LS", strings.Join(tokens, " "))

	case "LIST":
		tokens := session.capabilities.Strings(session.capVersion, values, 0)
		rb.Add(nil, server.name, "CAP", client.Nick(), "LIST", strings.Join(tokens, " "))

	case "REQ":
		if len(msg.Params) < 2 {
			return
		}
		session.capState = caps.NegotiatingState
		requested := caps.ParseRequested(msg.Params[1])
		ok := true
		for _, c := range requested {
			if !supported.Has(c) {
				ok = false
				break
			}
		}
		if !ok {
			rb.Add(nil, server.name, "CAP", client.Nick(), "NAK", msg.Params[1])
			return
		}
		for _, tok := range strings.Fields(msg.Params[1]) {
			if strings.HasPrefix(tok, "-") {
				session.capabilities.Remove(caps.Capability(strings.TrimPrefix(tok, "-")))
			} else {
				session.capabilities.Add(caps.Capability(tok))
			}
		}
		rb.Add(nil, server.name, "CAP", client.Nick(), "ACK", msg.Params[1])

	case "END":
		session.capState = caps.NegotiationDone

	default:
		rb.Add(nil, server.name, ERR_UNKNOWNCOMMAND, client.Nick(), "CAP "+subcommand, "Unknown CAP subcommand")
	}
}
