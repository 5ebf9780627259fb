// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"time"

	"github.com/oragono/ironhold/irc/caps"
	"github.com/oragono/ironhold/irc/history"
	"github.com/oragono/ironhold/irc/modes"
)

func privmsgHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	relayMessage(server, client, rb, "PRIVMSG", msg.Params[0], msg.Params[1])
}

func noticeHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	relayMessage(server, client, rb, "NOTICE", msg.Params[0], msg.Params[1])
}

// tagmsgHandler implements IRCv3 message-tags TAGMSG: a tag-only message
// with no text, delivered only to recipients who negotiated message-tags.
func tagmsgHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	target := msg.Params[0]
	source := client.AllNickmasks()[0]
	if ch := server.channels.Get(target); ch != nil {
		for _, member := range ch.Members() {
			if member == client {
				continue
			}
			for _, s := range member.Sessions() {
				if s.capabilities.Has(caps.MessageTags) {
					s.Send(msg.Tags, source, "TAGMSG", target)
				}
			}
		}
		return
	}
	if other := server.clients.Get(target); other != nil {
		for _, s := range other.Sessions() {
			if s.capabilities.Has(caps.MessageTags) {
				s.Send(msg.Tags, source, "TAGMSG", target)
			}
		}
	}
}

func relayMessage(server *Server, client *Client, rb *ResponseBuffer, command, target, text string) {
	source := client.AllNickmasks()[0]

	if ch := server.channels.Get(target); ch != nil {
		if !ch.hasClient(client) && ch.flags.Has(modes.NoOutside) {
			rb.Add(nil, server.name, ERR_CANNOTSENDTOCHAN, client.Nick(), ch.name, "Cannot send to channel")
			return
		}
		if ch.flags.Has(modes.Moderated) && ch.rankOf(client) == modes.RankNone && !client.HasMode(modes.Operator) {
			rb.Add(nil, server.name, ERR_CANNOTSENDTOCHAN, client.Nick(), ch.name, "Cannot send to channel")
			return
		}
		server.broker.sendChannel(ch, client, nil, source, command, ch.name, text)
		ch.history.Add(history.Item{
			Nick:        client.Nick(),
			AccountName: client.Details().accountName,
			Message:     history.MessageData{Command: command, Params: []string{ch.name, text}},
			Time:        time.Now().UTC(),
		})
		return
	}

	other := server.clients.Get(target)
	if other == nil {
		if command == "PRIVMSG" {
			rb.Add(nil, server.name, ERR_NOSUCHNICK, client.Nick(), target, "No such nick/channel")
		}
		return
	}

	if !other.IsLocal() {
		if server.federation != nil {
			line, err := RenderLine(nil, source, command, other.Nick(), text)
			if err == nil {
				server.federation.SendTo(other.RemoteSID(), line)
			}
		}
		return
	}

	other.Send(nil, source, command, other.Nick(), text)
	if other.Away() && command == "PRIVMSG" {
		rb.Add(nil, server.name, RPL_AWAY, client.Nick(), other.Nick(), other.AwayMessage())
	}
}
