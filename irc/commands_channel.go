// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"strconv"
	"strings"
	"time"

	"github.com/oragono/ironhold/irc/caps"
	"github.com/oragono/ironhold/irc/modes"
)

func joinHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	names := strings.Split(msg.Params[0], ",")
	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}
	for i, name := range names {
		var key string
		if i < len(keys) {
			key = keys[i]
		}
		joinOneChannel(server, client, session, rb, name, key)
	}
}

func joinOneChannel(server *Server, client *Client, session *Session, rb *ResponseBuffer, name, key string) {
	ch := server.channels.GetOrMake(name, false)
	if ch == nil {
		rb.Add(nil, server.name, ERR_NOSUCHCHANNEL, client.Nick(), name, "No such channel")
		return
	}

	if ch.hasClient(client) {
		return
	}

	if ch.key != "" && ch.key != key {
		rb.Add(nil, server.name, ERR_BADCHANNELKEY, client.Nick(), ch.name, "Cannot join channel (+k)")
		return
	}
	if ch.limit > 0 && len(ch.Members()) >= ch.limit {
		rb.Add(nil, server.name, ERR_CHANNELISFULL, client.Nick(), ch.name, "Cannot join channel (+l)")
		return
	}
	if ch.flags.Has(modes.InviteOnly) && !ch.inviteMasks[client.NickCasefolded()] {
		rb.Add(nil, server.name, ERR_INVITEONLYCHAN, client.Nick(), ch.name, "Cannot join channel (+i)")
		return
	}
	for _, mask := range client.AllNickmasks() {
		if _, banned := ch.banMasks[mask]; banned && !ch.exceptMasks[mask] {
			rb.Add(nil, server.name, ERR_BANNEDFROMCHAN, client.Nick(), ch.name, "Cannot join channel (+b)")
			return
		}
	}

	rank := modes.RankNone
	if len(ch.Members()) == 0 {
		rank = modes.RankOp
	}
	ch.Join(client, rank)

	server.broker.sendChannel(ch, nil, nil, client.AllNickmasks()[0], "JOIN", ch.name)

	if topic, setBy, setAt := ch.Topic(); topic != "" {
		rb.Add(nil, server.name, RPL_TOPIC, client.Nick(), ch.name, topic)
		rb.Add(nil, server.name, RPL_TOPICWHOTIME, client.Nick(), ch.name, setBy, formatUnixTime(setAt))
	}
	sendNamesReply(server, client, session, ch, rb)
}

func partHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	reason := client.Nick()
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	for _, name := range strings.Split(msg.Params[0], ",") {
		ch := server.channels.Get(name)
		if ch == nil || !ch.hasClient(client) {
			rb.Add(nil, server.name, ERR_NOTONCHANNEL, client.Nick(), name, "You're not on that channel")
			continue
		}
		server.broker.sendChannel(ch, nil, nil, client.AllNickmasks()[0], "PART", ch.name, reason)
		empty := ch.Part(client)
		if empty && !ch.registered {
			server.channels.Remove(ch)
		}
	}
}

func topicHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	ch := server.channels.Get(msg.Params[0])
	if ch == nil {
		rb.Add(nil, server.name, ERR_NOSUCHCHANNEL, client.Nick(), msg.Params[0], "No such channel")
		return
	}
	if !ch.hasClient(client) {
		rb.Add(nil, server.name, ERR_NOTONCHANNEL, client.Nick(), ch.name, "You're not on that channel")
		return
	}

	if len(msg.Params) < 2 {
		topic, setBy, setAt := ch.Topic()
		if topic == "" {
			rb.Add(nil, server.name, RPL_NOTOPIC, client.Nick(), ch.name, "No topic is set")
		} else {
			rb.Add(nil, server.name, RPL_TOPIC, client.Nick(), ch.name, topic)
			rb.Add(nil, server.name, RPL_TOPICWHOTIME, client.Nick(), ch.name, setBy, formatUnixTime(setAt))
		}
		return
	}

	if ch.flags.Has(modes.OpOnlyTopic) && ch.rankOf(client) < modes.RankHalfOp {
		rb.Add(nil, server.name, ERR_CHANOPRIVSNEEDED, client.Nick(), ch.name, "You're not a channel operator")
		return
	}

	ch.SetTopic(msg.Params[1], client.AllNickmasks()[0])
	server.broker.sendChannel(ch, nil, nil, client.AllNickmasks()[0], "TOPIC", ch.name, msg.Params[1])
}

func modeHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	target := msg.Params[0]
	if strings.ContainsRune(chanTypes, rune(target[0])) {
		channelModeHandler(server, client, rb, target, msg.Params[1:])
		return
	}
	userModeHandler(server, client, rb, target, msg.Params[1:])
}

func userModeHandler(server *Server, client *Client, rb *ResponseBuffer, target string, rest []string) {
	if cf, err := CasefoldName(target); err != nil || cf != client.NickCasefolded() {
		rb.Add(nil, server.name, ERR_USERSDONTMATCH, client.Nick(), "Cannot change mode for other users")
		return
	}
	if len(rest) == 0 {
		rb.Add(nil, server.name, RPL_UMODEIS, client.Nick(), client.ModeString())
		return
	}
	changes := modes.ParseChannelModeChanges(rest[0], rest[1:])
	var applied strings.Builder
	for _, change := range changes {
		switch change.Mode {
		case modes.Operator:
			if change.Add {
				continue // OPER is the only path to +o
			}
		}
		client.SetMode(change.Mode, change.Add)
		if change.Add {
			applied.WriteByte('+')
		} else {
			applied.WriteByte('-')
		}
		applied.WriteRune(rune(change.Mode))
	}
	if applied.Len() > 0 {
		client.Send(nil, client.AllNickmasks()[0], "MODE", client.Nick(), applied.String())
	}
}

func channelModeHandler(server *Server, client *Client, rb *ResponseBuffer, target string, rest []string) {
	ch := server.channels.Get(target)
	if ch == nil {
		rb.Add(nil, server.name, ERR_NOSUCHCHANNEL, client.Nick(), target, "No such channel")
		return
	}
	if len(rest) == 0 {
		rb.Add(nil, server.name, RPL_CHANNELMODEIS, client.Nick(), ch.name, ch.ModeString())
		rb.Add(nil, server.name, RPL_CREATIONTIME, client.Nick(), ch.name, formatUnixTime(ch.CreationTime()))
		return
	}

	isOp := client.HasMode(modes.Operator) || ch.rankOf(client).HasAtLeast(modes.RankHalfOp)
	changes := modes.ParseChannelModeChanges(rest[0], rest[1:])
	var applied []string
	var appliedParams []string
	for _, change := range changes {
		if rank, isRankChange := modes.RankFromModeLetter(change.Mode); isRankChange {
			if !isOp {
				rb.Add(nil, server.name, ERR_CHANOPRIVSNEEDED, client.Nick(), ch.name, "You're not a channel operator")
				continue
			}
			member := server.clients.Get(change.Param)
			if member == nil || !ch.hasClient(member) {
				continue
			}
			if change.Add {
				ch.SetRank(member, rank)
			} else {
				ch.SetRank(member, modes.RankNone)
			}
			applied = append(applied, changeLetter(change))
			appliedParams = append(appliedParams, change.Param)
			continue
		}
		if !isOp {
			rb.Add(nil, server.name, ERR_CHANOPRIVSNEEDED, client.Nick(), ch.name, "You're not a channel operator")
			continue
		}
		if !ch.applyModeChange(change) {
			continue
		}
		applied = append(applied, changeLetter(change))
		if change.Param != "" {
			appliedParams = append(appliedParams, change.Param)
		}
	}
	if len(applied) == 0 {
		return
	}
	params := append([]string{ch.name, strings.Join(applied, "")}, appliedParams...)
	server.broker.sendChannel(ch, nil, nil, client.AllNickmasks()[0], "MODE", params...)
}

func changeLetter(change modes.Change) string {
	if change.Add {
		return "+" + string(change.Mode)
	}
	return "-" + string(change.Mode)
}

func namesHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if len(msg.Params) == 0 {
		for _, ch := range client.Channels() {
			sendNamesReply(server, client, session, ch, rb)
		}
		return
	}
	for _, name := range strings.Split(msg.Params[0], ",") {
		ch := server.channels.Get(name)
		if ch == nil {
			continue
		}
		sendNamesReply(server, client, session, ch, rb)
	}
}

func sendNamesReply(server *Server, client *Client, session *Session, ch *Channel, rb *ResponseBuffer) {
	var names []string
	for _, member := range ch.Members() {
		if member.HasMode(modes.Invisible) && !ch.hasClient(client) {
			continue
		}
		names = append(names, ch.ClientPrefixes(member, session.capabilities.Has(caps.MultiPrefix))+member.Nick())
	}
	rb.Add(nil, server.name, RPL_NAMREPLY, client.Nick(), "=", ch.name, strings.Join(names, " "))
	rb.Add(nil, server.name, RPL_ENDOFNAMES, client.Nick(), ch.name, "End of NAMES list")
}

func listHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	var wanted map[string]bool
	if len(msg.Params) > 0 {
		wanted = make(map[string]bool)
		for _, name := range strings.Split(msg.Params[0], ",") {
			if cf, err := CasefoldChannel(name); err == nil {
				wanted[cf] = true
			}
		}
	}
	for _, ch := range server.channels.Channels() {
		if ch.flags.Has(modes.Secret) && !ch.hasClient(client) {
			continue
		}
		if wanted != nil && !wanted[ch.NameCasefolded()] {
			continue
		}
		topic, _, _ := ch.Topic()
		rb.Add(nil, server.name, RPL_LIST, client.Nick(), ch.name, strconv.Itoa(len(ch.Members())), topic)
	}
	rb.Add(nil, server.name, RPL_LISTEND, client.Nick(), "End of LIST")
}

func inviteHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	target := server.clients.Get(msg.Params[0])
	if target == nil {
		rb.Add(nil, server.name, ERR_NOSUCHNICK, client.Nick(), msg.Params[0], "No such nick")
		return
	}
	ch := server.channels.Get(msg.Params[1])
	if ch == nil {
		rb.Add(nil, server.name, ERR_NOSUCHCHANNEL, client.Nick(), msg.Params[1], "No such channel")
		return
	}
	if !ch.hasClient(client) {
		rb.Add(nil, server.name, ERR_NOTONCHANNEL, client.Nick(), ch.name, "You're not on that channel")
		return
	}
	if ch.hasClient(target) {
		rb.Add(nil, server.name, ERR_USERONCHANNEL, client.Nick(), target.Nick(), ch.name, "is already on channel")
		return
	}
	if ch.flags.Has(modes.InviteOnly) && ch.rankOf(client) < modes.RankHalfOp && !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_CHANOPRIVSNEEDED, client.Nick(), ch.name, "You're not a channel operator")
		return
	}
	ch.mutex.Lock()
	ch.inviteMasks[target.NickCasefolded()] = true
	ch.mutex.Unlock()
	rb.Add(nil, server.name, RPL_INVITING, client.Nick(), target.Nick(), ch.name)
	target.Send(nil, client.AllNickmasks()[0], "INVITE", target.Nick(), ch.name)
}

func kickHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	ch := server.channels.Get(msg.Params[0])
	if ch == nil {
		rb.Add(nil, server.name, ERR_NOSUCHCHANNEL, client.Nick(), msg.Params[0], "No such channel")
		return
	}
	if ch.rankOf(client) < modes.RankHalfOp && !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_CHANOPRIVSNEEDED, client.Nick(), ch.name, "You're not a channel operator")
		return
	}
	target := server.clients.Get(msg.Params[1])
	if target == nil || !ch.hasClient(target) {
		rb.Add(nil, server.name, ERR_USERNOTINCHANNEL, client.Nick(), msg.Params[1], "They aren't on that channel")
		return
	}
	reason := client.Nick()
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}
	server.broker.sendChannel(ch, nil, nil, client.AllNickmasks()[0], "KICK", ch.name, target.Nick(), reason)
	empty := ch.Part(target)
	if empty && !ch.registered {
		server.channels.Remove(ch)
	}
}

func formatUnixTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
