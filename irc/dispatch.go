// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"strings"
)

// commandHandler implements one IRC verb (component F, spec.md §4). rb
// buffers replies so multi-line responses can be wrapped in a BATCH when
// the client negotiated it.
type commandHandler func(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer)

// commandProperties gates a handler behind registration state, the way the
// teacher's own command table does it.
type commandProperties struct {
	handler           commandHandler
	minParams         int
	requiresRegistration bool
}

var commands map[string]commandProperties

func init() {
	commands = map[string]commandProperties{
		"CAP":         {handler: capHandler, minParams: 1},
		"PASS":        {handler: passHandler, minParams: 1},
		"NICK":        {handler: nickHandler, minParams: 1},
		"USER":        {handler: userHandler, minParams: 4},
		"AUTHENTICATE": {handler: authenticateHandler, minParams: 1},
		"QUIT":        {handler: quitHandler},
		"PING":        {handler: pingHandler, minParams: 1},
		"PONG":        {handler: pongHandler},
		"RESUME":      {handler: resumeHandler, minParams: 1},
		"WEBIRC":      {handler: webircHandler, minParams: 4},

		"JOIN":    {handler: joinHandler, minParams: 1, requiresRegistration: true},
		"PART":    {handler: partHandler, minParams: 1, requiresRegistration: true},
		"TOPIC":   {handler: topicHandler, minParams: 1, requiresRegistration: true},
		"MODE":    {handler: modeHandler, minParams: 1, requiresRegistration: true},
		"NAMES":   {handler: namesHandler, requiresRegistration: true},
		"LIST":    {handler: listHandler, requiresRegistration: true},
		"INVITE":  {handler: inviteHandler, minParams: 2, requiresRegistration: true},
		"KICK":    {handler: kickHandler, minParams: 2, requiresRegistration: true},

		"PRIVMSG": {handler: privmsgHandler, minParams: 2, requiresRegistration: true},
		"NOTICE":  {handler: noticeHandler, minParams: 2, requiresRegistration: true},
		"TAGMSG":  {handler: tagmsgHandler, minParams: 1, requiresRegistration: true},

		"WHO":      {handler: whoHandler, requiresRegistration: true},
		"WHOIS":    {handler: whoisHandler, minParams: 1, requiresRegistration: true},
		"WHOWAS":   {handler: whowasHandler, minParams: 1, requiresRegistration: true},
		"ISON":     {handler: isonHandler, minParams: 1, requiresRegistration: true},
		"USERHOST": {handler: userhostHandler, minParams: 1, requiresRegistration: true},
		"AWAY":     {handler: awayHandler, requiresRegistration: true},
		"MOTD":     {handler: motdHandler, requiresRegistration: true},
		"LUSERS":   {handler: lusersHandler, requiresRegistration: true},
		"VERSION":  {handler: versionHandler, requiresRegistration: true},
		"TIME":     {handler: timeHandler, requiresRegistration: true},
		"MONITOR":  {handler: monitorHandler, minParams: 1, requiresRegistration: true},
		"SETNAME":  {handler: setnameHandler, minParams: 1, requiresRegistration: true},

		"OPER":    {handler: operHandler, minParams: 2, requiresRegistration: true},
		"KILL":    {handler: killHandler, minParams: 1, requiresRegistration: true},
		"WALLOPS": {handler: wallopsHandler, minParams: 1, requiresRegistration: true},
		"REHASH":  {handler: rehashHandler, requiresRegistration: true},
		"KLINE":   {handler: klineHandler, minParams: 1, requiresRegistration: true},
		"DLINE":   {handler: dlineHandler, minParams: 1, requiresRegistration: true},
	}
}

// dispatch routes one parsed line to its handler, enforcing registration
// gating and fakelag (component D) before the handler runs.
func (server *Server) dispatch(client *Client, session *Session, msg ParsedMessage) {
	command := strings.ToUpper(msg.Command)
	props, exists := commands[command]

	if label, ok := msg.Tags["label"]; ok {
		session.SetLabel(label)
	} else {
		session.SetLabel("")
	}

	if !exists {
		if client.IsRegistered() {
			client.Send(nil, server.name, ERR_UNKNOWNCOMMAND, client.Nick(), command, "Unknown command")
		}
		return
	}

	if props.requiresRegistration && !client.IsRegistered() {
		client.Send(nil, server.name, ERR_NOTREGISTERED, "*", "You have not registered")
		return
	}
	if len(msg.Params) < props.minParams {
		nick := client.Nick()
		client.Send(nil, server.name, ERR_NEEDMOREPARAMS, nick, command, "Not enough parameters")
		return
	}

	if client.IsRegistered() {
		session.fakelag.throttle(command)
	}
	server.metrics.CommandsTotal.WithLabelValues(command).Inc()

	rb := NewResponseBuffer(session)
	props.handler(server, client, session, msg, rb)
	rb.Send(true)

	if !client.IsRegistered() {
		server.tryRegister(client, session)
	}
}

