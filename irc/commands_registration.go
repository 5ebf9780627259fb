// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"strings"
)

// passHandler implements PASS (component E, spec.md §4.3): it can only be
// sent before registration completes.
func passHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if client.IsRegistered() {
		rb.Add(nil, server.name, ERR_ALREADYREGISTERED, client.Nick(), "You may not reregister")
		return
	}
	client.mutex.Lock()
	client.registerThrottleKey = msg.Params[0]
	client.mutex.Unlock()
}

// nickHandler implements NICK, both for initial registration and for a
// nick change on an already-registered client.
func nickHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	nick := msg.Params[0]

	if !client.IsRegistered() {
		client.mutex.Lock()
		client.preregNick = nick
		client.mutex.Unlock()
		return
	}

	err := performNickChange(server, client, client, session, nick, rb)
	if err == errInsecureReattach {
		client.Quit(client.t("You can't mix secure and insecure connections to this account"), nil)
	}
}

// userHandler implements USER: username/realname are latched in during
// registration; the username never changes afterward, while the realname
// can later change via SETNAME.
func userHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if client.IsRegistered() {
		rb.Add(nil, server.name, ERR_ALREADYREGISTERED, client.Nick(), "You may not reregister")
		return
	}
	client.mutex.Lock()
	client.username = msg.Params[0]
	client.realname = msg.Params[len(msg.Params)-1]
	client.mutex.Unlock()
}

func quitHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	message := "Quit"
	if len(msg.Params) > 0 {
		message = msg.Params[0]
	}
	client.Quit(message, session)
}

func pingHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	rb.Add(nil, server.name, "PONG", server.name, msg.Params[0])
}

func pongHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	session.touchActivity()
}

// resumeHandler stashes the presented token; the actual reattach happens in
// tryRegister -> session.tryResume once the CAP negotiation settles, so a
// client can request resume as its very first line.
func resumeHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	session.resumeDetails = &ResumeDetails{PresentedToken: msg.Params[0]}
}

// performNickChange is the single path by which a client acquires or
// changes its nickname, whether during initial registration (client ==
// target, target not yet registered) or via an explicit NICK command
// afterward. It also implements reattachment to an always-on client that
// already owns the requested nick (spec.md's supplemented always-on
// feature): the caller must check session.client != target afterward to
// detect this case.
func performNickChange(server *Server, client *Client, target *Client, session *Session, newnick string, rb *ResponseBuffer) error {
	cfnick, err := CasefoldName(newnick)
	if err != nil || !isValidNickname(newnick) {
		rb.Add(nil, server.name, ERR_ERRONEUSNICKNAME, safeNick(client), newnick, "Erroneous nickname")
		return errErroneousNickname
	}

	existing := server.clients.Get(newnick)
	if existing != nil && existing != target {
		if existing.AlwaysOn() && !target.IsRegistered() {
			if session.isTLS != existing.lastSessionWasTLS() && !existing.AllowInsecureReattach() {
				return errInsecureReattach
			}
			existing.addSession(session)
			session.client = existing
			return nil
		}
		rb.Add(nil, server.name, ERR_NICKNAMEINUSE, safeNick(client), newnick, "Nickname is already in use")
		return errNicknameInUse
	}

	wasRegistered := target.IsRegistered()
	oldDetails := target.Details()

	target.mutex.Lock()
	oldCasefolded := target.nickCasefolded
	target.nick = newnick
	target.nickCasefolded = cfnick
	if account, ok := server.accounts.NickToAccount(cfnick); ok {
		target.accountName = account
	}
	target.mutex.Unlock()

	if oldCasefolded != "" {
		server.clients.Unbind(oldCasefolded)
	}
	server.clients.Bind(cfnick, target)

	if wasRegistered {
		server.broker.sendChannels(target.Channels(), target, nil, oldDetails.nickmask(), "NICK", newnick)
		target.Send(nil, oldDetails.nickmask(), "NICK", newnick)
		server.monitorManager.AlertAbout(newnick, cfnick, true)
	}

	return nil
}

// isValidNickname enforces the grammar shared by RFC 2812 and the Modern
// IRC spec: letter/special first character, then letters/digits/specials.
func isValidNickname(nick string) bool {
	if nick == "" || len(nick) > 32 {
		return false
	}
	for i, r := range nick {
		if i == 0 && ((r >= '0' && r <= '9') || r == '-') {
			return false
		}
		if !isValidNickChar(r) {
			return false
		}
	}
	return true
}

func safeNick(client *Client) string {
	nick := client.Nick()
	if nick == "" {
		return "*"
	}
	return nick
}

func (d ClientDetails) nickmask() string {
	return strings.Join([]string{d.nick, "!", d.username, "@", d.hostname}, "")
}
