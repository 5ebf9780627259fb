// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/oragono/ironhold/irc/modes"
	"github.com/oragono/ironhold/irc/passwd"
	"github.com/oragono/ironhold/irc/sno"
)

func parseIPLiteral(s string) net.IP {
	return net.ParseIP(s)
}

// operHandler implements OPER: privileges are granted to a registered
// account flagged IsOperator in the account store (spec.md's supplemented
// account-backed oper feature), rather than a separate operator-password
// config block.
func operHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	name := msg.Params[0]
	password := msg.Params[1]

	cf, err := CasefoldName(name)
	if err != nil {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not on an IRC operator")
		return
	}
	account, found, err := server.store.Accounts().Get(context.Background(), cf)
	if err != nil || !found || !account.IsOperator {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not on an IRC operator")
		return
	}
	if passwd.CompareHashAndPassword(account.PasswordHash, []byte(password)) != nil {
		rb.Add(nil, server.name, ERR_PASSWDMISMATCH, client.Nick(), "Password incorrect")
		return
	}

	client.SetMode(modes.Operator, true)
	client.mutex.Lock()
	client.operInfo = &OperInfo{
		Name:      account.Name,
		WhoisLine: "is an IRC operator",
		Vhost:     "",
	}
	client.mutex.Unlock()

	rb.Add(nil, server.name, RPL_YOUREOPER, client.Nick(), "You are now an IRC operator")
	client.Send(nil, server.name, "MODE", client.Nick(), "+o")
	server.snomasks.Send(sno.LocalOpers, fmt.Sprintf("%s opered up as %s", client.Nick(), account.Name))
}

func killHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not an IRC operator")
		return
	}
	target := server.clients.Get(msg.Params[0])
	if target == nil {
		rb.Add(nil, server.name, ERR_NOSUCHNICK, client.Nick(), msg.Params[0], "No such nick")
		return
	}
	reason := "Killed"
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	server.snomasks.Send(sno.LocalKills, fmt.Sprintf("%s killed %s (%s)", client.Nick(), target.Nick(), reason))
	target.Quit(fmt.Sprintf("Killed (%s (%s))", client.Nick(), reason), nil)
}

func wallopsHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not an IRC operator")
		return
	}
	server.broker.sendOperators(nil, client.AllNickmasks()[0], "WALLOPS", msg.Params[0])
}

func rehashHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not an IRC operator")
		return
	}
	rb.Add(nil, server.name, RPL_REHASHING, client.Nick(), "ircd.yaml", "Rehashing")
	if err := server.rehash(); err != nil {
		client.Notice(fmt.Sprintf("Rehash failed: %v", err))
	}
}

func klineHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not an IRC operator")
		return
	}
	mask := msg.Params[0]
	if mask == "-" {
		return
	}
	if len(mask) > 0 && mask[0] == '-' {
		unmasked := mask[1:]
		server.klines.RemoveMask(unmasked)
		client.Notice("K-Line removed")
		if server.federation != nil {
			line, _ := RenderLine(nil, server.sid, "ENCAP", "*", "UNKLINE", unmasked)
			server.federation.HandleEncap("", []string{"*", "UNKLINE", unmasked}, line)
		}
		return
	}
	reason := "Banned"
	var duration time.Duration
	if len(msg.Params) > 1 {
		reason = msg.Params[len(msg.Params)-1]
	}
	server.klines.AddMask(mask, duration, reason, client.Nick())
	client.Notice(fmt.Sprintf("Added K-Line for %s", mask))
	if server.federation != nil {
		line, _ := RenderLine(nil, server.sid, "ENCAP", "*", "KLINE", mask, client.Nick(), reason)
		server.federation.HandleEncap("", []string{"*", "KLINE", mask, client.Nick(), reason}, line)
	}
}

func dlineHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if !client.HasMode(modes.Operator) {
		rb.Add(nil, server.name, ERR_NOPRIVILEGES, client.Nick(), "Permission Denied- You're not an IRC operator")
		return
	}
	spec := msg.Params[0]
	if len(spec) > 0 && spec[0] == '-' {
		server.dlines.RemoveCIDR(spec[1:])
		client.Notice("D-Line removed")
		return
	}
	ip := session.IP()
	if target := server.clients.Get(spec); target != nil {
		ip = target.ip
	} else if parsed := parseIPLiteral(spec); parsed != nil {
		ip = parsed
	}
	reason := "Banned"
	var duration time.Duration
	if len(msg.Params) > 1 {
		reason = msg.Params[len(msg.Params)-1]
	}
	server.dlines.AddIP(ip, duration, reason, reason, client.Nick())
	client.Notice(fmt.Sprintf("Added D-Line for %s", ip.String()))
}
