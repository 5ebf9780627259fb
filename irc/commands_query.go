// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"strings"
	"time"

	"github.com/oragono/ironhold/irc/caps"
	"github.com/oragono/ironhold/irc/modes"
)

func defaultWhoFields() WhoFields {
	var f WhoFields
	for _, r := range "cuhsnf" {
		f.Set(r)
	}
	return f
}

func whoHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if len(msg.Params) == 0 {
		rb.Add(nil, server.name, RPL_ENDOFWHO, client.Nick(), "*", "End of WHO list")
		return
	}
	mask := msg.Params[0]
	fields := defaultWhoFields()

	if ch := server.channels.Get(mask); ch != nil {
		for _, member := range ch.Members() {
			if member.HasMode(modes.Invisible) && !ch.hasClient(client) && !client.HasMode(modes.Operator) {
				continue
			}
			client.rplWhoReply(ch, member, rb, false, fields, "")
		}
		rb.Add(nil, server.name, RPL_ENDOFWHO, client.Nick(), mask, "End of WHO list")
		return
	}

	if target := server.clients.Get(mask); target != nil {
		client.rplWhoReply(nil, target, rb, false, fields, "")
	}
	rb.Add(nil, server.name, RPL_ENDOFWHO, client.Nick(), mask, "End of WHO list")
}

func whoisHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	masks := strings.Split(msg.Params[len(msg.Params)-1], ",")
	for _, mask := range masks {
		target := server.clients.Get(mask)
		if target == nil {
			rb.Add(nil, server.name, ERR_NOSUCHNICK, client.Nick(), mask, "No such nick/channel")
			continue
		}
		client.getWhoisOf(target, rb)
	}
	rb.Add(nil, server.name, RPL_ENDOFWHOIS, client.Nick(), msg.Params[len(msg.Params)-1], "End of WHOIS list")
}

func whowasHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	nick := msg.Params[0]
	cf, err := CasefoldName(nick)
	if err != nil {
		rb.Add(nil, server.name, ERR_NOSUCHNICK, client.Nick(), nick, "No such nick")
		rb.Add(nil, server.name, RPL_ENDOFWHOWAS, client.Nick(), nick, "End of WHOWAS")
		return
	}
	count := 0
	if len(msg.Params) > 1 {
		for _, r := range msg.Params[1] {
			if r < '0' || r > '9' {
				count = 0
				break
			}
			count = count*10 + int(r-'0')
		}
	}
	entries := server.whoWas.Find(cf, count)
	if len(entries) == 0 {
		rb.Add(nil, server.name, ERR_WASNOSUCHNICK, client.Nick(), nick, "There was no such nickname")
	}
	for _, e := range entries {
		rb.Add(nil, server.name, RPL_WHOWASUSER, client.Nick(), e.Nick, e.Username, e.Hostname, "*", e.Realname)
	}
	rb.Add(nil, server.name, RPL_ENDOFWHOWAS, client.Nick(), nick, "End of WHOWAS")
}

func isonHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	var online []string
	for _, arg := range msg.Params {
		for _, nick := range strings.Fields(arg) {
			if target := server.clients.Get(nick); target != nil {
				online = append(online, target.Nick())
			}
		}
	}
	rb.Add(nil, server.name, RPL_ISON, client.Nick(), strings.Join(online, " "))
}

func userhostHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	var replies []string
	for _, arg := range msg.Params {
		for _, nick := range strings.Fields(arg) {
			target := server.clients.Get(nick)
			if target == nil {
				continue
			}
			d := target.Details()
			away := "+"
			if target.Away() {
				away = "-"
			}
			oper := ""
			if target.HasMode(modes.Operator) {
				oper = "*"
			}
			replies = append(replies, d.nick+oper+"="+away+d.username+"@"+d.hostname)
		}
	}
	rb.Add(nil, server.name, RPL_USERHOST, client.Nick(), strings.Join(replies, " "))
}

func awayHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		client.SetAway("")
		rb.Add(nil, server.name, RPL_UNAWAY, client.Nick(), "You are no longer marked as being away")
		return
	}
	client.SetAway(msg.Params[0])
	rb.Add(nil, server.name, RPL_NOWAWAY, client.Nick(), "You have been marked as being away")
}

func motdHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	server.MOTD(client, rb)
}

func lusersHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	server.Lusers(client, rb)
}

func versionHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	rb.Add(nil, server.name, RPL_VERSION, client.Nick(), Ver, server.name, "ironhold ircd")
	server.RplISupport(client, rb)
}

func timeHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	rb.Add(nil, server.name, RPL_TIME, client.Nick(), server.name, time.Now().UTC().Format(time.RFC1123))
}

func monitorHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	subcommand := strings.ToUpper(msg.Params[0])
	switch subcommand {
	case "+":
		if len(msg.Params) < 2 {
			return
		}
		for _, nick := range strings.Split(msg.Params[1], ",") {
			cf, err := CasefoldName(nick)
			if err != nil {
				continue
			}
			if err := server.monitorManager.Add(client, cf); err != nil {
				rb.Add(nil, server.name, ERR_UNKNOWNCOMMAND, client.Nick(), "MONITOR", "Monitor list is full")
				break
			}
			if target := server.clients.Get(nick); target != nil {
				rb.Add(nil, server.name, RPL_MONONLINE, client.Nick(), target.Nick())
			} else {
				rb.Add(nil, server.name, RPL_MONOFFLINE, client.Nick(), nick)
			}
		}
	case "-":
		if len(msg.Params) < 2 {
			return
		}
		for _, nick := range strings.Split(msg.Params[1], ",") {
			if cf, err := CasefoldName(nick); err == nil {
				server.monitorManager.Remove(client, cf)
			}
		}
	case "C":
		server.monitorManager.RemoveAll(client)
	case "L":
		rb.Add(nil, server.name, RPL_MONLIST, client.Nick(), strings.Join(server.monitorManager.List(client), ","))
	case "S":
		rb.Add(nil, server.name, RPL_ENDOFMONLIST, client.Nick(), "End of MONITOR list")
	}
}

func setnameHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	client.mutex.Lock()
	client.realname = msg.Params[0]
	client.mutex.Unlock()
	if session.capabilities.Has(caps.SetName) {
		server.broker.sendChannels(client.Channels(), nil, nil, client.AllNickmasks()[0], "SETNAME", msg.Params[0])
	}
}
