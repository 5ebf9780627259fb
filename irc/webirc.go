// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"net"
)

// webircHandler implements the WEBIRC gateway command: a trusted bouncer or
// web gateway connects from its own address and presents the real client's
// hostname/IP up front, authenticated by a shared password and restricted
// to a set of allowed source CIDRs (spec.md's supplemented WEBIRC feature).
// It must arrive before registration completes.
func webircHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	if client.IsRegistered() {
		return
	}

	password := msg.Params[0]
	gateway := msg.Params[1]
	hostname := msg.Params[2]
	ipStr := msg.Params[3]

	block := findWebircBlock(server.Config().Webirc.Blocks, gateway, password)
	if block == nil {
		return
	}

	sourceIP := session.IP()
	if !cidrsContain(block.AllowedCIDRs, sourceIP) {
		return
	}

	realIP := net.ParseIP(ipStr)
	if realIP == nil {
		return
	}

	session.proxiedIP = realIP
	session.rawHostname = hostname

	if block.TrustIdent {
		if username, ok := server.lookupIdent(session.conn); ok {
			client.mutex.Lock()
			client.username = username
			client.mutex.Unlock()
		}
	}
}

func findWebircBlock(blocks []WebircBlock, gateway, password string) *WebircBlock {
	for i := range blocks {
		if blocks[i].Name == gateway && blocks[i].SharedPassword == password {
			return &blocks[i]
		}
	}
	return nil
}

func cidrsContain(cidrs []string, ip net.IP) bool {
	if len(cidrs) == 0 {
		return true
	}
	for _, c := range cidrs {
		if _, network, err := net.ParseCIDR(c); err == nil && network.Contains(ip) {
			return true
		}
	}
	return false
}
