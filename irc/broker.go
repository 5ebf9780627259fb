// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "github.com/oragono/ironhold/irc/modes"

// Broker implements component H of spec.md §4.8: the routing/fanout layer
// that turns one incoming command into the set of sessions it must reach,
// deduplicating a client that's joined to a channel through several nicks
// is impossible (one nick per client), but deduplicating a client present
// via multiple sessions in the same channel (multiclient) is real and
// handled here.
type Broker struct {
	server *Server
}

func NewBroker(server *Server) *Broker {
	return &Broker{server: server}
}

// sendChannel relays a message to every member of ch, optionally skipping
// one client (the sender, for protocols where the sender doesn't echo
// unless they negotiated echo-message).
func (b *Broker) sendChannel(ch *Channel, skip *Client, tags map[string]string, source, command string, params ...string) {
	for _, member := range ch.Members() {
		if member == skip {
			continue
		}
		member.Send(tags, source, command, params...)
	}
}

// sendChannels relays to the union of several channels' memberships,
// sending each recipient exactly once even if they're in more than one of
// the given channels (used by e.g. a QUIT that touches several channels at
// once).
func (b *Broker) sendChannels(channels []*Channel, skip *Client, tags map[string]string, source, command string, params ...string) {
	seen := make(map[*Client]bool)
	if skip != nil {
		seen[skip] = true
	}
	for _, ch := range channels {
		for _, member := range ch.Members() {
			if seen[member] {
				continue
			}
			seen[member] = true
			member.Send(tags, source, command, params...)
		}
	}
}

// sendOperators relays a server-notice-class line (e.g. WALLOPS) to every
// local client with user mode +o; no snomask filtering is applied here.
func (b *Broker) sendOperators(tags map[string]string, source, command string, params ...string) {
	for _, c := range b.server.clients.AllClients() {
		if c.HasMode(modes.Operator) {
			c.Send(tags, source, command, params...)
		}
	}
}

// sendServer relays an S2S line to every direct link except the one the
// message arrived on (split-horizon, spec.md §4.14), delegating the actual
// write to the Federation layer.
func (b *Broker) sendServer(arrivedOnSID string, line string) {
	if b.server.federation != nil {
		b.server.federation.RelayExcept(arrivedOnSID, line)
	}
}

// broadcastQuit tells every channel a client was in, once each, that they
// quit.
func (b *Broker) broadcastQuit(c *Client, d ClientDetails, message string) {
	source := d.nick + "!" + d.username + "@" + d.hostname
	b.sendChannels(c.Channels(), c, nil, source, "QUIT", message)
}
