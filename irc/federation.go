// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"fmt"
	"sync"

	"github.com/oragono/ironhold/irc/ts6"
)

// Federation is the component F1 S2S integration layer: it owns the
// topology tree, the set of live direct connections, and the
// reconnect/netsplit bookkeeping described in spec.md §4.9-§4.13. Command
// handlers and the Broker reach federation features only through this type.
type Federation struct {
	server   *Server
	topology *ts6.Topology

	mutex   sync.RWMutex
	direct  map[string]ts6.Outbound // SID -> connection, direct links only
	reconn  *ts6.ReconnectState
}

func NewFederation(server *Server, topology *ts6.Topology) *Federation {
	return &Federation{
		server:   server,
		topology: topology,
		direct:   make(map[string]ts6.Outbound),
		reconn:   ts6.NewReconnectState(),
	}
}

// LocalSID returns this server's own SID.
func (f *Federation) LocalSID() string {
	return f.topology.LocalSID()
}

// Topology exposes the underlying graph for read-only queries (LINKS,
// STATS c, MAP).
func (f *Federation) Topology() *ts6.Topology {
	return f.topology
}

// AddDirectLink registers a newly-completed S2S handshake (spec.md §4.9
// step "Validation"), recording the peer both in the topology and the
// direct-connection table, then bursts our own state to it.
func (f *Federation) AddDirectLink(sid, name, description string, conn ts6.Outbound) error {
	err := f.topology.AddServer(ts6.LinkedServer{
		SID:         sid,
		Name:        name,
		Description: description,
		IsDirect:    true,
		Uplink:      f.topology.LocalSID(),
		HopCount:    1,
		Conn:        conn,
	})
	if err != nil {
		return err
	}

	f.mutex.Lock()
	f.direct[sid] = conn
	f.mutex.Unlock()

	f.reconn.Healed(name)
	f.server.metrics.FederationLinks.Inc()
	f.sendBurst(sid)
	return nil
}

// sendBurst plays a burst to the newly-linked peer identified by sid:
// SERVER lines, one SJOIN per local channel and ENCAP KLINE lines. It sends
// no UID lines, and the SJOIN member entries carry casefolded nicks, not UIDs.
func (f *Federation) sendBurst(toSID string) {
	conn, ok := f.direct[toSID]
	if !ok {
		return
	}

	for _, line := range ts6.EmitServers(f.topology.LocalSID(), f.topology.All(), toSID) {
		conn.SendLine(line)
	}

	for _, ch := range f.server.channels.Channels() {
		snap := ts6.ChannelSnapshot{
			Name:       ch.NameCasefolded(),
			CreationTS: ch.CreationTime().Unix(),
			ModeString: ch.ModeString(),
			MemberUIDs: make(map[string]string),
		}
		for _, member := range ch.Members() {
			snap.MemberUIDs[member.NickCasefolded()] = ch.ClientPrefixes(member, true)
		}
		conn.SendLine(ts6.EmitChannel(f.topology.LocalSID(), snap))
	}

	var bans []ts6.BanSnapshot
	if f.server.klines != nil {
		f.server.klines.mutex.RLock()
		for mask, info := range f.server.klines.masks {
			bans = append(bans, ts6.BanSnapshot{Kind: "KLINE", Pattern: mask, Reason: info.Reason})
		}
		f.server.klines.mutex.RUnlock()
	}
	for _, line := range ts6.EmitBans(f.topology.LocalSID(), bans) {
		conn.SendLine(line)
	}
}

// RelayExcept fans a line out to every direct link other than the one it
// arrived on, implementing the split-horizon invariant of spec.md §8.
// arrivedOnSID is "" for lines that originate locally.
func (f *Federation) RelayExcept(arrivedOnSID, line string) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	for sid, conn := range f.direct {
		if !ts6.ShouldForward(arrivedOnSID, sid) {
			continue
		}
		conn.SendLine(line)
	}
}

// SendTo relays a line to a single named destination server, following the
// routing table toward it (spec.md §4.12). Used for targeted ENCAP.
func (f *Federation) SendTo(destSID, line string) error {
	via, ok := f.topology.PathTo(destSID)
	if !ok {
		return fmt.Errorf("no route to server %s", destSID)
	}
	f.mutex.RLock()
	conn, ok := f.direct[via]
	f.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("no direct connection for route via %s", via)
	}
	return conn.SendLine(line)
}

// HandleEncap dispatches an inbound ENCAP line: forward it to whichever
// direct links should still see it, and apply it locally when addressed to
// us or broadcast.
func (f *Federation) HandleEncap(arrivedOnSID string, params []string, rawLine string) {
	f.RelayExcept(arrivedOnSID, rawLine)

	encap, ok := ts6.ParseEncap(params)
	if !ok || !encap.AppliesToSID(f.topology.LocalSID()) {
		return
	}

	switch encap.Subcmd {
	case "KLINE":
		if len(encap.Args) >= 1 {
			f.server.klines.AddMask(encap.Args[0], 0, lastArg(encap.Args), "remote")
		}
	case "UNKLINE":
		if len(encap.Args) >= 1 {
			f.server.klines.RemoveMask(encap.Args[0])
		}
	}
}

func lastArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

// LostLink handles an unexpected disconnection of a direct peer (spec.md
// §4.13 "Netsplit"): every server downstream of it is removed in
// deepest-first order and each one's users are quit with the conventional
// split message. No reconnection is scheduled; ts6.ReconnectState is not
// used here.
func (f *Federation) LostLink(sid string) {
	lost, ok := f.topology.Get(sid)
	if !ok {
		return
	}

	downstream := f.topology.Downstream(sid)
	quitMsg := ts6.SplitQuitMessage(f.server.name, lost.Name)

	for _, s := range downstream {
		for _, c := range f.server.clients.AllClients() {
			if c.remoteSID == s.SID {
				c.Quit(quitMsg, nil)
			}
		}
		f.topology.Remove(s.SID)
	}

	f.mutex.Lock()
	delete(f.direct, sid)
	f.mutex.Unlock()
	f.server.metrics.FederationLinks.Dec()
}

// Shutdown tears down every direct S2S connection, e.g. on server exit.
func (f *Federation) Shutdown() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	for sid, conn := range f.direct {
		conn.Close("server shutting down")
		delete(f.direct, sid)
	}
}
