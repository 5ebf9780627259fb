// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import (
	"fmt"
	"sync"
)

// LinkedServer is one node of the topology tree (spec.md §3).
type LinkedServer struct {
	SID         string
	Name        string
	Description string
	IsDirect    bool
	Uplink      string // SID of the parent; empty for the local server
	HopCount    uint8
	Conn        Outbound // non-nil only when IsDirect
}

// Outbound is the minimal send interface a direct S2S connection exposes to
// the link manager; the concrete type lives in the irc package.
type Outbound interface {
	SendLine(line string) error
	Close(reason string)
}

// Topology is the single-writer-lock, BFS-cascade-friendly server graph of
// spec.md §9 "Federation topology": map<SID, LinkedServer> plus a
// name->SID secondary index. It is always a tree rooted at localSID.
type Topology struct {
	mutex    sync.RWMutex
	localSID string
	byID     map[string]*LinkedServer
	byName   map[string]string // casefolded name -> SID
}

func NewTopology(localSID, localName, description string) *Topology {
	t := &Topology{
		localSID: localSID,
		byID:     make(map[string]*LinkedServer),
		byName:   make(map[string]string),
	}
	t.byID[localSID] = &LinkedServer{SID: localSID, Name: localName, Description: description}
	t.byName[foldServerName(localName)] = localSID
	return t
}

func foldServerName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

var (
	ErrAlreadyLinked = fmt.Errorf("server is already present in the topology")
	ErrUnknownUplink = fmt.Errorf("uplink SID is not in the topology")
)

// AddServer registers a newly introduced server (direct, from SERVER; or
// learned transitively, from a peer's SERVER burst line).
func (t *Topology) AddServer(s LinkedServer) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, exists := t.byID[s.SID]; exists {
		return ErrAlreadyLinked
	}
	if _, exists := t.byName[foldServerName(s.Name)]; exists {
		return ErrAlreadyLinked
	}
	if s.Uplink != "" {
		if _, ok := t.byID[s.Uplink]; !ok {
			return ErrUnknownUplink
		}
	}

	cp := s
	t.byID[s.SID] = &cp
	t.byName[foldServerName(s.Name)] = s.SID
	return nil
}

func (t *Topology) Get(sid string) (LinkedServer, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	s, ok := t.byID[sid]
	if !ok {
		return LinkedServer{}, false
	}
	return *s, true
}

func (t *Topology) GetByName(name string) (LinkedServer, bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	sid, ok := t.byName[foldServerName(name)]
	if !ok {
		return LinkedServer{}, false
	}
	return *t.byID[sid], true
}

func (t *Topology) LocalSID() string {
	return t.localSID
}

// All returns a snapshot of every known server (spec.md §5 "reads use a
// snapshot view").
func (t *Topology) All() []LinkedServer {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	out := make([]LinkedServer, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, *s)
	}
	return out
}

// DirectLinks returns every server reached over our own S2S connections.
func (t *Topology) DirectLinks() []LinkedServer {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	var out []LinkedServer
	for _, s := range t.byID {
		if s.IsDirect {
			out = append(out, *s)
		}
	}
	return out
}

// Downstream does a BFS from lostSID (spec.md §9: "never recurse across
// arbitrary depth on a locked structure") and returns every server whose
// uplink path passes through it, lostSID included, in removal order
// (deepest first, so children are always removed before their parents).
func (t *Topology) Downstream(lostSID string) []LinkedServer {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	children := make(map[string][]string)
	for sid, s := range t.byID {
		if s.Uplink != "" {
			children[s.Uplink] = append(children[s.Uplink], sid)
		}
	}

	var layers [][]string
	frontier := []string{lostSID}
	for len(frontier) > 0 {
		layers = append(layers, frontier)
		var next []string
		for _, sid := range frontier {
			next = append(next, children[sid]...)
		}
		frontier = next
	}

	var out []LinkedServer
	for i := len(layers) - 1; i >= 0; i-- {
		for _, sid := range layers[i] {
			if s, ok := t.byID[sid]; ok {
				out = append(out, *s)
			}
		}
	}
	return out
}

// Remove deletes sid from the topology. Callers remove a Downstream() set
// in the order returned so no server is removed before its children.
func (t *Topology) Remove(sid string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if s, ok := t.byID[sid]; ok {
		delete(t.byName, foldServerName(s.Name))
		delete(t.byID, sid)
	}
}

// PathTo returns the SID of the direct link leading toward dest from the
// local server (for message routing, spec.md §4.12), by walking up dest's
// uplink chain until it reaches a server whose uplink is the local SID.
func (t *Topology) PathTo(dest string) (viaSID string, ok bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	cur, exists := t.byID[dest]
	if !exists {
		return "", false
	}
	for cur.Uplink != t.localSID {
		parent, exists := t.byID[cur.Uplink]
		if !exists {
			return "", false
		}
		cur = parent
	}
	return cur.SID, true
}
