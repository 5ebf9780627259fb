// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"sync"

	"github.com/oragono/ironhold/irc/caps"
)

// ClientManager is the registry of every locally-connected Client, keyed by
// casefolded nick (component E's container).
type ClientManager struct {
	mutex           sync.RWMutex
	byNickCasefolded map[string]*Client
}

func (cm *ClientManager) Initialize() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if cm.byNickCasefolded == nil {
		cm.byNickCasefolded = make(map[string]*Client)
	}
}

func (cm *ClientManager) Get(nick string) *Client {
	cf, err := CasefoldName(nick)
	if err != nil {
		return nil
	}
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.byNickCasefolded[cf]
}

func (cm *ClientManager) AllClients() []*Client {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	out := make([]*Client, 0, len(cm.byNickCasefolded))
	seen := make(map[*Client]bool, len(cm.byNickCasefolded))
	for _, c := range cm.byNickCasefolded {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// AllWithCapsNotify returns every session that negotiated cap-notify, so a
// REHASH-driven capability change can be pushed to them (spec.md §4.4).
func (cm *ClientManager) AllWithCapsNotify() []*Session {
	var out []*Session
	for _, c := range cm.AllClients() {
		for _, s := range c.Sessions() {
			if s.capabilities.Has(caps.CapNotify) {
				out = append(out, s)
			}
		}
	}
	return out
}

// Bind registers a client's nick in the index; it's the caller's job
// (performNickChange) to have already reserved cf via the registration
// throttle / nick-in-use check.
func (cm *ClientManager) Bind(cf string, c *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.byNickCasefolded[cf] = c
}

func (cm *ClientManager) Unbind(cf string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.byNickCasefolded, cf)
}

func (cm *ClientManager) Remove(c *Client) {
	cf := c.NickCasefolded()
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if cm.byNickCasefolded[cf] == c {
		delete(cm.byNickCasefolded, cf)
	}
}
