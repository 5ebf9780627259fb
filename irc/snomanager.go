// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"sync"

	"github.com/oragono/ironhold/irc/sno"
)

// SnoManager fans out server-notice lines (component: snomasks) to every
// operator who's subscribed to the relevant mask via user mode +s and a
// per-client mask set (snomask, the 'n' in "+sn +c").
type SnoManager struct {
	mutex       sync.RWMutex
	subscribers map[sno.Mask]map[*Client]bool
}

func (m *SnoManager) Initialize() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.subscribers = make(map[sno.Mask]map[*Client]bool)
	for _, mask := range sno.ValidMasks() {
		m.subscribers[mask] = make(map[*Client]bool)
	}
}

func (m *SnoManager) Subscribe(c *Client, mask sno.Mask) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.subscribers[mask] == nil {
		m.subscribers[mask] = make(map[*Client]bool)
	}
	m.subscribers[mask][c] = true
}

func (m *SnoManager) Unsubscribe(c *Client, mask sno.Mask) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.subscribers[mask], c)
}

func (m *SnoManager) UnsubscribeAll(c *Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, subs := range m.subscribers {
		delete(subs, c)
	}
}

// Send delivers line to every operator subscribed to mask, as a NOTICE from
// the server.
func (m *SnoManager) Send(mask sno.Mask, line string) {
	m.mutex.RLock()
	recipients := make([]*Client, 0, len(m.subscribers[mask]))
	for c := range m.subscribers[mask] {
		recipients = append(recipients, c)
	}
	m.mutex.RUnlock()

	for _, c := range recipients {
		c.Send(nil, c.server.name, "NOTICE", c.Nick(), "*** "+line)
	}
}
