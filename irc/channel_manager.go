// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"context"
	"sync"

	"github.com/oragono/ironhold/irc/store"
)

// ChannelManager is the registry of all live channels, keyed by casefolded
// name (component G's container, spec.md §4.6).
type ChannelManager struct {
	mutex    sync.RWMutex
	channels map[string]*Channel
	server   *Server
}

func (cm *ChannelManager) Initialize(server *Server) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.server = server
	if cm.channels == nil {
		cm.channels = make(map[string]*Channel)
	}
}

func (cm *ChannelManager) Get(name string) *Channel {
	cf, err := CasefoldChannel(name)
	if err != nil {
		return nil
	}
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.channels[cf]
}

func (cm *ChannelManager) Len() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.channels)
}

func (cm *ChannelManager) Channels() []*Channel {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	out := make([]*Channel, 0, len(cm.channels))
	for _, ch := range cm.channels {
		out = append(out, ch)
	}
	return out
}

// GetOrMake returns the channel, creating (and registering-in-memory) it if
// necessary; registered reflects whether a ChannelRegistry record already
// exists for this name.
func (cm *ChannelManager) GetOrMake(name string, registered bool) *Channel {
	cf, err := CasefoldChannel(name)
	if err != nil {
		return nil
	}
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	if ch, ok := cm.channels[cf]; ok {
		return ch
	}
	ch := NewChannel(cm.server, name, cf, registered)
	cm.channels[cf] = ch
	return ch
}

func (cm *ChannelManager) Remove(ch *Channel) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.channels, ch.nameCasefolded)
}

// loadRegisteredChannels seeds in-memory Channel objects for every
// registered channel, so they exist (empty of members) even before anyone
// joins, per spec.md §4.6's "registered channels persist across restarts"
// invariant. Only the founder and topic are restored from the stored
// record; modes and bans start empty.
func (cm *ChannelManager) loadRegisteredChannels(config *Config) {
	if cm.server == nil || cm.server.store == nil {
		return
	}
	records, err := cm.server.store.Channels().All(context.Background())
	if err != nil {
		return
	}
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	for _, rec := range records {
		if _, ok := cm.channels[rec.NameCasefolded]; ok {
			continue
		}
		ch := NewChannel(cm.server, rec.Name, rec.NameCasefolded, true)
		ch.founder = rec.FounderAccount
		ch.topic = rec.Topic
		cm.channels[rec.NameCasefolded] = ch
	}
}

// ChannelRegistry wraps the persistent store.ChannelRepository with the
// casefolding and founder/permission rules specific to CHANSERV REGISTER
// (component P + Q).
type ChannelRegistry struct {
	server *Server
}

func (reg *ChannelRegistry) Initialize(server *Server) {
	reg.server = server
}

func (reg *ChannelRegistry) Register(ctx context.Context, ch *Channel, founder string) error {
	rec := store.RegisteredChannel{
		Name:           ch.name,
		NameCasefolded: ch.nameCasefolded,
		FounderAccount: founder,
		RegisteredAt:   ch.createdAt,
		Topic:          ch.topic,
	}
	if err := reg.server.store.Channels().Put(ctx, rec); err != nil {
		return err
	}
	ch.mutex.Lock()
	ch.registered = true
	ch.founder = founder
	ch.mutex.Unlock()
	return nil
}

func (reg *ChannelRegistry) Unregister(ctx context.Context, nameCasefolded string) error {
	return reg.server.store.Channels().Delete(ctx, nameCasefolded)
}
