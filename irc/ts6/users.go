// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import (
	"sync"
	"time"
)

// RemoteUser mirrors spec.md §3: a user whose origin is another server.
type RemoteUser struct {
	UID          string
	SID          string
	Nick         string
	User         string
	Host         string
	VHost        string
	Modes        string
	Account      string
	Realname     string
	IntroducedTS int64
	IsService    bool // exempt from netsplit cascade and QUIT propagation
}

// RemoteUserRegistry indexes remote users by UID and by casefolded nick,
// the secondary-index pattern spec.md §9 prescribes for the local Session
// table, mirrored here for the federation side.
type RemoteUserRegistry struct {
	mutex    sync.RWMutex
	byUID    map[string]*RemoteUser
	byNick   map[string]string // casefolded nick -> UID
	casefold func(string) string
}

func NewRemoteUserRegistry(casefold func(string) string) *RemoteUserRegistry {
	return &RemoteUserRegistry{
		byUID:    make(map[string]*RemoteUser),
		byNick:   make(map[string]string),
		casefold: casefold,
	}
}

func (r *RemoteUserRegistry) Add(u RemoteUser) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	cp := u
	r.byUID[u.UID] = &cp
	r.byNick[r.casefold(u.Nick)] = u.UID
}

func (r *RemoteUserRegistry) Remove(uid string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if u, ok := r.byUID[uid]; ok {
		delete(r.byNick, r.casefold(u.Nick))
		delete(r.byUID, uid)
	}
}

func (r *RemoteUserRegistry) Get(uid string) (RemoteUser, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	u, ok := r.byUID[uid]
	if !ok {
		return RemoteUser{}, false
	}
	return *u, true
}

func (r *RemoteUserRegistry) GetByNick(nick string) (RemoteUser, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	uid, ok := r.byNick[r.casefold(nick)]
	if !ok {
		return RemoteUser{}, false
	}
	return *r.byUID[uid], true
}

// Rename updates the nick index after a NICK change, returning the UID
// that previously held newNick, if any (for collision detection,
// spec.md §4.11).
func (r *RemoteUserRegistry) Rename(uid, newNick string, newTS int64) (collidingUID string, hadCollision bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	folded := r.casefold(newNick)
	if existingUID, exists := r.byNick[folded]; exists && existingUID != uid {
		collidingUID = existingUID
		hadCollision = true
	}

	u, ok := r.byUID[uid]
	if !ok {
		return
	}
	delete(r.byNick, r.casefold(u.Nick))
	u.Nick = newNick
	u.IntroducedTS = newTS
	r.byNick[folded] = uid
	return
}

// RemoveAllFromServer removes every remote user whose origin SID is one of
// lostSIDs (spec.md §4.13 step 2), returning the removed set so the caller
// can synthesize QUITs for them.
func (r *RemoteUserRegistry) RemoveAllFromServer(lostSIDs map[string]bool) []RemoteUser {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var removed []RemoteUser
	for uid, u := range r.byUID {
		if u.IsService {
			continue
		}
		if lostSIDs[u.SID] {
			removed = append(removed, *u)
			delete(r.byNick, r.casefold(u.Nick))
			delete(r.byUID, uid)
		}
	}
	return removed
}

func (r *RemoteUserRegistry) All() []RemoteUser {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]RemoteUser, 0, len(r.byUID))
	for _, u := range r.byUID {
		out = append(out, *u)
	}
	return out
}

// Now is split out so tests can stub introduction timestamps deterministically.
var Now = func() int64 { return time.Now().Unix() }
