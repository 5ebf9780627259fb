// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oragono/ironhold/irc/store"
)

// BanInfo is the in-memory, render-ready view of one active ban, shared by
// KLineManager and DLineManager.
type BanInfo struct {
	Reason    string
	OperName  string
	ExpiresAt time.Time
}

func (b BanInfo) BanMessage(format string) string {
	reason := b.Reason
	if !b.ExpiresAt.IsZero() {
		reason = fmt.Sprintf("%s [expires %s]", reason, b.ExpiresAt.UTC().Format(time.RFC1123))
	}
	return fmt.Sprintf(format, reason)
}

// KLineManager enforces nick!user@host mask bans (component: bans, spec.md
// §4.9), checked against AllNickmasks() at registration time.
type KLineManager struct {
	mutex sync.RWMutex
	masks map[string]BanInfo
	server *Server
}

func NewKLineManager(server *Server) *KLineManager {
	return &KLineManager{masks: make(map[string]BanInfo), server: server}
}

func (k *KLineManager) CheckMasks(candidates ...string) (banned bool, info BanInfo) {
	k.mutex.RLock()
	defer k.mutex.RUnlock()
	for pattern, b := range k.masks {
		if b.ExpiresAt.After(time.Time{}) && time.Now().After(b.ExpiresAt) {
			continue
		}
		for _, candidate := range candidates {
			if maskMatches(pattern, candidate) {
				return true, b
			}
		}
	}
	return false, BanInfo{}
}

func (k *KLineManager) AddMask(pattern string, duration time.Duration, reason, operName string) {
	var expires time.Time
	if duration > 0 {
		expires = time.Now().Add(duration)
	}
	info := BanInfo{Reason: reason, OperName: operName, ExpiresAt: expires}
	k.mutex.Lock()
	k.masks[pattern] = info
	k.mutex.Unlock()

	if k.server != nil && k.server.store != nil {
		k.server.store.Bans().Put(context.Background(), store.ServerBan{
			Kind: store.KLine, Pattern: pattern, Reason: reason, SetBy: operName,
			SetAt: time.Now().UTC(), ExpiresAt: expires,
		})
	}
}

func (k *KLineManager) RemoveMask(pattern string) {
	k.mutex.Lock()
	delete(k.masks, pattern)
	k.mutex.Unlock()
	if k.server != nil && k.server.store != nil {
		k.server.store.Bans().Delete(context.Background(), store.KLine, pattern)
	}
}

func (server *Server) loadKLines() {
	server.klines = NewKLineManager(server)
	if server.store == nil {
		return
	}
	bans, err := server.store.Bans().All(context.Background(), store.KLine)
	if err != nil {
		return
	}
	for _, b := range bans {
		if b.Expired(time.Now()) {
			continue
		}
		server.klines.masks[b.Pattern] = BanInfo{Reason: b.Reason, OperName: b.SetBy, ExpiresAt: b.ExpiresAt}
	}
}

// maskMatches does glob-style (*, ?) matching of a nick!user@host pattern
// against a candidate nick!user@host string, the same shape RFC 1459
// extended bans use.
func maskMatches(pattern, candidate string) bool {
	pattern = strings.ToLower(pattern)
	candidate = strings.ToLower(candidate)
	return globMatch(pattern, candidate)
}

func globMatch(pattern, s string) bool {
	// classic recursive glob matcher supporting '*' and '?'
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		for i := 0; i <= len(s); i++ {
			if globMatch(pattern[1:], s[i:]) {
				return true
			}
		}
		return false
	case '?':
		if len(s) == 0 {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	default:
		if len(s) == 0 || s[0] != pattern[0] {
			return false
		}
		return globMatch(pattern[1:], s[1:])
	}
}
