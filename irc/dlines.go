// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/oragono/ironhold/irc/store"
)

// DLineManager enforces IP/CIDR bans (component: bans, spec.md §4.9),
// checked on every new connection before registration even starts.
type DLineManager struct {
	mutex  sync.RWMutex
	ranges map[string]dlineEntry // CIDR string -> entry
	server *Server
}

type dlineEntry struct {
	net  *net.IPNet
	info BanInfo
}

func NewDLineManager(server *Server) *DLineManager {
	return &DLineManager{ranges: make(map[string]dlineEntry), server: server}
}

func (d *DLineManager) CheckIP(ip net.IP) (banned bool, info BanInfo) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	now := time.Now()
	for _, entry := range d.ranges {
		if !entry.info.ExpiresAt.IsZero() && now.After(entry.info.ExpiresAt) {
			continue
		}
		if entry.net.Contains(ip) {
			return true, entry.info
		}
	}
	return false, BanInfo{}
}

// AddIP bans exactly one address (a /32 or /128 network built from ip),
// used both by manual DLINE and by the automated connection throttler in
// Server.checkBans.
func (d *DLineManager) AddIP(ip net.IP, duration time.Duration, reason, operReason, operName string) {
	_, network, err := net.ParseCIDR(ip.String() + singleHostSuffix(ip))
	if err != nil {
		return
	}
	var expires time.Time
	if duration > 0 {
		expires = time.Now().Add(duration)
	}
	info := BanInfo{Reason: reason, OperName: operName, ExpiresAt: expires}
	d.mutex.Lock()
	d.ranges[network.String()] = dlineEntry{net: network, info: info}
	d.mutex.Unlock()

	if d.server != nil && d.server.store != nil {
		d.server.store.Bans().Put(context.Background(), store.ServerBan{
			Kind: store.ZLine, Pattern: network.String(), Reason: reason, SetBy: operName,
			SetAt: time.Now().UTC(), ExpiresAt: expires,
		})
	}
}

func (d *DLineManager) RemoveCIDR(cidr string) {
	d.mutex.Lock()
	delete(d.ranges, cidr)
	d.mutex.Unlock()
	if d.server != nil && d.server.store != nil {
		d.server.store.Bans().Delete(context.Background(), store.ZLine, cidr)
	}
}

func singleHostSuffix(ip net.IP) string {
	if ip.To4() != nil {
		return "/32"
	}
	return "/128"
}

func (server *Server) loadDLines() {
	server.dlines = NewDLineManager(server)
	if server.store == nil {
		return
	}
	bans, err := server.store.Bans().All(context.Background(), store.ZLine)
	if err != nil {
		return
	}
	for _, b := range bans {
		if b.Expired(time.Now()) {
			continue
		}
		if _, network, err := net.ParseCIDR(b.Pattern); err == nil {
			server.dlines.ranges[b.Pattern] = dlineEntry{
				net:  network,
				info: BanInfo{Reason: b.Reason, OperName: b.SetBy, ExpiresAt: b.ExpiresAt},
			}
		}
	}
}
