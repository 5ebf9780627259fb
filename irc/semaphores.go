// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

// ServerSemaphores bounds concurrency for operations that would otherwise
// let one burst of clients exhaust file descriptors or goroutines, e.g.
// concurrent DNS/ident lookups (spec.md §5's resource-bounding note).
type ServerSemaphores struct {
	identLookups chan struct{}
	dnsLookups   chan struct{}
}

const (
	maxConcurrentIdentLookups = 64
	maxConcurrentDNSLookups   = 64
)

func (s *ServerSemaphores) Initialize() {
	s.identLookups = make(chan struct{}, maxConcurrentIdentLookups)
	s.dnsLookups = make(chan struct{}, maxConcurrentDNSLookups)
}

func (s *ServerSemaphores) AcquireIdent() func() {
	s.identLookups <- struct{}{}
	return func() { <-s.identLookups }
}

func (s *ServerSemaphores) AcquireDNS() func() {
	s.dnsLookups <- struct{}{}
	return func() { <-s.dnsLookups }
}
