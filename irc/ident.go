// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"net"
	"time"

	ident "github.com/oragono/go-ident"
)

const identTimeout = 1500 * time.Millisecond

// lookupIdent performs an RFC 1413 ident query against the peer on the
// other end of conn (spec.md's supplemented ident-before-WEBIRC feature),
// bounded by the server's concurrent-ident semaphore so a slow or
// adversarial remote ident daemon can't pin down unbounded goroutines.
func (server *Server) lookupIdent(conn net.Conn) (username string, ok bool) {
	release := server.semaphores.AcquireIdent()
	defer release()

	resp, err := ident.Query(conn, identTimeout)
	if err != nil || resp == nil {
		return "", false
	}
	return resp.Identifier, true
}
