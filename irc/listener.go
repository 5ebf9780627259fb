// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"crypto/tls"
	"errors"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oragono/ironhold/irc/utils"
)

var errCannotReloadTransport = errors.New("cannot reload a listener across a plaintext/TLS transport change")

// IRCListener is one bound address accepting client connections (component
// C, spec.md §2). Listeners can be reloaded in place on REHASH when the
// transport (plaintext or TLS) is unchanged, so existing accept loops
// survive a config swap; see Reload for what a reload affects.
type IRCListener interface {
	Reload(config utils.ListenerConfig) error
	Stop()
}

type listener struct {
	mutex    sync.RWMutex
	server   *Server
	addr     string
	config   utils.ListenerConfig
	listener net.Listener
	closed   chan struct{}
}

// NewListener binds addr and starts its accept loop in the background.
// addr beginning with "unix:" binds a Unix domain socket instead of TCP,
// using unixBindMode as its file permissions.
func NewListener(server *Server, addr string, config utils.ListenerConfig, unixBindMode os.FileMode) (IRCListener, error) {
	var nl net.Listener
	var err error

	if strings.HasPrefix(addr, "unix:") {
		path := strings.TrimPrefix(addr, "unix:")
		os.Remove(path)
		nl, err = net.Listen("unix", path)
		if err == nil {
			os.Chmod(path, unixBindMode)
		}
	} else if config.TLSConfig != nil {
		nl, err = tls.Listen("tcp", addr, config.TLSConfig)
	} else {
		nl, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	l := &listener{
		server:   server,
		addr:     addr,
		config:   config,
		listener: nl,
		closed:   make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.closed:
				return
			default:
				l.server.logger.Error("listeners", "accept error on", l.addr, err.Error())
				continue
			}
		}

		l.mutex.RLock()
		config := l.config
		l.mutex.RUnlock()

		go l.server.RunClient(conn, config)
	}
}

// Reload swaps in a new flag set without dropping the listening socket, so
// existing sessions on it are unaffected. The TLS handshake keeps using the
// tls.Config the socket was bound with; new TLS material takes no effect.
func (l *listener) Reload(config utils.ListenerConfig) error {
	if (config.TLSConfig == nil) != (l.config.TLSConfig == nil) {
		// switching plaintext<->TLS requires rebinding the socket
		return errCannotReloadTransport
	}
	l.mutex.Lock()
	l.config = config
	l.mutex.Unlock()
	return nil
}

func (l *listener) Stop() {
	close(l.closed)
	l.listener.Close()
}
