// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oragono/ironhold/irc/utils"
)

var connIDCounter uint64

func nextConnID() string {
	return strconv.FormatUint(atomic.AddUint64(&connIDCounter, 1), 36)
}

// RunClient is the accept-loop entry point for one freshly-accepted
// connection (component C, spec.md §4.3 "Connection setup"): it applies
// ban/throttle checks, wraps the transport (PROXY protocol, WebSocket),
// then hands off to Session/Client and starts the read loop.
func (server *Server) RunClient(conn net.Conn, lc utils.ListenerConfig) {
	ipaddr := tcpIP(conn.RemoteAddr())

	if lc.Tor {
		if banned, msg := server.checkTorLimits(); banned {
			writeErrorAndClose(conn, msg)
			return
		}
	} else if banned, msg := server.checkBans(ipaddr); banned {
		writeErrorAndClose(conn, msg)
		return
	}

	if lc.RequireProxy {
		proxied, err := readProxyHeader(conn)
		if err != nil {
			writeErrorAndClose(conn, "PROXY protocol header required")
			return
		}
		ipaddr = proxied
	}

	if lc.WebSocket {
		upgraded, err := upgradeWebSocket(conn, lc)
		if err != nil {
			conn.Close()
			return
		}
		conn = upgraded
	}

	_, isTLS := conn.(*tls.Conn)

	session := NewSession(conn, isTLS)
	session.connID = nextConnID()
	if lc.RequireProxy {
		session.proxiedIP = ipaddr
	}
	client := NewClient(server, session)
	client.ip = ipaddr

	go session.writeLoop()
	server.stats.AddUnknown(1)
	server.metrics.ConnectionsTotal.Inc()

	server.readLoop(client, session, lc)
}

func tcpIP(addr net.Addr) net.IP {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return net.IPv4zero
}

func writeErrorAndClose(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	fmt.Fprintf(conn, "ERROR :%s\r\n", message)
	conn.Close()
}

// readLoop frames and dispatches every line sent by the client until the
// connection closes, at which point it quits the client exactly once.
func (server *Server) readLoop(client *Client, session *Session, lc utils.ListenerConfig) {
	framer := NewLineFramer(session.conn, MaxClientLineLen, server.logger, "readloop")

	defer func() {
		server.stats.AddUnknown(-1)
		if !client.IsRegistered() {
			session.destroy("connection closed")
			return
		}
		client.Quit("Connection closed", session)
	}()

	for {
		line, ok := framer.Next()
		if !ok {
			return
		}
		session.touchActivity()

		msg, ok := ParseLine(line, MaxClientLineLen)
		if !ok {
			continue
		}

		server.dispatch(client, session, msg)

		select {
		case <-session.closed:
			return
		default:
		}
	}
}

// readProxyHeader parses a PROXY protocol v1 header
// ("PROXY TCP4 <src> <dst> <srcport> <dstport>\r\n"), the minimal subset
// needed behind a local load balancer (spec.md §4.3's proxy-trust note). No
// pack example carries a PROXY protocol library, so this hand-rolled
// parser is the documented stdlib fallback (see DESIGN.md).
func readProxyHeader(conn net.Conn) (net.IP, error) {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) < 3 || fields[0] != "PROXY" {
		return nil, fmt.Errorf("malformed PROXY header")
	}
	ip := net.ParseIP(fields[2])
	if ip == nil {
		return nil, fmt.Errorf("malformed PROXY source address")
	}
	return ip, nil
}

var websocketUpgrader = websocket.Upgrader{
	Subprotocols:    []string{"text.ircv3.net", "binary.ircv3.net"},
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// upgradeWebSocket performs the HTTP Upgrade handshake over an already-
// accepted TCP (or TLS) connection and returns a net.Conn view of the
// resulting WebSocket, so the rest of the server (framer, Session) never
// needs to know the transport wasn't raw TCP.
func upgradeWebSocket(conn net.Conn, lc utils.ListenerConfig) (net.Conn, error) {
	var upgradeErr error
	var wsConnRef *websocket.Conn

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConnRef, upgradeErr = websocketUpgrader.Upgrade(w, r, nil)
	})

	server := &http.Server{}
	go func() {
		server.Serve(&singleConnListener{conn: conn})
	}()

	// the single-use listener's Accept() hands the handler our conn exactly
	// once; Upgrade happens synchronously within that request.
	mux := http.NewServeMux()
	mux.HandleFunc(lc.WebSocketPath, handler.ServeHTTP)
	server.Handler = mux

	deadline := time.Now().Add(10 * time.Second)
	for wsConnRef == nil && upgradeErr == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if upgradeErr != nil {
		return nil, upgradeErr
	}
	if wsConnRef == nil {
		return nil, fmt.Errorf("websocket upgrade timed out")
	}
	return &wsConn{Conn: wsConnRef}, nil
}

// singleConnListener adapts one already-accepted net.Conn into a
// net.Listener that yields it exactly once, so http.Server can run its
// normal request-parsing/Upgrade path on a connection we accepted
// ourselves (spec.md §4.3's WebSocket transport).
type singleConnListener struct {
	conn net.Conn
	used bool
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	if l.used {
		return nil, errSingleConnListenerExhausted
	}
	l.used = true
	return l.conn, nil
}
func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }

var errSingleConnListenerExhausted = fmt.Errorf("singleConnListener: connection already served")

// wsConn adapts a gorilla/websocket text-message connection to net.Conn,
// so the line framer can treat it like any other stream.
type wsConn struct {
	*websocket.Conn
	reader []byte
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.reader) == 0 {
		_, data, err := w.Conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.reader = append(data, '\n')
	}
	n := copy(p, w.reader)
	w.reader = w.reader[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.Conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) SetDeadline(t time.Time) error {
	w.Conn.SetReadDeadline(t)
	return w.Conn.SetWriteDeadline(t)
}
