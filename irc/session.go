// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oragono/ironhold/irc/caps"
)

// SaslState tracks the AUTHENTICATE state machine (component J, spec.md §4.5).
type SaslState struct {
	InProgress bool
	Mechanism  string
	Value      []byte
}

// ResumeDetails carries the parsed content of a RESUME line (IRCv3
// draft/resume, spec.md's supplemented session-resume feature) until
// tryResume can act on it.
type ResumeDetails struct {
	PresentedToken string
	Timestamp      time.Time
}

// Session is one physical connection. A registered Client can have multiple
// concurrent Sessions (multiclient/always-on, spec.md §4.3/§9).
type Session struct {
	connID string

	client *Client

	conn      net.Conn
	isTLS     bool
	certfp    string
	proxiedIP net.IP

	capState    caps.NegotiationState
	capVersion  caps.Version
	capabilities caps.Set

	sasl SaslState

	resumeDetails *ResumeDetails

	rawHostname string

	registeredAt time.Time
	lastActive   int64 // unix seconds, atomic

	sendQueue chan outboundLine
	closeOnce sync.Once
	closed    chan struct{}

	currentLabelVal string
	batchCounter    uint32

	fakelag *fakelagState
}

type outboundLine struct {
	data []byte
}

func NewSession(conn net.Conn, isTLS bool) *Session {
	return &Session{
		conn:      conn,
		isTLS:     isTLS,
		capState:  caps.NoNegotiation,
		capVersion: caps.Cap301,
		capabilities: caps.NewSet(),
		sendQueue: make(chan outboundLine, 256),
		closed:    make(chan struct{}),
		registeredAt: time.Now().UTC(),
		fakelag:   newFakelagState(),
	}
}

// IP returns the address the client actually connected from (post-proxy,
// post-WEBIRC if trusted).
func (session *Session) IP() net.IP {
	if session.proxiedIP != nil {
		return session.proxiedIP
	}
	if tcpAddr, ok := session.conn.RemoteAddr().(*net.TCPAddr); ok {
		return tcpAddr.IP
	}
	host, _, err := net.SplitHostPort(session.conn.RemoteAddr().String())
	if err == nil {
		return net.ParseIP(host)
	}
	return net.IPv4zero
}

func (session *Session) currentLabel() string {
	return session.currentLabelVal
}

func (session *Session) SetLabel(label string) {
	session.currentLabelVal = label
}

func (session *Session) nextBatchName() string {
	n := atomic.AddUint32(&session.batchCounter, 1)
	return fmt.Sprintf("ih-%s-%d", session.connID, n)
}

func (session *Session) sendBatchStart(name, batchType string) {
	session.sendRaw(nil, session.client.server.name, "BATCH", []string{"+" + name, batchType}, true)
}

func (session *Session) sendBatchEnd(name string) {
	session.sendRaw(nil, session.client.server.name, "BATCH", []string{"-" + name}, true)
}

// Send renders and queues one line for delivery, honoring backpressure.
func (session *Session) Send(tags map[string]string, source, command string, params ...string) error {
	return session.sendRaw(tags, source, command, params, true)
}

func (session *Session) sendRaw(tags map[string]string, source, command string, params []string, blocking bool) error {
	line, err := RenderLine(tags, source, command, params...)
	if err != nil {
		return err
	}
	out := outboundLine{data: []byte(line)}
	if blocking {
		select {
		case session.sendQueue <- out:
			return nil
		case <-session.closed:
			return net.ErrClosed
		}
	}
	select {
	case session.sendQueue <- out:
		return nil
	default:
		// SendQ overflow: drop the connection rather than let one slow
		// reader back up the whole server (spec.md §5's backpressure note).
		go session.destroy("SendQ exceeded")
		return net.ErrClosed
	}
}

func (session *Session) destroy(reason string) {
	session.closeOnce.Do(func() {
		close(session.closed)
		session.conn.Close()
	})
}

// writeLoop drains sendQueue onto the wire; it is the sole writer of
// session.conn, so sends never interleave.
func (session *Session) writeLoop() {
	for {
		select {
		case out := <-session.sendQueue:
			if _, err := session.conn.Write(out.data); err != nil {
				session.destroy(err.Error())
				return
			}
		case <-session.closed:
			return
		}
	}
}

func (session *Session) touchActivity() {
	atomic.StoreInt64(&session.lastActive, time.Now().Unix())
}

func (session *Session) idleSeconds() int64 {
	last := atomic.LoadInt64(&session.lastActive)
	if last == 0 {
		return 0
	}
	return time.Now().Unix() - last
}

// tryResume attempts to reattach this session to an existing always-on
// client using the signed token in resumeDetails (spec.md's supplemented
// resume feature, backed by irc/resume.go's JWT issuance).
func (session *Session) tryResume() {
	details := session.resumeDetails
	session.resumeDetails = nil
	if details == nil {
		return
	}
	server := session.client.server
	target, err := server.resumeManager.VerifyToken(details.PresentedToken)
	if err != nil {
		session.Send(nil, server.name, "FAIL", "RESUME", "INVALID_TOKEN", "Resume token invalid or expired")
		return
	}
	if session.isTLS != target.lastSessionWasTLS() && !target.AllowInsecureReattach() {
		session.Send(nil, server.name, "FAIL", "RESUME", "INSECURE", "Cannot resume an encrypted session over a plaintext connection")
		return
	}
	target.addSession(session)
	session.client = target
	session.Send(nil, server.name, "RESUME", "SUCCESS", target.Nick())
}

func (session *Session) tlsConnectionState() *tls.ConnectionState {
	tlsConn, ok := session.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tlsConn.ConnectionState()
	return &state
}

// fakelagState tracks the token-bucket rate limiter state for one session
// (component D, spec.md §4.4's fakelag/penalty mechanism), independent of
// the IP-level connection_limits throttle.
type fakelagState struct {
	mu        sync.Mutex
	penalty   time.Duration
	lastTouch time.Time
}

func newFakelagState() *fakelagState {
	return &fakelagState{}
}

const (
	fakelagCost    = 300 * time.Millisecond
	fakelagMax     = 5 * time.Second
	fakelagExempt1 = "PING"
	fakelagExempt2 = "PONG"
)

// throttle blocks the calling goroutine (the client's own read loop, so it
// only ever delays that one client) when it's sent messages faster than
// fakelagCost apart, per spec.md §4.4's fakelag mechanism. The penalty
// drains in real time between calls, so a client that pauses catches back
// up without being penalized for its burst later.
func (f *fakelagState) throttle(command string) {
	switch command {
	case fakelagExempt1, fakelagExempt2, "CAP", "AUTHENTICATE":
		return
	}

	f.mu.Lock()
	now := time.Now()
	if !f.lastTouch.IsZero() {
		elapsed := now.Sub(f.lastTouch)
		f.penalty -= elapsed
		if f.penalty < 0 {
			f.penalty = 0
		}
	}
	f.lastTouch = now
	f.penalty += fakelagCost
	overage := f.penalty - fakelagMax
	f.mu.Unlock()

	if overage > 0 {
		time.Sleep(overage)
	}
}
