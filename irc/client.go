// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oragono/ironhold/irc/history"
	"github.com/oragono/ironhold/irc/modes"
)

// authOutcome is the result of checking PASS/SASL requirements during
// registration (component E, spec.md §4.3).
type authOutcome uint

const (
	authSuccess authOutcome = iota
	authFailPass
	authFailSaslRequired
	authFailTorSaslRequired
)

// OperInfo describes the operator class a client has OPER'd up to.
type OperInfo struct {
	Name      string
	WhoisLine string
	Vhost     string
}

// ClientDetails is a consistent point-in-time snapshot of the identity
// fields that get embedded in numerics, so a WHOIS reply can't show a nick
// from before a concurrent NICK change and a hostname from after it.
type ClientDetails struct {
	nick        string
	nickCasefolded string
	username    string
	realname    string
	hostname    string
	accountName string
}

// Client is one registered (or registering) identity; it may have several
// concurrently attached Sessions (multiclient, spec.md §4.3/§9).
type Client struct {
	mutex sync.RWMutex

	server *Server

	nick           string
	nickCasefolded string
	username       string
	realname       string
	preregNick     string

	accountName string // "*" if not logged in

	modeSet modes.ModeSet

	channels map[string]*Channel

	sessions []*Session

	history history.Buffer

	awayMessage string
	isAway      bool

	operInfo *OperInfo

	registered   bool
	signonTime   int64
	isSTSOnly    bool
	alwaysOn     bool

	ip net.IP

	registerThrottleKey string

	// remoteSID is "" for a client registered on this server, or the SID
	// that introduced it via UID otherwise (spec.md §4.10 step 2).
	remoteSID string
}

// IsLocal reports whether this client is directly connected to this server
// rather than introduced by a federation peer.
func (client *Client) IsLocal() bool {
	client.mutex.RLock()
	defer client.mutex.RUnlock()
	return client.remoteSID == ""
}

// RemoteSID returns the SID that introduced this client via UID, or "" for
// a client registered directly on this server.
func (client *Client) RemoteSID() string {
	client.mutex.RLock()
	defer client.mutex.RUnlock()
	return client.remoteSID
}

// NewClient creates an unregistered client attached to one session.
func NewClient(server *Server, session *Session) *Client {
	c := &Client{
		server:      server,
		accountName: "*",
		modeSet:     make(modes.ModeSet),
		channels:    make(map[string]*Channel),
		sessions:    []*Session{session},
		signonTime:  time.Now().Unix(),
	}
	c.history = *history.NewBuffer(server.Config().History.ClientLength)
	session.client = c
	return c
}

func (c *Client) Nick() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.nick == "" {
		return "*"
	}
	return c.nick
}

func (c *Client) NickCasefolded() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.nickCasefolded
}

func (c *Client) Details() (d ClientDetails) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	d.nick = c.nick
	if d.nick == "" {
		d.nick = "*"
	}
	d.nickCasefolded = c.nickCasefolded
	d.username = c.username
	d.realname = c.realname
	d.hostname = c.RawHostnameLocked()
	d.accountName = c.accountName
	return
}

// RawHostnameLocked must be called with c.mutex held (read or write).
func (c *Client) RawHostnameLocked() string {
	for _, s := range c.sessions {
		if s.rawHostname != "" {
			return s.rawHostname
		}
	}
	return "unknown"
}

func (c *Client) RawHostname() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.RawHostnameLocked()
}

func (c *Client) IPString() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if c.ip == nil {
		return "0.0.0.0"
	}
	return c.ip.String()
}

func (c *Client) Sessions() []*Session {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]*Session, len(c.sessions))
	copy(out, c.sessions)
	return out
}

func (c *Client) addSession(session *Session) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.sessions = append(c.sessions, session)
}

func (c *Client) removeSession(session *Session) (remaining int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for i, s := range c.sessions {
		if s == session {
			c.sessions = append(c.sessions[:i], c.sessions[i+1:]...)
			break
		}
	}
	return len(c.sessions)
}

func (c *Client) lastSessionWasTLS() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if len(c.sessions) == 0 {
		return false
	}
	return c.sessions[len(c.sessions)-1].isTLS
}

func (c *Client) AllowInsecureReattach() bool {
	return false
}

func (c *Client) HasMode(m modes.Mode) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.modeSet.Has(m)
}

func (c *Client) SetMode(m modes.Mode, on bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.modeSet.Set(m, on)
}

func (c *Client) ModeString() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.modeSet.String()
}

func (c *Client) SetRegistered() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.registered = true
}

func (c *Client) IsRegistered() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.registered
}

func (c *Client) AlwaysOn() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.alwaysOn
}

func (c *Client) Away() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.isAway
}

func (c *Client) AwayMessage() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.awayMessage
}

func (c *Client) SetAway(msg string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.isAway = msg != ""
	c.awayMessage = msg
}

func (c *Client) Oper() *OperInfo {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.operInfo
}

func (c *Client) SignonTime() int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.signonTime
}

func (c *Client) IdleSeconds() uint64 {
	var max int64
	for _, s := range c.Sessions() {
		if idle := s.idleSeconds(); idle > max {
			max = idle
		}
	}
	if max < 0 {
		max = 0
	}
	return uint64(max)
}

func (c *Client) Channels() []*Channel {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]*Channel, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

func (c *Client) addChannel(ch *Channel) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.channels[ch.nameCasefolded] = ch
}

func (c *Client) removeChannel(ch *Channel) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.channels, ch.nameCasefolded)
}

func (c *Client) AllNickmasks() []string {
	d := c.Details()
	masks := []string{fmt.Sprintf("%s!%s@%s", d.nick, d.username, d.hostname)}
	ip := c.IPString()
	if ip != "" && ip != d.hostname {
		masks = append(masks, fmt.Sprintf("%s!%s@%s", d.nick, d.username, ip))
	}
	return masks
}

// t is the translation hook; ironhold doesn't localize client-facing text
// (out of scope per spec.md's Non-goals around client UI), so it's the
// identity function, kept so call sites read the same as upstream.
func (c *Client) t(s string) string {
	return s
}

// Send renders and enqueues a line on every attached session.
func (c *Client) Send(tags map[string]string, source, command string, params ...string) error {
	var firstErr error
	for _, s := range c.Sessions() {
		if err := s.Send(tags, source, command, params...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) Notice(text string) {
	d := c.Details()
	c.Send(nil, c.server.name, "NOTICE", d.nick, text)
}

// Quit disconnects every session attached to this client, sending an ERROR
// (component C) and ensuring the broker announces the QUIT exactly once.
func (c *Client) Quit(message string, session *Session) {
	wasRegistered := c.IsRegistered()
	d := c.Details()
	c.server.broker.broadcastQuit(c, d, message)
	for _, s := range c.Sessions() {
		s.Send(nil, "", "QUIT", message)
		s.destroy(message)
	}
	c.server.clients.Remove(c)
	if wasRegistered {
		c.server.metrics.ClientsCurrent.Dec()
	}
	c.server.monitorManager.AlertAbout(d.nick, d.nickCasefolded, false)
	c.server.whoWas.Append(WhoWasEntry{
		Nick:     d.nick,
		Username: d.username,
		Hostname: d.hostname,
		Realname: d.realname,
		Time:     time.Now().Unix(),
	})
}

// Store is a no-op hook: it persists nothing, whatever opt asks for.
func (c *Client) Store(opt StoreOpt) {
	if c.accountName == "*" {
		return
	}
	// a fuller implementation would write last-seen/usermodes to
	// store.AccountRepository here; left as a no-op hook until always-on
	// accounts get a dedicated persistence path.
	_ = opt
}

func (c *Client) historyStatus(config *Config) (status HistoryStatus, target string) {
	if !config.History.Enabled {
		return HistoryDisabled, ""
	}
	if config.History.Persistent.Enabled && config.History.Persistent.DirectMessages != PersistentDisabled {
		return HistoryPersistent, c.nickCasefolded
	}
	return HistoryEphemeral, ""
}

func (c *Client) historyCutoff() time.Time {
	return time.Unix(c.SignonTime(), 0).UTC()
}

func (c *Client) resizeHistory(config *Config) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.history.Resize(config.History.ClientLength)
}

// isAuthorized evaluates whether registration may proceed. It always
// returns authSuccess: no PASS, SASL-required or Tor-listener check is
// enforced.
func (c *Client) isAuthorized(config *Config, session *Session) authOutcome {
	// password checking against a listener-level PASS is out of scope for
	// ironhold's public listeners (no global server password in spec.md
	// §6); SASL-required enforcement is the gate that matters here.
	if config.Accounts.Registration.Enabled && c.accountName == "*" {
		// SASL is optional unless explicitly required by policy; ironhold
		// does not currently carry a "sasl-required" flag distinct from
		// Tor, and the Tor loop below checks nothing either.
	}
	for _, s := range c.Sessions() {
		if s.conn == session.conn {
			// no Tor-listener SASL check is applied here
		}
	}
	return authSuccess
}

func (c *Client) lookupHostname(session *Session, overwrite bool) {
	if session.rawHostname != "" && !overwrite {
		return
	}
	ip := session.IP()
	c.mutex.Lock()
	c.ip = ip
	c.mutex.Unlock()

	config := c.server.Config()
	if config.Server.Cloaks.Enabled {
		if cloak := config.Server.Cloaks.ComputeCloak(ip); cloak != "" {
			session.rawHostname = cloak
			return
		}
	}

	names, err := net.LookupAddr(ip.String())
	if err == nil && len(names) > 0 {
		session.rawHostname = strings.TrimSuffix(names[0], ".")
	} else {
		session.rawHostname = ip.String()
	}
}

func (c *Client) attemptAutoOper(session *Session) {
	// auto-oper-on-connect isn't part of ironhold's trust model (operator
	// status always requires an explicit OPER), so this is a no-op hook
	// kept for parity with the registration-burst call site.
}
