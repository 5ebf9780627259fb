// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package ts6

import (
	"crypto/subtle"
	"fmt"
	"strings"
)

// RequiredCaps are the CAPAB tokens both sides must present (spec.md §4.9).
var RequiredCaps = []string{"QS", "ENCAP", "EX", "CHW", "IE", "EUID", "TB"}

// HandshakeState tracks what a not-yet-established S2S connection has sent
// and received so far. Incoming and outgoing handshakes are symmetric: both
// sides emit PASS, then CAPAB, then SERVER, and both must have received the
// peer's three lines before either proceeds to burst.
type HandshakeState struct {
	SentPass, SentCapab, SentServer         bool
	ReceivedPass, ReceivedCapab, ReceivedServer bool

	PeerPassword    string
	PeerTS          int
	PeerSID         string
	PeerCaps        map[string]bool
	PeerName        string
	PeerHopCount    int
	PeerDescription string
}

func NewHandshakeState() *HandshakeState {
	return &HandshakeState{PeerCaps: make(map[string]bool)}
}

// Complete reports whether both sides have now exchanged all three lines.
func (h *HandshakeState) Complete() bool {
	return h.SentPass && h.SentCapab && h.SentServer &&
		h.ReceivedPass && h.ReceivedCapab && h.ReceivedServer
}

// HandlePass processes an inbound "PASS <password> TS 6 :<sid>" line.
func (h *HandshakeState) HandlePass(params []string) error {
	if len(params) < 4 || params[1] != "TS" || params[2] != "6" {
		return fmt.Errorf("malformed PASS line")
	}
	h.PeerPassword = params[0]
	h.PeerSID = params[3]
	if !ValidSID(h.PeerSID) {
		return fmt.Errorf("invalid peer SID %q", h.PeerSID)
	}
	h.ReceivedPass = true
	return nil
}

// HandleCapab processes an inbound "CAPAB :<space separated caps>" line.
func (h *HandshakeState) HandleCapab(params []string) error {
	if len(params) < 1 {
		return fmt.Errorf("malformed CAPAB line")
	}
	for _, c := range strings.Fields(params[0]) {
		h.PeerCaps[strings.ToUpper(c)] = true
	}
	h.ReceivedCapab = true
	return nil
}

// HandleServer processes an inbound "SERVER <name> <hop> :<description>" line.
func (h *HandshakeState) HandleServer(params []string) error {
	if len(params) < 3 {
		return fmt.Errorf("malformed SERVER line")
	}
	h.PeerName = params[0]
	var hop int
	if _, err := fmt.Sscanf(params[1], "%d", &hop); err != nil {
		return fmt.Errorf("malformed hop count")
	}
	h.PeerHopCount = hop
	h.PeerDescription = params[2]
	h.ReceivedServer = true
	return nil
}

// Validate checks the completed handshake against the configured
// credentials for this peer name (spec.md §4.9 Validation).
func Validate(h *HandshakeState, expectedPassword string, alreadyLinked func(sid, name string) bool) error {
	if subtle.ConstantTimeCompare([]byte(h.PeerPassword), []byte(expectedPassword)) != 1 {
		return fmt.Errorf("password mismatch")
	}
	if alreadyLinked(h.PeerSID, h.PeerName) {
		return fmt.Errorf("server %s (%s) is already in the topology", h.PeerName, h.PeerSID)
	}
	for _, want := range RequiredCaps {
		if !h.PeerCaps[want] {
			return fmt.Errorf("missing required capability %s", want)
		}
	}
	return nil
}

// GreetingLines returns our own PASS/CAPAB/SERVER lines to send first,
// before waiting on the peer's.
func GreetingLines(password, ourSID string, ourCaps []string, name string, description string) []string {
	return []string{
		fmt.Sprintf("PASS %s TS 6 :%s", password, ourSID),
		fmt.Sprintf("CAPAB :%s", strings.Join(ourCaps, " ")),
		fmt.Sprintf("SERVER %s 1 :%s", name, description),
	}
}
