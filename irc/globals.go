// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"unicode"
	"unsafe"
)

// Ver is the advertised server version, sent in RPL_YOURHOST/RPL_MYINFO.
const Ver = "ironhold-0.1.0"

// ServerExitSignals lists the OS signals that trigger a clean shutdown.
var ServerExitSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// globalCasemappingSetting and globalUtf8EnforcementSetting are fixed at
// first load and can't change across a rehash (spec.md §4.2's nick/channel
// casefolding must stay stable for the lifetime of the process, or every
// index keyed by casefolded name would need rebuilding).
var (
	globalCasemappingSetting    string
	globalUtf8EnforcementSetting bool
)

// StoreOpt controls what Client.Store persists for an always-on client.
type StoreOpt uint

const (
	IncludeLastSeen StoreOpt = 1 << iota
	IncludeUserModes
)

// HistoryStatus classifies how a target's message history is kept.
type HistoryStatus uint

const (
	HistoryDisabled HistoryStatus = iota
	HistoryEphemeral
	HistoryPersistent
)

var (
	errInsecureReattach  = errors.New("insecure reattach to an always-on client")
	errInsufficientPrivs = errors.New("insufficient privileges")
	errNoop              = errors.New("operation had no effect")
	errNicknameInUse     = errors.New("nickname is already in use")
	errErroneousNickname = errors.New("erroneous nickname")
)

// Config returns the currently active configuration. Safe for concurrent use;
// callers get a consistent snapshot even during a concurrent rehash.
func (server *Server) Config() (config *Config) {
	return (*Config)(atomic.LoadPointer(&server.config))
}

// SetConfig atomically installs a new configuration snapshot.
func (server *Server) SetConfig(config *Config) {
	atomic.StorePointer(&server.config, unsafe.Pointer(config))
}

// CasefoldName canonicalizes a nick or account name for use as a map key,
// per the casemapping selected in the config (rfc1459 or ascii).
func CasefoldName(name string) (string, error) {
	if name == "" {
		return "", errors.New("names cannot be empty")
	}
	return casefold(name), nil
}

// CasefoldChannel canonicalizes a channel name; it must start with one of
// chanTypes.
func CasefoldChannel(name string) (string, error) {
	if name == "" || !strings.ContainsRune(chanTypes, rune(name[0])) {
		return "", errors.New("not a valid channel name")
	}
	return casefold(name), nil
}

func casefold(name string) string {
	lower := strings.ToLower(name)
	if globalCasemappingSetting == "ascii" {
		return lower
	}
	// rfc1459: { } | ~ fold onto [ ] \ ^
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch r {
		case '{':
			r = '['
		case '}':
			r = ']'
		case '|':
			r = '\\'
		case '~':
			r = '^'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isValidNickChar(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '-', '[', ']', '\\', '`', '^', '{', '}', '_', '|':
		return true
	}
	return false
}
