// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package utils holds small helpers shared across the irc package that
// don't belong to any one subsystem.
package utils

import (
	"crypto/tls"
	"strings"
)

// SafeErrorParam returns a parameter safe to embed in a numeric reply when
// the real value (e.g. a not-yet-validated nick) might be empty or
// otherwise unsafe to echo back verbatim.
func SafeErrorParam(param string) string {
	if param == "" || strings.ContainsAny(param, " :\x00\r\n") {
		return "*"
	}
	return param
}

// ListenerConfig is the resolved (post-load) configuration for one listen
// address: TLS settings, and the Tor/STS-only/WebSocket/proxy flags that
// affect how Connection treats it.
type ListenerConfig struct {
	TLSConfig     *tls.Config
	RequireProxy  bool
	Tor           bool
	STSOnly       bool
	WebSocket     bool
	WebSocketPath string
}
