// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "testing"

func TestParseIPLiteralValid(t *testing.T) {
	ip := parseIPLiteral("203.0.113.5")
	if ip == nil {
		t.Fatal("expected a parsed IP")
	}
	if ip.String() != "203.0.113.5" {
		t.Errorf("got %s, want 203.0.113.5", ip.String())
	}
}

func TestParseIPLiteralInvalid(t *testing.T) {
	if parseIPLiteral("not-an-ip") != nil {
		t.Error("expected nil for an invalid literal")
	}
}
