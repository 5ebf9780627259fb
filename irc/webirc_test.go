// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"net"
	"testing"
)

func TestFindWebircBlockMatch(t *testing.T) {
	blocks := []WebircBlock{
		{Name: "bouncer", SharedPassword: "hunter2"},
		{Name: "gateway", SharedPassword: "s3cr3t"},
	}
	block := findWebircBlock(blocks, "gateway", "s3cr3t")
	if block == nil {
		t.Fatal("expected a matching block")
	}
	if block.Name != "gateway" {
		t.Errorf("got block %q, want gateway", block.Name)
	}
}

func TestFindWebircBlockNoMatch(t *testing.T) {
	blocks := []WebircBlock{{Name: "bouncer", SharedPassword: "hunter2"}}
	if findWebircBlock(blocks, "bouncer", "wrongpass") != nil {
		t.Error("expected no match for wrong password")
	}
	if findWebircBlock(blocks, "unknown", "hunter2") != nil {
		t.Error("expected no match for unknown gateway name")
	}
}

func TestCidrsContainEmptyAllowsAny(t *testing.T) {
	if !cidrsContain(nil, net.ParseIP("203.0.113.5")) {
		t.Error("an empty CIDR list should allow any address")
	}
}

func TestCidrsContainMatch(t *testing.T) {
	cidrs := []string{"10.0.0.0/8", "192.168.1.0/24"}
	if !cidrsContain(cidrs, net.ParseIP("10.1.2.3")) {
		t.Error("expected 10.1.2.3 to match 10.0.0.0/8")
	}
	if cidrsContain(cidrs, net.ParseIP("8.8.8.8")) {
		t.Error("expected 8.8.8.8 not to match either CIDR")
	}
}
