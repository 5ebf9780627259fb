// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "testing"

func TestDefaultWhoFields(t *testing.T) {
	fields := defaultWhoFields()
	for _, r := range "cuhsnf" {
		if !fields.Has(r) {
			t.Errorf("expected default WHO fields to include %q", string(r))
		}
	}
	if fields.Has('i') {
		t.Error("default WHO fields should not include 'i'")
	}
}
