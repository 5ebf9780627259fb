// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"path/filepath"
	"testing"
)

func TestInitDBCreatesDatastore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ironhold.db")
	if err := InitDB(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInitDBRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ironhold.db")
	if err := InitDB(path); err != nil {
		t.Fatalf("unexpected error on first init: %v", err)
	}
	if err := InitDB(path); err == nil {
		t.Error("expected an error when the datastore already exists")
	}
}
