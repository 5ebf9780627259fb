// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"fmt"
	"os"

	"github.com/oragono/ironhold/irc/store"
)

// initializeDB makes sure a fresh datastore file exists at path; buntdb
// creates the file lazily on first Open, so this just probes that the
// directory is writable before the "real" open in loadDatastore.
func initializeDB(path string) error {
	db, err := store.OpenBuntStore(path)
	if err != nil {
		return err
	}
	return db.Close()
}

// InitDB is the exported entry point for the "initdb" CLI subcommand: it
// refuses to clobber an existing datastore and otherwise defers to
// initializeDB.
func InitDB(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("datastore already exists at %s", path)
	}
	return initializeDB(path)
}
