// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package sno implements server-notice masks: the channel through which
// operators subscribe to categories of operational log lines.
package sno

// Mask is one server-notice category.
type Mask rune

const (
	LocalConnects  Mask = 'c'
	LocalDisconnects Mask = 'd'
	LocalOpers     Mask = 'o'
	LocalKills     Mask = 'k'
	LocalXline     Mask = 'x'
	Netsplits      Mask = 'n'
	ServerLinks    Mask = 'l'
)

func ValidMasks() []Mask {
	return []Mask{LocalConnects, LocalDisconnects, LocalOpers, LocalKills, LocalXline, Netsplits, ServerLinks}
}
