// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"testing"
	"time"

	"github.com/oragono/ironhold/irc/modes"
)

func TestChangeLetter(t *testing.T) {
	cases := []struct {
		change modes.Change
		want   string
	}{
		{modes.Change{Add: true, Mode: modes.Moderated}, "+" + string(modes.Moderated)},
		{modes.Change{Add: false, Mode: modes.Moderated}, "-" + string(modes.Moderated)},
	}
	for _, c := range cases {
		if got := changeLetter(c.change); got != c.want {
			t.Errorf("changeLetter(%+v) = %q, want %q", c.change, got, c.want)
		}
	}
}

func TestFormatUnixTime(t *testing.T) {
	tm := time.Unix(1600000000, 0)
	got := formatUnixTime(tm)
	want := "1600000000"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
