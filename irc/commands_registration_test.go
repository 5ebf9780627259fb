// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "testing"

func TestIsValidNicknameValid(t *testing.T) {
	cases := []string{"dan", "Dan_", "[dan]", "dan-123", "a"}
	for _, nick := range cases {
		if !isValidNickname(nick) {
			t.Errorf("expected %q to be valid", nick)
		}
	}
}

func TestIsValidNicknameInvalid(t *testing.T) {
	cases := []string{"", "1dan", "dan nick", "dan!nick"}
	for _, nick := range cases {
		if isValidNickname(nick) {
			t.Errorf("expected %q to be invalid", nick)
		}
	}
}

func TestIsValidNicknameTooLong(t *testing.T) {
	long := make([]byte, 33)
	for i := range long {
		long[i] = 'a'
	}
	if isValidNickname(string(long)) {
		t.Error("expected a 33-character nick to be invalid")
	}
}

func TestNickmask(t *testing.T) {
	d := ClientDetails{nick: "dan", username: "d", hostname: "example.com"}
	got := d.nickmask()
	want := "dan!d@example.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
