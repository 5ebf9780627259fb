// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package services implements NickServ, ChanServ, and MemoServ as
// in-process message recipients (spec.md §4.15), reached through
// Engine.Dispatch. The irc package does not call Dispatch, and the services
// are not introduced as users in the server burst.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oragono/confusables"

	"github.com/oragono/ironhold/irc/store"
)

// Name is the nickname of one services pseudo-user.
type Name string

const (
	NickServ Name = "NickServ"
	ChanServ Name = "ChanServ"
	MemoServ Name = "MemoServ"
)

// Caller is the minimal view a services command needs of the invoking
// client; Server in the irc package implements this.
type Caller struct {
	Nick        string
	Account     string // "" if not logged in
	IsOperator  bool
}

// Reply is one NOTICE line to send back to the caller.
type Reply string

// Engine dispatches PRIVMSG text addressed to a services pseudo-user into
// its sub-command grammar (REGISTER, IDENTIFY, SET, DROP, GHOST, INFO,
// OP, ...).
type Engine struct {
	Accounts store.AccountRepository
	Channels store.ChannelRepository
	Memos    store.MemoRepository
	Mailer   Mailer
}

// Mailer sends the DKIM-signed verification email for account registration
// (see irc/services/email.go).
type Mailer interface {
	SendVerification(ctx context.Context, to, account, code string) error
}

// Dispatch routes one PRIVMSG's text to the right pseudo-user's command
// grammar.
func (e *Engine) Dispatch(ctx context.Context, target Name, caller Caller, text string) []Reply {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return []Reply{"Please specify a command. " + helpHint(target)}
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch target {
	case NickServ:
		return e.nickserv(ctx, cmd, args, caller)
	case ChanServ:
		return e.chanserv(ctx, cmd, args, caller)
	case MemoServ:
		return e.memoserv(ctx, cmd, args, caller)
	default:
		return nil
	}
}

func helpHint(target Name) string {
	return fmt.Sprintf("/msg %s HELP for a list of commands.", target)
}

// casefold is the ASCII-folding used for account/channel keys; callers pass
// already-casefolded names where the spec's Nickname casemapping matters,
// this is only the coarser fold used for account lookups.
func casefold(s string) string {
	return strings.ToLower(s)
}

// skeleton returns the confusable-stripped form of a nickname, used to
// reject registrations that would visually collide with an existing one
// (supplemented feature, see SPEC_FULL.md).
func skeleton(nick string) string {
	return strings.ToLower(confusables.Skeleton(nick))
}

func newVerificationCode() string {
	return fmt.Sprintf("%x", time.Now().UnixNano())
}
