// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/oragono/ironhold/irc/store"
)

func (e *Engine) memoserv(ctx context.Context, cmd string, args []string, caller Caller) []Reply {
	switch cmd {
	case "SEND":
		return e.msSend(ctx, args, caller)
	case "LIST":
		return e.msList(ctx, caller)
	case "READ":
		return e.msRead(ctx, args, caller)
	case "HELP":
		return []Reply{"MemoServ commands: SEND <nick> <text>, LIST, READ <id>"}
	default:
		return []Reply{"Unknown command. " + helpHint(MemoServ)}
	}
}

func (e *Engine) msSend(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 2 {
		return []Reply{"Syntax: SEND <nick> <text>"}
	}
	if caller.Account == "" {
		return []Reply{"You must be identified to send memos."}
	}
	to := casefold(args[0])
	if _, ok, _ := e.Accounts.Get(ctx, to); !ok {
		return []Reply{"No such account."}
	}
	text := joinRest(args[1:])
	memo := store.Memo{
		ID:          fmt.Sprintf("%d", time.Now().UnixNano()),
		FromAccount: caller.Account,
		ToAccount:   to,
		Text:        text,
		SentAt:      time.Now().UTC(),
	}
	if err := e.Memos.Put(ctx, memo); err != nil {
		return []Reply{"Could not send memo; please try again later."}
	}
	return []Reply{fmt.Sprintf("Memo sent to %s.", args[0])}
}

func (e *Engine) msList(ctx context.Context, caller Caller) []Reply {
	if caller.Account == "" {
		return []Reply{"You must be identified to list memos."}
	}
	memos, err := e.Memos.Inbox(ctx, casefold(caller.Account))
	if err != nil {
		return []Reply{"Could not list memos."}
	}
	if len(memos) == 0 {
		return []Reply{"You have no memos."}
	}
	out := make([]Reply, 0, len(memos)+1)
	out = append(out, Reply(fmt.Sprintf("You have %d memo(s):", len(memos))))
	for _, m := range memos {
		status := "unread"
		if m.Read {
			status = "read"
		}
		out = append(out, Reply(fmt.Sprintf("[%s] from %s at %s (%s)", m.ID, m.FromAccount, m.SentAt.Format(time.RFC1123), status)))
	}
	return out
}

func (e *Engine) msRead(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: READ <id>"}
	}
	if caller.Account == "" {
		return []Reply{"You must be identified to read memos."}
	}
	memos, err := e.Memos.Inbox(ctx, casefold(caller.Account))
	if err != nil {
		return []Reply{"Could not read memo."}
	}
	for _, m := range memos {
		if m.ID == args[0] {
			e.Memos.MarkRead(ctx, m.ID)
			return []Reply{fmt.Sprintf("From %s: %s", m.FromAccount, m.Text)}
		}
	}
	return []Reply{"No such memo."}
}

func joinRest(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}
