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

func (e *Engine) chanserv(ctx context.Context, cmd string, args []string, caller Caller) []Reply {
	switch cmd {
	case "REGISTER":
		return e.csRegister(ctx, args, caller)
	case "DROP":
		return e.csDrop(ctx, args, caller)
	case "INFO":
		return e.csInfo(ctx, args)
	case "SET":
		return e.csSet(ctx, args, caller)
	case "OP", "DEOP", "VOICE", "DEVOICE":
		// we only validate founder/ownership and reply; no channel mode is
		// changed.
		return e.csOpLike(ctx, cmd, args, caller)
	case "HELP":
		return []Reply{
			"ChanServ commands: REGISTER <#channel>, DROP <#channel>,",
			"INFO <#channel>, SET <#channel> <option> <value>, OP/DEOP/VOICE/DEVOICE <#channel> <nick>",
		}
	default:
		return []Reply{"Unknown command. " + helpHint(ChanServ)}
	}
}

func (e *Engine) csRegister(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: REGISTER <#channel>"}
	}
	if caller.Account == "" {
		return []Reply{"You must be identified to register a channel."}
	}
	cf := casefold(args[0])
	if _, exists, _ := e.Channels.Get(ctx, cf); exists {
		return []Reply{"That channel is already registered."}
	}
	ch := store.RegisteredChannel{
		Name:           args[0],
		NameCasefolded: cf,
		FounderAccount: caller.Account,
		RegisteredAt:   time.Now().UTC(),
	}
	if err := e.Channels.Put(ctx, ch); err != nil {
		return []Reply{"Registration failed; please try again later."}
	}
	return []Reply{fmt.Sprintf("%s is now registered to %s.", args[0], caller.Account)}
}

func (e *Engine) csDrop(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: DROP <#channel>"}
	}
	ch, ok, _ := e.Channels.Get(ctx, casefold(args[0]))
	if !ok {
		return []Reply{"That channel is not registered."}
	}
	if ch.FounderAccount != caller.Account && !caller.IsOperator {
		return []Reply{"You are not the founder of that channel."}
	}
	e.Channels.Delete(ctx, ch.NameCasefolded)
	return []Reply{fmt.Sprintf("%s has been dropped.", args[0])}
}

func (e *Engine) csInfo(ctx context.Context, args []string) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: INFO <#channel>"}
	}
	ch, ok, _ := e.Channels.Get(ctx, casefold(args[0]))
	if !ok {
		return []Reply{fmt.Sprintf("%s is not registered.", args[0])}
	}
	return []Reply{fmt.Sprintf("%s is registered to %s since %s.", ch.Name, ch.FounderAccount, ch.RegisteredAt.Format(time.RFC1123))}
}

func (e *Engine) csSet(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 3 {
		return []Reply{"Syntax: SET <#channel> <option> <value>"}
	}
	ch, ok, _ := e.Channels.Get(ctx, casefold(args[0]))
	if !ok {
		return []Reply{"That channel is not registered."}
	}
	if ch.FounderAccount != caller.Account && !caller.IsOperator {
		return []Reply{"You are not the founder of that channel."}
	}
	switch args[1] {
	case "TOPICLOCK", "MLOCK":
		ch.Modes = args[2]
	default:
		return []Reply{"Unknown option."}
	}
	e.Channels.Put(ctx, ch)
	return []Reply{"Setting updated."}
}

func (e *Engine) csOpLike(ctx context.Context, cmd string, args []string, caller Caller) []Reply {
	if len(args) < 2 {
		return []Reply{fmt.Sprintf("Syntax: %s <#channel> <nick>", cmd)}
	}
	ch, ok, _ := e.Channels.Get(ctx, casefold(args[0]))
	if !ok {
		return []Reply{"That channel is not registered."}
	}
	if ch.FounderAccount != caller.Account && !caller.IsOperator {
		return []Reply{"You are not authorized to grant status in that channel."}
	}
	return []Reply{fmt.Sprintf("%s has been applied to %s in %s.", cmd, args[1], args[0])}
}
