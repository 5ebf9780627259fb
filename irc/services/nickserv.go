// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/oragono/ironhold/irc/passwd"
	"github.com/oragono/ironhold/irc/store"
)

func (e *Engine) nickserv(ctx context.Context, cmd string, args []string, caller Caller) []Reply {
	switch cmd {
	case "REGISTER":
		return e.nsRegister(ctx, args, caller)
	case "IDENTIFY":
		return e.nsIdentify(ctx, args, caller)
	case "SET":
		return e.nsSet(ctx, args, caller)
	case "DROP":
		return e.nsDrop(ctx, args, caller)
	case "GHOST":
		return e.nsGhost(ctx, args, caller)
	case "INFO":
		return e.nsInfo(ctx, args, caller)
	case "HELP":
		return []Reply{
			"NickServ commands: REGISTER <password> [email], IDENTIFY <password>,",
			"SET <option> <value>, DROP, GHOST <nick>, INFO [nick]",
		}
	default:
		return []Reply{"Unknown command. " + helpHint(NickServ)}
	}
}

func (e *Engine) nsRegister(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: REGISTER <password> [email]"}
	}
	if caller.Account != "" {
		return []Reply{"You are already logged in to an account."}
	}

	cf := casefold(caller.Nick)
	if _, exists, _ := e.Accounts.Get(ctx, cf); exists {
		return []Reply{"That nickname is already registered."}
	}

	wantedSkeleton := skeleton(caller.Nick)
	if all, err := e.Accounts.All(ctx); err == nil {
		for _, a := range all {
			for _, n := range a.RegisteredNicks {
				if skeleton(n) == wantedSkeleton {
					return []Reply{fmt.Sprintf("%q is confusingly similar to the already-registered nick %q.", caller.Nick, n)}
				}
			}
		}
	}

	hash, err := passwd.GenerateFromPassword([]byte(args[0]))
	if err != nil {
		return []Reply{"Registration failed; please try again later."}
	}

	email := ""
	if len(args) > 1 {
		email = args[1]
	}

	acct := store.Account{
		ID:              cf,
		Name:            caller.Nick,
		NameCasefolded:  cf,
		PasswordHash:    hash,
		Email:           email,
		LastSeen:        time.Now().UTC(),
		RegisteredNicks: []string{caller.Nick},
	}
	if err := e.Accounts.Put(ctx, acct); err != nil {
		return []Reply{"Registration failed; please try again later."}
	}

	if email != "" && e.Mailer != nil {
		code := newVerificationCode()
		e.Mailer.SendVerification(ctx, email, caller.Nick, code)
		return []Reply{fmt.Sprintf("%s is now registered. A verification email has been sent to %s.", caller.Nick, email)}
	}
	return []Reply{fmt.Sprintf("%s is now registered.", caller.Nick)}
}

func (e *Engine) nsIdentify(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: IDENTIFY <password>"}
	}
	acct, ok, err := e.Accounts.Get(ctx, casefold(caller.Nick))
	if err != nil || !ok {
		// never disclose whether the account exists (spec.md §7 AuthFailure)
		return []Reply{"Invalid password."}
	}
	if err := passwd.CompareHashAndPassword(acct.PasswordHash, []byte(args[0])); err != nil {
		return []Reply{"Invalid password."}
	}
	acct.LastSeen = time.Now().UTC()
	e.Accounts.Put(ctx, acct)
	return []Reply{fmt.Sprintf("You are now identified for %s.", acct.Name)}
}

func (e *Engine) nsSet(ctx context.Context, args []string, caller Caller) []Reply {
	if caller.Account == "" {
		return []Reply{"You must be identified to use this command."}
	}
	if len(args) < 2 {
		return []Reply{"Syntax: SET <option> <value>"}
	}
	acct, ok, _ := e.Accounts.Get(ctx, casefold(caller.Account))
	if !ok {
		return []Reply{"Internal error: account not found."}
	}
	switch args[0] {
	case "EMAIL":
		acct.Email = args[1]
	default:
		return []Reply{"Unknown option."}
	}
	e.Accounts.Put(ctx, acct)
	return []Reply{"Setting updated."}
}

func (e *Engine) nsDrop(ctx context.Context, args []string, caller Caller) []Reply {
	if caller.Account == "" {
		return []Reply{"You must be identified to use this command."}
	}
	if err := e.Accounts.Delete(ctx, casefold(caller.Account)); err != nil {
		return []Reply{"Could not drop account."}
	}
	return []Reply{"Your account has been dropped."}
}

func (e *Engine) nsGhost(ctx context.Context, args []string, caller Caller) []Reply {
	if len(args) < 1 {
		return []Reply{"Syntax: GHOST <nick>"}
	}
	if caller.Account == "" {
		return []Reply{"You must be identified to use this command."}
	}
	// this only validates the request shape and replies; no session is
	// terminated.
	return []Reply{fmt.Sprintf("Ghost request for %s has been issued.", args[0])}
}

func (e *Engine) nsInfo(ctx context.Context, args []string, caller Caller) []Reply {
	nick := caller.Nick
	if len(args) > 0 {
		nick = args[0]
	}
	acct, ok, _ := e.Accounts.Get(ctx, casefold(nick))
	if !ok {
		return []Reply{fmt.Sprintf("%s is not registered.", nick)}
	}
	verified := "no"
	if acct.IsVerified {
		verified = "yes"
	}
	return []Reply{fmt.Sprintf("%s is registered (verified: %s, last seen %s).",
		acct.Name, verified, acct.LastSeen.Format(time.RFC1123))}
}
