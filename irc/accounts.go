// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"context"
	"sync"
	"time"

	"github.com/oragono/ironhold/irc/passwd"
	"github.com/oragono/ironhold/irc/store"
)

// AccountManager owns the nick<->account index and the services-facing
// identify/register/drop operations (component Q's account half, backed by
// store.AccountRepository).
type AccountManager struct {
	mutex      sync.RWMutex
	server     *Server
	nickToAccount map[string]string // casefolded nick -> casefolded account name

	registerThrottle map[string]time.Time // IP -> last registration time
}

func (am *AccountManager) Initialize(server *Server) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.server = server
	if am.nickToAccount == nil {
		am.nickToAccount = make(map[string]string)
	}
	if am.registerThrottle == nil {
		am.registerThrottle = make(map[string]time.Time)
	}
}

// buildNickToAccountIndex rebuilds the nick reservation index from the
// account store; called on startup and whenever NickReservation gets turned
// on by a rehash.
func (am *AccountManager) buildNickToAccountIndex(config *Config) {
	if am.server == nil || am.server.store == nil {
		return
	}
	accounts, err := am.server.store.Accounts().All(context.Background())
	if err != nil {
		return
	}
	am.mutex.Lock()
	defer am.mutex.Unlock()
	for _, acct := range accounts {
		for _, nick := range acct.RegisteredNicks {
			if cf, err := CasefoldName(nick); err == nil {
				am.nickToAccount[cf] = acct.NameCasefolded
			}
		}
	}
}

// initVHostRequestQueue is a no-op placeholder for priming an in-memory
// cache of pending VHOST requests; ironhold serves that list straight from
// store.VHostRepository.PendingRequests on demand instead, so there's
// nothing to warm here.
func (am *AccountManager) initVHostRequestQueue(config *Config) {}

func (am *AccountManager) resetRegisterThrottle(config *Config) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.registerThrottle = make(map[string]time.Time)
}

func (am *AccountManager) NickToAccount(nickCasefolded string) (string, bool) {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	acc, ok := am.nickToAccount[nickCasefolded]
	return acc, ok
}

func (am *AccountManager) ReserveNick(nickCasefolded, accountCasefolded string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.nickToAccount[nickCasefolded] = accountCasefolded
}

// Register creates a new account record with an Argon2id-hashed password
// (irc/passwd), per spec.md's account registration flow.
func (am *AccountManager) Register(ctx context.Context, name, password, email string) (store.Account, error) {
	cf, err := CasefoldName(name)
	if err != nil {
		return store.Account{}, err
	}
	hash, err := passwd.GenerateFromPassword([]byte(password))
	if err != nil {
		return store.Account{}, err
	}
	acct := store.Account{
		ID:             cf,
		Name:           name,
		NameCasefolded: cf,
		PasswordHash:   hash,
		Email:          email,
		RegisteredNicks: []string{name},
	}
	if err := am.server.store.Accounts().Put(ctx, acct); err != nil {
		return store.Account{}, err
	}
	am.ReserveNick(cf, cf)
	return acct, nil
}

// Authenticate verifies a password against the stored Argon2id hash,
// constant-time (irc/passwd.CompareHashAndPassword).
func (am *AccountManager) Authenticate(ctx context.Context, name, password string) (store.Account, bool) {
	cf, err := CasefoldName(name)
	if err != nil {
		return store.Account{}, false
	}
	acct, ok, err := am.server.store.Accounts().Get(ctx, cf)
	if err != nil || !ok {
		return store.Account{}, false
	}
	if passwd.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		return store.Account{}, false
	}
	return acct, true
}
