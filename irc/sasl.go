// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
)

// saslChunkSize is the wire chunk size for AUTHENTICATE continuations
// (spec.md §4.5): a response exactly this long is followed by a "+" line
// from the client, signaling more data is coming.
const saslChunkSize = 400

var supportedMechanisms = map[string]bool{"PLAIN": true, "EXTERNAL": true}

// authenticateHandler drives the AUTHENTICATE state machine (component J):
// mechanism selection, base64-chunked payload reassembly, and the PLAIN /
// EXTERNAL verification paths.
func authenticateHandler(server *Server, client *Client, session *Session, msg ParsedMessage, rb *ResponseBuffer) {
	arg := msg.Params[0]

	if !session.sasl.InProgress {
		mechanism := strings.ToUpper(arg)
		if !supportedMechanisms[mechanism] {
			rb.Add(nil, server.name, ERR_SASLFAIL, client.Nick(), "SASL mechanism not supported")
			return
		}
		if client.accountName != "*" {
			rb.Add(nil, server.name, ERR_SASLALREADY, client.Nick(), "You have already authenticated using SASL")
			return
		}
		session.sasl = SaslState{InProgress: true, Mechanism: mechanism}
		rb.Add(nil, server.name, "AUTHENTICATE", "+")
		return
	}

	if arg == "*" {
		session.sasl = SaslState{}
		rb.Add(nil, server.name, ERR_SASLABORTED, client.Nick(), "SASL authentication aborted")
		return
	}

	if arg == "+" {
		arg = ""
	}
	decoded, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		session.sasl = SaslState{}
		rb.Add(nil, server.name, ERR_SASLFAIL, client.Nick(), "Invalid base64 encoding")
		return
	}
	session.sasl.Value = append(session.sasl.Value, decoded...)

	if len(arg) == saslChunkSize {
		// client will send another AUTHENTICATE line with the rest
		return
	}

	mechanism := session.sasl.Mechanism
	payload := session.sasl.Value
	session.sasl = SaslState{}

	var account string
	var ok bool
	switch mechanism {
	case "PLAIN":
		account, ok = verifySaslPlain(server, payload)
	case "EXTERNAL":
		account, ok = verifySaslExternal(client, session, payload)
	}

	if !ok {
		rb.Add(nil, server.name, ERR_SASLFAIL, client.Nick(), "SASL authentication failed")
		return
	}

	client.mutex.Lock()
	client.accountName = account
	client.mutex.Unlock()
	server.accounts.ReserveNick(client.NickCasefolded(), account)
	rb.Add(nil, server.name, RPL_LOGGEDIN, client.Nick(), client.AllNickmasks()[0], account, "You are now logged in as "+account)
	rb.Add(nil, server.name, RPL_SASLSUCCESS, client.Nick(), "SASL authentication successful")
}

// verifySaslPlain implements RFC 4616: "authzid\0authcid\0password".
func verifySaslPlain(server *Server, payload []byte) (account string, ok bool) {
	parts := bytes.SplitN(payload, []byte{0}, 3)
	if len(parts) != 3 {
		return "", false
	}
	authcid := string(parts[1])
	password := string(parts[2])
	acct, authenticated := server.accounts.Authenticate(context.Background(), authcid, password)
	if !authenticated {
		return "", false
	}
	return acct.NameCasefolded, true
}

// verifySaslExternal authenticates via the client certificate fingerprint
// already recorded on the session's most recent TLS handshake, matched
// against the account's registered fingerprint.
func verifySaslExternal(client *Client, session *Session, payload []byte) (account string, ok bool) {
	if session.certfp == "" {
		return "", false
	}
	accounts, err := client.server.store.Accounts().All(context.Background())
	if err != nil {
		return "", false
	}
	for _, acct := range accounts {
		for _, fp := range acct.CertFingerprints {
			if fp == session.certfp {
				return acct.NameCasefolded, true
			}
		}
	}
	return "", false
}
