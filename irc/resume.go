// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

// ResumeManager issues and verifies the signed tokens behind IRCv3
// draft/resume (spec.md's supplemented session-resume feature): a client
// that loses its TCP connection can present a token instead of replaying
// NICK/USER/CAP, and get its old Client (with all its channels and history
// cursor) back.
type ResumeManager struct {
	mutex  sync.RWMutex
	server *Server
	secret []byte
}

var errResumeTokenInvalid = errors.New("resume token invalid or expired")

const resumeTokenTTL = 10 * time.Minute

type resumeClaims struct {
	jwt.StandardClaims
	NickCasefolded string `json:"nick_cf"`
}

func (rm *ResumeManager) Initialize(server *Server) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.server = server
	rm.secret = make([]byte, 32)
	rand.Read(rm.secret)
}

// IssueToken mints a signed, time-limited token binding to one client's
// casefolded nick, which can be replayed later via RESUME. Nothing in the
// registration path calls it.
func (rm *ResumeManager) IssueToken(c *Client) (string, error) {
	rm.mutex.RLock()
	secret := rm.secret
	rm.mutex.RUnlock()

	claims := resumeClaims{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(resumeTokenTTL).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
		NickCasefolded: c.NickCasefolded(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// VerifyToken validates a presented token and returns the Client it names,
// if that client is still connected (always-on clients stay resolvable even
// with zero live sessions).
func (rm *ResumeManager) VerifyToken(presented string) (*Client, error) {
	rm.mutex.RLock()
	secret := rm.secret
	server := rm.server
	rm.mutex.RUnlock()

	var claims resumeClaims
	_, err := jwt.ParseWithClaims(presented, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errResumeTokenInvalid
		}
		return secret, nil
	})
	if err != nil {
		return nil, errResumeTokenInvalid
	}

	target := server.clients.Get(claims.NickCasefolded)
	if target == nil {
		return nil, errResumeTokenInvalid
	}
	return target, nil
}
