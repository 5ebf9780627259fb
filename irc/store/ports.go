// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package store defines the persistence ports of spec.md §6 ("Persistence
// port contracts") and a buntdb-backed implementation of the ones that are
// naturally key/value shaped (accounts, bans, links, memos, vhosts).
// StoredMessage, which needs range queries over time, is implemented
// separately against MySQL in irc/mysql.
package store

import (
	"context"
	"time"
)

// Account mirrors spec.md §3.
type Account struct {
	ID               string
	Name             string
	NameCasefolded   string
	PasswordHash     string
	Email            string
	LastSeen         time.Time
	IsVerified       bool
	IsSuspended      bool
	IsOperator       bool
	OperatorPrivileges []string
	RegisteredNicks  []string
	CertFingerprints []string
}

// RegisteredChannel is a persisted Channel registration (topic/modes survive
// the last part, per spec.md §3 Channel invariant).
type RegisteredChannel struct {
	Name         string
	NameCasefolded string
	FounderAccount string
	RegisteredAt time.Time
	Topic        string
	TopicSetter  string
	TopicSetAt   time.Time
	Modes        string
	Bans         []Mask
	Excepts      []Mask
	Invites      []Mask
}

type Mask struct {
	Pattern string
	SetBy   string
	SetAt   time.Time
}

// ServerBan mirrors spec.md §3 ServerBan.
type ServerBanKind string

const (
	KLine ServerBanKind = "kline"
	GLine ServerBanKind = "gline"
	ZLine ServerBanKind = "zline"
	Jupe  ServerBanKind = "jupe"
)

type ServerBan struct {
	ID        string
	Kind      ServerBanKind
	Pattern   string
	Reason    string
	SetBy     string
	SetAt     time.Time
	ExpiresAt time.Time // zero means permanent
}

func (b ServerBan) Expired(now time.Time) bool {
	return !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt)
}

// ServerLink is a configured S2S peer (spec.md §6).
type ServerLink struct {
	Name             string
	SID              string
	Address          string
	SendPassword     string
	ReceivePassword  string
	AutoConnect      bool
	TLS              bool
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ReconnectMult    float64
	ReconnectAttemptCap int
}

// Memo is a store-and-forward message delivered by MemoServ.
type Memo struct {
	ID        string
	FromAccount string
	ToAccount string
	Text      string
	SentAt    time.Time
	Read      bool
}

// VirtualHost is an operator-granted vanity hostname request/grant.
type VirtualHost struct {
	Account   string
	Requested string
	Approved  bool
	Vhost     string
}

// The repository interfaces. The core only ever depends on these; concrete
// backends (buntdb here, MySQL in irc/mysql for StoredMessage) are opened
// at startup by the irc Server itself.

type AccountRepository interface {
	Get(ctx context.Context, nameCasefolded string) (Account, bool, error)
	Put(ctx context.Context, acct Account) error
	Delete(ctx context.Context, nameCasefolded string) error
	All(ctx context.Context) ([]Account, error)
}

type ChannelRepository interface {
	Get(ctx context.Context, nameCasefolded string) (RegisteredChannel, bool, error)
	Put(ctx context.Context, ch RegisteredChannel) error
	Delete(ctx context.Context, nameCasefolded string) error
	All(ctx context.Context) ([]RegisteredChannel, error)
}

type BanRepository interface {
	Get(ctx context.Context, kind ServerBanKind, pattern string) (ServerBan, bool, error)
	Put(ctx context.Context, ban ServerBan) error
	Delete(ctx context.Context, kind ServerBanKind, pattern string) error
	All(ctx context.Context, kind ServerBanKind) ([]ServerBan, error)
}

type LinkRepository interface {
	Get(ctx context.Context, name string) (ServerLink, bool, error)
	Put(ctx context.Context, link ServerLink) error
	Delete(ctx context.Context, name string) error
	All(ctx context.Context) ([]ServerLink, error)
}

type MemoRepository interface {
	Put(ctx context.Context, memo Memo) error
	Inbox(ctx context.Context, account string) ([]Memo, error)
	MarkRead(ctx context.Context, id string) error
}

type VHostRepository interface {
	Get(ctx context.Context, account string) (VirtualHost, bool, error)
	Put(ctx context.Context, vh VirtualHost) error
	PendingRequests(ctx context.Context) ([]VirtualHost, error)
}

// StoredMessage mirrors spec.md §3; the repository is in irc/mysql since it
// needs time-range queries that don't suit a plain KV store.
type StoredMessage struct {
	MsgID         string
	Target        string
	SenderUID     string
	SenderAccount string
	Text          string
	Tags          map[string]string
	Time          time.Time
}

type MessageRepository interface {
	Append(ctx context.Context, msg StoredMessage) error
	DeleteMsgid(ctx context.Context, msgid, accountName string) error
	Forget(ctx context.Context, accountName string) error
}
