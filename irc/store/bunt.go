// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package store

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/buntdb"
)

// key prefixes, matching the teacher's own on-disk buntdb key conventions
// (oragono namespaces everything by a "account.exists "/"channel.exists "
// style prefix so a single file can back every repository).
const (
	prefixAccount = "account.data "
	prefixChannel = "channel.data "
	prefixBan     = "ban.data "
	prefixLink    = "link.data "
	prefixMemo    = "memo.data "
	prefixVHost   = "vhost.data "
)

// BuntStore opens the embedded, indexed key-value database that backs every
// repository except StoredMessage (irc/mysql handles that one).
type BuntStore struct {
	db *buntdb.DB
}

func OpenBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}

func (s *BuntStore) DB() *buntdb.DB {
	return s.db
}

// --- Accounts ---

type buntAccountRepo struct{ s *BuntStore }

func (s *BuntStore) Accounts() AccountRepository { return buntAccountRepo{s} }

func (r buntAccountRepo) Get(ctx context.Context, nameCasefolded string) (acct Account, ok bool, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(prefixAccount + nameCasefolded)
		if e == buntdb.ErrNotFound {
			return nil
		} else if e != nil {
			return e
		}
		ok = true
		return json.Unmarshal([]byte(v), &acct)
	})
	return
}

func (r buntAccountRepo) Put(ctx context.Context, acct Account) error {
	buf, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(prefixAccount+acct.NameCasefolded, string(buf), nil)
		return e
	})
}

func (r buntAccountRepo) Delete(ctx context.Context, nameCasefolded string) error {
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, e := tx.Delete(prefixAccount + nameCasefolded)
		if e == buntdb.ErrNotFound {
			return nil
		}
		return e
	})
}

func (r buntAccountRepo) All(ctx context.Context) (out []Account, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixAccount+"*", func(k, v string) bool {
			var a Account
			if jerr := json.Unmarshal([]byte(v), &a); jerr == nil {
				out = append(out, a)
			}
			return true
		})
	})
	return
}

// --- Channels ---

type buntChannelRepo struct{ s *BuntStore }

func (s *BuntStore) Channels() ChannelRepository { return buntChannelRepo{s} }

func (r buntChannelRepo) Get(ctx context.Context, nameCasefolded string) (ch RegisteredChannel, ok bool, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(prefixChannel + nameCasefolded)
		if e == buntdb.ErrNotFound {
			return nil
		} else if e != nil {
			return e
		}
		ok = true
		return json.Unmarshal([]byte(v), &ch)
	})
	return
}

func (r buntChannelRepo) Put(ctx context.Context, ch RegisteredChannel) error {
	buf, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(prefixChannel+ch.NameCasefolded, string(buf), nil)
		return e
	})
}

func (r buntChannelRepo) Delete(ctx context.Context, nameCasefolded string) error {
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, e := tx.Delete(prefixChannel + nameCasefolded)
		if e == buntdb.ErrNotFound {
			return nil
		}
		return e
	})
}

func (r buntChannelRepo) All(ctx context.Context) (out []RegisteredChannel, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixChannel+"*", func(k, v string) bool {
			var c RegisteredChannel
			if jerr := json.Unmarshal([]byte(v), &c); jerr == nil {
				out = append(out, c)
			}
			return true
		})
	})
	return
}

// --- Bans ---

type buntBanRepo struct{ s *BuntStore }

func (s *BuntStore) Bans() BanRepository { return buntBanRepo{s} }

func banKey(kind ServerBanKind, pattern string) string {
	return fmt.Sprintf("%s%s %s", prefixBan, kind, strings.ToLower(pattern))
}

func (r buntBanRepo) Get(ctx context.Context, kind ServerBanKind, pattern string) (b ServerBan, ok bool, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(banKey(kind, pattern))
		if e == buntdb.ErrNotFound {
			return nil
		} else if e != nil {
			return e
		}
		ok = true
		return json.Unmarshal([]byte(v), &b)
	})
	return
}

func (r buntBanRepo) Put(ctx context.Context, ban ServerBan) error {
	buf, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(banKey(ban.Kind, ban.Pattern), string(buf), nil)
		return e
	})
}

func (r buntBanRepo) Delete(ctx context.Context, kind ServerBanKind, pattern string) error {
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, e := tx.Delete(banKey(kind, pattern))
		if e == buntdb.ErrNotFound {
			return nil
		}
		return e
	})
}

func (r buntBanRepo) All(ctx context.Context, kind ServerBanKind) (out []ServerBan, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(fmt.Sprintf("%s%s *", prefixBan, kind), func(k, v string) bool {
			var b ServerBan
			if jerr := json.Unmarshal([]byte(v), &b); jerr == nil {
				out = append(out, b)
			}
			return true
		})
	})
	return
}

// --- Links ---

type buntLinkRepo struct{ s *BuntStore }

func (s *BuntStore) Links() LinkRepository { return buntLinkRepo{s} }

func (r buntLinkRepo) Get(ctx context.Context, name string) (l ServerLink, ok bool, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(prefixLink + strings.ToLower(name))
		if e == buntdb.ErrNotFound {
			return nil
		} else if e != nil {
			return e
		}
		ok = true
		return json.Unmarshal([]byte(v), &l)
	})
	return
}

func (r buntLinkRepo) Put(ctx context.Context, link ServerLink) error {
	buf, err := json.Marshal(link)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(prefixLink+strings.ToLower(link.Name), string(buf), nil)
		return e
	})
}

func (r buntLinkRepo) Delete(ctx context.Context, name string) error {
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, e := tx.Delete(prefixLink + strings.ToLower(name))
		if e == buntdb.ErrNotFound {
			return nil
		}
		return e
	})
}

func (r buntLinkRepo) All(ctx context.Context) (out []ServerLink, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixLink+"*", func(k, v string) bool {
			var l ServerLink
			if jerr := json.Unmarshal([]byte(v), &l); jerr == nil {
				out = append(out, l)
			}
			return true
		})
	})
	return
}

// --- Memos ---

type buntMemoRepo struct{ s *BuntStore }

func (s *BuntStore) Memos() MemoRepository { return buntMemoRepo{s} }

func (r buntMemoRepo) Put(ctx context.Context, memo Memo) error {
	buf, err := json.Marshal(memo)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(fmt.Sprintf("%s%s %s", prefixMemo, memo.ToAccount, memo.ID), string(buf), nil)
		return e
	})
}

func (r buntMemoRepo) Inbox(ctx context.Context, account string) (out []Memo, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(fmt.Sprintf("%s%s *", prefixMemo, account), func(k, v string) bool {
			var m Memo
			if jerr := json.Unmarshal([]byte(v), &m); jerr == nil {
				out = append(out, m)
			}
			return true
		})
	})
	return
}

func (r buntMemoRepo) MarkRead(ctx context.Context, id string) error {
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixMemo+"*", func(k, v string) bool {
			var m Memo
			if json.Unmarshal([]byte(v), &m) == nil && m.ID == id {
				m.Read = true
				if buf, jerr := json.Marshal(m); jerr == nil {
					tx.Set(k, string(buf), nil)
				}
				return false
			}
			return true
		})
	})
}

// --- VHosts ---

type buntVHostRepo struct{ s *BuntStore }

func (s *BuntStore) VHosts() VHostRepository { return buntVHostRepo{s} }

func (r buntVHostRepo) Get(ctx context.Context, account string) (vh VirtualHost, ok bool, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		v, e := tx.Get(prefixVHost + account)
		if e == buntdb.ErrNotFound {
			return nil
		} else if e != nil {
			return e
		}
		ok = true
		return json.Unmarshal([]byte(v), &vh)
	})
	return
}

func (r buntVHostRepo) Put(ctx context.Context, vh VirtualHost) error {
	buf, err := json.Marshal(vh)
	if err != nil {
		return err
	}
	return r.s.db.Update(func(tx *buntdb.Tx) error {
		_, _, e := tx.Set(prefixVHost+vh.Account, string(buf), nil)
		return e
	})
}

func (r buntVHostRepo) PendingRequests(ctx context.Context) (out []VirtualHost, err error) {
	err = r.s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefixVHost+"*", func(k, v string) bool {
			var vh VirtualHost
			if json.Unmarshal([]byte(v), &vh) == nil && !vh.Approved && vh.Requested != "" {
				out = append(out, vh)
			}
			return true
		})
	})
	return
}

// LoadCloakSecret reads (or lazily generates and persists) the HMAC secret
// used by irc/cloaks, the way the teacher's server.go does via
// LoadCloakSecret(server.store).
func LoadCloakSecret(s *BuntStore) []byte {
	const key = "cloak.secret"
	var secret []byte
	s.db.Update(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err == nil {
			secret = []byte(v)
			return nil
		}
		generated := make([]byte, 32)
		rand.Read(generated)
		tx.Set(key, string(generated), nil)
		secret = generated
		return nil
	})
	return secret
}
