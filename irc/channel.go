// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"sort"
	"sync"
	"time"

	"github.com/oragono/ironhold/irc/history"
	"github.com/oragono/ironhold/irc/modes"
)

// Channel is one channel's live state: membership, modes, bans, topic
// (component G, spec.md §4.6/§4.7). Every exported method takes the
// channel's own lock rather than relying on caller discipline, so the
// fine-grained-locking model of spec.md §5 holds even across goroutines
// driven by different sessions.
type Channel struct {
	mutex sync.RWMutex

	name           string
	nameCasefolded string

	createdAt time.Time

	flags modes.ModeSet
	key   string
	limit int

	banMasks    map[string]string // mask -> reason
	exceptMasks map[string]bool
	inviteMasks map[string]bool

	topic       string
	topicSetBy  string
	topicSetAt  time.Time

	members map[*Client]modes.ModeRank

	registered bool
	founder    string

	history history.Buffer
}

func NewChannel(server *Server, name, nameCasefolded string, registered bool) *Channel {
	ch := &Channel{
		name:           name,
		nameCasefolded: nameCasefolded,
		createdAt:      time.Now().UTC(),
		flags:          make(modes.ModeSet),
		banMasks:       make(map[string]string),
		exceptMasks:    make(map[string]bool),
		inviteMasks:    make(map[string]bool),
		members:        make(map[*Client]modes.ModeRank),
		registered:     registered,
	}
	ch.history = *history.NewBuffer(server.Config().History.ChannelLength)
	return ch
}

func (ch *Channel) Name() string { return ch.name }

func (ch *Channel) NameCasefolded() string { return ch.nameCasefolded }

func (ch *Channel) CreationTime() time.Time {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	return ch.createdAt
}

func (ch *Channel) hasClient(c *Client) bool {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	_, ok := ch.members[c]
	return ok
}

func (ch *Channel) rankOf(c *Client) modes.ModeRank {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	return ch.members[c]
}

func (ch *Channel) Members() []*Client {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	out := make([]*Client, 0, len(ch.members))
	for c := range ch.members {
		out = append(out, c)
	}
	return out
}

// ClientPrefixes renders the rank prefix(es) a client holds in this channel,
// e.g. "@" or "@+" when multi-prefix is negotiated.
func (ch *Channel) ClientPrefixes(c *Client, multiPrefix bool) string {
	rank := ch.rankOf(c)
	if rank == modes.RankNone {
		return ""
	}
	if !multiPrefix {
		return rank.Prefix()
	}
	var out string
	for _, r := range []modes.ModeRank{modes.RankFounder, modes.RankOp, modes.RankHalfOp, modes.RankVoice} {
		if rank.HasAtLeast(r) {
			out += r.Prefix()
		}
	}
	return out
}

// Join adds client to the channel at the given rank (rank is RankNone for a
// plain JOIN; SJOIN bursts from S2S can seed a higher rank directly).
func (ch *Channel) Join(c *Client, rank modes.ModeRank) {
	ch.mutex.Lock()
	ch.members[c] = rank
	ch.mutex.Unlock()
	c.addChannel(ch)
}

// Part removes client, returning true if the channel is now empty (callers
// should then ask the ChannelManager to destroy it, unless it's registered).
func (ch *Channel) Part(c *Client) (empty bool) {
	ch.mutex.Lock()
	delete(ch.members, c)
	empty = len(ch.members) == 0
	ch.mutex.Unlock()
	c.removeChannel(ch)
	return
}

func (ch *Channel) SetRank(c *Client, rank modes.ModeRank) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	if _, ok := ch.members[c]; ok {
		ch.members[c] = rank
	}
}

func (ch *Channel) Topic() (topic, setBy string, setAt time.Time) {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	return ch.topic, ch.topicSetBy, ch.topicSetAt
}

func (ch *Channel) SetTopic(topic, setBy string) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	ch.topic = topic
	ch.topicSetBy = setBy
	ch.topicSetAt = time.Now().UTC()
}

func (ch *Channel) applyModeChange(change modes.Change) (ok bool) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	switch change.Mode {
	case modes.BanMask:
		if change.Add {
			ch.banMasks[change.Param] = ""
		} else {
			delete(ch.banMasks, change.Param)
		}
	case modes.ExceptMask:
		if change.Add {
			ch.exceptMasks[change.Param] = true
		} else {
			delete(ch.exceptMasks, change.Param)
		}
	case modes.InviteMask:
		if change.Add {
			ch.inviteMasks[change.Param] = true
		} else {
			delete(ch.inviteMasks, change.Param)
		}
	case modes.Key:
		if change.Add {
			ch.key = change.Param
		} else {
			ch.key = ""
		}
	case modes.UserLimit:
		if change.Add {
			var n int
			for _, r := range change.Param {
				if r < '0' || r > '9' {
					return false
				}
				n = n*10 + int(r-'0')
			}
			ch.limit = n
		} else {
			ch.limit = 0
		}
	default:
		ch.flags.Set(change.Mode, change.Add)
	}
	return true
}

func (ch *Channel) ModeString() string {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	return ch.flags.String()
}

func (ch *Channel) banList() []string {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	out := make([]string, 0, len(ch.banMasks))
	for m := range ch.banMasks {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (ch *Channel) historyStatus(config *Config) (status HistoryStatus, target string) {
	if !config.History.Enabled {
		return HistoryDisabled, ""
	}
	if ch.registered && config.History.Persistent.Enabled &&
		config.History.Persistent.RegisteredChannels != PersistentDisabled {
		return HistoryPersistent, ch.nameCasefolded
	}
	if !ch.registered && config.History.Persistent.UnregisteredChannels {
		return HistoryPersistent, ch.nameCasefolded
	}
	return HistoryEphemeral, ""
}

func (ch *Channel) resizeHistory(config *Config) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	ch.history.Resize(config.History.ChannelLength)
}
