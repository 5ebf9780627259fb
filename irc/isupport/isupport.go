// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

// Package isupport builds and diffs RPL_ISUPPORT (005) token lines.
package isupport

import (
	"sort"
	"strings"
)

const maxLineTokens = 12 // keep each 005 line well under the 512-byte ceiling

// List accumulates ISUPPORT tokens and renders them into wire-ready,
// length-bounded lines.
type List struct {
	tokens      map[string]string
	CachedReply [][]string
}

func NewList() *List {
	return &List{tokens: make(map[string]string)}
}

// Add sets a token with a value, e.g. Add("CHANTYPES", "#").
func (l *List) Add(name, value string) {
	l.tokens[name] = value
}

// AddNoValue sets a valueless boolean token, e.g. "EXCEPTS".
func (l *List) AddNoValue(name string) {
	l.tokens[name] = ""
}

// RegenerateCachedReply rebuilds the cached, line-wrapped token lists.
func (l *List) RegenerateCachedReply() {
	names := make([]string, 0, len(l.tokens))
	for k := range l.tokens {
		names = append(names, k)
	}
	sort.Strings(names)

	var lines [][]string
	var cur []string
	for _, name := range names {
		tok := name
		if v := l.tokens[name]; v != "" {
			tok = name + "=" + v
		}
		cur = append(cur, tok)
		if len(cur) >= maxLineTokens {
			lines = append(lines, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		lines = append(lines, cur)
	}
	l.CachedReply = lines
}

// GetDifference returns the new ISUPPORT lines to push to already-connected
// clients after a REHASH, one RPL_ISUPPORT worth of tokens per returned line,
// only for tokens whose value changed.
func (l *List) GetDifference(newList *List) [][]string {
	var changed []string
	for name, newVal := range newList.tokens {
		if oldVal, ok := l.tokens[name]; !ok || oldVal != newVal {
			tok := name
			if newVal != "" {
				tok = name + "=" + newVal
			}
			changed = append(changed, tok)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)

	var lines [][]string
	for i := 0; i < len(changed); i += maxLineTokens {
		end := i + maxLineTokens
		if end > len(changed) {
			end = len(changed)
		}
		lines = append(lines, changed[i:end])
	}
	return lines
}

// String renders the whole table as a single debug-friendly string.
func (l *List) String() string {
	names := make([]string, 0, len(l.tokens))
	for k, v := range l.tokens {
		if v != "" {
			names = append(names, k+"="+v)
		} else {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}
