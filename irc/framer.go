// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import (
	"bufio"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/oragono/ironhold/irc/logger"
)

// MaxClientLineLen and MaxServerLineLen are the byte ceilings of spec.md
// §4.1. They bound the *input* line including any leading tag segment;
// lines over the ceiling are dropped silently, not disconnected.
const (
	MaxClientLineLen = 4096
	MaxServerLineLen = 8192
)

// LineFramer turns a byte stream into a sequence of CRLF-delimited, UTF-8
// lines, per spec.md §4.1. A trailing '\r' before '\n' is stripped; empty
// lines are ignored; invalid UTF-8 is replaced (U+FFFD) rather than
// failing the stream.
type LineFramer struct {
	scanner  *bufio.Scanner
	maxLen   int
	log      *logger.Manager
	subsystem string
}

// NewLineFramer wraps r, applying the given per-line ceiling (4096 for
// client connections, 8192 for S2S).
func NewLineFramer(r io.Reader, maxLen int, log *logger.Manager, subsystem string) *LineFramer {
	// decode permissively: bad byte sequences become U+FFFD instead of
	// aborting the stream, matching the teacher's posture of never failing
	// a connection over malformed input.
	decoder := unicode.UTF8.NewDecoder()
	utf8Reader := transform.NewReader(r, decoder)

	scanner := bufio.NewScanner(utf8Reader)
	scanner.Buffer(make([]byte, 0, maxLen), maxLen*2)
	scanner.Split(scanCRLFOrLF(maxLen))

	return &LineFramer{scanner: scanner, maxLen: maxLen, log: log, subsystem: subsystem}
}

// scanCRLFOrLF is a bufio.SplitFunc that splits on '\n', stripping a
// preceding '\r'. A line still without a '\n' after more than maxLen+1
// buffered bytes is discarded (without emitting) up to its '\n', and the
// scan resumes past it; shorter oversized lines are left to Next().
func scanCRLFOrLF(maxLen int) bufio.SplitFunc {
	discarding := false
	return func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		for i := 0; i < len(data); i++ {
			if data[i] == '\n' {
				if discarding {
					discarding = false
					return i + 1, nil, nil
				}
				line := data[:i]
				if len(line) > 0 && line[len(line)-1] == '\r' {
					line = line[:len(line)-1]
				}
				return i + 1, line, nil
			}
		}
		if discarding && len(data) > 0 {
			return len(data), nil, nil
		}
		if atEOF && len(data) > 0 {
			return len(data), data, nil
		}
		if atEOF {
			return 0, nil, io.EOF
		}
		if len(data) > maxLen+1 {
			// no newline within maxLen bytes (plus a '\r'): the line is
			// oversized, so drop what is buffered and skip the rest of it,
			// before the scanner's buffer limit ends the stream.
			discarding = true
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
}

// Next returns the next well-formed line and true, skipping empty lines and
// (with a debug log) oversized lines that reach it whole; it returns false
// when the stream ends, and Err then reports any read error.
func (f *LineFramer) Next() (string, bool) {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if len(line) > f.maxLen {
			if f.log != nil {
				f.log.Debug(f.subsystem, "dropped oversized line")
			}
			continue
		}
		return string(line), true
	}
	return "", false
}

func (f *LineFramer) Err() error {
	return f.scanner.Err()
}
