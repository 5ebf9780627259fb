// Copyright (c) 2012-2014 Jeremy Latt
// Copyright (c) 2014-2015 Edmund Huber
// Copyright (c) 2016-2017 Daniel Oaks <daniel@danieloaks.net>
// released under the MIT license

package irc

import "github.com/oragono/ironhold/irc/caps"

// ResponseBuffer batches the numerics/commands produced while handling one
// incoming line, so they can be sent as a single labeled-response batch
// (IRCv3 labeled-response, spec.md §4.4) instead of one write per line.
type ResponseBuffer struct {
	session *Session
	lines   []bufferedLine
	label   string
	finalized bool
}

type bufferedLine struct {
	tags    map[string]string
	source  string
	command string
	params  []string
}

func NewResponseBuffer(session *Session) *ResponseBuffer {
	return &ResponseBuffer{session: session, label: session.currentLabel()}
}

// Add queues one line for the session.
func (rb *ResponseBuffer) Add(tags map[string]string, source, command string, params ...string) {
	rb.lines = append(rb.lines, bufferedLine{tags: tags, source: source, command: command, params: params})
}

// Send flushes the buffer to the session. blocking indicates whether the
// caller is willing to block on backpressure (true for most replies; false
// from contexts that must not stall, e.g. server-initiated broadcasts).
func (rb *ResponseBuffer) Send(blocking bool) error {
	if rb.finalized {
		return nil
	}
	rb.finalized = true

	if len(rb.lines) == 0 {
		return nil
	}

	useBatch := rb.label != "" && len(rb.lines) > 1 && rb.session.capabilities.Has(caps.Batch)
	var batchName string
	if useBatch {
		batchName = rb.session.nextBatchName()
		rb.session.sendBatchStart(batchName, rb.label)
	}

	for _, line := range rb.lines {
		tags := line.tags
		if useBatch {
			tags = withBatchTag(tags, batchName)
		} else if rb.label != "" && len(rb.lines) == 1 {
			// single-line labeled response: the label tag goes directly on the one line
			labeled := make(map[string]string, len(tags)+1)
			for k, v := range tags {
				labeled[k] = v
			}
			labeled["label"] = rb.label
			tags = labeled
		}
		rb.session.sendRaw(tags, line.source, line.command, line.params, blocking)
	}

	if useBatch {
		rb.session.sendBatchEnd(batchName)
	}

	return nil
}

func withBatchTag(tags map[string]string, batchName string) map[string]string {
	out := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		out[k] = v
	}
	out["batch"] = batchName
	return out
}
