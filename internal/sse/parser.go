// Package sse implements an incremental parser for server-sent event byte
// streams. One Parser instance is created per upstream stream; it is not
// safe for concurrent use.
package sse

import (
	"encoding/json"
	"strings"
)

// doneSentinel is the literal payload some upstreams send to close a stream.
const doneSentinel = "[DONE]"

// Event is one parsed SSE record. Type defaults to "message" when the
// upstream omits the event field; the synthetic type "done" marks the
// [DONE] sentinel.
type Event struct {
	Type string
	Data json.RawMessage
}

// Parser accumulates possibly-partial byte chunks and yields complete
// events. Incomplete trailing lines are buffered until the next Feed call.
type Parser struct {
	buffer    string
	eventType string
	data      []string
}

// NewParser creates an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed ingests one chunk and returns the events completed by it.
//
// Field handling per line:
//
//	empty line  → emit the pending event (type defaults to "message")
//	"event:<x>" → flush any pending event, then set the type to trim(x)
//	"data:<x>"  → append trim(x) to the pending data
//	anything else is ignored
//
// Data lines are joined with newlines to form the payload. The payload
// "[DONE]" becomes a synthetic "done" event; payloads that are not valid
// JSON yield no event.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buffer += string(chunk)

	var events []Event

	// Keep any trailing fragment that is not yet newline-terminated.
	lines := strings.Split(p.buffer, "\n")
	if strings.HasSuffix(p.buffer, "\n") {
		p.buffer = ""
		lines = lines[:len(lines)-1]
	} else {
		p.buffer = lines[len(lines)-1]
		lines = lines[:len(lines)-1]
	}

	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")

		switch {
		case line == "":
			if ev, ok := p.flush(); ok {
				events = append(events, ev)
			}

		case strings.HasPrefix(line, "event:"):
			if ev, ok := p.flush(); ok {
				events = append(events, ev)
			}
			p.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			p.data = append(p.data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	return events
}

// flush builds an event from the accumulated fields and resets them.
// Returns false when there is no data to emit or the payload is not JSON.
func (p *Parser) flush() (Event, bool) {
	if len(p.data) == 0 {
		p.eventType = ""
		return Event{}, false
	}

	payload := strings.Join(p.data, "\n")
	eventType := p.eventType
	if eventType == "" {
		eventType = "message"
	}
	p.eventType = ""
	p.data = nil

	if payload == doneSentinel {
		return Event{Type: "done"}, true
	}

	if !json.Valid([]byte(payload)) {
		return Event{}, false
	}
	return Event{Type: eventType, Data: json.RawMessage(payload)}, true
}
