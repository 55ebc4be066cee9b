package sse

import (
	"testing"
)

func TestParser_BasicEvent(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: {\"text\":\"hello\"}\n\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "message" {
		t.Errorf("default type should be 'message', got %q", events[0].Type)
	}
	if string(events[0].Data) != `{"text":"hello"}` {
		t.Errorf("unexpected payload %q", events[0].Data)
	}
}

func TestParser_IncompleteLineRetained(t *testing.T) {
	p := NewParser()

	if events := p.Feed([]byte("data: {\"te")); len(events) != 0 {
		t.Fatalf("partial line should yield no events, got %d", len(events))
	}
	events := p.Feed([]byte("xt\":\"hi\"}\n\n"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event after completion, got %d", len(events))
	}
	if string(events[0].Data) != `{"text":"hi"}` {
		t.Errorf("unexpected payload %q", events[0].Data)
	}
}

func TestParser_MultipleEvents(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: {\"n\":1}\n\ndata: {\"n\":2}\n\n"))

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0].Data) != `{"n":1}` || string(events[1].Data) != `{"n":2}` {
		t.Errorf("unexpected payloads %q %q", events[0].Data, events[1].Data)
	}
}

func TestParser_ExplicitEventType(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("event: delta\ndata: {\"x\":1}\n\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "delta" {
		t.Errorf("expected type 'delta', got %q", events[0].Type)
	}
}

func TestParser_CRLFLineEndings(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: {\"a\":true}\r\n\r\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != `{"a":true}` {
		t.Errorf("unexpected payload %q", events[0].Data)
	}
}

func TestParser_MalformedLineIgnored(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("garbage line\ndata: {\"ok\":1}\n\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != `{"ok":1}` {
		t.Errorf("unexpected payload %q", events[0].Data)
	}
}

func TestParser_CRLFSplitAcrossChunks(t *testing.T) {
	p := NewParser()

	if events := p.Feed([]byte("data: {\"s\":1}\r")); len(events) != 0 {
		t.Fatalf("expected no events before the newline, got %d", len(events))
	}
	events := p.Feed([]byte("\n\r\n"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event after split CRLF, got %d", len(events))
	}
	if string(events[0].Data) != `{"s":1}` {
		t.Errorf("unexpected payload %q", events[0].Data)
	}
}

func TestParser_DoneSentinel(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: [DONE]\n\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != "done" {
		t.Errorf("expected synthetic 'done' event, got %q", events[0].Type)
	}
	if len(events[0].Data) != 0 {
		t.Errorf("done event should carry no payload, got %q", events[0].Data)
	}
}

func TestParser_NonJSONDataDropped(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: not json at all\n\n"))

	if len(events) != 0 {
		t.Fatalf("non-JSON payload should be dropped, got %d events", len(events))
	}
}

func TestParser_MultilineDataJoined(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: [1,\ndata: 2]\n\n"))

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if string(events[0].Data) != "[1,\n2]" {
		t.Errorf("data lines should be newline-joined, got %q", events[0].Data)
	}
}

func TestParser_EmptyLineWithoutDataEmitsNothing(t *testing.T) {
	p := NewParser()
	if events := p.Feed([]byte("\n\nevent: ping\n\n")); len(events) != 0 {
		t.Fatalf("blank separators without data should emit nothing, got %d", len(events))
	}
}

// Splitting the same stream at every possible byte boundary must produce
// the same events as feeding it whole.
func TestParser_ArbitraryChunkSplits(t *testing.T) {
	stream := "event: delta\r\ndata: {\"n\":1}\r\n\r\ndata: {\"n\":2}\ndata: 3\n\ndata: [DONE]\n\n"

	whole := NewParser().Feed([]byte(stream))

	for cut := 1; cut < len(stream); cut++ {
		p := NewParser()
		events := p.Feed([]byte(stream[:cut]))
		events = append(events, p.Feed([]byte(stream[cut:]))...)

		if len(events) != len(whole) {
			t.Fatalf("cut %d: got %d events, want %d", cut, len(events), len(whole))
		}
		for i := range events {
			if events[i].Type != whole[i].Type || string(events[i].Data) != string(whole[i].Data) {
				t.Fatalf("cut %d event %d: got (%q, %q), want (%q, %q)",
					cut, i, events[i].Type, events[i].Data, whole[i].Type, whole[i].Data)
			}
		}
	}
}
