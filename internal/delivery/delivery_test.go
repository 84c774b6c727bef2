package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/zulandar/sociobot/internal/chat"
)

type fakeSender struct {
	sent   []Outgoing
	failAt int // 1-based chunk to fail, 0 never
}

func (f *fakeSender) Reply(_ context.Context, _ chat.Message, out Outgoing) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return errors.New("missing permissions")
	}
	f.sent = append(f.sent, out)
	return nil
}

type fakeCursors struct {
	set map[string]string
}

func (f *fakeCursors) Get(_ context.Context, _, ch string) (string, bool, error) {
	id, ok := f.set[ch]
	return id, ok, nil
}

func (f *fakeCursors) Set(_ context.Context, _, ch, id string) error {
	if f.set == nil {
		f.set = map[string]string{}
	}
	f.set[ch] = id
	return nil
}

func (f *fakeCursors) All(context.Context, string) (map[string]string, error) {
	return f.set, nil
}

var target = chat.Message{ID: "500", ChannelID: "c1"}

func TestDeliver_SingleChunk(t *testing.T) {
	s := &fakeSender{}
	c := &fakeCursors{}
	p := &Pipeline{Sender: s, Cursors: c, Agent: "alice"}
	files := []File{{Name: "reply.mp3", Path: "/tmp/reply.mp3"}}

	if err := p.Deliver(context.Background(), target, "<think>x</think>Hello", 2, files); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("sent %d chunks, want 1", len(s.sent))
	}
	out := s.sent[0]
	if out.Content != "Hello" {
		t.Errorf("Content = %q, want %q", out.Content, "Hello")
	}
	if out.Footer != "acl:3 • Sent by a ZDS AI Agent • zds-agents.com" {
		t.Errorf("Footer = %q", out.Footer)
	}
	if len(out.Files) != 1 {
		t.Errorf("Files = %v, want the audio file", out.Files)
	}
	if c.set["c1"] != "500" {
		t.Errorf("cursor = %q, want 500", c.set["c1"])
	}
}

func TestDeliver_MultiChunk(t *testing.T) {
	s := &fakeSender{}
	c := &fakeCursors{}
	p := &Pipeline{Sender: s, Cursors: c, Agent: "alice"}
	text := strings.Repeat("word ", 900) // 4500 chars

	if err := p.Deliver(context.Background(), target, text, 0, nil); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	n := len(s.sent)
	if n < 3 {
		t.Fatalf("sent %d chunks, want at least 3", n)
	}
	var rebuilt strings.Builder
	for i, out := range s.sent {
		prefix := fmt.Sprintf("(%d/%d) ", i+1, n)
		if !strings.HasPrefix(out.Content, prefix) {
			t.Errorf("chunk %d = %.20q, want prefix %q", i, out.Content, prefix)
		}
		if len([]rune(out.Content)) > Limit {
			t.Errorf("chunk %d is %d chars with prefix", i, len([]rune(out.Content)))
		}
		if (i == 0) != (out.Footer != "") {
			t.Errorf("chunk %d footer = %q", i, out.Footer)
		}
		rebuilt.WriteString(strings.TrimPrefix(out.Content, prefix))
	}
	if rebuilt.String() != strings.TrimSpace(text) {
		t.Error("chunks do not reconstruct the reply")
	}
	if c.set["c1"] != "500" {
		t.Errorf("cursor = %q, want 500", c.set["c1"])
	}
}

func TestDeliver_FailureAbortsAndKeepsCursor(t *testing.T) {
	s := &fakeSender{failAt: 2}
	c := &fakeCursors{}
	p := &Pipeline{Sender: s, Cursors: c, Agent: "alice"}

	err := p.Deliver(context.Background(), target, strings.Repeat("word ", 900), 0, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chunk 2/") {
		t.Errorf("error = %q, want chunk number", err)
	}
	if len(s.sent) != 1 {
		t.Errorf("sent %d chunks, want 1 before the failure", len(s.sent))
	}
	if _, ok := c.set["c1"]; ok {
		t.Error("cursor advanced despite failed delivery")
	}
}

func TestDeliver_EmptyAfterStrip(t *testing.T) {
	p := &Pipeline{Sender: &fakeSender{}}
	if err := p.Deliver(context.Background(), target, "<think>only</think>", 0, nil); err == nil {
		t.Error("expected error for empty reply")
	}
}

func TestDeliver_NilCursors(t *testing.T) {
	s := &fakeSender{}
	p := &Pipeline{Sender: s}
	if err := p.Deliver(context.Background(), target, "hi", 0, nil); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}
