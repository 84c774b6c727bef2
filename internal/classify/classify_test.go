package classify

import (
	"testing"

	"github.com/zulandar/sociobot/internal/chat"
)

func msg(id, author string, bot bool, mentions ...string) chat.Message {
	return chat.Message{ID: id, Author: chat.Author{ID: author, Bot: bot}, Mentions: mentions}
}

func TestIsOwnMessage(t *testing.T) {
	if !IsOwnMessage(msg("1", "me", true), "me") {
		t.Error("own message not detected")
	}
	if IsOwnMessage(msg("1", "other", true), "me") {
		t.Error("other author reported as own")
	}
}

func TestIsAfterCursor(t *testing.T) {
	tests := []struct {
		id, cursor string
		want       bool
	}{
		{"5", "", true},
		{"1", "", true},
		{"11", "10", true},
		{"10", "10", false},
		{"9", "10", false},
		{"100", "99", true}, // numeric, not lexical
		{"1418032549430558782", "1418032549430558781", true},
	}
	for _, tt := range tests {
		if got := IsAfterCursor(msg(tt.id, "a", false), tt.cursor); got != tt.want {
			t.Errorf("IsAfterCursor(%s, %q) = %v, want %v", tt.id, tt.cursor, got, tt.want)
		}
	}
}

func TestIsAfterCursor_ConsistentWithCompareIDs(t *testing.T) {
	ids := []string{"1", "9", "10", "99", "100", "12345678901234567", "1418032549430558782"}
	for _, a := range ids {
		for _, b := range ids {
			got := IsAfterCursor(msg(a, "x", false), b)
			want := chat.CompareIDs(a, b) > 0
			if got != want {
				t.Errorf("IsAfterCursor(%s, %s) = %v, want %v", a, b, got, want)
			}
		}
	}
}

func TestIsRelevantInSharedChannel(t *testing.T) {
	tests := []struct {
		name string
		m    chat.Message
		want bool
	}{
		{"own", msg("1", "me", true, "me"), false},
		{"human", msg("1", "h", false), true},
		{"bot mentioning self", msg("1", "b", true, "x", "me"), true},
		{"bot chatter", msg("1", "b", true, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRelevantInSharedChannel(tt.m, "me"); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
			if got := SharedReason(tt.m, "me"); got == "" {
				t.Error("empty reason")
			}
		})
	}
}

func TestIsErrorShapedResponse(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Q CLI failed with exit code 1", true},
		{"prefix Sorry, I encountered an error: boom", true},
		{"Sorry, I encountered a problem", false},
		{"all good", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsErrorShapedResponse(tt.text); got != tt.want {
			t.Errorf("IsErrorShapedResponse(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		m      chat.Message
		cursor string
		want   string
	}{
		{msg("5", "me", true), "", "own bot message"},
		{msg("5", "h", false), "7", "before cutoff"},
		{msg("9", "h", false), "7", "will process"},
	}
	for _, tt := range tests {
		if got := Reason(tt.m, "me", tt.cursor); got != tt.want {
			t.Errorf("Reason(%s) = %q, want %q", tt.m.ID, got, tt.want)
		}
	}
	if got := SharedReason(msg("1", "b", true, "me"), "me"); got != "mentions bot" {
		t.Errorf("SharedReason = %q", got)
	}
}
