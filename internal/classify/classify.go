// Package classify holds the pure predicates used to filter inbound
// messages and agent output.
package classify

import (
	"strings"

	"github.com/zulandar/sociobot/internal/chat"
)

// Sentinels that mark agent output as an internal tool failure.
var errorSentinels = []string{
	"Q CLI failed with exit code",
	"Sorry, I encountered an error:",
}

// IsOwnMessage reports whether msg was authored by selfID.
func IsOwnMessage(msg chat.Message, selfID string) bool {
	return msg.Author.ID == selfID
}

// IsAfterCursor reports whether msg is newer than cursor. An empty cursor
// admits every message.
func IsAfterCursor(msg chat.Message, cursor string) bool {
	return cursor == "" || chat.CompareIDs(msg.ID, cursor) > 0
}

// IsRelevantInSharedChannel reports whether a message in the shared agent
// channel concerns selfID: any human message, or a bot message mentioning
// selfID. Own messages are never relevant.
func IsRelevantInSharedChannel(msg chat.Message, selfID string) bool {
	if IsOwnMessage(msg, selfID) {
		return false
	}
	if !msg.Author.Bot {
		return true
	}
	return msg.MentionsUser(selfID)
}

// IsErrorShapedResponse reports whether agent output signals a failure.
func IsErrorShapedResponse(text string) bool {
	for _, s := range errorSentinels {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// Reason explains, for debug tracing, how a message is treated in a backlog
// scan against cursor.
func Reason(msg chat.Message, selfID, cursor string) string {
	switch {
	case IsOwnMessage(msg, selfID):
		return "own bot message"
	case !IsAfterCursor(msg, cursor):
		return "before cutoff"
	}
	return "will process"
}

// SharedReason explains how a shared-channel message is treated.
func SharedReason(msg chat.Message, selfID string) string {
	switch {
	case IsOwnMessage(msg, selfID):
		return "own bot message"
	case !msg.Author.Bot:
		return "human message"
	case msg.MentionsUser(selfID):
		return "mentions bot"
	}
	return "other bot message"
}
