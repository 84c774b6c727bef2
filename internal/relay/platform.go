// Package relay routes chat events to the agent: which messages are worth an
// invocation, how long a reply chain may grow, and what happens to the
// agent's output. It owns the realtime and backlog paths and the daemon
// that drives them.
package relay

import (
	"context"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/delivery"
)

// Platform is the chat platform as seen by the router. Implementations
// convert native objects to chat types at the edge.
type Platform interface {
	acl.Fetcher
	delivery.Sender

	// Connect logs in and blocks until the platform reports ready.
	Connect(ctx context.Context) error

	// Listen returns the inbound event stream. The channel is closed when
	// ctx is cancelled or the platform is closed.
	Listen(ctx context.Context) (<-chan Event, error)

	// Close disconnects.
	Close() error

	// BotUserID returns the agent's own user id once connected.
	BotUserID() string

	// Channel describes channelID.
	Channel(ctx context.Context, channelID string) (chat.Channel, error)

	// CanView reports whether the agent may view channelID.
	CanView(ctx context.Context, channelID string) (bool, error)

	// AgentBots counts the agent-role bots that can view channelID. counted
	// is false when the guild has no agent role configured.
	AgentBots(ctx context.Context, channelID string) (n int, counted bool, err error)

	// History returns channel messages matching q, in any order.
	History(ctx context.Context, channelID string, q HistoryQuery) ([]chat.Message, error)

	// React adds emoji to a message.
	React(ctx context.Context, channelID, messageID, emoji string) error

	// Username resolves a user id for display.
	Username(ctx context.Context, userID string) (string, error)

	// DMChannels lists the direct message channels known to the platform.
	DMChannels(ctx context.Context) ([]chat.Channel, error)

	// GuildTextChannels lists guild text channels the agent can view.
	GuildTextChannels(ctx context.Context) ([]chat.Channel, error)
}

// HistoryQuery selects messages from a channel. Before and After are
// exclusive message ids; empty means unbounded.
type HistoryQuery struct {
	Limit  int
	Before string
	After  string
}

// EventKind distinguishes inbound events.
type EventKind int

const (
	EventMessage EventKind = iota
	EventReaction
)

// Event is one inbound platform event.
type Event struct {
	Kind     EventKind
	Message  chat.Message // EventMessage
	Reaction Reaction     // EventReaction
}

// Reaction is a reaction added to a message.
type Reaction struct {
	ChannelID string
	MessageID string
	User      chat.Author
	Emoji     string // unicode, or ":name:" for custom emoji
}
