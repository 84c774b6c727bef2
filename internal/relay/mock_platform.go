package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/delivery"
)

// MockPlatform implements Platform in memory for tests. Channels and
// messages are registered up front; replies and reactions are recorded.
type MockPlatform struct {
	mu         sync.Mutex
	selfID     string
	connected  bool
	closed     bool
	events     chan Event
	channels   map[string]chat.Channel
	messages   map[string][]chat.Message
	viewable   map[string]bool
	bots       map[string]botCount
	users      map[string]string
	dms        []string
	guildText  []string
	replies    []SentReply
	reactions  []SentReaction
	replyErr   error
	historyErr map[string]error
}

type botCount struct {
	n       int
	counted bool
}

// SentReply is one reply recorded by MockPlatform.
type SentReply struct {
	Target chat.Message
	Out    delivery.Outgoing
}

// SentReaction is one reaction recorded by MockPlatform.
type SentReaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// NewMockPlatform creates a MockPlatform whose own user id is selfID.
func NewMockPlatform(selfID string) *MockPlatform {
	return &MockPlatform{
		selfID:     selfID,
		events:     make(chan Event, 100),
		channels:   make(map[string]chat.Channel),
		messages:   make(map[string][]chat.Message),
		viewable:   make(map[string]bool),
		bots:       make(map[string]botCount),
		users:      make(map[string]string),
		historyErr: make(map[string]error),
	}
}

// Connect marks the platform connected.
func (m *MockPlatform) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock platform: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the event channel. Must be called after Connect.
func (m *MockPlatform) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock platform: not connected")
	}
	return m.events, nil
}

// Close closes the event channel.
func (m *MockPlatform) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.events)
	return nil
}

// BotUserID returns the configured own user id.
func (m *MockPlatform) BotUserID() string {
	return m.selfID
}

// Channel returns a registered channel.
func (m *MockPlatform) Channel(ctx context.Context, channelID string) (chat.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return chat.Channel{}, fmt.Errorf("mock platform: unknown channel %s", channelID)
	}
	return ch, nil
}

// CanView reports the view permission set with AddChannel.
func (m *MockPlatform) CanView(ctx context.Context, channelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewable[channelID], nil
}

// AgentBots returns the count set with SetAgentBots.
func (m *MockPlatform) AgentBots(ctx context.Context, channelID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.bots[channelID]
	return c.n, c.counted, nil
}

// History applies q to the channel's messages and returns them newest
// first. With After set the oldest matches are returned, otherwise the
// newest.
func (m *MockPlatform) History(ctx context.Context, channelID string, q HistoryQuery) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.historyErr[channelID]; err != nil {
		return nil, err
	}
	var match []chat.Message
	for _, msg := range m.messages[channelID] {
		if q.After != "" && chat.CompareIDs(msg.ID, q.After) <= 0 {
			continue
		}
		if q.Before != "" && chat.CompareIDs(msg.ID, q.Before) >= 0 {
			continue
		}
		match = append(match, msg)
	}
	chat.SortByID(match)
	if q.Limit > 0 && len(match) > q.Limit {
		if q.After != "" {
			match = match[:q.Limit]
		} else {
			match = match[len(match)-q.Limit:]
		}
	}
	sort.SliceStable(match, func(i, j int) bool {
		return chat.CompareIDs(match[i].ID, match[j].ID) > 0
	})
	return match, nil
}

// FetchMessage returns one registered message.
func (m *MockPlatform) FetchMessage(ctx context.Context, channelID, messageID string) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages[channelID] {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return chat.Message{}, fmt.Errorf("mock platform: unknown message %s", messageID)
}

// Reply records out, or fails with the error set by SetReplyError.
func (m *MockPlatform) Reply(ctx context.Context, target chat.Message, out delivery.Outgoing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replyErr != nil {
		return m.replyErr
	}
	m.replies = append(m.replies, SentReply{Target: target, Out: out})
	return nil
}

// React records the reaction.
func (m *MockPlatform) React(ctx context.Context, channelID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, SentReaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

// Username resolves a user registered with AddUser.
func (m *MockPlatform) Username(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.users[userID]
	if !ok {
		return "", fmt.Errorf("mock platform: unknown user %s", userID)
	}
	return name, nil
}

// DMChannels returns the channels added with AddDMChannel.
func (m *MockPlatform) DMChannels(ctx context.Context) ([]chat.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Channel, 0, len(m.dms))
	for _, id := range m.dms {
		out = append(out, m.channels[id])
	}
	return out, nil
}

// GuildTextChannels returns the channels added with AddGuildText.
func (m *MockPlatform) GuildTextChannels(ctx context.Context) ([]chat.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Channel, 0, len(m.guildText))
	for _, id := range m.guildText {
		out = append(out, m.channels[id])
	}
	return out, nil
}

// --- Test helpers ---

// AddChannel registers ch with the given view permission.
func (m *MockPlatform) AddChannel(ch chat.Channel, viewable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ID] = ch
	m.viewable[ch.ID] = viewable
}

// AddDMChannel registers ch as a cached DM channel.
func (m *MockPlatform) AddDMChannel(ch chat.Channel) {
	ch.Kind = chat.KindDM
	m.AddChannel(ch, true)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms = append(m.dms, ch.ID)
}

// AddGuildText registers ch as a viewable guild text channel.
func (m *MockPlatform) AddGuildText(ch chat.Channel) {
	m.AddChannel(ch, true)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guildText = append(m.guildText, ch.ID)
}

// AddMessages appends msgs to channelID's history.
func (m *MockPlatform) AddMessages(channelID string, msgs ...chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		msg.ChannelID = channelID
		m.messages[channelID] = append(m.messages[channelID], msg)
	}
}

// AddUser registers a username for mention resolution.
func (m *MockPlatform) AddUser(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = name
}

// SetAgentBots sets the agent-bot count reported for channelID.
func (m *MockPlatform) SetAgentBots(channelID string, n int, counted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[channelID] = botCount{n: n, counted: counted}
}

// SetReplyError makes every Reply fail with err (nil to clear).
func (m *MockPlatform) SetReplyError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyErr = err
}

// SetHistoryError makes History for channelID fail with err.
func (m *MockPlatform) SetHistoryError(channelID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyErr[channelID] = err
}

// Simulate delivers ev as if it came from the platform.
func (m *MockPlatform) Simulate(ev Event) {
	m.events <- ev
}

// Replies returns a copy of the recorded replies.
func (m *MockPlatform) Replies() []SentReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentReply, len(m.replies))
	copy(out, m.replies)
	return out
}

// Reactions returns a copy of the recorded reactions.
func (m *MockPlatform) Reactions() []SentReaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentReaction, len(m.reactions))
	copy(out, m.reactions)
	return out
}
