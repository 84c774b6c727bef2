// Package chat defines the platform-neutral message and channel types the
// routing core operates on. Platform adapters convert their native objects
// into these types at the edge.
package chat

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChannelKind classifies a channel for routing and ceiling purposes.
type ChannelKind int

const (
	// KindGuildText is a regular text channel inside a guild.
	KindGuildText ChannelKind = iota
	// KindDM is a one-to-one direct message channel.
	KindDM
	// KindShared is the well-known channel used for inter-agent relay.
	KindShared
)

// String returns the scope name used on the command line for the kind.
func (k ChannelKind) String() string {
	switch k {
	case KindDM:
		return "dms"
	case KindShared:
		return "botdms"
	default:
		return "text"
	}
}

// Channel describes where a message was posted.
type Channel struct {
	ID        string
	Name      string
	Kind      ChannelKind
	GuildID   string   // empty for DMs
	GuildName string   // empty for DMs
	Slowdown  int      // minimum seconds between messages, 0 if none
	Private   bool     // DMs, or guild channels hidden from @everyone
	Recipient string   // DM recipient username
	Members   []string // usernames that can view the channel
}

// DisplayName returns the channel name, or "DM with <recipient>" for DMs.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return "DM with " + c.Recipient
}

// Author identifies who posted a message.
type Author struct {
	ID       string
	Username string
	Bot      bool
}

// Attachment is a file attached to a message.
type Attachment struct {
	Name        string
	URL         string
	ContentType string
	Size        int
}

// IsAudio reports whether the attachment looks like an audio clip.
func (a Attachment) IsAudio() bool {
	return strings.HasPrefix(a.ContentType, "audio/")
}

// Embed carries the parts of a rich embed the core cares about.
type Embed struct {
	Footer string
}

// Message is an inbound message. Values are treated as immutable.
type Message struct {
	ID          string
	ChannelID   string
	Author      Author
	Content     string
	Attachments []Attachment
	ReferenceID string   // parent message id for replies, empty otherwise
	Mentions    []string // mentioned user ids
	CreatedAt   time.Time
	Embeds      []Embed
}

// MentionsUser reports whether userID is mentioned in the message.
func (m Message) MentionsUser(userID string) bool {
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}

// CompareIDs orders two message ids. Snowflake ids are compared numerically;
// anything else falls back to length-then-lexical order, which matches
// numeric order for unpadded decimal strings.
func CompareIDs(a, b string) int {
	ua, errA := strconv.ParseUint(a, 10, 64)
	ub, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ua < ub:
			return -1
		case ua > ub:
			return 1
		}
		return 0
	}
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// SortByID sorts messages by id ascending in place.
func SortByID(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return CompareIDs(msgs[i].ID, msgs[j].ID) < 0
	})
}

// MaxID returns the highest id in msgs, or "" if msgs is empty.
func MaxID(msgs []Message) string {
	highest := ""
	for _, m := range msgs {
		if highest == "" || CompareIDs(m.ID, highest) > 0 {
			highest = m.ID
		}
	}
	return highest
}
