// Package acl encodes and decodes the agent chain length (ACL) carried in
// the footer of agent replies, and computes how long a chain an agent may
// extend in a given channel.
package acl

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/zulandar/sociobot/internal/chat"
)

// Signature is the fixed text following the ACL in every agent footer.
const Signature = "Sent by a ZDS AI Agent • zds-agents.com"

const (
	courtesyNote      = "\n\nFor your information only.  Replies to this message will not be processed."
	reactionsOnlyNote = "\n\nNote: You are at the ACL limit.  You may only respond with a REACTION (e.g., REACTION:eyes) to acknowledge this message.  Text responses will be blocked."
)

var footerPattern = regexp.MustCompile(`acl:(\d+)`)

// Decode returns the ACL of msg: the integer in the first embed's footer
// when the author is a bot, 0 otherwise.
func Decode(msg chat.Message) int {
	if !msg.Author.Bot || len(msg.Embeds) == 0 {
		return 0
	}
	m := footerPattern.FindStringSubmatch(msg.Embeds[0].Footer)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// EncodeFooter renders the footer for a reply at chain length n.
func EncodeFooter(n int) string {
	return fmt.Sprintf("acl:%d • %s", n, Signature)
}

// Policy holds the ceiling parameters for one agent.
type Policy struct {
	Base      int // ceiling with no agent bots present
	DMCeiling int // DMs and guilds without a configured agent role
	Override  int // per-agent cap, 0 for none
}

// DefaultPolicy returns Base 6 and DMCeiling 1.
func DefaultPolicy() Policy {
	return Policy{Base: 6, DMCeiling: 1}
}

// Ceiling returns the maximum ACL for a channel of the given kind in which
// agentBots agent-role bots can view the channel. counted is false when the
// guild has no agent role configured, in which case the DM ceiling applies.
// The result is never below 1 and never above a positive Override.
func (p Policy) Ceiling(kind chat.ChannelKind, agentBots int, counted bool) int {
	var c int
	if kind == chat.KindDM || !counted {
		c = p.DMCeiling
	} else {
		c = p.Base - agentBots
	}
	if c < 1 {
		c = 1
	}
	if p.Override > 0 && p.Override < c {
		c = p.Override
	}
	return c
}

// EffectiveCeiling scales ceiling by the agent's involvement in the thread:
// x3 when mentioned or the author of the parent or grandparent, x2 when it
// appears anywhere further up the chain.
func EffectiveCeiling(ceiling int, participated, mentioned, threadAuthor bool) int {
	switch {
	case mentioned || threadAuthor:
		return ceiling * 3
	case participated:
		return ceiling * 2
	}
	return ceiling
}

// State is the chain position of one triggering message.
type State struct {
	Current int // ACL decoded from the triggering message
	Ceiling int // effective ceiling for this agent
}

// Limited reports whether a text reply would exceed the ceiling.
func (s State) Limited() bool {
	return s.Current >= s.Ceiling
}

// Advice is the per-message guidance passed to the agent.
type Advice struct {
	InformationalOnly bool
	ReactionsOnly     bool
}

// Advise returns the guidance flags for a message at current with the given
// ceiling: reactions only at the ceiling, informational only one below it
// and above it.
func Advise(current, ceiling int) Advice {
	return Advice{
		ReactionsOnly:     current == ceiling,
		InformationalOnly: current >= ceiling-1 && current != ceiling,
	}
}

// Guidance appends the agent-facing note for the chain position to query.
func Guidance(query string, current, ceiling int) string {
	switch {
	case current == ceiling:
		return query + reactionsOnlyNote
	case current > ceiling:
		return query + courtesyNote
	}
	return query
}
