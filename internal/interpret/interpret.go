// Package interpret turns raw agent output into an outcome the router can
// act on: nothing, a reaction, a blocked reply, a failure, or reply text.
package interpret

import (
	"regexp"
	"strings"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/classify"
)

// Directives recognised in agent output.
const (
	NoResponse     = "NO_RESPONSE"
	ReactionPrefix = "REACTION:"
)

// Kind classifies an Outcome.
type Kind int

const (
	KindNone     Kind = iota // processed, nothing to send
	KindReaction             // react with Outcome.Emoji
	KindBlocked              // text suppressed by the ACL ceiling
	KindFailed               // error-shaped output
	KindReply                // deliver Outcome.Text
)

func (k Kind) String() string {
	switch k {
	case KindReaction:
		return "reaction"
	case KindBlocked:
		return "blocked"
	case KindFailed:
		return "failed"
	case KindReply:
		return "reply"
	}
	return "none"
}

// Outcome is the interpreted agent output for one message.
type Outcome struct {
	Kind  Kind
	Emoji string
	Text  string
}

// AdvancesCursor reports whether the triggering message counts as handled
// without a delivery. Replies advance after delivery; failures never do.
func (o Outcome) AdvancesCursor() bool {
	return o.Kind == KindNone || o.Kind == KindReaction || o.Kind == KindBlocked
}

var (
	thinkBlock    = regexp.MustCompile(`(?i)<think>[\s\S]*?</think>`)
	thinkUnopened = regexp.MustCompile(`(?i)^[\s\S]*?</think>\s*`)
	thinkTag      = regexp.MustCompile(`(?i)</?think>`)
)

// StripThinkTags removes <think>...</think> reasoning blocks, including
// output whose opening tag was lost, then trims. It is idempotent.
func StripThinkTags(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = thinkUnopened.ReplaceAllString(s, "")
	s = thinkTag.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Interpret classifies raw output for a message at chain position state.
func Interpret(raw string, state acl.State) Outcome {
	text := StripThinkTags(raw)
	switch {
	case text == "" || text == NoResponse:
		return Outcome{Kind: KindNone}
	case strings.HasPrefix(text, ReactionPrefix):
		return Outcome{Kind: KindReaction, Emoji: Emoji(strings.TrimSpace(text[len(ReactionPrefix):]))}
	case state.Limited():
		return Outcome{Kind: KindBlocked, Text: text}
	case classify.IsErrorShapedResponse(text):
		return Outcome{Kind: KindFailed, Text: text}
	}
	return Outcome{Kind: KindReply, Text: text}
}
