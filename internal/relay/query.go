package relay

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/zulandar/sociobot/internal/chat"
)

var (
	userMention    = regexp.MustCompile(`<@!?(\d+)>`)
	channelMention = regexp.MustCompile(`<#(\d+)>`)
)

// previewLimit bounds the quoted message in a reaction notice.
const previewLimit = 500

// ResolveMentions rewrites <@id> as @username and <#id> as #name. Mentions
// that cannot be resolved are left as they are.
func ResolveMentions(ctx context.Context, p Platform, content string) string {
	content = userMention.ReplaceAllStringFunc(content, func(m string) string {
		id := userMention.FindStringSubmatch(m)[1]
		name, err := p.Username(ctx, id)
		if err != nil || name == "" {
			return m
		}
		return "@" + name
	})
	return channelMention.ReplaceAllStringFunc(content, func(m string) string {
		id := channelMention.FindStringSubmatch(m)[1]
		ch, err := p.Channel(ctx, id)
		if err != nil || ch.Name == "" {
			return m
		}
		return "#" + ch.Name
	})
}

// Query renders the realtime prompt for msg. content is the message text
// with mentions already resolved.
func Query(msg chat.Message, ch chat.Channel, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New Discord message from @%s (ID: %s) in channel %s (ID: %s):\n\n%s",
		msg.Author.Username, msg.Author.ID, ch.DisplayName(), ch.ID, content)
	if len(msg.Attachments) > 0 {
		b.WriteString("\n\nAttachments:")
		for _, a := range msg.Attachments {
			typ := a.ContentType
			if typ == "" {
				typ = "unknown type"
			}
			fmt.Fprintf(&b, "\n- %s (%s, %s) - %s", a.Name, typ, FormatSize(a.Size), a.URL)
		}
	}
	return b.String()
}

// FormatSize renders an attachment size as rounded KB, or MB from 1024KB.
func FormatSize(bytes int) string {
	kb := int(math.Round(float64(bytes) / 1024))
	if kb < 1024 {
		return fmt.Sprintf("%dKB", kb)
	}
	return fmt.Sprintf("%dMB", int(math.Round(float64(kb)/1024)))
}

// ReactionNotice tells the agent someone reacted to target. The agent's
// reply to it is never delivered.
func ReactionNotice(r Reaction, ch chat.Channel, target chat.Message) string {
	preview := []rune(target.Content)
	quoted := string(preview)
	if len(preview) > previewLimit {
		quoted = string(preview[:previewLimit]) + "..."
	}
	return fmt.Sprintf("Reaction added by @%s (ID: %s) in channel %s (ID: %s):\n\n"+
		"Reacted with %s to message from @%s (ID: %s, Message ID: %s):\n\"%s\"\n\n"+
		"This message is for your information only. Do not reply -- replies to this message will not be processed.",
		r.User.Username, r.User.ID, ch.DisplayName(), ch.ID,
		r.Emoji, target.Author.Username, target.Author.ID, target.ID, quoted)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
