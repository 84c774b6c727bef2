// Package delivery sends agent replies back to the platform: split into
// chunks, the first carrying the ACL footer, as threaded replies to the
// triggering message. The cursor advances only after the last chunk lands.
package delivery

import (
	"context"
	"fmt"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/cursor"
	"github.com/zulandar/sociobot/internal/interpret"
)

// prefixReserve leaves room for the "(i/n) " chunk prefix.
const prefixReserve = 16

// File is a local file attached to a reply.
type File struct {
	Name string
	Path string
}

// Outgoing is one message sent as a reply.
type Outgoing struct {
	Content string
	Footer  string // embed footer; empty for continuation chunks
	Files   []File
}

// Sender posts a reply to target.
type Sender interface {
	Reply(ctx context.Context, target chat.Message, out Outgoing) error
}

// Pipeline delivers replies for one agent.
type Pipeline struct {
	Sender  Sender
	Cursors cursor.Store
	Agent   string
}

// Deliver sends text as a reply to target. currentACL is target's chain
// length; the reply is stamped currentACL+1. files ride on the first chunk.
// Any failed chunk aborts the rest and leaves the cursor untouched.
func (p *Pipeline) Deliver(ctx context.Context, target chat.Message, text string, currentACL int, files []File) error {
	text = interpret.StripThinkTags(text)
	if text == "" {
		return fmt.Errorf("delivery: empty reply to %s", target.ID)
	}
	chunks := Split(text)
	if len(chunks) > 1 {
		chunks = SplitLimit(text, Limit-prefixReserve)
	}
	n := len(chunks)
	for i, c := range chunks {
		out := Outgoing{Content: c}
		if n > 1 {
			out.Content = fmt.Sprintf("(%d/%d) %s", i+1, n, c)
		}
		if i == 0 {
			out.Footer = acl.EncodeFooter(currentACL + 1)
			out.Files = files
		}
		if err := p.Sender.Reply(ctx, target, out); err != nil {
			return fmt.Errorf("delivery: send chunk %d/%d to %s: %w", i+1, n, target.ID, err)
		}
	}
	if p.Cursors == nil {
		return nil
	}
	if err := p.Cursors.Set(ctx, p.Agent, target.ChannelID, target.ID); err != nil {
		return fmt.Errorf("delivery: advance cursor after %s: %w", target.ID, err)
	}
	return nil
}
