package acl

import (
	"context"
	"log"

	"github.com/zulandar/sociobot/internal/chat"
)

// MaxChainDepth bounds reply-chain walks.
const MaxChainDepth = 20

// Fetcher loads a single message by id.
type Fetcher interface {
	FetchMessage(ctx context.Context, channelID, messageID string) (chat.Message, error)
}

// Ancestry describes the agent's involvement above a message.
type Ancestry struct {
	Participated bool // self authored some ancestor
	ThreadAuthor bool // self authored the parent or grandparent
	Depth        int  // ancestors visited
}

// WalkChain follows ReferenceID pointers upward from msg, at most maxDepth
// hops (MaxChainDepth when maxDepth <= 0). It stops early on a fetch error,
// on an id already visited, or once both flags are known.
func WalkChain(ctx context.Context, f Fetcher, msg chat.Message, selfID string, maxDepth int) Ancestry {
	if maxDepth <= 0 {
		maxDepth = MaxChainDepth
	}
	var a Ancestry
	seen := map[string]bool{msg.ID: true}
	next := msg.ReferenceID
	for next != "" && a.Depth < maxDepth {
		if ctx.Err() != nil || seen[next] {
			break
		}
		seen[next] = true
		parent, err := f.FetchMessage(ctx, msg.ChannelID, next)
		if err != nil {
			log.Printf("acl: fetch ancestor %s of %s: %v", next, msg.ID, err)
			break
		}
		a.Depth++
		if parent.Author.ID == selfID {
			a.Participated = true
			if a.Depth <= 2 {
				a.ThreadAuthor = true
			}
		}
		if a.ThreadAuthor {
			break
		}
		next = parent.ReferenceID
	}
	return a
}
