package relay

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/zulandar/sociobot/internal/chat"
)

// DMEntry is one recent direct message as shown by the status server.
type DMEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Author    string    `json:"author"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
}

// RecentDMs returns up to total of the newest messages across DM
// channels, reading perChannel messages from each. Content is cut at 200
// characters.
func (e *Engine) RecentDMs(ctx context.Context, perChannel, total int) ([]DMEntry, error) {
	if perChannel <= 0 {
		perChannel = 10
	}
	if total <= 0 {
		total = 20
	}
	var out []DMEntry
	for _, ch := range e.dmChannels(ctx) {
		msgs, err := e.platform.History(ctx, ch.ID, HistoryQuery{Limit: perChannel})
		if err != nil {
			log.Printf("relay: recent DMs for %s: %v", ch.DisplayName(), err)
			continue
		}
		for _, m := range msgs {
			out = append(out, dmEntry(m, ch))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > total {
		out = out[:total]
	}
	return out, nil
}

func dmEntry(m chat.Message, ch chat.Channel) DMEntry {
	content := truncate(m.Content, 200)
	if content != m.Content {
		content += "..."
	}
	return DMEntry{
		Timestamp: m.CreatedAt,
		Author:    m.Author.Username,
		Recipient: ch.Recipient,
		Content:   content,
	}
}
