package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/sociobot/internal/chat"
)

func convertMessage(m *discordgo.Message) chat.Message {
	msg := chat.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		CreatedAt: m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = chat.Author{ID: m.Author.ID, Username: m.Author.Username, Bot: m.Author.Bot}
	}
	if m.MessageReference != nil {
		msg.ReferenceID = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, u.ID)
		}
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, chat.Attachment{
			Name:        a.Filename,
			URL:         a.URL,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		var footer string
		if e.Footer != nil {
			footer = e.Footer.Text
		}
		msg.Embeds = append(msg.Embeds, chat.Embed{Footer: footer})
	}
	return msg
}

// convertChannel maps a Discord channel. Guild channels hidden from
// @everyone are private and list the cached members who can view them.
func (p *Platform) convertChannel(ctx context.Context, ch *discordgo.Channel) chat.Channel {
	if ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM {
		out := chat.Channel{ID: ch.ID, Kind: chat.KindDM, Private: true}
		for _, u := range ch.Recipients {
			if u == nil {
				continue
			}
			if out.Recipient == "" {
				out.Recipient = u.Username
			}
			out.Members = append(out.Members, u.Username)
		}
		return out
	}

	out := chat.Channel{
		ID:       ch.ID,
		Name:     ch.Name,
		Kind:     chat.KindGuildText,
		GuildID:  ch.GuildID,
		Slowdown: ch.RateLimitPerUser,
		Private:  hiddenFromEveryone(ch),
	}
	if g, err := p.sess.Guild(ch.GuildID); err == nil {
		out.GuildName = g.Name
	}
	if out.Private {
		out.Members = p.viewers(ctx, ch)
	}
	return out
}

// viewers lists the cached members of ch's guild who can view ch.
func (p *Platform) viewers(ctx context.Context, ch *discordgo.Channel) []string {
	p.mu.Lock()
	members := p.members[ch.GuildID]
	p.mu.Unlock()
	var names []string
	for _, m := range members {
		if m.User == nil {
			continue
		}
		perms, err := p.sess.UserChannelPermissions(m.User.ID, ch.ID)
		if err != nil || perms&discordgo.PermissionViewChannel == 0 {
			continue
		}
		names = append(names, m.User.Username)
	}
	return names
}

// hiddenFromEveryone reports whether the @everyone role (whose id is the
// guild id) is denied View Channel.
func hiddenFromEveryone(ch *discordgo.Channel) bool {
	for _, o := range ch.PermissionOverwrites {
		if o == nil || o.Type != discordgo.PermissionOverwriteTypeRole || o.ID != ch.GuildID {
			continue
		}
		if o.Deny&discordgo.PermissionViewChannel != 0 {
			return true
		}
	}
	return false
}

func hasRole(m *discordgo.Member, roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// emojiName renders unicode emoji as-is and custom emoji as ":name:".
func emojiName(e discordgo.Emoji) string {
	if e.ID != "" {
		return ":" + e.Name + ":"
	}
	return e.Name
}
