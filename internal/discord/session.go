package discord

import (
	"github.com/bwmarrin/discordgo"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Channel(channelID string) (*discordgo.Channel, error)
	Guild(guildID string) (*discordgo.Guild, error)
	Guilds() []*discordgo.Guild
	GuildChannels(guildID string) ([]*discordgo.Channel, error)
	PrivateChannels() []*discordgo.Channel
	ChannelMessage(channelID, messageID string) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	MessageReactionAdd(channelID, messageID, emojiID string) error
	User(userID string) (*discordgo.User, error)
	UserChannelPermissions(userID, channelID string) (int64, error)
	GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error)
}

// realSession wraps *discordgo.Session, preferring the state cache over
// REST where discordgo keeps one.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }

func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := r.s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return r.s.Channel(channelID)
}

// Guild skips state entries that are still unavailable stubs from READY.
func (r *realSession) Guild(guildID string) (*discordgo.Guild, error) {
	if g, err := r.s.State.Guild(guildID); err == nil && g.Name != "" {
		return g, nil
	}
	return r.s.Guild(guildID)
}

func (r *realSession) Guilds() []*discordgo.Guild {
	r.s.State.RLock()
	defer r.s.State.RUnlock()
	out := make([]*discordgo.Guild, len(r.s.State.Guilds))
	copy(out, r.s.State.Guilds)
	return out
}

// GuildChannels fetches a guild's channels over REST and caches them so
// later permission checks resolve locally.
func (r *realSession) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	chans, err := r.s.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	for _, ch := range chans {
		if ch.GuildID == "" {
			ch.GuildID = guildID
		}
		if err := r.s.State.ChannelAdd(ch); err != nil {
			break
		}
	}
	return chans, nil
}

func (r *realSession) PrivateChannels() []*discordgo.Channel {
	r.s.State.RLock()
	defer r.s.State.RUnlock()
	out := make([]*discordgo.Channel, len(r.s.State.PrivateChannels))
	copy(out, r.s.State.PrivateChannels)
	return out
}

func (r *realSession) ChannelMessage(channelID, messageID string) (*discordgo.Message, error) {
	return r.s.ChannelMessage(channelID, messageID)
}

func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID)
}

func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data)
}

func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID)
}

func (r *realSession) User(userID string) (*discordgo.User, error) {
	return r.s.User(userID)
}

func (r *realSession) UserChannelPermissions(userID, channelID string) (int64, error) {
	if perms, err := r.s.State.UserChannelPermissions(userID, channelID); err == nil {
		return perms, nil
	}
	return r.s.UserChannelPermissions(userID, channelID)
}

// GuildMembers fetches one page of members and adds them to the state
// cache so later permission checks resolve locally.
func (r *realSession) GuildMembers(guildID, after string, limit int) ([]*discordgo.Member, error) {
	members, err := r.s.GuildMembers(guildID, after, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		m.GuildID = guildID
		if err := r.s.State.MemberAdd(m); err != nil {
			break
		}
	}
	return members, nil
}
