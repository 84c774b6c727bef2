// Package discord implements relay.Platform on the Discord Gateway.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/delivery"
	"github.com/zulandar/sociobot/internal/relay"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// pageSize is the most messages Discord returns per history request.
	pageSize = 100
	// memberPage is the most members Discord returns per request.
	memberPage = 1000
	// zeroWidthSpace keeps footer-only embeds valid.
	zeroWidthSpace = "\u200B"
)

// intents are the gateway events the agent needs.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsDirectMessages |
	discordgo.IntentsGuildMessageReactions |
	discordgo.IntentsDirectMessageReactions

// Platform implements relay.Platform for Discord.
type Platform struct {
	sess       session
	botToken   string
	agentRoles map[string]string

	mu          sync.Mutex
	botUserID   string
	connected   bool
	closed      bool
	events      chan relay.Event
	removers    []func()
	members     map[string][]*discordgo.Member
	usernames   map[string]string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Discord Platform.
type Opts struct {
	BotToken  string
	BotUserID string // replaced by the id reported on Ready
	// AgentRoleIDs maps a guild id to the role held by agent bots there.
	AgentRoleIDs map[string]string
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Platform.
func New(opts Opts) (*Platform, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	roles := make(map[string]string, len(opts.AgentRoleIDs))
	for guild, role := range opts.AgentRoleIDs {
		roles[guild] = role
	}
	return &Platform{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		botUserID:   opts.BotUserID,
		agentRoles:  roles,
		events:      make(chan relay.Event, 100),
		members:     make(map[string][]*discordgo.Member),
		usernames:   make(map[string]string),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect opens the gateway and warms the member cache of every guild with
// an agent role configured.
func (p *Platform) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("discord: platform already closed")
	}
	if p.connected {
		p.mu.Unlock()
		return nil
	}
	if p.sess == nil {
		dg, err := discordgo.New("Bot " + p.botToken)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = intents
		p.sess = &realSession{s: dg}
	}
	sess := p.sess
	p.mu.Unlock()

	p.addHandler(sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User == nil {
			return
		}
		p.mu.Lock()
		p.botUserID = r.User.ID
		p.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	}))
	p.addHandler(sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	}))
	p.addHandler(sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	}))

	if err := sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	p.warmMembers(ctx)
	return nil
}

// warmMembers fetches the members of every configured guild in parallel.
// Failures are logged; AgentBots retries lazily.
func (p *Platform) warmMembers(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for guildID := range p.agentRoles {
		g.Go(func() error {
			if _, err := p.guildMembers(gctx, guildID); err != nil {
				log.Printf("discord: fetch members of guild %s: %v", guildID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Listen registers the message and reaction handlers and returns the event
// stream. Must be called after Connect. The stream is closed by Close.
func (p *Platform) Listen(ctx context.Context) (<-chan relay.Event, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	sess := p.sess
	p.mu.Unlock()

	p.addHandler(sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		p.handleMessage(m)
	}))
	p.addHandler(sess.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		p.handleReaction(ctx, r)
	}))
	return p.events, nil
}

// Close removes handlers, closes the event stream and the gateway.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.connected = false
	for _, remove := range p.removers {
		remove()
	}
	p.removers = nil
	close(p.events)
	if p.sess != nil {
		return p.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID.
func (p *Platform) BotUserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.botUserID
}

// Channel describes channelID.
func (p *Platform) Channel(ctx context.Context, channelID string) (chat.Channel, error) {
	ch, err := p.sess.Channel(channelID)
	if err != nil {
		return chat.Channel{}, fmt.Errorf("discord: channel %s: %w", channelID, err)
	}
	return p.convertChannel(ctx, ch), nil
}

// CanView reports whether the bot holds View Channel on channelID.
func (p *Platform) CanView(ctx context.Context, channelID string) (bool, error) {
	perms, err := p.sess.UserChannelPermissions(p.BotUserID(), channelID)
	if err != nil {
		return false, fmt.Errorf("discord: permissions for %s: %w", channelID, err)
	}
	return perms&discordgo.PermissionViewChannel != 0, nil
}

// AgentBots counts bot members holding the guild's agent role who can view
// channelID. counted is false for DMs and for guilds without a configured
// role.
func (p *Platform) AgentBots(ctx context.Context, channelID string) (int, bool, error) {
	ch, err := p.sess.Channel(channelID)
	if err != nil {
		return 0, false, fmt.Errorf("discord: channel %s: %w", channelID, err)
	}
	role := p.agentRoles[ch.GuildID]
	if ch.GuildID == "" || role == "" {
		return 0, false, nil
	}
	members, err := p.guildMembers(ctx, ch.GuildID)
	if err != nil {
		return 0, false, err
	}
	n := 0
	for _, m := range members {
		if m.User == nil || !m.User.Bot || !hasRole(m, role) {
			continue
		}
		perms, err := p.sess.UserChannelPermissions(m.User.ID, channelID)
		if err != nil || perms&discordgo.PermissionViewChannel == 0 {
			continue
		}
		n++
	}
	return n, true, nil
}

// History returns up to q.Limit messages (at most one page) newest first.
func (p *Platform) History(ctx context.Context, channelID string, q relay.HistoryQuery) ([]chat.Message, error) {
	limit := q.Limit
	if limit <= 0 || limit > pageSize {
		limit = pageSize
	}
	var msgs []*discordgo.Message
	err := p.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msgs, apiErr = p.sess.ChannelMessages(channelID, limit, q.Before, q.After, "")
		return apiErr
	})
	if err != nil {
		return nil, fmt.Errorf("discord: channel messages %s: %w", channelID, err)
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return out, nil
}

// FetchMessage returns one message.
func (p *Platform) FetchMessage(ctx context.Context, channelID, messageID string) (chat.Message, error) {
	var msg *discordgo.Message
	err := p.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = p.sess.ChannelMessage(channelID, messageID)
		return apiErr
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("discord: fetch message %s: %w", messageID, err)
	}
	if msg.ChannelID == "" {
		msg.ChannelID = channelID
	}
	return convertMessage(msg), nil
}

// Reply posts out as a reply to target. A non-empty footer rides on an
// embed; files are attached from disk.
func (p *Platform) Reply(ctx context.Context, target chat.Message, out delivery.Outgoing) error {
	data, closeFiles, err := buildReply(target, out)
	if err != nil {
		return err
	}
	defer closeFiles()
	err = p.retryOnRateLimit(ctx, func() error {
		_, sendErr := p.sess.ChannelMessageSendComplex(target.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send reply to %s: %w", target.ID, err)
	}
	return nil
}

// React adds emoji to a message.
func (p *Platform) React(ctx context.Context, channelID, messageID, emoji string) error {
	err := p.retryOnRateLimit(ctx, func() error {
		return p.sess.MessageReactionAdd(channelID, messageID, emoji)
	})
	if err != nil {
		return fmt.Errorf("discord: react to %s: %w", messageID, err)
	}
	return nil
}

// Username resolves userID, caching the answer.
func (p *Platform) Username(ctx context.Context, userID string) (string, error) {
	p.mu.Lock()
	name, ok := p.usernames[userID]
	p.mu.Unlock()
	if ok {
		return name, nil
	}
	u, err := p.sess.User(userID)
	if err != nil {
		return "", fmt.Errorf("discord: user %s: %w", userID, err)
	}
	p.mu.Lock()
	p.usernames[userID] = u.Username
	p.mu.Unlock()
	return u.Username, nil
}

// DMChannels lists the DM channels in the state cache.
func (p *Platform) DMChannels(ctx context.Context) ([]chat.Channel, error) {
	var out []chat.Channel
	for _, ch := range p.sess.PrivateChannels() {
		if ch.Type != discordgo.ChannelTypeDM {
			continue
		}
		out = append(out, p.convertChannel(ctx, ch))
	}
	return out, nil
}

// GuildTextChannels lists the text channels the bot can view across all
// guilds. Guilds whose GUILD_CREATE has not arrived yet carry no channels
// in the state cache; their channels are fetched over REST.
func (p *Platform) GuildTextChannels(ctx context.Context) ([]chat.Channel, error) {
	var out []chat.Channel
	for _, g := range p.sess.Guilds() {
		chans := g.Channels
		if len(chans) == 0 {
			err := p.retryOnRateLimit(ctx, func() error {
				var apiErr error
				chans, apiErr = p.sess.GuildChannels(g.ID)
				return apiErr
			})
			if err != nil {
				log.Printf("discord: channels of guild %s: %v", g.ID, err)
				continue
			}
		}
		for _, ch := range chans {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			if ok, err := p.CanView(ctx, ch.ID); err != nil || !ok {
				continue
			}
			if ch.GuildID == "" {
				ch.GuildID = g.ID
			}
			out = append(out, p.convertChannel(ctx, ch))
		}
	}
	return out, nil
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (p *Platform) SetBotUserID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.botUserID = id
}

func (p *Platform) addHandler(remove func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removers = append(p.removers, remove)
}

// emit queues ev unless the platform is closed. A full buffer drops the
// event.
func (p *Platform) emit(ev relay.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		log.Printf("discord: inbound buffer full, dropping event")
	}
}

func (p *Platform) handleMessage(m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	p.emit(relay.Event{Kind: relay.EventMessage, Message: convertMessage(m.Message)})
}

func (p *Platform) handleReaction(ctx context.Context, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil {
		return
	}
	user := chat.Author{ID: r.UserID}
	if r.Member != nil && r.Member.User != nil {
		user.Username = r.Member.User.Username
		user.Bot = r.Member.User.Bot
	} else if name, err := p.Username(ctx, r.UserID); err == nil {
		user.Username = name
	}
	p.emit(relay.Event{Kind: relay.EventReaction, Reaction: relay.Reaction{
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		User:      user,
		Emoji:     emojiName(r.Emoji),
	}})
}

// guildMembers returns the cached member list of guildID, fetching every
// page on first use.
func (p *Platform) guildMembers(ctx context.Context, guildID string) ([]*discordgo.Member, error) {
	p.mu.Lock()
	cached, ok := p.members[guildID]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	var all []*discordgo.Member
	after := ""
	for {
		var page []*discordgo.Member
		err := p.retryOnRateLimit(ctx, func() error {
			var apiErr error
			page, apiErr = p.sess.GuildMembers(guildID, after, memberPage)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: guild members %s: %w", guildID, err)
		}
		all = append(all, page...)
		if len(page) < memberPage || page[len(page)-1].User == nil {
			break
		}
		after = page[len(page)-1].User.ID
	}

	p.mu.Lock()
	p.members[guildID] = all
	p.mu.Unlock()
	return all, nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (p *Platform) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * p.baseBackoff
		if wait > p.maxBackoff {
			wait = p.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// buildReply translates an Outgoing into a Discord MessageSend. The
// returned func closes any opened attachments.
func buildReply(target chat.Message, out delivery.Outgoing) (*discordgo.MessageSend, func(), error) {
	data := &discordgo.MessageSend{
		Content: out.Content,
		Reference: &discordgo.MessageReference{
			MessageID: target.ID,
			ChannelID: target.ChannelID,
		},
	}
	if out.Footer != "" {
		data.Embeds = []*discordgo.MessageEmbed{{
			Description: zeroWidthSpace,
			Footer:      &discordgo.MessageEmbedFooter{Text: out.Footer},
		}}
	}

	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	for _, file := range out.Files {
		f, err := os.Open(file.Path)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("discord: attach %s: %w", file.Path, err)
		}
		opened = append(opened, f)
		data.Files = append(data.Files, &discordgo.File{Name: file.Name, Reader: f})
	}
	return data, closeAll, nil
}
