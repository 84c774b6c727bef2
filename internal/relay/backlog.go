package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/agent"
	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/classify"
)

// DefaultPreview is how much of each message ShowBacklog prints.
const DefaultPreview = 100

// backlogTime matches the en-US locale rendering used in backlog listings.
const backlogTime = "01/02/2006, 15:04:05"

// Backlog runs one backlog pass over every channel in scope: DMs, then the
// shared agent channel, then guild text channels. Per-channel errors are
// logged and skipped; breaker.ErrTripped and context cancellation stop the
// pass.
func (e *Engine) Backlog(ctx context.Context, scope Scope) error {
	for _, ch := range e.BacklogChannels(ctx, scope) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := e.ProcessChannel(ctx, ch)
		if errors.Is(err, breaker.ErrTripped) {
			return err
		}
		if err != nil {
			log.Printf("relay: %v", err)
			continue
		}
		if n > 0 {
			log.Printf("relay: found %d new messages in %s", n, ch.DisplayName())
		}
	}
	return nil
}

// BacklogChannels lists the channels a backlog pass over scope visits.
func (e *Engine) BacklogChannels(ctx context.Context, scope Scope) []chat.Channel {
	var out []chat.Channel
	if scope.DMs {
		out = append(out, e.dmChannels(ctx)...)
	}
	if scope.BotDMs && e.opts.SharedChannelID != "" {
		ch, err := e.channel(ctx, e.opts.SharedChannelID)
		if err != nil {
			log.Printf("relay: could not fetch shared channel %s: %v", e.opts.SharedChannelID, err)
		} else {
			out = append(out, ch)
		}
	}
	if scope.Text {
		chans, err := e.platform.GuildTextChannels(ctx)
		if err != nil {
			log.Printf("relay: list guild channels: %v", err)
		}
		for _, ch := range chans {
			if ch.ID == e.opts.SharedChannelID {
				continue
			}
			out = append(out, ch)
		}
	}
	return out
}

// dmChannels merges the platform's cached DM channels with the configured
// ones.
func (e *Engine) dmChannels(ctx context.Context) []chat.Channel {
	cached, err := e.platform.DMChannels(ctx)
	if err != nil {
		log.Printf("relay: list DM channels: %v", err)
	}
	seen := make(map[string]bool, len(cached))
	var out []chat.Channel
	for _, ch := range cached {
		seen[ch.ID] = true
		out = append(out, ch)
	}
	for _, id := range e.opts.DMChannelIDs {
		if seen[id] {
			continue
		}
		ch, err := e.platform.Channel(ctx, id)
		if err != nil {
			log.Printf("relay: could not fetch DM channel %s: %v", id, err)
			continue
		}
		if ch.Kind != chat.KindDM {
			if e.opts.Debug {
				log.Printf("relay: channel %s is not a DM channel", id)
			}
			continue
		}
		seen[id] = true
		out = append(out, ch)
	}
	return out
}

// ProcessChannel offers ch's backlog to the agent in one batch and returns
// the number of messages offered. Whatever the agent answers, the cursor
// ends at the highest id scanned.
func (e *Engine) ProcessChannel(ctx context.Context, ch chat.Channel) (int, error) {
	ch = e.classifyChannel(ch)
	if err := e.breaker.Allow(); err != nil {
		return 0, err
	}
	msgs, scanned, err := e.pending(ctx, ch)
	if err != nil {
		return 0, fmt.Errorf("relay: backlog %s: %w", ch.DisplayName(), err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}
	if e.opts.NoAgent {
		log.Printf("relay: %d messages in %s, agent processing disabled", len(msgs), ch.DisplayName())
		return len(msgs), nil
	}

	self := e.platform.BotUserID()
	base := e.ceiling(ctx, ch)
	states := make(map[string]acl.State, len(msgs))
	batch := make([]agent.BatchMessage, 0, len(msgs))
	for _, m := range msgs {
		st := e.State(ctx, m, base, m.MentionsUser(self))
		states[m.ID] = st
		batch = append(batch, agent.BatchMessage{
			Message: m,
			Content: ResolveMentions(ctx, e.platform, m.Content),
			Advice:  acl.Advise(st.Current, st.Ceiling),
		})
	}

	log.Printf("relay: sending %d messages from %s to agent", len(msgs), ch.DisplayName())
	resps := e.batch(ctx, ch, batch)
	if e.breaker.Tripped() {
		return len(msgs), breaker.ErrTripped
	}
	if e.opts.NoDiscord {
		log.Printf("relay: %d responses for %s generated, delivery skipped", len(resps), ch.DisplayName())
		return len(msgs), nil
	}

	e.apply(ctx, msgs, states, resps)
	if e.breaker.Tripped() {
		return len(msgs), breaker.ErrTripped
	}
	if err := e.cursors.Set(ctx, e.opts.Agent, ch.ID, scanned); err != nil {
		log.Printf("relay: advance cursor for %s to %s: %v", ch.DisplayName(), scanned, err)
	}
	return len(msgs), nil
}

// batch runs one batched invocation through the gate. A full gate or a
// failed invocation yields no responses.
func (e *Engine) batch(ctx context.Context, ch chat.Channel, msgs []agent.BatchMessage) []agent.BatchResponse {
	release, ok := e.gate.TryEnter("backlog for " + ch.DisplayName())
	if !ok {
		return nil
	}
	last := msgs[len(msgs)-1].Message.ID
	resps, res, err := agent.Batch(ctx, e.invoker, agent.BatchRequest{
		Channel:  ch,
		Messages: msgs,
		Timeout:  e.opts.BatchTimeout,
		Debug:    e.opts.Debug,
	})
	release()
	if !e.account(ctx, ch.ID, last, res, err) {
		return nil
	}
	e.breaker.Success()
	return resps
}

// apply settles each response against the message it answers, in id
// order. Responses naming unknown messages are ignored.
func (e *Engine) apply(ctx context.Context, msgs []chat.Message, states map[string]acl.State, resps []agent.BatchResponse) {
	byID := make(map[string]chat.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}
	sort.SliceStable(resps, func(i, j int) bool {
		return chat.CompareIDs(resps[i].MessageID, resps[j].MessageID) < 0
	})
	log.Printf("relay: forwarding %d responses", len(resps))
	for _, r := range resps {
		m, ok := byID[r.MessageID]
		if !ok || r.Response == "" {
			if e.opts.Debug {
				log.Printf("relay: ignoring response for unknown message %q", r.MessageID)
			}
			continue
		}
		st := states[m.ID]
		e.settle(ctx, m, agent.Reply{Text: r.Response, ACLLimited: st.Limited()}, st)
		if e.breaker.Tripped() {
			return
		}
	}
}

// pending returns the messages a backlog pass over ch would offer, sorted
// by id, and the highest id scanned after the cutoff.
func (e *Engine) pending(ctx context.Context, ch chat.Channel) ([]chat.Message, string, error) {
	cur, ok, err := e.cursors.Get(ctx, e.opts.Agent, ch.ID)
	if err != nil {
		return nil, "", err
	}
	q := HistoryQuery{Limit: e.opts.FetchLimit}
	if ok {
		q.After = cur
	}
	fetched, err := e.platform.History(ctx, ch.ID, q)
	if err != nil {
		return nil, "", err
	}
	self := e.platform.BotUserID()
	cutoff := cur
	if !ok {
		cutoff = BootstrapCutoff(fetched, self)
	}
	if e.opts.Debug {
		log.Printf("relay: %s: cursor %q, cutoff %q, %d fetched", ch.DisplayName(), cur, cutoff, len(fetched))
	}

	var out []chat.Message
	scanned := ""
	for _, m := range fetched {
		if e.opts.Debug {
			reason := classify.Reason(m, self, cutoff)
			if ch.Kind == chat.KindShared && reason == "will process" {
				reason = classify.SharedReason(m, self)
			}
			log.Printf("relay: message %s from %s: %s", m.ID, m.Author.Username, reason)
		}
		if !classify.IsAfterCursor(m, cutoff) {
			continue
		}
		if scanned == "" || chat.CompareIDs(m.ID, scanned) > 0 {
			scanned = m.ID
		}
		if classify.IsOwnMessage(m, self) {
			continue
		}
		if ch.Kind == chat.KindShared && !classify.IsRelevantInSharedChannel(m, self) {
			continue
		}
		out = append(out, m)
	}
	chat.SortByID(out)
	return out, scanned, nil
}

// BootstrapCutoff infers a cursor for a channel that has none: the reply
// parent of the agent's most recent message, else that message itself.
// It returns "" when the agent has not posted in msgs.
func BootstrapCutoff(msgs []chat.Message, selfID string) string {
	var newest *chat.Message
	for i := range msgs {
		m := &msgs[i]
		if !classify.IsOwnMessage(*m, selfID) {
			continue
		}
		if newest == nil || chat.CompareIDs(m.ID, newest.ID) > 0 {
			newest = m
		}
	}
	if newest == nil {
		return ""
	}
	if newest.ReferenceID != "" {
		return newest.ReferenceID
	}
	return newest.ID
}

// ShowBacklog writes, without processing anything, what a backlog pass
// over scope would offer. preview bounds each message excerpt
// (DefaultPreview when <= 0).
func (e *Engine) ShowBacklog(ctx context.Context, scope Scope, w io.Writer, preview int) error {
	if preview <= 0 {
		preview = DefaultPreview
	}
	total := 0
	for _, ch := range e.BacklogChannels(ctx, scope) {
		msgs, _, err := e.pending(ctx, e.classifyChannel(ch))
		if err != nil {
			log.Printf("relay: show backlog for %s: %v", ch.DisplayName(), err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s: %d messages\n", backlogTitle(ch), len(msgs))
		for _, m := range msgs {
			fmt.Fprintf(w, "  %s %s: %s\n", m.CreatedAt.Local().Format(backlogTime), m.Author.Username, truncate(m.Content, preview))
		}
		total += len(msgs)
	}
	fmt.Fprintf(w, "\nTotal backlog: %d messages\n", total)
	return ctx.Err()
}

func backlogTitle(ch chat.Channel) string {
	switch ch.Kind {
	case chat.KindDM:
		return ch.DisplayName()
	case chat.KindShared:
		return "Bot-DMs channel"
	}
	return ch.GuildName + "/#" + ch.Name
}

// ClearBacklog marks every channel in scope as processed up to its newest
// message.
func (e *Engine) ClearBacklog(ctx context.Context, scope Scope) error {
	log.Printf("relay: clearing backlog (%s)", scope)
	for _, ch := range e.BacklogChannels(ctx, scope) {
		msgs, err := e.platform.History(ctx, ch.ID, HistoryQuery{Limit: 1})
		if err != nil {
			log.Printf("relay: clear backlog for %s: %v", ch.DisplayName(), err)
			continue
		}
		latest := chat.MaxID(msgs)
		if latest == "" {
			continue
		}
		if err := e.cursors.Set(ctx, e.opts.Agent, ch.ID, latest); err != nil {
			return fmt.Errorf("relay: clear backlog for %s: %w", ch.DisplayName(), err)
		}
		log.Printf("relay: cleared backlog for %s: %s", ch.DisplayName(), latest)
	}
	return ctx.Err()
}
