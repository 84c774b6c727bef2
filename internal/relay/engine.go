package relay

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/agent"
	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/classify"
	"github.com/zulandar/sociobot/internal/cursor"
	"github.com/zulandar/sociobot/internal/delivery"
	"github.com/zulandar/sociobot/internal/interpret"
	"github.com/zulandar/sociobot/internal/models"
)

// DefaultFetchLimit is the backlog batch size per channel.
const DefaultFetchLimit = 20

// Recorder stores agent interactions for later inspection.
type Recorder interface {
	Record(ctx context.Context, in models.Interaction) error
}

// Options are the per-agent routing settings.
type Options struct {
	Agent           string
	SharedChannelID string
	DMChannelIDs    []string // DM channels to scan in addition to the cached ones
	Policy          acl.Policy
	FetchLimit      int
	RealtimeTimeout time.Duration
	BatchTimeout    time.Duration
	NoAgent         bool // route but never invoke
	NoDiscord       bool // invoke but never deliver
	Debug           bool
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Platform    Platform
	Invoker     agent.Invoker
	Cursors     cursor.Store
	Breaker     *breaker.Breaker
	Gate        *breaker.Gate     // defaults to breaker.DefaultCapacity
	Transcriber agent.Transcriber // optional; audio attachments are listed only
	Synthesizer agent.Synthesizer // optional; replies to audio stay text-only
	Recorder    Recorder          // optional
	Options     Options
}

// Engine decides, per message, whether and how the agent runs, and applies
// the agent's output.
type Engine struct {
	platform    Platform
	invoker     agent.Invoker
	cursors     cursor.Store
	breaker     *breaker.Breaker
	gate        *breaker.Gate
	transcriber agent.Transcriber
	synthesizer agent.Synthesizer
	recorder    Recorder
	pipeline    *delivery.Pipeline
	opts        Options
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Platform == nil {
		return nil, fmt.Errorf("relay: platform is required")
	}
	if opts.Invoker == nil {
		return nil, fmt.Errorf("relay: invoker is required")
	}
	if opts.Cursors == nil {
		return nil, fmt.Errorf("relay: cursor store is required")
	}
	if opts.Breaker == nil {
		return nil, fmt.Errorf("relay: breaker is required")
	}
	if opts.Options.Agent == "" {
		return nil, fmt.Errorf("relay: agent name is required")
	}
	if opts.Gate == nil {
		opts.Gate = breaker.NewGate(breaker.DefaultCapacity)
	}
	o := opts.Options
	if o.Policy == (acl.Policy{}) {
		o.Policy = acl.DefaultPolicy()
	}
	if o.FetchLimit <= 0 {
		o.FetchLimit = DefaultFetchLimit
	}
	if o.RealtimeTimeout <= 0 {
		o.RealtimeTimeout = agent.RealtimeTimeout
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = agent.BatchTimeout
	}
	return &Engine{
		platform:    opts.Platform,
		invoker:     opts.Invoker,
		cursors:     opts.Cursors,
		breaker:     opts.Breaker,
		gate:        opts.Gate,
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		recorder:    opts.Recorder,
		pipeline:    &delivery.Pipeline{Sender: opts.Platform, Cursors: opts.Cursors, Agent: o.Agent},
		opts:        o,
	}, nil
}

// Decision is the realtime routing verdict for one message.
type Decision struct {
	Process   bool
	Reason    string
	Mentioned bool
}

// Decide applies the realtime routing rules to msg posted in ch. viewable
// is the agent's view permission on ch.
func (e *Engine) Decide(msg chat.Message, ch chat.Channel, viewable bool) Decision {
	self := e.platform.BotUserID()
	mentioned := msg.MentionsUser(self)
	switch {
	case classify.IsOwnMessage(msg, self):
		return Decision{Reason: "own bot message"}
	case ch.Kind == chat.KindShared && msg.Author.Bot:
		return Decision{Reason: "other bot in shared channel"}
	case mentioned:
		return Decision{Process: true, Reason: "mentioned bot", Mentioned: true}
	case ch.Kind == chat.KindDM:
		return Decision{Process: true, Reason: "direct message"}
	case viewable:
		return Decision{Process: true, Reason: "has view permission"}
	}
	return Decision{Reason: "no routing criteria met"}
}

// HandleRealtime routes one live message through the agent. It returns
// breaker.ErrTripped once the breaker is open; every other problem is
// logged and the message dropped.
func (e *Engine) HandleRealtime(ctx context.Context, msg chat.Message) error {
	if err := e.breaker.Allow(); err != nil {
		log.Printf("relay: circuit breaker: %d failures, not invoking agent", e.breaker.Failures())
		return err
	}
	ch, err := e.channel(ctx, msg.ChannelID)
	if err != nil {
		log.Printf("relay: fetch channel %s for %s: %v", msg.ChannelID, msg.ID, err)
		return nil
	}
	viewable := false
	if ch.Kind != chat.KindDM {
		if viewable, err = e.platform.CanView(ctx, ch.ID); err != nil {
			log.Printf("relay: permissions for %s: %v", ch.ID, err)
		}
	}
	d := e.Decide(msg, ch, viewable)
	if e.opts.Debug {
		log.Printf("relay: routing %s from %s in %s: %s", msg.ID, msg.Author.Username, ch.DisplayName(), d.Reason)
	}
	if !d.Process {
		return nil
	}

	content := strings.TrimSpace(ResolveMentions(ctx, e.platform, msg.Content))
	if content == "" && len(msg.Attachments) == 0 {
		return nil
	}
	if e.opts.NoAgent {
		log.Printf("relay: real-time message %s skipped, agent processing disabled", msg.ID)
		return nil
	}

	query, hadTranscription := e.transcribe(ctx, msg, Query(msg, ch, content))
	state := e.State(ctx, msg, e.ceiling(ctx, ch), d.Mentioned)
	query = acl.Guidance(query, state.Current, state.Ceiling)

	e.record(ctx, ch.ID, msg.ID, models.InteractionReceived, 0, truncate(content, 200))
	res, ok := e.invoke(ctx, agent.Request{
		Query:   query,
		Channel: ch,
		Author:  msg.Author.Username,
		Timeout: e.opts.RealtimeTimeout,
	}, msg.ChannelID, msg.ID)
	if ok {
		e.settle(ctx, msg, agent.Reply{Text: res.Text, HadTranscription: hadTranscription, ACLLimited: state.Limited()}, state)
	}
	if e.breaker.Tripped() {
		return breaker.ErrTripped
	}
	return nil
}

// HandleReaction tells the agent about a reaction. Nothing the agent says
// in return is delivered.
func (e *Engine) HandleReaction(ctx context.Context, r Reaction) error {
	if r.User.ID == e.platform.BotUserID() {
		return nil
	}
	if err := e.breaker.Allow(); err != nil {
		return err
	}
	ch, err := e.channel(ctx, r.ChannelID)
	if err != nil {
		log.Printf("relay: fetch channel %s for reaction: %v", r.ChannelID, err)
		return nil
	}
	target, err := e.platform.FetchMessage(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		log.Printf("relay: fetch reacted message %s: %v", r.MessageID, err)
		return nil
	}
	if e.opts.NoAgent {
		log.Printf("relay: reaction on %s skipped, agent processing disabled", r.MessageID)
		return nil
	}
	if _, ok := e.invoke(ctx, agent.Request{
		Query:   ReactionNotice(r, ch, target),
		Channel: ch,
		Author:  r.User.Username,
		Timeout: e.opts.RealtimeTimeout,
	}, r.ChannelID, r.MessageID); ok {
		e.breaker.Success()
	}
	if e.breaker.Tripped() {
		return breaker.ErrTripped
	}
	return nil
}

// State computes the chain position of msg given the channel's base
// ceiling.
func (e *Engine) State(ctx context.Context, msg chat.Message, base int, mentioned bool) acl.State {
	anc := acl.WalkChain(ctx, e.platform, msg, e.platform.BotUserID(), acl.MaxChainDepth)
	st := acl.State{
		Current: acl.Decode(msg),
		Ceiling: acl.EffectiveCeiling(base, anc.Participated, mentioned, anc.ThreadAuthor),
	}
	if e.opts.Debug {
		log.Printf("relay: acl %d/%d for %s (base %d, participated=%t, mentioned=%t, threadAuthor=%t)",
			st.Current, st.Ceiling, msg.ID, base, anc.Participated, mentioned, anc.ThreadAuthor)
	}
	return st
}

// ceiling returns the base ACL ceiling for ch before thread multipliers.
func (e *Engine) ceiling(ctx context.Context, ch chat.Channel) int {
	if ch.Kind == chat.KindDM {
		return e.opts.Policy.Ceiling(ch.Kind, 0, false)
	}
	n, counted, err := e.platform.AgentBots(ctx, ch.ID)
	if err != nil {
		log.Printf("relay: count agent bots in %s: %v", ch.ID, err)
		return e.opts.Policy.Ceiling(ch.Kind, 0, false)
	}
	return e.opts.Policy.Ceiling(ch.Kind, n, counted)
}

// channel fetches channelID and marks the shared agent channel.
func (e *Engine) channel(ctx context.Context, channelID string) (chat.Channel, error) {
	ch, err := e.platform.Channel(ctx, channelID)
	if err != nil {
		return chat.Channel{}, err
	}
	return e.classifyChannel(ch), nil
}

func (e *Engine) classifyChannel(ch chat.Channel) chat.Channel {
	if e.opts.SharedChannelID != "" && ch.ID == e.opts.SharedChannelID {
		ch.Kind = chat.KindShared
	}
	return ch
}

// invoke runs the agent through the gate. ok is false when the gate was
// full or the invocation failed; failures are charged to the breaker.
func (e *Engine) invoke(ctx context.Context, req agent.Request, channelID, messageID string) (agent.Result, bool) {
	release, ok := e.gate.TryEnter(messageID)
	if !ok {
		return agent.Result{}, false
	}
	if e.opts.Debug {
		log.Printf("relay: query for %s:\n%s", messageID, req.Query)
	}
	res, err := e.invoker.Invoke(ctx, req)
	release()
	return res, e.account(ctx, channelID, messageID, res, err)
}

// account records an invocation and charges failures to the breaker. It
// reports whether the invocation succeeded.
func (e *Engine) account(ctx context.Context, channelID, messageID string, res agent.Result, err error) bool {
	switch {
	case err != nil:
		e.record(ctx, channelID, messageID, models.InteractionError, -1, err.Error())
		e.breaker.Failure(fmt.Sprintf("spawn for %s: %v", messageID, err))
		return false
	case res.TimedOut:
		e.record(ctx, channelID, messageID, models.InteractionError, res.ExitCode, "timed out")
		e.breaker.Failure("timeout for " + messageID)
		return false
	case res.ExitCode != 0:
		e.record(ctx, channelID, messageID, models.InteractionError, res.ExitCode, truncate(res.Text, 1200))
		e.breaker.Failure(fmt.Sprintf("exit code %d for %s", res.ExitCode, messageID))
		return false
	}
	e.record(ctx, channelID, messageID, models.InteractionResponse, 0, truncate(res.Text, 300))
	return true
}

// settle applies the agent's reply to msg: react, skip, block or deliver,
// advancing the cursor for every outcome except failures and failed
// deliveries.
func (e *Engine) settle(ctx context.Context, msg chat.Message, reply agent.Reply, state acl.State) {
	out := interpret.Interpret(reply.Text, state)
	if out.Kind == interpret.KindFailed {
		log.Printf("relay: error-shaped response for message %s", msg.ID)
		e.breaker.Failure("error-shaped response for " + msg.ID)
		return
	}
	e.breaker.Success()
	if e.opts.NoDiscord {
		log.Printf("relay: response for %s generated, delivery skipped", msg.ID)
		return
	}

	switch out.Kind {
	case interpret.KindNone:
		log.Printf("relay: agent returned NO_RESPONSE for message %s", msg.ID)
	case interpret.KindReaction:
		if err := e.platform.React(ctx, msg.ChannelID, msg.ID, out.Emoji); err != nil {
			log.Printf("relay: reaction FAILED for message %s with %s: %v", msg.ID, out.Emoji, err)
		} else {
			log.Printf("relay: reacted to message %s with %s", msg.ID, out.Emoji)
		}
	case interpret.KindBlocked:
		log.Printf("relay: blocking text response to message %s (acl %d at ceiling %d, reactions only)", msg.ID, state.Current, state.Ceiling)
	case interpret.KindReply:
		files, cleanup := e.speech(ctx, out.Text, reply.HadTranscription)
		defer cleanup()
		if err := e.pipeline.Deliver(ctx, msg, out.Text, state.Current, files); err != nil {
			log.Printf("relay: delivery FAILED for message %s: %v", msg.ID, err)
			return
		}
		log.Printf("relay: delivered reply to message %s", msg.ID)
		return
	}
	e.advance(ctx, msg)
}

func (e *Engine) advance(ctx context.Context, msg chat.Message) {
	if err := e.cursors.Set(ctx, e.opts.Agent, msg.ChannelID, msg.ID); err != nil {
		log.Printf("relay: advance cursor to %s: %v", msg.ID, err)
	}
}

// transcribe appends transcripts of msg's audio attachments to query.
func (e *Engine) transcribe(ctx context.Context, msg chat.Message, query string) (string, bool) {
	if e.transcriber == nil {
		return query, false
	}
	had := false
	for _, a := range msg.Attachments {
		if !a.IsAudio() {
			continue
		}
		text, err := e.transcriber.Transcribe(ctx, a)
		if err != nil {
			log.Printf("relay: %v", err)
			continue
		}
		if text == "" {
			continue
		}
		query += fmt.Sprintf("\n\nTranscription of %s:\n%s", a.Name, text)
		had = true
	}
	return query, had
}

// speech renders text as audio when the trigger was a voice message.
func (e *Engine) speech(ctx context.Context, text string, hadTranscription bool) ([]delivery.File, func()) {
	if !hadTranscription || e.synthesizer == nil {
		return nil, func() {}
	}
	path, err := e.synthesizer.Synthesize(ctx, text)
	if err != nil {
		log.Printf("relay: speech encoding failed, sending text-only response: %v", err)
		return nil, func() {}
	}
	return []delivery.File{{Name: filepath.Base(path), Path: path}}, func() { os.Remove(path) }
}

func (e *Engine) record(ctx context.Context, channelID, messageID, kind string, exitCode int, content string) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(ctx, models.Interaction{
		Agent:     e.opts.Agent,
		ChannelID: channelID,
		MessageID: messageID,
		Kind:      kind,
		ExitCode:  exitCode,
		Content:   content,
	})
	if err != nil {
		log.Printf("relay: %v", err)
	}
}
