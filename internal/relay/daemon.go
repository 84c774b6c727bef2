package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/classify"
)

// DefaultMessageDelay is the low-priority delay for channels without a
// slowdown.
const DefaultMessageDelay = 17 * time.Second

// maxJitter bounds the random delay added to low-priority messages.
const maxJitter = 3 * time.Second

// Daemon is the long-running agent process. It connects to the platform,
// runs the startup backlog pass while queueing live messages, then routes
// live events until the context is cancelled or the breaker trips.
type Daemon struct {
	engine       *Engine
	platform     Platform
	breaker      *breaker.Breaker
	load         *breaker.LoadGuard
	scope        Scope
	noMonitoring bool
	delay        time.Duration
	jitter       func() time.Duration
	out          io.Writer

	mu      sync.Mutex
	started bool
	queue   []chat.Message
	timers  map[int]*time.Timer
	timerID int
	wg      sync.WaitGroup
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Engine       *Engine
	LoadGuard    *breaker.LoadGuard // optional
	Scope        Scope              // zero value means AllScopes
	NoMonitoring bool               // run the backlog pass, then return
	MessageDelay time.Duration      // defaults to DefaultMessageDelay
	Jitter       func() time.Duration
	Out          io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("relay: engine is required")
	}
	scope := opts.Scope
	if scope == (Scope{}) {
		scope = AllScopes
	}
	delay := opts.MessageDelay
	if delay <= 0 {
		delay = DefaultMessageDelay
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = func() time.Duration { return rand.N(maxJitter) }
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		engine:       opts.Engine,
		platform:     opts.Engine.platform,
		breaker:      opts.Engine.breaker,
		load:         opts.LoadGuard,
		scope:        scope,
		noMonitoring: opts.NoMonitoring,
		delay:        delay,
		jitter:       jitter,
		out:          out,
		timers:       make(map[int]*time.Timer),
	}, nil
}

// Run connects and blocks until ctx is cancelled, the no-monitoring pass
// finishes, or the breaker trips. A trip is reported as breaker.ErrTripped.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	d.breaker.OnTrip(func(reason string) {
		log.Printf("relay: circuit breaker tripped (%s), shutting down", reason)
		cancel(breaker.ErrTripped)
	})

	agentName := d.engine.opts.Agent
	fmt.Fprintf(d.out, "%s connecting...\n", agentName)
	if err := d.platform.Connect(ctx); err != nil {
		return fmt.Errorf("relay: connect: %w", err)
	}
	defer func() {
		if err := d.platform.Close(); err != nil {
			log.Printf("relay: close platform: %v", err)
		}
	}()
	events, err := d.platform.Listen(ctx)
	if err != nil {
		return fmt.Errorf("relay: listen: %w", err)
	}
	fmt.Fprintf(d.out, "%s is ready, logged in as %s\n", agentName, d.platform.BotUserID())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		d.pump(ctx, events)
	}()
	if d.load != nil {
		d.load.Start(ctx)
	}

	if err := d.engine.Backlog(ctx, d.scope); err != nil && !errors.Is(err, breaker.ErrTripped) && ctx.Err() == nil {
		log.Printf("relay: backlog: %v", err)
	}
	if ctx.Err() == nil {
		if d.noMonitoring {
			fmt.Fprintf(d.out, "No-monitoring mode: finished checking all channels\n")
			cancel(nil)
		} else {
			d.start(ctx)
			fmt.Fprintf(d.out, "%s monitoring for new messages...\n", agentName)
		}
	}

	select {
	case <-ctx.Done():
	case <-pumpDone:
		log.Printf("relay: inbound event stream closed")
		cancel(nil)
	}
	<-pumpDone
	d.stopTimers()
	d.wg.Wait()
	if errors.Is(context.Cause(ctx), breaker.ErrTripped) || d.breaker.Tripped() {
		return breaker.ErrTripped
	}
	fmt.Fprintf(d.out, "%s stopped\n", agentName)
	return nil
}

// Started reports whether the startup backlog pass has finished.
func (d *Daemon) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Queued returns the number of messages held until startup completes.
func (d *Daemon) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// LowPriorityDelay is the wait before a low-priority message is handled,
// not counting jitter: one second past the channel slowdown, or base when
// the channel has none.
func LowPriorityDelay(slowdown int, base time.Duration) time.Duration {
	if slowdown > 0 {
		return time.Duration(slowdown+1) * time.Second
	}
	return base
}

func (d *Daemon) pump(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventReaction:
		d.spawn(func() {
			if err := d.engine.HandleReaction(ctx, ev.Reaction); err != nil && !errors.Is(err, breaker.ErrTripped) {
				log.Printf("relay: reaction on %s: %v", ev.Reaction.MessageID, err)
			}
		})
	case EventMessage:
		msg := ev.Message
		if classify.IsOwnMessage(msg, d.platform.BotUserID()) {
			return
		}
		d.mu.Lock()
		if !d.started {
			d.queue = append(d.queue, msg)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
		d.route(ctx, msg)
	}
}

// route sends bot messages and messages in slowed-down channels through the
// low-priority path and everything else straight to the engine.
func (d *Daemon) route(ctx context.Context, msg chat.Message) {
	slowdown := 0
	if ch, err := d.platform.Channel(ctx, msg.ChannelID); err == nil {
		slowdown = ch.Slowdown
	}
	if msg.Author.Bot || slowdown > 0 {
		d.lowPriority(ctx, msg, slowdown)
		return
	}
	d.spawn(func() { d.handle(ctx, msg) })
}

// start marks startup complete and replays the queue in arrival order.
func (d *Daemon) start(ctx context.Context) {
	d.mu.Lock()
	d.started = true
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()

	if len(queued) > 0 {
		log.Printf("relay: processing %d queued messages", len(queued))
	}
	for _, msg := range queued {
		if msg.Author.Bot {
			slowdown := 0
			if ch, err := d.platform.Channel(ctx, msg.ChannelID); err == nil {
				slowdown = ch.Slowdown
			}
			d.lowPriority(ctx, msg, slowdown)
			continue
		}
		d.spawn(func() { d.handle(ctx, msg) })
	}
}

// lowPriority schedules msg after the channel delay plus jitter. Pending
// timers are dropped on shutdown.
func (d *Daemon) lowPriority(ctx context.Context, msg chat.Message, slowdown int) {
	delay := LowPriorityDelay(slowdown, d.delay) + d.jitter()
	if d.engine.opts.Debug {
		log.Printf("relay: delaying message %s by %s", msg.ID, delay.Round(time.Second))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	d.timerID++
	id := d.timerID
	d.wg.Add(1)
	d.timers[id] = time.AfterFunc(delay, func() {
		defer d.wg.Done()
		d.mu.Lock()
		delete(d.timers, id)
		d.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		d.handle(ctx, msg)
	})
}

func (d *Daemon) stopTimers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
}

func (d *Daemon) spawn(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *Daemon) handle(ctx context.Context, msg chat.Message) {
	if err := d.engine.HandleRealtime(ctx, msg); err != nil && !errors.Is(err, breaker.ErrTripped) {
		log.Printf("relay: message %s: %v", msg.ID, err)
	}
}
