package relay

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/agent"
	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/chat"
	"github.com/zulandar/sociobot/internal/cursor"
)

const (
	selfID   = "900"
	agentID  = "alice-agent"
	sharedID = "777"
)

var _ Platform = (*MockPlatform)(nil)

var general = chat.Channel{ID: "c1", Name: "general", Kind: chat.KindGuildText, GuildID: "g1", GuildName: "ZDS"}

// fakeInvoker records requests and answers with respond (NO_RESPONSE when
// respond is nil).
type fakeInvoker struct {
	mu      sync.Mutex
	reqs    []agent.Request
	respond func(req agent.Request) (agent.Result, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) (agent.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return agent.Result{Text: "NO_RESPONSE"}, nil
	}
	return respond(req)
}

func (f *fakeInvoker) requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agent.Request, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func reply(text string) func(agent.Request) (agent.Result, error) {
	return func(agent.Request) (agent.Result, error) {
		return agent.Result{Text: text}, nil
	}
}

var batchOutput = regexp.MustCompile(`JSON array to (\S+) with format`)

// batchReply answers a batch query by writing responses, keyed by message
// id, to the requested output file.
func batchReply(responses map[string]string) func(agent.Request) (agent.Result, error) {
	return func(req agent.Request) (agent.Result, error) {
		m := batchOutput.FindStringSubmatch(req.Query)
		if m == nil {
			return agent.Result{}, errors.New("not a batch query")
		}
		out := make([]agent.BatchResponse, 0, len(responses))
		for id, text := range responses {
			out = append(out, agent.BatchResponse{MessageID: id, Response: text})
		}
		data, err := json.Marshal(out)
		if err != nil {
			return agent.Result{}, err
		}
		if err := os.WriteFile(m[1], data, 0o644); err != nil {
			return agent.Result{}, err
		}
		return agent.Result{Text: "done"}, nil
	}
}

type fixture struct {
	p       *MockPlatform
	inv     *fakeInvoker
	cursors *cursor.FileStore
	br      *breaker.Breaker
	engine  *Engine
}

// newFixture builds an Engine over a MockPlatform holding the general
// channel, with two agent bots counted (base ceiling 4).
func newFixture(t *testing.T, mutate func(*EngineOpts)) *fixture {
	t.Helper()
	f := &fixture{
		p:       NewMockPlatform(selfID),
		inv:     &fakeInvoker{},
		cursors: cursor.NewFileStore(t.TempDir()),
		br:      breaker.New(breaker.DefaultThreshold),
	}
	f.p.AddChannel(general, true)
	f.p.SetAgentBots(general.ID, 2, true)
	f.p.AddChannel(chat.Channel{ID: sharedID, Name: "bot-dms", Kind: chat.KindGuildText, GuildName: "ZDS"}, true)
	f.p.SetAgentBots(sharedID, 2, true)
	f.p.AddUser(selfID, "alice-agent")
	f.p.AddUser("100", "alice")

	opts := EngineOpts{
		Platform: f.p,
		Invoker:  f.inv,
		Cursors:  f.cursors,
		Breaker:  f.br,
		Options: Options{
			Agent:           agentID,
			SharedChannelID: sharedID,
			Policy:          acl.DefaultPolicy(),
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.engine = e
	return f
}

func (f *fixture) cursorOf(t *testing.T, channelID string) string {
	t.Helper()
	id, _, err := f.cursors.Get(context.Background(), agentID, channelID)
	if err != nil {
		t.Fatalf("cursor Get: %v", err)
	}
	return id
}

var baseTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func human(id, content string) chat.Message {
	return chat.Message{
		ID:        id,
		ChannelID: general.ID,
		Author:    chat.Author{ID: "100", Username: "alice"},
		Content:   content,
		CreatedAt: baseTime,
	}
}

func botAt(id string, n int) chat.Message {
	return chat.Message{
		ID:        id,
		ChannelID: general.ID,
		Author:    chat.Author{ID: "200", Username: "otherbot", Bot: true},
		Content:   "relay this",
		CreatedAt: baseTime,
		Embeds:    []chat.Embed{{Footer: acl.EncodeFooter(n)}},
	}
}

func own(id, ref string) chat.Message {
	return chat.Message{
		ID:          id,
		ChannelID:   general.ID,
		Author:      chat.Author{ID: selfID, Username: "alice-agent", Bot: true},
		Content:     "my reply",
		ReferenceID: ref,
		CreatedAt:   baseTime,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
