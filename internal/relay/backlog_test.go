package relay

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/sociobot/internal/agent"
	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/chat"
)

func seedCursor(t *testing.T, f *fixture, channelID, id string) {
	t.Helper()
	if err := f.cursors.Set(context.Background(), agentID, channelID, id); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}
}

func TestProcessChannel_CursorEndsAtBatchMax(t *testing.T) {
	f := newFixture(t, nil)
	f.p.AddMessages("c1", human("10", "old"), human("11", "one"), human("12", "two"), human("13", "three"), human("14", "four"), human("15", "five"))
	seedCursor(t, f, "c1", "10")
	f.inv.respond = batchReply(map[string]string{"12": "reply two", "14": "reply four"})

	n, err := f.engine.ProcessChannel(context.Background(), general)
	if err != nil {
		t.Fatalf("ProcessChannel: %v", err)
	}
	if n != 5 {
		t.Errorf("offered = %d, want 5", n)
	}

	reqs := f.inv.requests()
	if len(reqs) != 1 {
		t.Fatalf("invocations = %d, want a single batch", len(reqs))
	}
	if reqs[0].Author != "batch" || reqs[0].Timeout != agent.BatchTimeout {
		t.Errorf("batch request = %+v", reqs[0])
	}

	replies := f.p.Replies()
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(replies))
	}
	if replies[0].Target.ID != "12" || replies[1].Target.ID != "14" {
		t.Errorf("reply targets = %s, %s", replies[0].Target.ID, replies[1].Target.ID)
	}
	if got := f.cursorOf(t, "c1"); got != "15" {
		t.Errorf("cursor = %q, want 15 (batch max)", got)
	}
}

func TestProcessChannel_BootstrapsCutoff(t *testing.T) {
	f := newFixture(t, nil)
	f.p.AddMessages("c1", human("1", "a"), human("2", "b"), own("3", "2"), human("4", "c"))

	n, err := f.engine.ProcessChannel(context.Background(), general)
	if err != nil {
		t.Fatalf("ProcessChannel: %v", err)
	}
	if n != 1 {
		t.Errorf("offered = %d, want 1 (only message 4 is past the reply parent)", n)
	}
	if got := f.cursorOf(t, "c1"); got != "4" {
		t.Errorf("cursor = %q, want 4", got)
	}
}

func TestBootstrapCutoff(t *testing.T) {
	tests := []struct {
		name string
		msgs []chat.Message
		want string
	}{
		{"no own messages", []chat.Message{human("1", "a"), human("2", "b")}, ""},
		{"own reply uses parent", []chat.Message{human("1", "a"), own("2", "1"), human("3", "b")}, "1"},
		{"own message without parent", []chat.Message{human("1", "a"), own("2", "")}, "2"},
		{"newest own message wins", []chat.Message{own("9", "8"), human("8", "x"), own("5", "4")}, "8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BootstrapCutoff(tt.msgs, selfID); got != tt.want {
				t.Errorf("BootstrapCutoff = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProcessChannel_SharedChannelRelevance(t *testing.T) {
	f := newFixture(t, nil)
	mention := botAt("23", 1)
	mention.Mentions = []string{selfID}
	f.p.AddMessages(sharedID, human("21", "hi bots"), botAt("22", 1), mention, own("24", "23"))
	seedCursor(t, f, sharedID, "20")

	n, err := f.engine.ProcessChannel(context.Background(), chat.Channel{ID: sharedID, Name: "bot-dms"})
	if err != nil {
		t.Fatalf("ProcessChannel: %v", err)
	}
	if n != 2 {
		t.Errorf("offered = %d, want 2 (human + mention)", n)
	}
	if got := f.cursorOf(t, sharedID); got != "24" {
		t.Errorf("cursor = %q, want 24", got)
	}
}

func TestProcessChannel_FailedBatchStillAdvances(t *testing.T) {
	f := newFixture(t, nil)
	f.p.AddMessages("c1", human("31", "a"), human("32", "b"))
	seedCursor(t, f, "c1", "30")
	f.inv.respond = func(agent.Request) (agent.Result, error) { return agent.Result{ExitCode: 1}, nil }

	if _, err := f.engine.ProcessChannel(context.Background(), general); err != nil {
		t.Fatalf("ProcessChannel: %v", err)
	}
	if f.br.Failures() != 1 {
		t.Errorf("failures = %d, want 1", f.br.Failures())
	}
	if got := f.cursorOf(t, "c1"); got != "32" {
		t.Errorf("cursor = %q, want 32", got)
	}
}

func TestProcessChannel_ErrorShapedResponsesTrip(t *testing.T) {
	f := newFixture(t, nil)
	responses := map[string]string{}
	for _, id := range []string{"41", "42", "43", "44", "45"} {
		f.p.AddMessages("c1", human(id, "x"))
		responses[id] = "Q CLI failed with exit code 1"
	}
	seedCursor(t, f, "c1", "40")
	f.inv.respond = batchReply(responses)

	_, err := f.engine.ProcessChannel(context.Background(), general)
	if !errors.Is(err, breaker.ErrTripped) {
		t.Fatalf("err = %v, want ErrTripped", err)
	}
	if f.br.Failures() != breaker.DefaultThreshold {
		t.Errorf("failures = %d, want %d", f.br.Failures(), breaker.DefaultThreshold)
	}
	if got := f.cursorOf(t, "c1"); got != "40" {
		t.Errorf("cursor = %q, want 40 (unchanged after trip)", got)
	}
}

func TestProcessChannel_BlockedAtCeiling(t *testing.T) {
	f := newFixture(t, nil)
	f.p.AddMessages("c1", botAt("51", 4), human("52", "hi"))
	seedCursor(t, f, "c1", "50")
	f.inv.respond = batchReply(map[string]string{"51": "more chatter", "52": "hello!"})

	if _, err := f.engine.ProcessChannel(context.Background(), general); err != nil {
		t.Fatalf("ProcessChannel: %v", err)
	}
	replies := f.p.Replies()
	if len(replies) != 1 || replies[0].Target.ID != "52" {
		t.Errorf("replies = %+v, want only the reply to 52", replies)
	}
}

func TestProcessChannel_Modes(t *testing.T) {
	t.Run("no agent", func(t *testing.T) {
		f := newFixture(t, func(o *EngineOpts) { o.Options.NoAgent = true })
		f.p.AddMessages("c1", human("61", "a"))
		seedCursor(t, f, "c1", "60")
		n, err := f.engine.ProcessChannel(context.Background(), general)
		if err != nil || n != 1 {
			t.Fatalf("ProcessChannel = %d, %v", n, err)
		}
		if len(f.inv.requests()) != 0 {
			t.Error("agent invoked with no-agent")
		}
		if got := f.cursorOf(t, "c1"); got != "60" {
			t.Errorf("cursor = %q, want 60", got)
		}
	})
	t.Run("no discord", func(t *testing.T) {
		f := newFixture(t, func(o *EngineOpts) { o.Options.NoDiscord = true })
		f.p.AddMessages("c1", human("61", "a"))
		seedCursor(t, f, "c1", "60")
		f.inv.respond = batchReply(map[string]string{"61": "hi"})
		if _, err := f.engine.ProcessChannel(context.Background(), general); err != nil {
			t.Fatal(err)
		}
		if len(f.inv.requests()) != 1 || len(f.p.Replies()) != 0 {
			t.Error("no-discord should invoke without delivering")
		}
		if got := f.cursorOf(t, "c1"); got != "60" {
			t.Errorf("cursor = %q, want 60", got)
		}
	})
}

func TestProcessChannel_FetchLimit(t *testing.T) {
	f := newFixture(t, func(o *EngineOpts) { o.Options.FetchLimit = 2 })
	f.p.AddMessages("c1", human("71", "a"), human("72", "b"), human("73", "c"))
	seedCursor(t, f, "c1", "70")

	n, _ := f.engine.ProcessChannel(context.Background(), general)
	if n != 2 {
		t.Errorf("offered = %d, want 2", n)
	}
	if got := f.cursorOf(t, "c1"); got != "72" {
		t.Errorf("cursor = %q, want 72", got)
	}
}

func backlogFixture(t *testing.T, mutate func(*EngineOpts)) *fixture {
	f := newFixture(t, mutate)
	f.p.AddDMChannel(chat.Channel{ID: "d1", Recipient: "carol"})
	f.p.AddGuildText(general)
	f.p.AddGuildText(chat.Channel{ID: sharedID, Name: "bot-dms", GuildName: "ZDS"})
	dm := human("101", "dm hello")
	dm.Author = chat.Author{ID: "300", Username: "carol"}
	f.p.AddMessages("d1", dm)
	f.p.AddMessages(sharedID, human("102", "shared hello"))
	f.p.AddMessages("c1", human("103", "guild hello"), human("104", "guild again"))
	for _, id := range []string{"d1", sharedID, "c1"} {
		seedCursor(t, f, id, "100")
	}
	return f
}

func TestBacklog_ScopeAndOrder(t *testing.T) {
	tests := []struct {
		scope Scope
		want  []string
	}{
		{AllScopes, []string{"d1", sharedID, "c1"}},
		{Scope{DMs: true}, []string{"d1"}},
		{Scope{BotDMs: true, Text: true}, []string{sharedID, "c1"}},
	}
	for _, tt := range tests {
		t.Run(tt.scope.String(), func(t *testing.T) {
			f := backlogFixture(t, nil)
			if err := f.engine.Backlog(context.Background(), tt.scope); err != nil {
				t.Fatalf("Backlog: %v", err)
			}
			var got []string
			for _, r := range f.inv.requests() {
				got = append(got, r.Channel.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("channels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBacklog_SkipsFailingChannel(t *testing.T) {
	f := backlogFixture(t, nil)
	f.p.SetHistoryError("d1", errors.New("missing access"))
	if err := f.engine.Backlog(context.Background(), AllScopes); err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if n := len(f.inv.requests()); n != 2 {
		t.Errorf("invocations = %d, want 2", n)
	}
}

func TestBacklog_StopsOnTrip(t *testing.T) {
	f := backlogFixture(t, func(o *EngineOpts) { o.Breaker = breaker.New(1) })
	f.inv.respond = func(agent.Request) (agent.Result, error) { return agent.Result{TimedOut: true}, nil }
	err := f.engine.Backlog(context.Background(), AllScopes)
	if !errors.Is(err, breaker.ErrTripped) {
		t.Fatalf("err = %v, want ErrTripped", err)
	}
	if n := len(f.inv.requests()); n != 1 {
		t.Errorf("invocations = %d, want 1", n)
	}
}

func TestBacklogChannels_ConfiguredDMs(t *testing.T) {
	f := newFixture(t, func(o *EngineOpts) { o.Options.DMChannelIDs = []string{"d1", "d2", "c1", "gone"} })
	f.p.AddDMChannel(chat.Channel{ID: "d1", Recipient: "carol"})
	f.p.AddChannel(chat.Channel{ID: "d2", Kind: chat.KindDM, Recipient: "dave"}, true)

	var got []string
	for _, ch := range f.engine.BacklogChannels(context.Background(), Scope{DMs: true}) {
		got = append(got, ch.ID)
	}
	if strings.Join(got, ",") != "d1,d2" {
		t.Errorf("DM channels = %v, want [d1 d2]", got)
	}
}

func TestShowBacklog(t *testing.T) {
	f := backlogFixture(t, nil)
	var buf bytes.Buffer
	if err := f.engine.ShowBacklog(context.Background(), AllScopes, &buf, 5); err != nil {
		t.Fatalf("ShowBacklog: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"\nDM with carol: 1 messages\n",
		"\nBot-DMs channel: 1 messages\n",
		"\nZDS/#general: 2 messages\n",
		" carol: dm he\n",
		" alice: guild\n",
		"\nTotal backlog: 4 messages\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	stamp := baseTime.Local().Format(backlogTime)
	if !strings.Contains(out, "  "+stamp+" ") {
		t.Errorf("output missing timestamp %q:\n%s", stamp, out)
	}
	if len(f.inv.requests()) != 0 {
		t.Error("ShowBacklog invoked the agent")
	}
	if got := f.cursorOf(t, "c1"); got != "100" {
		t.Errorf("cursor moved to %q", got)
	}
}

func TestClearBacklog(t *testing.T) {
	f := backlogFixture(t, nil)
	if err := f.engine.ClearBacklog(context.Background(), Scope{Text: true, BotDMs: true}); err != nil {
		t.Fatalf("ClearBacklog: %v", err)
	}
	want := map[string]string{"c1": "104", sharedID: "102", "d1": "100"}
	for ch, id := range want {
		if got := f.cursorOf(t, ch); got != id {
			t.Errorf("cursor[%s] = %q, want %q", ch, got, id)
		}
	}
	if len(f.inv.requests()) != 0 {
		t.Error("ClearBacklog invoked the agent")
	}
}

func TestRecentDMs(t *testing.T) {
	f := newFixture(t, nil)
	f.p.AddDMChannel(chat.Channel{ID: "d1", Recipient: "carol"})
	f.p.AddDMChannel(chat.Channel{ID: "d2", Recipient: "dave"})
	long := strings.Repeat("x", 250)
	m1 := human("1", "first")
	m2 := human("2", long)
	m2.CreatedAt = baseTime.Add(2 * time.Minute)
	m3 := human("3", "third")
	m3.CreatedAt = baseTime.Add(time.Minute)
	f.p.AddMessages("d1", m1, m2)
	f.p.AddMessages("d2", m3)

	got, err := f.engine.RecentDMs(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("RecentDMs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Content != strings.Repeat("x", 200)+"..." || got[0].Recipient != "carol" {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Content != "third" || got[1].Recipient != "dave" || got[1].Author != "alice" {
		t.Errorf("second = %+v", got[1])
	}
}
