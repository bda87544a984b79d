package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"

	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/executor"
	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/messaging"
	"github.com/whisper/automod/internal/metrics"
	"github.com/whisper/automod/internal/moderation"
)

type staticSnapshots struct{ snap *config.Snapshot }

func (s staticSnapshots) Current() *config.Snapshot { return s.snap }

type recordingExecutor struct {
	mu      sync.Mutex
	batches [][]moderation.Action
}

func (r *recordingExecutor) Execute(_ context.Context, actions []moderation.Action) []executor.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, actions)
	return lo.Map(actions, func(a moderation.Action, _ int) executor.Outcome {
		return executor.Outcome{Kind: a.Kind()}
	})
}

type armed bool

func (a armed) Armed(context.Context) bool { return bool(a) }

type counter struct {
	counts map[string]int
	err    error
}

func (c *counter) Record(_ context.Context, guildID, userID string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[guildID+"/"+userID]++
	return c.counts[guildID+"/"+userID], nil
}

// sink collects incidents from every fan-out target.
type sink struct {
	mu        sync.Mutex
	audited   []*incident.Incident
	published []*incident.Incident
	streamed  []*incident.Incident
	auditErr  error
}

func (s *sink) Record(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audited = append(s.audited, inc)
	return s.auditErr
}

func (s *sink) PublishIncident(inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, inc)
	return nil
}

func (s *sink) Broadcast(inc *incident.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamed = append(s.streamed, inc)
}

func testGuild(t *testing.T) *config.Guild {
	t.Helper()
	words, err := moderation.CompileWords([]string{"bad"})
	if err != nil {
		t.Fatalf("CompileWords: %v", err)
	}
	names, err := moderation.CompileSubstrings([]string{"admin"})
	if err != nil {
		t.Fatalf("CompileSubstrings: %v", err)
	}
	return &config.Guild{
		ID: "g1",
		Filters: &moderation.GuildFilters{
			Messages: []moderation.Filter{{
				Name:  "slurs",
				Rules: []moderation.Rule{moderation.WordsRule{Pattern: words}},
			}},
			Reactions: []moderation.Filter{{
				Name:  "emoji",
				Rules: []moderation.Rule{moderation.DefaultEmojiRule{Mode: moderation.DenyList, Emoji: moderation.NewSet("🍆")}},
			}},
			Usernames: &moderation.Filter{
				Name:    moderation.UsernameFilterName,
				Rules:   []moderation.Rule{moderation.SubstringRule{Pattern: names}},
				Actions: []moderation.FilterAction{moderation.KickAction{Reason: "$FILTER_REASON"}},
			},
			Spam: &moderation.SpamConfig{
				Interval:   time.Minute,
				Duplicates: lo.ToPtr(uint8(1)),
			},
			DefaultActions: []moderation.FilterAction{
				moderation.DeleteAction{},
				moderation.SendLogAction{ChannelID: "log"},
			},
		},
	}
}

type harness struct {
	engine *Engine
	exec   *recordingExecutor
	sink   *sink
	counts *counter
	now    time.Time
}

func newHarness(t *testing.T, guilds ...*config.Guild) *harness {
	t.Helper()
	snap := &config.Snapshot{Guilds: map[string]*config.Guild{}}
	for _, g := range guilds {
		snap.Guilds[g.ID] = g
	}
	h := &harness{
		exec:   &recordingExecutor{},
		sink:   &sink{},
		counts: &counter{counts: map[string]int{}},
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine = New(Deps{
		Snapshots:   staticSnapshots{snap},
		Executor:    h.exec,
		Armed:       armed(true),
		Infractions: h.counts,
		Audit:       h.sink,
		Publisher:   h.sink,
		Feed:        h.sink,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.engine.now = func() time.Time { return h.now }
	return h
}

func (h *harness) message(content string) *moderation.MessageInfo {
	return &moderation.MessageInfo{
		ID:        "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		AuthorID:  "u1",
		Content:   content,
		Timestamp: h.now,
	}
}

func TestHandleMessage_Failure(t *testing.T) {
	h := newHarness(t, testGuild(t))
	ctx := context.Background()

	failure := h.engine.HandleMessage(ctx, h.message("this is bad"))
	if failure == nil {
		t.Fatal("expected a failure")
	}

	want := []moderation.Action{
		moderation.DeleteMessage{ChannelID: "c1", MessageID: "m1"},
		moderation.SendLog{
			ChannelID:       "log",
			GuildID:         "g1",
			FilterName:      "slurs",
			AuthorID:        "u1",
			SourceChannelID: "c1",
			Reason:          "contains word `bad`",
			Context:         moderation.ContextMessageCreate,
			Content:         "this is bad",
			Infractions:     1,
		},
	}
	if len(h.exec.batches) != 1 {
		t.Fatalf("executed %d batches, want 1", len(h.exec.batches))
	}
	if diff := cmp.Diff(want, h.exec.batches[0]); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}

	if len(h.sink.audited) != 1 || len(h.sink.published) != 1 || len(h.sink.streamed) != 1 {
		t.Fatalf("incident fan-out = %d/%d/%d, want 1/1/1", len(h.sink.audited), len(h.sink.published), len(h.sink.streamed))
	}
	inc := h.sink.audited[0]
	if inc != h.sink.published[0] || inc != h.sink.streamed[0] {
		t.Error("sinks received different incidents")
	}
	wantInc := incident.Incident{
		ID:          inc.ID,
		GuildID:     "g1",
		ChannelID:   "c1",
		AuthorID:    "u1",
		MessageID:   "m1",
		FilterName:  "slurs",
		Reason:      "contains word `bad`",
		Context:     moderation.ContextMessageCreate,
		Actions:     []string{"delete_message", "send_log"},
		Infractions: 1,
		Armed:       true,
		OccurredAt:  h.now,
	}
	if diff := cmp.Diff(wantInc, *inc); diff != "" {
		t.Errorf("incident mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleMessage_InfractionsAccumulate(t *testing.T) {
	h := newHarness(t, testGuild(t))
	ctx := context.Background()

	h.engine.HandleMessage(ctx, h.message("bad one"))
	h.engine.HandleMessage(ctx, h.message("bad two"))

	if got := h.sink.audited[1].Infractions; got != 2 {
		t.Errorf("second incident infractions = %d, want 2", got)
	}
	log := h.exec.batches[1][1].(moderation.SendLog)
	if log.Infractions != 2 {
		t.Errorf("second log infractions = %d, want 2", log.Infractions)
	}
}

func TestHandleMessage_SinkErrorsDoNotBlockActions(t *testing.T) {
	h := newHarness(t, testGuild(t))
	h.counts.err = errors.New("redis down")
	h.sink.auditErr = errors.New("postgres down")

	if h.engine.HandleMessage(context.Background(), h.message("bad")) == nil {
		t.Fatal("expected a failure")
	}
	if len(h.exec.batches) != 1 {
		t.Fatal("actions were not executed")
	}
	if log := h.exec.batches[0][1].(moderation.SendLog); log.Infractions != 0 {
		t.Errorf("log infractions = %d, want 0 when counting fails", log.Infractions)
	}
	if len(h.sink.published) != 1 || len(h.sink.streamed) != 1 {
		t.Error("an audit error stopped the other sinks")
	}
}

func TestHandleMessage_Pass(t *testing.T) {
	h := newHarness(t, testGuild(t))
	if f := h.engine.HandleMessage(context.Background(), h.message("hello")); f != nil {
		t.Errorf("HandleMessage(clean) = %+v, want nil", f)
	}
	if len(h.exec.batches) != 0 || len(h.sink.audited) != 0 {
		t.Error("a clean message produced actions or incidents")
	}
}

func TestHandleMessage_Skips(t *testing.T) {
	h := newHarness(t, testGuild(t))
	ctx := context.Background()

	bot := h.message("bad")
	bot.AuthorIsBot = true
	if h.engine.HandleMessage(ctx, bot) != nil {
		t.Error("bot message was evaluated without include_bots")
	}

	other := h.message("bad")
	other.GuildID = "unconfigured"
	if h.engine.HandleMessage(ctx, other) != nil {
		t.Error("message in an unconfigured guild was evaluated")
	}
}

func TestHandleMessage_IncludeBots(t *testing.T) {
	g := testGuild(t)
	g.Filters.IncludeBots = true
	h := newHarness(t, g)

	bot := h.message("bad")
	bot.AuthorIsBot = true
	if h.engine.HandleMessage(context.Background(), bot) == nil {
		t.Error("bot message passed with include_bots set")
	}
}

func TestHandleMessage_Spam(t *testing.T) {
	h := newHarness(t, testGuild(t))
	ctx := context.Background()

	if f := h.engine.HandleMessage(ctx, h.message("hi")); f != nil {
		t.Fatalf("first message failed: %+v", f)
	}
	f := h.engine.HandleMessage(ctx, h.message("hi"))
	if f == nil || f.FilterName != moderation.SpamFilterName || f.Reason != "sent too many duplicate messages" {
		t.Fatalf("duplicate = %+v, want a spam failure", f)
	}
	if h.engine.SpamAuthors() != 1 {
		t.Errorf("SpamAuthors() = %d, want 1", h.engine.SpamAuthors())
	}
	h.engine.reportMetrics()
	if got := testutil.ToFloat64(metrics.SpamAuthors); got != 1 {
		t.Errorf("spam authors gauge = %v, want 1", got)
	}

	h.now = h.now.Add(2 * time.Minute)
	if f := h.engine.HandleMessage(ctx, h.message("hi")); f != nil {
		t.Errorf("message after the interval failed: %+v", f)
	}
}

func TestHandleMessageEdit(t *testing.T) {
	h := newHarness(t, testGuild(t))
	f := h.engine.HandleMessageEdit(context.Background(), h.message("now bad"))
	if f == nil || f.Context != moderation.ContextMessageEdit {
		t.Fatalf("HandleMessageEdit() = %+v", f)
	}
	if got := h.sink.audited[0].Context; got != moderation.ContextMessageEdit {
		t.Errorf("incident context = %q", got)
	}
}

func TestHandleReaction(t *testing.T) {
	h := newHarness(t, testGuild(t))
	r := &moderation.ReactionInfo{
		MessageID: "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		AuthorID:  "u2",
		Emoji:     moderation.ReactionEmoji{Name: "🍆"},
	}

	f := h.engine.HandleReaction(context.Background(), r)
	if f == nil || f.FilterName != "emoji" || f.Context != moderation.ContextReaction {
		t.Fatalf("HandleReaction() = %+v", f)
	}
	if got := h.exec.batches[0][0]; got != (moderation.DeleteReaction{ChannelID: "c1", MessageID: "m1", Emoji: r.Emoji}) {
		t.Errorf("first action = %#v", got)
	}
	if h.sink.audited[0].AuthorID != "u2" {
		t.Errorf("incident author = %q", h.sink.audited[0].AuthorID)
	}

	r.Emoji = moderation.ReactionEmoji{Name: "👍"}
	if h.engine.HandleReaction(context.Background(), r) != nil {
		t.Error("allowed reaction failed")
	}
}

func TestHandleMember(t *testing.T) {
	h := newHarness(t, testGuild(t))
	m := &moderation.MemberInfo{GuildID: "g1", UserID: "u9", Username: "realadmin99"}

	f := h.engine.HandleMember(context.Background(), m)
	if f == nil || f.Context != moderation.ContextUsername {
		t.Fatalf("HandleMember() = %+v", f)
	}
	want := []moderation.Action{moderation.Kick{GuildID: "g1", UserID: "u9", Reason: "contains substring `admin`"}}
	if diff := cmp.Diff(want, h.exec.batches[0]); diff != "" {
		t.Errorf("actions mismatch (-want +got):\n%s", diff)
	}
	inc := h.sink.audited[0]
	if inc.ChannelID != "" || inc.MessageID != "" || inc.AuthorID != "u9" {
		t.Errorf("incident = %+v", inc)
	}
}

func TestCheck(t *testing.T) {
	h := newHarness(t, testGuild(t))

	resp := h.engine.Check(messaging.CheckRequest{GuildID: "g1", Message: moderation.MessageInfo{ChannelID: "c1", AuthorID: "u1", Content: "bad"}})
	want := messaging.CheckResponse{Filter: "slurs", Reason: "contains word `bad`", Context: moderation.ContextMessageCreate}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Errorf("Check(bad) mismatch (-want +got):\n%s", diff)
	}

	// Checks never touch the spam history, so repeats stay clean.
	for i := 0; i < 3; i++ {
		resp = h.engine.Check(messaging.CheckRequest{GuildID: "g1", Message: moderation.MessageInfo{AuthorID: "u1", Content: "hi"}})
		if !resp.Passed {
			t.Fatalf("Check(hi) #%d = %+v, want passed", i, resp)
		}
	}
	if h.engine.SpamAuthors() != 0 {
		t.Error("Check recorded spam history")
	}
	if len(h.exec.batches) != 0 || len(h.sink.audited) != 0 {
		t.Error("Check executed actions or recorded incidents")
	}

	resp = h.engine.Check(messaging.CheckRequest{GuildID: "nope"})
	if resp.Error == "" || resp.Passed {
		t.Errorf("Check(unknown guild) = %+v", resp)
	}
}

func TestHistory_ConcurrentFirstUse(t *testing.T) {
	e := New(Deps{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	filters := &moderation.GuildFilters{Spam: &moderation.SpamConfig{Interval: time.Second}}

	const n = 32
	got := make([]*moderation.SpamHistory, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = e.history("g1", filters)
		}()
	}
	wg.Wait()

	for i, h := range got {
		if h == nil || h != got[0] {
			t.Fatalf("history #%d = %p, want the shared %p", i, h, got[0])
		}
	}
	if h := e.history("g2", &moderation.GuildFilters{}); h != nil {
		t.Errorf("history(no spam config) = %p, want nil", h)
	}
}
