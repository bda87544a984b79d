package discord

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/moderation"
	"github.com/whisper/automod/internal/ratelimit"
)

type fakeSnapshots struct {
	snap      *config.Snapshot
	reloadErr error
	reloads   int
}

func (f *fakeSnapshots) Current() *config.Snapshot { return f.snap }

func (f *fakeSnapshots) Reload() (*config.Snapshot, error) {
	f.reloads++
	return f.snap, f.reloadErr
}

type fakeSwitch struct {
	armed bool
	err   error
}

func (f *fakeSwitch) Armed(context.Context) bool { return f.armed }

func (f *fakeSwitch) Set(_ context.Context, armed bool) error {
	f.armed = armed
	return f.err
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, ratelimit.Rule) (bool, error) { return false, nil }

func testSnapshot(t *testing.T) *config.Snapshot {
	t.Helper()
	words, err := moderation.CompileWords([]string{"bad"})
	if err != nil {
		t.Fatalf("CompileWords: %v", err)
	}
	return &config.Snapshot{Guilds: map[string]*config.Guild{
		"g1": {
			ID: "g1",
			Filters: &moderation.GuildFilters{Messages: []moderation.Filter{{
				Name:  "slurs",
				Rules: []moderation.Rule{moderation.WordsRule{Pattern: words}},
			}}},
			CommandRoles: moderation.NewSet("mod"),
		},
		"g2": {ID: "g2", Filters: &moderation.GuildFilters{}},
	}}
}

func newTestCommands(t *testing.T) (*Commands, *fakeSnapshots, *fakeSwitch) {
	snaps := &fakeSnapshots{snap: testSnapshot(t)}
	sw := &fakeSwitch{}
	return NewCommands(snaps, sw, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), snaps, sw
}

func TestCommands_Permissions(t *testing.T) {
	c, _, sw := newTestCommands(t)
	ctx := context.Background()

	tests := []struct {
		name string
		inv  Invocation
		want string
	}{
		{"unknown guild", Invocation{GuildID: "nope", Roles: []string{"mod"}, Name: CommandArm}, "This guild is not configured."},
		{"commands not enabled", Invocation{GuildID: "g2", Roles: []string{"mod"}, Name: CommandArm}, "You do not have permission to use this command."},
		{"missing role", Invocation{GuildID: "g1", Roles: []string{"member"}, Name: CommandArm}, "You do not have permission to use this command."},
		{"no roles", Invocation{GuildID: "g1", Name: CommandArm}, "You do not have permission to use this command."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Run(ctx, tt.inv).Content; got != tt.want {
				t.Errorf("Run() = %q, want %q", got, tt.want)
			}
		})
	}
	if sw.armed {
		t.Error("a rejected command changed the armed state")
	}
}

func TestCommands_Test(t *testing.T) {
	c, _, _ := newTestCommands(t)
	ctx := context.Background()

	resp := c.Run(ctx, Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandTest, Text: "this is bad"})
	if resp.Embed == nil {
		t.Fatal("expected an embed")
	}
	fields := fieldMap(resp.Embed)
	if fields["Status"] != "❌ Failed: contains word `bad`" || fields["Filter"] != "slurs" || fields["Input"] != "```this is bad```" {
		t.Errorf("failing test fields = %v", fields)
	}

	resp = c.Run(ctx, Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandTest, Text: "fine"})
	fields = fieldMap(resp.Embed)
	if fields["Status"] != "✅ Passed all filters" {
		t.Errorf("Status = %q", fields["Status"])
	}
	if _, ok := fields["Filter"]; ok {
		t.Error("passing test should not name a filter")
	}
}

func TestCommands_ArmDisarm(t *testing.T) {
	c, _, sw := newTestCommands(t)
	ctx := context.Background()

	if got := c.Run(ctx, Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandArm}).Content; got != "Automod **armed**." {
		t.Errorf("arm = %q", got)
	}
	if !sw.armed {
		t.Error("arm did not set the switch")
	}
	if got := c.Run(ctx, Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandDisarm}).Content; got != "Automod **disarmed**." {
		t.Errorf("disarm = %q", got)
	}
	if sw.armed {
		t.Error("disarm did not clear the switch")
	}

	sw.err = errors.New("redis down")
	got := c.Run(ctx, Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandArm}).Content
	if !strings.HasPrefix(got, "Automod **armed**.") || !strings.Contains(got, "could not be updated") {
		t.Errorf("arm with shared-state error = %q", got)
	}
}

func TestCommands_Reload(t *testing.T) {
	c, snaps, _ := newTestCommands(t)
	ctx := context.Background()
	inv := Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandReload}

	if resp := c.Run(ctx, inv); resp.Embed == nil || resp.Embed.Title != "Configuration reloaded" {
		t.Errorf("reload = %+v", resp)
	}

	snaps.reloadErr = &config.ValidationError{Problems: []string{"in guild g1, message filter \"x\": no rules"}}
	resp := c.Run(ctx, inv)
	if resp.Embed == nil || resp.Embed.Title != "Configuration reload failed" {
		t.Fatalf("failed reload = %+v", resp)
	}
	if !strings.Contains(fieldMap(resp.Embed)["Reason"], "no rules") {
		t.Errorf("Reason = %q", fieldMap(resp.Embed)["Reason"])
	}
	if snaps.reloads != 2 {
		t.Errorf("reloads = %d, want 2", snaps.reloads)
	}
}

func TestCommands_Throttled(t *testing.T) {
	snaps := &fakeSnapshots{snap: testSnapshot(t)}
	sw := &fakeSwitch{}
	c := NewCommands(snaps, sw, denyAll{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	got := c.Run(context.Background(), Invocation{GuildID: "g1", Roles: []string{"mod"}, Name: CommandArm}).Content
	if !strings.Contains(got, "too quickly") || sw.armed {
		t.Errorf("throttled arm = %q, armed = %v", got, sw.armed)
	}
}

func TestReloadFailureBody(t *testing.T) {
	err := &config.ValidationError{Problems: []string{"first", "second"}}
	body := ReloadFailureBody(err)
	if !strings.Contains(body, "```first\nsecond```") || !strings.Contains(body, "**not** been applied") {
		t.Errorf("ReloadFailureBody() = %q", body)
	}
	if body := ReloadFailureBody(errors.New("disk gone")); !strings.Contains(body, "disk gone") {
		t.Errorf("ReloadFailureBody(plain) = %q", body)
	}
}

func TestInvocation(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "g1",
		Member:  &discordgo.Member{User: &discordgo.User{ID: "u1"}, Roles: []string{"mod"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: CommandTest,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:  testOptionName,
				Type:  discordgo.ApplicationCommandOptionString,
				Value: "some text",
			}},
		},
	}}

	inv, ok := invocation(i)
	if !ok {
		t.Fatal("invocation() rejected a guild command")
	}
	if inv.GuildID != "g1" || inv.UserID != "u1" || inv.Name != CommandTest || inv.Text != "some text" {
		t.Errorf("invocation() = %+v", inv)
	}

	i.GuildID = ""
	if _, ok := invocation(i); ok {
		t.Error("invocation() accepted a command outside a guild")
	}
}

func TestInteractionResponse(t *testing.T) {
	r := interactionResponse(Response{Content: "x", Embed: &discordgo.MessageEmbed{Title: "t"}})
	if r.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("responses must be ephemeral")
	}
	if r.Data.Content != "x" || len(r.Data.Embeds) != 1 {
		t.Errorf("interactionResponse() = %+v", r.Data)
	}
}

type recordingNotifier struct{ channels []string }

func (n *recordingNotifier) Notify(_ context.Context, channelID, _, _ string, pingRoles []string) error {
	n.channels = append(n.channels, channelID+":"+strings.Join(pingRoles, ","))
	return nil
}

func TestNotifyGuilds(t *testing.T) {
	roles := []string{"r1"}
	snap := &config.Snapshot{Guilds: map[string]*config.Guild{
		"a": {ID: "a", Notifications: &config.Notifications{Channel: "100", PingRoles: &roles}},
		"b": {ID: "b"},
		"c": {ID: "c", Notifications: &config.Notifications{Channel: "300"}},
	}}
	n := &recordingNotifier{}
	NotifyGuilds(context.Background(), n, snap, "t", "b", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if got := strings.Join(n.channels, " "); got != "100:r1 300:" {
		t.Errorf("notified %q", got)
	}
}
