package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/moderation"
	"github.com/whisper/automod/internal/ratelimit"
)

// Slash command names.
const (
	CommandTest    = "automod-test"
	CommandArm     = "automod-arm"
	CommandDisarm  = "automod-disarm"
	CommandReload  = "automod-reload"
	testOptionName = "message"
)

var (
	manageMessages = int64(discordgo.PermissionManageMessages)
	administrator  = int64(discordgo.PermissionAdministrator)
	minTestLength  = 1
)

// ApplicationCommands are registered in every guild with slash_commands
// configured. Default permissions only hide the commands; access is decided
// by the guild's roles list.
var ApplicationCommands = []*discordgo.ApplicationCommand{
	{
		Name:                     CommandTest,
		Description:              "Test a message against the message filters.",
		DefaultMemberPermissions: &manageMessages,
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        testOptionName,
			Description: "The message to test.",
			Required:    true,
			MinLength:   &minTestLength,
			MaxLength:   2000,
		}},
	},
	{Name: CommandArm, Description: "Arms automod.", DefaultMemberPermissions: &administrator},
	{Name: CommandDisarm, Description: "Disarms automod.", DefaultMemberPermissions: &administrator},
	{Name: CommandReload, Description: "Reloads guild configurations from disk.", DefaultMemberPermissions: &administrator},
}

// TestResult formats the outcome of running text through a guild's message
// filters.
func TestResult(res moderation.FilterResult) string {
	if res.Blocked {
		return "❌ Failed: " + res.Reason
	}
	return "✅ Passed all filters"
}

// Snapshots exposes the live guild configuration.
type Snapshots interface {
	Current() *config.Snapshot
	Reload() (*config.Snapshot, error)
}

// ArmingSwitch reads and sets the armed flag.
type ArmingSwitch interface {
	Armed(ctx context.Context) bool
	Set(ctx context.Context, armed bool) error
}

// Throttle limits how often an identifier may act.
type Throttle interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Invocation is a slash command as received from a guild member.
type Invocation struct {
	GuildID string
	UserID  string
	Roles   []string
	Name    string
	Text    string // the test command's message option
}

// Response is sent back to the invoking member, visible only to them.
type Response struct {
	Content string
	Embed   *discordgo.MessageEmbed
}

// Commands runs moderator slash commands.
type Commands struct {
	snapshots Snapshots
	arming    ArmingSwitch
	throttle  Throttle
	logger    *slog.Logger
}

// NewCommands returns a command runner. throttle may be nil.
func NewCommands(snapshots Snapshots, arming ArmingSwitch, throttle Throttle, logger *slog.Logger) *Commands {
	return &Commands{
		snapshots: snapshots,
		arming:    arming,
		throttle:  throttle,
		logger:    logger.With(slog.String("component", "commands")),
	}
}

// Run checks that the member may use commands in the guild and runs inv.
func (c *Commands) Run(ctx context.Context, inv Invocation) Response {
	g, ok := c.snapshots.Current().Guild(inv.GuildID)
	if !ok {
		return Response{Content: "This guild is not configured."}
	}
	if !g.CanRunCommands(inv.Roles) {
		return Response{Content: "You do not have permission to use this command."}
	}
	if c.throttle != nil {
		if ok, _ := c.throttle.Allow(ctx, inv.UserID, ratelimit.RuleCommand); !ok {
			return Response{Content: "You are using commands too quickly. Try again in a few seconds."}
		}
	}

	c.logger.Info("running command",
		slog.String("command", inv.Name),
		slog.String("guild", inv.GuildID),
		slog.String("user", inv.UserID),
	)

	switch inv.Name {
	case CommandTest:
		return c.test(g, inv.Text)
	case CommandArm:
		return c.setArmed(ctx, true)
	case CommandDisarm:
		return c.setArmed(ctx, false)
	case CommandReload:
		return c.reload()
	default:
		return Response{Content: fmt.Sprintf("Unknown command %q.", inv.Name)}
	}
}

func (c *Commands) test(g *config.Guild, text string) Response {
	name, res := moderation.DryRunText(g.Filters, text)
	embed := &discordgo.MessageEmbed{
		Title: "Test filter",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Input", Value: "```" + text + "```"},
			{Name: "Status", Value: TestResult(res)},
		},
	}
	if res.Blocked {
		embed.Color = colorFiltered
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Filter", Value: name})
	} else {
		embed.Color = colorOK
	}
	return Response{Embed: embed}
}

func (c *Commands) setArmed(ctx context.Context, armed bool) Response {
	state := "disarmed"
	if armed {
		state = "armed"
	}
	content := "Automod **" + state + "**."
	if err := c.arming.Set(ctx, armed); err != nil {
		c.logger.Error("share armed state", slog.Bool("armed", armed), slog.Any("error", err))
		content += " Other instances could not be updated."
	}
	return Response{Content: content}
}

func (c *Commands) reload() Response {
	if _, err := c.snapshots.Reload(); err != nil {
		return Response{Embed: &discordgo.MessageEmbed{
			Title: "Configuration reload failed",
			Color: colorFiltered,
			Fields: []*discordgo.MessageEmbedField{
				{Name: "Reason", Value: "```" + err.Error() + "```"},
			},
		}}
	}
	return Response{Embed: &discordgo.MessageEmbed{Title: "Configuration reloaded", Color: colorOK}}
}

// ReloadFailureBody is the notice posted when a reload is rejected.
func ReloadFailureBody(err error) string {
	var verr *config.ValidationError
	reason := err.Error()
	if errors.As(err, &verr) {
		reason = strings.Join(verr.Problems, "\n")
	}
	return "Failure reason:\n```" + reason + "```\nConfiguration changes have **not** been applied."
}

// invocation extracts a command invocation from an interaction. It returns
// false for anything that is not a guild application command.
func invocation(i *discordgo.InteractionCreate) (Invocation, bool) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return Invocation{}, false
	}
	data := i.ApplicationCommandData()
	inv := Invocation{
		GuildID: i.GuildID,
		UserID:  i.Member.User.ID,
		Roles:   i.Member.Roles,
		Name:    data.Name,
	}
	for _, opt := range data.Options {
		if opt.Name == testOptionName && opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Text = opt.StringValue()
		}
	}
	return inv, true
}

// interactionResponse wraps r as an ephemeral reply.
func interactionResponse(r Response) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Content: r.Content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}
	if r.Embed != nil {
		data.Embeds = []*discordgo.MessageEmbed{r.Embed}
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}
