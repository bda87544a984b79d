package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/whisper/automod/internal/config"
	"github.com/whisper/automod/internal/discord"
	"github.com/whisper/automod/internal/messaging"
	"github.com/whisper/automod/internal/moderation"
)

var (
	checkGuild   string
	checkDir     string
	checkRemote  bool
	checkTimeout time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check --guild ID text...",
	Short: "Test text against a guild's message filters",
	Long: "Runs text through the message filters of a guild, as the test slash command does. " +
		"With --remote the check is answered by a running service over NATS instead of the local files.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if checkRemote {
			return checkRemoteText(cmd.Context(), cmd.OutOrStdout(), text)
		}
		dir := checkDir
		if dir == "" {
			d, err := configDir(nil)
			if err != nil {
				return err
			}
			dir = d
		}
		return checkLocalText(cmd.OutOrStdout(), dir, checkGuild, text)
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkGuild, "guild", "", "guild id whose filters to use")
	checkCmd.Flags().StringVar(&checkDir, "dir", "", "guild configuration directory (default: the configured config_dir)")
	checkCmd.Flags().BoolVar(&checkRemote, "remote", false, "ask the running service over NATS")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 5*time.Second, "remote check timeout")
	_ = checkCmd.MarkFlagRequired("guild")
}

// checkLocalText loads dir and tests text against guildID's message filters.
// It returns errFiltered when the text fails.
func checkLocalText(w io.Writer, dir, guildID, text string) error {
	snap, err := config.LoadDir(dir)
	if err != nil {
		return err
	}
	g, ok := snap.Guild(guildID)
	if !ok {
		return fmt.Errorf("guild %s is not configured in %s", guildID, dir)
	}
	name, res := moderation.DryRunText(g.Filters, text)
	return printCheck(w, name, res)
}

func checkRemoteText(ctx context.Context, w io.Writer, text string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	cfg := messaging.DefaultNATSConfig()
	cfg.URL = settings.NATSURL
	cfg.Name = "automod-check"
	cfg.MaxReconnects = 0

	nc, err := messaging.NewNATSClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	resp, err := nc.Check(ctx, messaging.CheckRequest{
		GuildID: checkGuild,
		Message: moderation.MessageInfo{Content: text, Timestamp: time.Now()},
	})
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("remote check: %s", resp.Error)
	}
	return printCheck(w, resp.Filter, moderation.FilterResult{Blocked: !resp.Passed, Reason: resp.Reason})
}

func printCheck(w io.Writer, filterName string, res moderation.FilterResult) error {
	fmt.Fprintln(w, discord.TestResult(res))
	if !res.Blocked {
		return nil
	}
	fmt.Fprintf(w, "Filter: %s\n", filterName)
	return errFiltered
}
