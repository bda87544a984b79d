package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/whisper/automod/internal/audit"
	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/infraction"
	"github.com/whisper/automod/internal/messaging"
)

var (
	opsGuild string
	opsUser  string
	opsLimit int
)

var incidentsCmd = &cobra.Command{
	Use:   "incidents --guild ID",
	Short: "List a guild's most recent incidents from the audit trail",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		if settings.PostgresDSN == "" {
			return errors.New("postgres_dsn is not set (AUTOMOD_POSTGRES_DSN)")
		}
		ctx := cmd.Context()
		db, err := audit.Open(ctx, settings.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		store := audit.NewStore(db)

		incs, err := store.Recent(ctx, opsGuild, opsLimit)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		printIncidents(w, incs)
		if opsUser != "" {
			n, err := store.CountRecent(ctx, opsGuild, opsUser, infraction.Window)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%s: %d incidents in the last %s\n", opsUser, n, infraction.Window)
		}
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail [--guild ID]",
	Short: "Print incidents published by running services as they happen",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		cfg := messaging.DefaultNATSConfig()
		cfg.URL = settings.NATSURL
		cfg.Name = "automod-tail"
		nc, err := messaging.NewNATSClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			return err
		}
		defer nc.Close()

		guild := opsGuild
		if guild == "" {
			guild = "*"
		}
		w := cmd.OutOrStdout()
		incs := make(chan *incident.Incident, 64)
		if err := nc.SubscribeIncidents(guild, func(inc *incident.Incident) { incs <- inc }); err != nil {
			return err
		}
		defer nc.Unsubscribe(messaging.IncidentSubject(guild))

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case inc := <-incs:
				fmt.Fprintln(w, formatIncident(inc))
			}
		}
	},
}

var pardonCmd = &cobra.Command{
	Use:   "pardon --guild ID --user ID",
	Short: "Reset a member's infraction counter",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		rdb := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		defer rdb.Close()
		return pardon(cmd.Context(), cmd.OutOrStdout(), infraction.NewStore(rdb), opsGuild, opsUser)
	},
}

func init() {
	for _, c := range []*cobra.Command{incidentsCmd, tailCmd, pardonCmd} {
		c.Flags().StringVar(&opsGuild, "guild", "", "guild id")
	}
	incidentsCmd.Flags().IntVar(&opsLimit, "limit", 20, "maximum number of incidents to list")
	incidentsCmd.Flags().StringVar(&opsUser, "user", "", "also count this member's incidents in the infraction window")
	pardonCmd.Flags().StringVar(&opsUser, "user", "", "member id")
	_ = incidentsCmd.MarkFlagRequired("guild")
	_ = pardonCmd.MarkFlagRequired("guild")
	_ = pardonCmd.MarkFlagRequired("user")
}

type infractionCounter interface {
	Count(ctx context.Context, guildID, userID string) (int, error)
	Clear(ctx context.Context, guildID, userID string) error
}

func pardon(ctx context.Context, w io.Writer, store infractionCounter, guildID, userID string) error {
	n, err := store.Count(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintf(w, "%s has no infractions in guild %s\n", userID, guildID)
		return nil
	}
	if err := store.Clear(ctx, guildID, userID); err != nil {
		return err
	}
	fmt.Fprintf(w, "cleared %d infractions for %s in guild %s\n", n, userID, guildID)
	return nil
}

func printIncidents(w io.Writer, incs []incident.Incident) {
	if len(incs) == 0 {
		fmt.Fprintln(w, "no incidents")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tAUTHOR\tFILTER\tCONTEXT\tACTIONS\tREASON")
	for _, inc := range incs {
		actions := strings.Join(inc.Actions, ",")
		if !inc.Armed {
			actions += " (disarmed)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			inc.OccurredAt.Format(time.DateTime), inc.AuthorID, inc.FilterName, inc.Context, actions, inc.Reason)
	}
	tw.Flush()
}

func formatIncident(inc *incident.Incident) string {
	return fmt.Sprintf("%s guild=%s author=%s filter=%q context=%q infractions=%d reason=%q",
		inc.OccurredAt.Format(time.RFC3339), inc.GuildID, inc.AuthorID, inc.FilterName, inc.Context, inc.Infractions, inc.Reason)
}
