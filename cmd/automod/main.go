// Command automod is the guild moderation service and its operator tools.
//
//	automod run                     connect to Discord and moderate
//	automod validate [dir]          check every guild file and list problems
//	automod check --guild G "text"  run text through a guild's message filters
//	automod incidents --guild G     list recent incidents from the audit trail
//	automod tail [--guild G]        follow incidents published over NATS
//	automod pardon --guild G --user U  reset a member's infraction counter
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whisper/automod/internal/config"
)

// errFiltered is returned by check when the text fails a filter. It sets the
// exit status without printing anything further.
var errFiltered = errors.New("text failed a filter")

var settingsPath string

var rootCmd = &cobra.Command{
	Use:           "automod",
	Short:         "Rule-based content moderation for Discord guilds",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "settings file (default: ./automod.{yaml,yml,json,toml} if present)")
	rootCmd.AddCommand(runCmd, validateCmd, checkCmd, incidentsCmd, tailCmd, pardonCmd)
}

// loadSettings reads the settings named by --config.
func loadSettings() (*config.Settings, error) {
	return config.LoadSettings(settingsPath)
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFiltered) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
