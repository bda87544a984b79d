package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/whisper/automod/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate guild configuration files",
	Long:  "Loads every guild file in dir (default: the configured config_dir) and prints each problem found. Exits non-zero if any file is invalid.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir(args)
		if err != nil {
			return err
		}
		return validateDir(cmd.OutOrStdout(), dir)
	},
}

// configDir returns the directory argument, or the config_dir setting.
func configDir(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	settings, err := loadSettings()
	if err != nil {
		return "", err
	}
	return settings.ConfigDir, nil
}

func validateDir(w io.Writer, dir string) error {
	snap, err := config.LoadDir(dir)
	if err != nil {
		var verr *config.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		for _, p := range verr.Problems {
			fmt.Fprintln(w, p)
		}
		return fmt.Errorf("%s: %d problem(s) found", dir, len(verr.Problems))
	}
	fmt.Fprintf(w, "%s: %d guild configuration(s) valid\n", dir, len(snap.Guilds))
	return nil
}
