// Package config loads the service settings and the per-guild moderation
// policies. Guild files are validated as a whole and compiled into
// moderation types; the live set is held in a Store that swaps snapshots
// atomically on reload.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

// EnvPrefix is the prefix of environment variables that override settings,
// e.g. AUTOMOD_REDIS_ADDR.
const EnvPrefix = "AUTOMOD_"

// Settings are the process-level options. Guild policy lives in ConfigDir.
type Settings struct {
	DiscordToken string `koanf:"discord_token"`
	ConfigDir    string `koanf:"config_dir"`
	RedisAddr    string `koanf:"redis_addr"`
	NATSURL      string `koanf:"nats_url"`
	PostgresDSN  string `koanf:"postgres_dsn"`
	HTTPAddr     string `koanf:"http_addr"`
	LogLevel     string `koanf:"log_level"`
	LogFormat    string `koanf:"log_format"`
	// ReloadInterval is in seconds; 0 disables the periodic reload.
	ReloadInterval int `koanf:"reload_interval"`
	// NotifyLimit caps the messages sent to one channel per NotifyWindow
	// seconds.
	NotifyLimit  int  `koanf:"notify_limit"`
	NotifyWindow int  `koanf:"notify_window"`
	Armed        bool `koanf:"armed"`
}

// ReloadEvery returns ReloadInterval as a duration.
func (s *Settings) ReloadEvery() time.Duration {
	return time.Duration(s.ReloadInterval) * time.Second
}

var defaultSettings = map[string]any{
	"config_dir":      "./guilds",
	"redis_addr":      "localhost:6379",
	"nats_url":        "nats://localhost:4222",
	"http_addr":       ":8080",
	"log_level":       "info",
	"log_format":      "text",
	"reload_interval": 300,
	"notify_limit":    5,
	"notify_window":   10,
	"armed":           false,
}

// settingsFiles are tried in order when no explicit path is given.
var settingsFiles = []string{"automod.yaml", "automod.yml", "automod.json", "automod.toml"}

// LoadSettings reads settings from path, or from the first automod.* file in
// the working directory when path is empty, then applies AUTOMOD_*
// environment overrides and defaults.
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path == "" {
		path, _ = lo.Find(settingsFiles, func(f string) bool {
			_, err := os.Stat(f)
			return err == nil
		})
	}

	if path != "" {
		parser, ok := parserFor(path)
		if !ok {
			return nil, oops.In("config").With("file", path).Errorf("unsupported settings file extension: %s", path)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, oops.In("config").With("file", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, oops.In("config").With("context", "loading environment variables").Wrap(err)
	}

	for key, value := range defaultSettings {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, oops.In("config").With("key", key).Wrap(err)
			}
		}
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, oops.In("config").With("context", "unmarshaling settings").Wrap(err)
	}

	if s.NotifyLimit <= 0 || s.NotifyWindow <= 0 {
		return nil, oops.In("config").With("notify_limit", s.NotifyLimit, "notify_window", s.NotifyWindow).
			Errorf("notify_limit and notify_window must be positive")
	}
	return &s, nil
}
