package config

// GuildConfig is the raw, file-level shape of one guild's policy. Optional
// sections are pointers so that "absent" and "present but empty" can be told
// apart during validation.
type GuildConfig struct {
	Notifications  *Notifications  `koanf:"notifications"`
	SlashCommands  *SlashCommands  `koanf:"slash_commands"`
	DefaultScoping *ScopingConfig  `koanf:"default_scoping"`
	DefaultActions *[]ActionConfig `koanf:"default_actions"`
	Messages       *[]FilterConfig `koanf:"messages"`
	Reactions      *[]FilterConfig `koanf:"reactions"`
	Spam           *SpamConfig     `koanf:"spam"`
	Usernames      *FilterConfig   `koanf:"usernames"`
	IncludeBots    bool            `koanf:"include_bots"`
}

// Notifications names the channel that receives operational notices, such
// as a failed configuration reload.
type Notifications struct {
	Channel   string    `koanf:"channel"`
	PingRoles *[]string `koanf:"ping_roles"`
}

// SlashCommands lists the roles allowed to run moderator commands.
type SlashCommands struct {
	Roles []string `koanf:"roles"`
}

type ScopingConfig struct {
	IncludeChannels *[]string `koanf:"include_channels"`
	ExcludeChannels *[]string `koanf:"exclude_channels"`
	ExcludeRoles    *[]string `koanf:"exclude_roles"`
}

// FilterConfig is a message, reaction or username filter. Name is optional
// for username filters.
type FilterConfig struct {
	Name    string          `koanf:"name"`
	Rules   []RuleConfig    `koanf:"rules"`
	Scoping *ScopingConfig  `koanf:"scoping"`
	Actions *[]ActionConfig `koanf:"actions"`
}

// RuleConfig is the tagged union of every rule type. Type selects which of the
// remaining fields apply.
type RuleConfig struct {
	Type         string   `koanf:"type"`
	Mode         string   `koanf:"mode"`
	Words        []string `koanf:"words"`
	Substrings   []string `koanf:"substrings"`
	Regexes      []string `koanf:"regexes"`
	Types        []string `koanf:"types"`
	AllowUnknown bool     `koanf:"allow_unknown"`
	Invites      []string `koanf:"invites"`
	Domains      []string `koanf:"domains"`
	Stickers     []string `koanf:"stickers"`
	Names        []string `koanf:"names"`
	Emoji        []string `koanf:"emoji"`
}

// ActionConfig is the tagged union of every action type, selected by Action.
// Durations are whole seconds.
type ActionConfig struct {
	Action               string `koanf:"action"`
	ChannelID            string `koanf:"channel_id"`
	Content              string `koanf:"content"`
	RequiresArmed        bool   `koanf:"requires_armed"`
	Reason               string `koanf:"reason"`
	DeleteMessageSeconds int    `koanf:"delete_message_seconds"`
	Duration             int    `koanf:"duration"`
}

// SpamConfig holds the spam thresholds. A nil threshold is disabled.
type SpamConfig struct {
	Interval    int             `koanf:"interval"`
	Emoji       *int            `koanf:"emoji"`
	Links       *int            `koanf:"links"`
	Attachments *int            `koanf:"attachments"`
	Spoilers    *int            `koanf:"spoilers"`
	Mentions    *int            `koanf:"mentions"`
	Duplicates  *int            `koanf:"duplicates"`
	Scoping     *ScopingConfig  `koanf:"scoping"`
	Actions     *[]ActionConfig `koanf:"actions"`
}
