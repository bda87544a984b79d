package moderation

import "regexp"

// Fixed extraction patterns. They are compiled once at package init and are
// safe for concurrent use.
var (
	// zalgoPattern matches the combining marks most often stacked to corrupt text.
	zalgoPattern = regexp.MustCompile(`[\x{0303}\x{035F}\x{034F}\x{0327}\x{031F}\x{0353}\x{032F}\x{0318}\x{0359}\x{0354}]`)

	// invitePattern captures the code of a platform invite link.
	invitePattern = regexp.MustCompile(`(?i)discord\.gg/(\w+)`)

	// linkPattern captures the host part of an http(s) URL.
	linkPattern = regexp.MustCompile(`(?i)https?://([^/\s]+)`)

	spoilerPattern = regexp.MustCompile(`\|\|[^|]*\|\|`)

	// emojiPattern approximates presentation emoji. RE2 has no Emoji
	// property, so the pictographic blocks are listed explicitly and skin
	// tone modifiers are left out so a modified emoji counts once.
	emojiPattern = regexp.MustCompile(`[\x{1F000}-\x{1F3FA}\x{1F400}-\x{1FAFF}]|[\x{2600}-\x{27BF}\x{2B05}-\x{2B55}\x{231A}\x{231B}\x{23E9}-\x{23FA}]\x{FE0F}?`)

	// customEmojiPattern captures the name and id of a custom emoji token.
	customEmojiPattern = regexp.MustCompile(`<a?:([^:]+):(\d+)>`)

	mentionPattern = regexp.MustCompile(`<@[!&]?\d+>`)
)

// inviteDomain is excluded from link extraction; invites are checked by
// InviteRule instead.
const inviteDomain = "discord.gg"

func countMatches(re *regexp.Regexp, text string) int {
	return len(re.FindAllStringIndex(text, -1))
}
