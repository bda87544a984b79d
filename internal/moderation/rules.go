package moderation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/whisper/automod/internal/confusable"
)

// FilterMode selects how an allow/deny rule interprets its value set.
type FilterMode int

const (
	AllowList FilterMode = iota
	DenyList
)

// ParseFilterMode maps the configuration spelling ("allow" or "deny") to a
// FilterMode.
func ParseFilterMode(s string) (FilterMode, error) {
	switch s {
	case "allow":
		return AllowList, nil
	case "deny":
		return DenyList, nil
	default:
		return 0, fmt.Errorf("unknown filter mode %q", s)
	}
}

func (m FilterMode) String() string {
	if m == AllowList {
		return "allow"
	}
	return "deny"
}

// Set is an immutable string set built at configuration load.
type Set map[string]struct{}

// NewSet builds a Set from values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether v is in the set.
func (s Set) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// Rule is one condition of a Filter. The set of rule kinds is closed; see
// the evaluate functions for the semantics of each.
type Rule interface {
	isRule()
}

// WordsRule matches whole words, case-insensitively.
type WordsRule struct {
	Pattern *regexp.Regexp
}

// SubstringRule matches substrings anywhere in the text, case-insensitively.
type SubstringRule struct {
	Pattern *regexp.Regexp
}

// RegexRule matches any of a set of operator supplied patterns.
type RegexRule struct {
	Patterns []*regexp.Regexp
}

// ZalgoRule matches text corrupted with stacked combining marks.
type ZalgoRule struct{}

// MimeTypeRule checks attachment content types.
type MimeTypeRule struct {
	Mode         FilterMode
	Types        Set
	AllowUnknown bool
}

// InviteRule checks invite codes.
type InviteRule struct {
	Mode    FilterMode
	Invites Set
}

// LinkRule checks linked domains. A listed domain also covers its "www."
// form.
type LinkRule struct {
	Mode    FilterMode
	Domains Set
}

// StickerIDRule checks sticker ids.
type StickerIDRule struct {
	Mode     FilterMode
	Stickers Set
}

// StickerNameRule matches denied substrings of sticker names.
type StickerNameRule struct {
	Pattern *regexp.Regexp
}

// EmojiNameRule matches denied substrings of custom emoji names used in the
// message text.
type EmojiNameRule struct {
	Pattern *regexp.Regexp
}

// DefaultEmojiRule checks Unicode reaction emoji.
type DefaultEmojiRule struct {
	Mode  FilterMode
	Emoji Set
}

// CustomEmojiIDRule checks custom reaction emoji by id.
type CustomEmojiIDRule struct {
	Mode  FilterMode
	Emoji Set
}

// CustomEmojiNameRule matches denied substrings of custom reaction emoji names.
type CustomEmojiNameRule struct {
	Pattern *regexp.Regexp
}

func (WordsRule) isRule()           {}
func (SubstringRule) isRule()       {}
func (RegexRule) isRule()           {}
func (ZalgoRule) isRule()           {}
func (MimeTypeRule) isRule()        {}
func (InviteRule) isRule()          {}
func (LinkRule) isRule()            {}
func (StickerIDRule) isRule()       {}
func (StickerNameRule) isRule()     {}
func (EmojiNameRule) isRule()       {}
func (DefaultEmojiRule) isRule()    {}
func (CustomEmojiIDRule) isRule()   {}
func (CustomEmojiNameRule) isRule() {}

// wordChar is the Unicode word character class. RE2's \b only knows ASCII
// word characters, so word boundaries are spelled out with it.
const wordChar = `\p{L}\p{M}\p{N}\p{Pc}`

// CompileWords builds the pattern for a WordsRule: every word is escaped and
// the alternation must be bounded by non-word characters or the ends of the
// text. Capture group 1 is the matched word.
func CompileWords(words []string) (*regexp.Regexp, error) {
	return compileAlternation(words, `(?i)(?:^|[^`+wordChar+`])(`, `)(?:[^`+wordChar+`]|$)`)
}

// CompileSubstrings builds the unanchored pattern used by SubstringRule,
// StickerNameRule, EmojiNameRule and CustomEmojiNameRule.
func CompileSubstrings(substrings []string) (*regexp.Regexp, error) {
	return compileAlternation(substrings, `(?i)(`, `)`)
}

func compileAlternation(values []string, prefix, suffix string) (*regexp.Regexp, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	quoted := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			return nil, fmt.Errorf("list contains an empty string")
		}
		quoted[i] = regexp.QuoteMeta(v)
	}
	return regexp.Compile(prefix + strings.Join(quoted, "|") + suffix)
}

// checkValues applies allow/deny semantics to the observed values in order.
// An allow list fails on the first value not in the set; a deny list fails
// on the first value in it.
func checkValues(mode FilterMode, context string, values []string, set Set) FilterResult {
	for _, v := range values {
		switch mode {
		case AllowList:
			if !set.Has(v) {
				return blocked(fmt.Sprintf("contains unallowed %s `%s`", context, v))
			}
		case DenyList:
			if set.Has(v) {
				return blocked(fmt.Sprintf("contains denied %s `%s`", context, v))
			}
		}
	}
	return FilterResult{}
}

// evaluateText applies the text-only rule kinds to text. Rule kinds that
// need message metadata pass.
func evaluateText(rule Rule, text string) FilterResult {
	switch r := rule.(type) {
	case WordsRule:
		return matchSkeletonFirst(r.Pattern, text, 1, "contains word `%s`")
	case SubstringRule:
		return matchSkeletonFirst(r.Pattern, text, 0, "contains substring `%s`")
	case RegexRule:
		return matchRegexes(r.Patterns, text)
	case ZalgoRule:
		if zalgoPattern.MatchString(text) {
			return blocked("contains zalgo")
		}
	case InviteRule:
		codes := submatches(invitePattern, text, 1)
		return checkValues(r.Mode, "invite", codes, r.Invites)
	case LinkRule:
		return checkDomains(r, text)
	case EmojiNameRule:
		for _, name := range submatches(customEmojiPattern, text, 1) {
			if m := r.Pattern.FindString(name); m != "" {
				return blocked(fmt.Sprintf("contains emoji with denied name substring `%s`", m))
			}
		}
	case MimeTypeRule, StickerIDRule, StickerNameRule,
		DefaultEmojiRule, CustomEmojiIDRule, CustomEmojiNameRule:
	default:
		panic(fmt.Sprintf("moderation: unhandled rule type %T", rule))
	}
	return FilterResult{}
}

// evaluateMessage applies rule to a whole message.
func evaluateMessage(rule Rule, msg *MessageInfo) FilterResult {
	switch r := rule.(type) {
	case MimeTypeRule:
		types := make([]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			if a.ContentType == "" {
				if !r.AllowUnknown {
					return blocked("unknown content type for attachment")
				}
				continue
			}
			types = append(types, a.ContentType)
		}
		return checkValues(r.Mode, "content type", types, r.Types)
	case StickerIDRule:
		ids := make([]string, len(msg.Stickers))
		for i, s := range msg.Stickers {
			ids[i] = s.ID
		}
		return checkValues(r.Mode, "sticker", ids, r.Stickers)
	case StickerNameRule:
		for _, s := range msg.Stickers {
			if m := r.Pattern.FindString(s.Name); m != "" {
				return blocked(fmt.Sprintf("contains sticker with denied name substring `%s`", m))
			}
		}
		return FilterResult{}
	default:
		return evaluateText(rule, msg.Content)
	}
}

// evaluateReaction applies the reaction rule kinds to emoji. Message rule
// kinds pass.
func evaluateReaction(rule Rule, emoji ReactionEmoji) FilterResult {
	switch r := rule.(type) {
	case DefaultEmojiRule:
		if emoji.IsCustom() {
			return FilterResult{}
		}
		return checkReaction(r.Mode, emoji.Name, r.Emoji)
	case CustomEmojiIDRule:
		if !emoji.IsCustom() {
			return FilterResult{}
		}
		return checkReaction(r.Mode, emoji.ID, r.Emoji)
	case CustomEmojiNameRule:
		if emoji.IsCustom() && emoji.Name != "" && r.Pattern.MatchString(emoji.Name) {
			return blocked(fmt.Sprintf("reacted with denied emoji name `%s`", emoji.Name))
		}
		return FilterResult{}
	default:
		return FilterResult{}
	}
}

func checkReaction(mode FilterMode, value string, set Set) FilterResult {
	switch mode {
	case AllowList:
		if !set.Has(value) {
			return blocked(fmt.Sprintf("reacted with unallowed emoji `%s`", value))
		}
	case DenyList:
		if set.Has(value) {
			return blocked(fmt.Sprintf("reacted with denied emoji `%s`", value))
		}
	}
	return FilterResult{}
}

// matchSkeletonFirst runs re against the skeleton of text and then against
// the raw text, reporting capture group n of the first match.
func matchSkeletonFirst(re *regexp.Regexp, text string, group int, format string) FilterResult {
	skeleton := confusable.Skeletonize(text)
	if m := re.FindStringSubmatch(skeleton); m != nil {
		return blocked(fmt.Sprintf(format, m[group]))
	}
	if skeleton == text {
		return FilterResult{}
	}
	if m := re.FindStringSubmatch(text); m != nil {
		return blocked(fmt.Sprintf(format, m[group]))
	}
	return FilterResult{}
}

// matchRegexes checks the raw text before the skeleton and reports the
// first pattern that matched.
func matchRegexes(patterns []*regexp.Regexp, text string) FilterResult {
	for _, re := range patterns {
		if re.MatchString(text) {
			return blocked(fmt.Sprintf("matches regex `%s`", re.String()))
		}
	}
	skeleton := confusable.Skeletonize(text)
	if skeleton == text {
		return FilterResult{}
	}
	for _, re := range patterns {
		if re.MatchString(skeleton) {
			return blocked(fmt.Sprintf("matches regex `%s`", re.String()))
		}
	}
	return FilterResult{}
}

func checkDomains(r LinkRule, text string) FilterResult {
	for _, domain := range submatches(linkPattern, text, 1) {
		domain = strings.ToLower(domain)
		if domain == inviteDomain {
			continue
		}
		listed, ok := lookupDomain(r.Domains, domain)
		switch r.Mode {
		case AllowList:
			if !ok {
				return blocked(fmt.Sprintf("contains unallowed domain `%s`", domain))
			}
		case DenyList:
			if ok {
				return blocked(fmt.Sprintf("contains denied domain `%s`", listed))
			}
		}
	}
	return FilterResult{}
}

// lookupDomain returns the listed form of domain, treating "www.example.com"
// as "example.com".
func lookupDomain(domains Set, domain string) (string, bool) {
	if domains.Has(domain) {
		return domain, true
	}
	if bare, ok := strings.CutPrefix(domain, "www."); ok && domains.Has(bare) {
		return bare, true
	}
	return "", false
}

func submatches(re *regexp.Regexp, text string, group int) []string {
	all := re.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(all))
	for _, m := range all {
		out = append(out, m[group])
	}
	return out
}
