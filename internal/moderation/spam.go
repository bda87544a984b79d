package moderation

import (
	"math"
	"sync"
	"time"
)

// SpamConfig holds a guild's rate-limit style thresholds. A nil threshold is
// not checked. Each threshold is the largest sum tolerated inside Interval.
type SpamConfig struct {
	Interval    time.Duration
	Emoji       *uint8
	Links       *uint8
	Attachments *uint8
	Spoilers    *uint8
	Mentions    *uint8
	Duplicates  *uint8
	Scoping     *Scoping
	Actions     []FilterAction
}

// SpamRecord is the per-message summary kept in an author's history. It is
// never modified after it is appended.
type SpamRecord struct {
	Content     string
	Emoji       uint8
	Links       uint8
	Attachments uint8
	Spoilers    uint8
	Mentions    uint8
	SentAt      time.Time
}

// NewSpamRecord summarizes msg. Counts above 255 are clamped.
func NewSpamRecord(msg *MessageInfo) SpamRecord {
	return SpamRecord{
		Content:     msg.Content,
		Emoji:       clampCount(countMatches(emojiPattern, msg.Content)),
		Links:       clampCount(countMatches(linkPattern, msg.Content)),
		Attachments: clampCount(len(msg.Attachments)),
		Spoilers:    clampCount(countMatches(spoilerPattern, msg.Content)),
		Mentions:    clampCount(countMatches(mentionPattern, msg.Content)),
		SentAt:      msg.Timestamp,
	}
}

func clampCount(n int) uint8 {
	if n > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(n)
}

func satAdd(a, b uint8) uint8 {
	if s := a + b; s >= a {
		return s
	}
	return math.MaxUint8
}

// authorQueue is one author's records, oldest first.
type authorQueue struct {
	mu      sync.Mutex
	records []SpamRecord
}

// SpamHistory tracks recent messages per author. Authors are added lazily
// and never removed; their queues are pruned by age on every check.
type SpamHistory struct {
	mu      sync.RWMutex
	authors map[string]*authorQueue
}

// NewSpamHistory returns an empty history.
func NewSpamHistory() *SpamHistory {
	return &SpamHistory{authors: make(map[string]*authorQueue)}
}

// queue returns the author's queue, creating it on first use. The read lock
// is released before the write lock is taken, and the map is checked again
// under the write lock so that concurrent first messages share one queue.
func (h *SpamHistory) queue(authorID string) *authorQueue {
	h.mu.RLock()
	q, ok := h.authors[authorID]
	h.mu.RUnlock()
	if ok {
		return q
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if q, ok := h.authors[authorID]; ok {
		return q
	}
	q = &authorQueue{}
	h.authors[authorID] = q
	return q
}

// Check records msg in its author's history and reports whether the author
// exceeded any threshold in cfg. Records older than cfg.Interval relative to
// now are discarded first, wherever they sit in the queue. The record is
// appended whatever the outcome.
func (h *SpamHistory) Check(msg *MessageInfo, cfg *SpamConfig, now time.Time) FilterResult {
	current := NewSpamRecord(msg)
	q := h.queue(msg.AuthorID)

	q.mu.Lock()
	defer q.mu.Unlock()

	// Edits carry their original send time, so a stale record can sit
	// behind newer ones; the whole queue is filtered, not just the front.
	live := q.records[:0]
	for _, r := range q.records {
		if now.Sub(r.SentAt) <= cfg.Interval {
			live = append(live, r)
		}
	}
	clear(q.records[len(live):])
	q.records = live

	result := exceedsThresholds(q.records, &current, cfg)
	q.records = append(q.records, current)
	return result
}

// Len returns the number of records held for authorID.
func (h *SpamHistory) Len(authorID string) int {
	h.mu.RLock()
	q, ok := h.authors[authorID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Authors returns the number of authors being tracked.
func (h *SpamHistory) Authors() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.authors)
}

type spamTotals struct {
	emoji, links, attachments, spoilers, mentions, duplicates uint8
}

// spamThreshold pairs a threshold with the totals it is compared against.
// Count thresholds only fire when the current message contributed.
type spamThreshold struct {
	reason    string
	limit     func(*SpamConfig) *uint8
	total     func(*spamTotals) uint8
	triggered func(*SpamRecord) bool
}

// spamThresholds is evaluated in order; the first violation wins.
var spamThresholds = []spamThreshold{
	{
		reason:    "sent too many emoji",
		limit:     func(c *SpamConfig) *uint8 { return c.Emoji },
		total:     func(t *spamTotals) uint8 { return t.emoji },
		triggered: func(r *SpamRecord) bool { return r.Emoji > 0 },
	},
	{
		reason:    "sent too many links",
		limit:     func(c *SpamConfig) *uint8 { return c.Links },
		total:     func(t *spamTotals) uint8 { return t.links },
		triggered: func(r *SpamRecord) bool { return r.Links > 0 },
	},
	{
		reason:    "sent too many attachments",
		limit:     func(c *SpamConfig) *uint8 { return c.Attachments },
		total:     func(t *spamTotals) uint8 { return t.attachments },
		triggered: func(r *SpamRecord) bool { return r.Attachments > 0 },
	},
	{
		reason:    "sent too many spoilers",
		limit:     func(c *SpamConfig) *uint8 { return c.Spoilers },
		total:     func(t *spamTotals) uint8 { return t.spoilers },
		triggered: func(r *SpamRecord) bool { return r.Spoilers > 0 },
	},
	{
		reason:    "sent too many mentions",
		limit:     func(c *SpamConfig) *uint8 { return c.Mentions },
		total:     func(t *spamTotals) uint8 { return t.mentions },
		triggered: func(r *SpamRecord) bool { return r.Mentions > 0 },
	},
	{
		reason:    "sent too many duplicate messages",
		limit:     func(c *SpamConfig) *uint8 { return c.Duplicates },
		total:     func(t *spamTotals) uint8 { return t.duplicates },
		triggered: func(*SpamRecord) bool { return true },
	},
}

func exceedsThresholds(history []SpamRecord, current *SpamRecord, cfg *SpamConfig) FilterResult {
	// The current message is always a duplicate of itself.
	totals := spamTotals{
		emoji:       current.Emoji,
		links:       current.Links,
		attachments: current.Attachments,
		spoilers:    current.Spoilers,
		mentions:    current.Mentions,
		duplicates:  1,
	}
	for i := range history {
		r := &history[i]
		totals.emoji = satAdd(totals.emoji, r.Emoji)
		totals.links = satAdd(totals.links, r.Links)
		totals.attachments = satAdd(totals.attachments, r.Attachments)
		totals.spoilers = satAdd(totals.spoilers, r.Spoilers)
		totals.mentions = satAdd(totals.mentions, r.Mentions)
		if r.Content == current.Content {
			totals.duplicates = satAdd(totals.duplicates, 1)
		}
	}

	for _, th := range spamThresholds {
		limit := th.limit(cfg)
		if limit == nil {
			continue
		}
		if th.total(&totals) > *limit && th.triggered(current) {
			return blocked(th.reason)
		}
	}
	return FilterResult{}
}
