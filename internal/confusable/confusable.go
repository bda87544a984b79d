// Package confusable folds visually confusable code points into a canonical
// "skeleton" so that lexical rules cannot be dodged with homoglyphs such as
// Cyrillic "а" or mathematical bold letters. Skeletons are only ever used for
// matching; they are never shown to users.
package confusable

import (
	"bufio"
	_ "embed"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

//go:embed confusables.txt
var rawTable string

var (
	tableOnce sync.Once
	table     map[rune]string
)

// confusables parses the embedded table on first use. Each data line has the
// form "XXXX ; YYYY [YYYY...]" in hexadecimal code points.
func confusables() map[rune]string {
	tableOnce.Do(func() {
		table = parseTable(rawTable)
	})
	return table
}

func parseTable(raw string) map[rune]string {
	m := make(map[rune]string, 1200)
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		from, to, ok := strings.Cut(line, ";")
		if !ok {
			continue
		}
		src, err := strconv.ParseUint(strings.TrimSpace(from), 16, 32)
		if err != nil {
			continue
		}

		var b strings.Builder
		for _, field := range strings.Fields(to) {
			cp, err := strconv.ParseUint(field, 16, 32)
			if err != nil {
				b.Reset()
				break
			}
			b.WriteRune(rune(cp))
		}
		if b.Len() == 0 {
			continue
		}
		m[rune(src)] = b.String()
	}
	return m
}

// Skeletonize returns s with every confusable code point replaced by its
// canonical form. When s contains nothing to replace, s itself is returned
// and nothing is allocated.
func Skeletonize(s string) string {
	m := confusables()

	first := -1
	for i, r := range s {
		if r < utf8.RuneSelf {
			continue
		}
		if _, ok := m[r]; ok {
			first = i
			break
		}
	}
	if first < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:first])
	for _, r := range s[first:] {
		if to, ok := m[r]; ok {
			b.WriteString(to)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Len reports the number of code points with a canonical replacement.
func Len() int {
	return len(confusables())
}
