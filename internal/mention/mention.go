// Package mention finds @Name references to known users in comment text.
package mention

import (
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/threadsync/internal/ir"
)

// Normalize returns text in NFC, the form every replica stores. Offsets
// from Extract refer to the normalized text.
func Normalize(text string) string {
	return norm.NFC.String(text)
}

// Extract finds every "@Name" in text for the given users. A match must
// not be followed by a letter, digit or underscore, so "@Ann" does not
// match inside "@Anna". Longer names win over shorter ones they overlap, so
// "@Ann Lee" mentions Ann Lee and not Ann. Users sharing a name all match
// the same span.
// Offsets and lengths count runes of the NFC form of text. Results are
// ordered by offset, then user ID.
func Extract(text string, users []ir.Author) []ir.Mention {
	text = Normalize(text)
	var candidates []ir.Mention
	for _, u := range users {
		if u.Name == "" {
			continue
		}
		re, err := regexp.Compile("@" + regexp.QuoteMeta(Normalize(u.Name)))
		if err != nil {
			continue
		}
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if next, _ := utf8.DecodeRuneInString(text[loc[1]:]); isWordRune(next) {
				continue
			}
			candidates = append(candidates, ir.Mention{
				UserID:   u.ID,
				UserName: u.Name,
				Offset:   utf8.RuneCountInString(text[:loc[0]]),
				Length:   utf8.RuneCountInString(text[loc[0]:loc[1]]),
			})
		}
	}

	slices.SortFunc(candidates, func(a, b ir.Mention) int {
		if a.Length != b.Length {
			return b.Length - a.Length
		}
		return byOffset(a, b)
	})
	var out []ir.Mention
	for _, m := range candidates {
		if !slices.ContainsFunc(out, func(o ir.Mention) bool { return overlaps(m, o) }) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, byOffset)
	return out
}

func byOffset(a, b ir.Mention) int {
	if a.Offset != b.Offset {
		return a.Offset - b.Offset
	}
	return strings.Compare(a.UserID, b.UserID)
}

// overlaps reports whether two matches share runes. Matches of the same
// span do not count.
func overlaps(a, b ir.Mention) bool {
	if a.Offset == b.Offset && a.Length == b.Length {
		return false
	}
	return a.Offset < b.Offset+b.Length && b.Offset < a.Offset+a.Length
}

// isWordRune reports whether r continues a name. Unlike regexp's \b it
// treats non-ASCII letters as word characters.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Users returns the distinct mentioned user IDs in first-mention order.
func Users(mentions []ir.Mention) []string {
	seen := make(map[string]bool, len(mentions))
	var out []string
	for _, m := range mentions {
		if !seen[m.UserID] {
			seen[m.UserID] = true
			out = append(out, m.UserID)
		}
	}
	return out
}

// Highlight wraps each mention in open and close markers. Mentions that
// overlap an earlier one or fall outside text are left unmarked.
func Highlight(text string, mentions []ir.Mention, open, close string) string {
	if len(mentions) == 0 {
		return text
	}
	sorted := slices.Clone(mentions)
	slices.SortFunc(sorted, func(a, b ir.Mention) int { return a.Offset - b.Offset })

	runes := []rune(text)
	var b strings.Builder
	last := 0
	for _, m := range sorted {
		end := m.Offset + m.Length
		if m.Offset < last || m.Length <= 0 || end > len(runes) {
			continue
		}
		b.WriteString(string(runes[last:m.Offset]))
		b.WriteString(open)
		b.WriteString(string(runes[m.Offset:end]))
		b.WriteString(close)
		last = end
	}
	b.WriteString(string(runes[last:]))
	return b.String()
}
