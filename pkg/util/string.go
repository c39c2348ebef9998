package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var hashtagPattern = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)

// NormalizeHashtag strips a leading '#' and surrounding whitespace.
// Returns the empty string when nothing usable remains.
func NormalizeHashtag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	if tag == "" || !hashtagPattern.MatchString(tag) {
		return ""
	}
	return tag
}

// NormalizeHashtags normalizes every tag and drops duplicates while
// preserving the original order for display.
func NormalizeHashtags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	var out []string
	for _, tag := range tags {
		normalized := NormalizeHashtag(tag)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}

// TextLength counts characters the way the networks do, by rune rather
// than by byte.
func TextLength(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate shortens a string to at most n runes, for log output.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
