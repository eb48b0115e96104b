// Package shortcode normalizes user supplied reel identifiers.
package shortcode

import (
	"regexp"
	"strings"
)

// permalinkPathRe matches the reel, post and legacy tv permalink forms.
var permalinkPathRe = regexp.MustCompile(`/(?:reels?|p|tv)/([A-Za-z0-9_-]+)`)

// Extract returns the bare shortcode for input. Bare shortcodes are returned
// trimmed. URLs are searched for a known permalink path; an unrecognised URL is
// returned unchanged so the scraper can reject it.
func Extract(input string) string {
	s := strings.TrimSpace(input)
	if !strings.HasPrefix(strings.ToLower(s), "http") {
		return s
	}
	if m := permalinkPathRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

// PermalinkURL is the canonical reel URL for a bare shortcode.
func PermalinkURL(code string) string {
	return "https://www.instagram.com/reel/" + code + "/"
}

// SplitList splits a comma separated list of identifiers, dropping blanks.
func SplitList(line string) []string {
	var out []string
	for _, part := range strings.Split(line, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
