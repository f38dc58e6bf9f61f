// Package timestamp parses playback positions out of free-form text and
// formats second counts back for display.
package timestamp

import (
	"fmt"
	"regexp"
	"strconv"
)

// pattern matches MM:SS or H:MM:SS. Only the first match in a text counts.
var pattern = regexp.MustCompile(`(\d{1,2}):(\d{2})(?::(\d{2}))?`)

// Parse returns the first timestamp found in text as a number of seconds.
// Three groups are read as H:MM:SS, two as MM:SS. Returns 0 when nothing
// matches; callers must treat 0 as unknown rather than the episode start.
func Parse(text string) int {
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	if m[3] != "" {
		c, _ := strconv.Atoi(m[3])
		return a*3600 + b*60 + c
	}
	return a*60 + b
}

// Find returns the first timestamp-looking substring of text, or "".
func Find(text string) string {
	return pattern.FindString(text)
}

// Known reports whether text contains a parseable timestamp at all.
func Known(text string) bool {
	return pattern.MatchString(text)
}

// Format renders seconds as zero-padded HH:MM:SS. Negative input is
// treated as zero.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// FormatShort renders seconds as H:MM:SS, omitting the hour field when it
// is zero (MM:SS).
func FormatShort(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h == 0 {
		return fmt.Sprintf("%02d:%02d", m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
