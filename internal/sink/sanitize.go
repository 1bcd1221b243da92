package sink

import (
	"regexp"
	"strings"
)

const maxContentLen = 4000

// hashTagPattern matches a #word token with a right-side non-word
// boundary, so "#discord" does not also consume "#discord-like".
var hashTagPattern = regexp.MustCompile(`#\w+\b`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// triggerTagPattern builds a case-insensitive matcher for one specific
// trigger tag. The right edge is captured rather than asserted with a
// bare `\b`: Go's regexp package is RE2-based and has no lookahead, and
// `\b` only excludes word characters, so "-" (non-word) satisfied it
// and let "#discord\b" match the leading "#discord" inside
// "#discord-like". Capturing "whatever follows, if it isn't a word
// character or hyphen" and requiring that capture to succeed gives the
// same right-bounded match without needing a lookahead, and the
// capture is reused by Sanitize to preserve the boundary character
// instead of deleting it along with the tag (spec §4.6 step 7's tag
// filter shares this same boundary rule with the sanitizer's strip
// step).
func triggerTagPattern(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(tag) + `([^\w-]|$)`)
}

// ContainsTriggerTag reports whether message contains tag at a
// position whose right edge is not immediately followed by a word
// character or hyphen, case-insensitively.
func ContainsTriggerTag(message, tag string) bool {
	return triggerTagPattern(tag).MatchString(message)
}

// Sanitize strips the trigger tag, strips every remaining #word token,
// collapses whitespace, and truncates to at most maxContentLen
// characters, leaving exactly three characters of headroom for a
// trailing "..." marker when truncation occurs.
func Sanitize(message, triggerTag string) string {
	s := triggerTagPattern(triggerTag).ReplaceAllString(message, "$1")
	s = hashTagPattern.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	if len(s) > maxContentLen {
		s = strings.TrimSpace(s[:maxContentLen-3]) + "..."
	}

	return s
}
