package sink

import "testing"

func TestContainsTriggerTag(t *testing.T) {
	cases := []struct {
		name    string
		message string
		want    bool
	}{
		{"exact match", "check this out #discord", true},
		{"case insensitive", "check this out #DISCORD", true},
		{"does not match extended word", "check this out #discord-like", false},
		{"no tag at all", "just a regular post", false},
		{"tag mid-sentence", "join us on #discord tonight", true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ContainsTriggerTag(c.message, "#discord"); got != c.want {
				t.Errorf("ContainsTriggerTag(%q) = %v, want %v", c.message, got, c.want)
			}
		})
	}
}

func TestSanitize_StripsTriggerAndHashtags(t *testing.T) {
	in := "Big announcement #discord check out #news and #updates today"
	got := Sanitize(in, "#discord")
	want := "Big announcement check out and today"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitize_HashtagStopsAtHyphen(t *testing.T) {
	// Hashtags don't include hyphenated suffixes, so only the #word
	// portion is treated as a tag token; trailing "-soon" is left as
	// ordinary text, matching how the upstream platform itself parses
	// hashtags out of post text.
	got := Sanitize("big news #updates-soon incoming", "#discord")
	want := "big news -soon incoming"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitize_CollapsesWhitespace(t *testing.T) {
	got := Sanitize("hello    world\n\n#discord   here", "#discord")
	want := "hello world here"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitize_TruncatesWithMarker(t *testing.T) {
	long := ""
	for i := 0; i < 500; i++ {
		long += "0123456789"
	}
	got := Sanitize(long, "#discord")
	if len(got) != maxContentLen {
		t.Fatalf("expected length %d, got %d", maxContentLen, len(got))
	}
	if got[len(got)-3:] != "..." {
		t.Errorf("expected truncation marker, got suffix %q", got[len(got)-10:])
	}
}

func TestSanitize_ShortMessageUntouched(t *testing.T) {
	got := Sanitize("short message #discord", "#discord")
	if got != "short message" {
		t.Errorf("got %q", got)
	}
}
