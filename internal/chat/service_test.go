package chat

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateRunesShortStringUnchanged(t *testing.T) {
	if got := truncateRunes("привет", 120); got != "привет" {
		t.Fatalf("short string must pass through, got %q", got)
	}
}

func TestTruncateRunesLongString(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := truncateRunes(long, 120)
	if utf8.RuneCountInString(got) != 120 {
		t.Fatalf("expected 120 runes, got %d", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-10:])
	}
}

func TestTruncateRunesKeepsMultibyteRunesIntact(t *testing.T) {
	// Кириллица — 2 байта на руну: байтовый срез порвал бы символ посередине
	long := strings.Repeat("ж", 200)
	got := truncateRunes(long, 120)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated string is not valid UTF-8: %q", got)
	}
	if utf8.RuneCountInString(got) != 120 {
		t.Fatalf("expected 120 runes, got %d", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "ж...") {
		t.Fatalf("expected intact rune before ellipsis, got %q", got[len(got)-12:])
	}
}
