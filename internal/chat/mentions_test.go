package chat_test

import (
	"reflect"
	"testing"

	"github.com/channelhub/internal/chat"
)

func TestExtractMentions(t *testing.T) {
	got := chat.ExtractMentions("hey <@M:gpt-4> and <@U:alice|Alice>, ping <@M:gpt-4> again")
	want := []chat.Mention{
		{Type: "M", ID: "gpt-4"},
		{Type: "U", ID: "alice", Label: "Alice"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mentions = %+v, want %+v", got, want)
	}
}

func TestExtractMentionsNone(t *testing.T) {
	if got := chat.ExtractMentions("plain text, not even an @"); len(got) != 0 {
		t.Fatalf("expected no mentions, got %+v", got)
	}
}

func TestReplaceMentions(t *testing.T) {
	in := "ask <@M:gpt-4|GPT-4> or <@M:claude>"
	want := "ask @GPT-4 or @claude"
	if got := chat.ReplaceMentions(in); got != want {
		t.Fatalf("ReplaceMentions = %q, want %q", got, want)
	}
}

func TestReplaceMentionsLeavesPlainText(t *testing.T) {
	in := "a < b and user@example.com"
	if got := chat.ReplaceMentions(in); got != in {
		t.Fatalf("plain text must be untouched, got %q", got)
	}
}
