package channels

import (
	"reflect"
	"testing"

	"github.com/goclaw/gateway/internal/bus"
)

func TestStripPeerPrefix(t *testing.T) {
	tests := []struct{ in, want string }{
		{"zalo:12345", "12345"},
		{"discord:98765", "98765"},
		{"teams:abc", "abc"},
		{"msteams:abc", "abc"},
		{"user:u1", "u1"},
		{"plain-id", "plain-id"},
		{"12345", "12345"},
	}
	for _, tt := range tests {
		if got := StripPeerPrefix(tt.in); got != tt.want {
			t.Errorf("StripPeerPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeChatType(t *testing.T) {
	tests := []struct {
		in   string
		want ChatKind
	}{
		{"1", ChatDirect},
		{"2", ChatGroup},
		{"SINGLE", ChatDirect},
		{"GROUP", ChatGroup},
		{"private", ChatDirect},
		{"supergroup", ChatGroup},
		{"channel", ChatGroup},
		{"direct", ChatDirect},
		{"", ChatDirect},
	}
	for _, tt := range tests {
		if got := NormalizeChatType(tt.in); got != tt.want {
			t.Errorf("NormalizeChatType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestComposeBody(t *testing.T) {
	got := ComposeBody("caption text", "", "  transcript  ", "")
	if got != "caption text\ntranscript" {
		t.Errorf("ComposeBody = %q", got)
	}
	if ComposeBody("", "") != "" {
		t.Error("all-empty parts should compose to empty")
	}
}

func TestResolveMentions(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		explicit []string
		botID    string
		botName  string
		want     bool
	}{
		{"explicit id match", "hey", []string{"bot-1"}, "bot-1", "", true},
		{"explicit prefixed id match", "hey", []string{"discord:bot-1"}, "bot-1", "", true},
		{"explicit mismatch", "hey", []string{"someone-else"}, "bot-1", "", false},
		{"name in text", "hey @GoClaw what's up", nil, "", "goclaw", true},
		{"name case-insensitive", "HEY @GOCLAW", nil, "", "GoClaw", true},
		{"name absent", "hey @other", nil, "", "goclaw", false},
		{"no identity, any at-sign", "ping @anyone", nil, "", "", true},
		{"no identity, no at-sign", "plain message", nil, "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveMentions(tt.text, tt.explicit, tt.botID, tt.botName); got != tt.want {
				t.Errorf("ResolveMentions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeInbound_Canonicalizes(t *testing.T) {
	msg := bus.InboundMessage{
		Channel:          "zalo",
		SenderID:         "zalo:u1",
		ChatID:           "zalo:c1",
		ChatType:         "2",
		Content:          "  hello there  ",
		Mentions:         []string{"zalo:bot"},
		ProviderSentAtMs: 1700000000000,
	}
	got := NormalizeInbound(msg)

	if got.SenderID != "u1" || got.ChatID != "c1" {
		t.Errorf("identifiers not stripped: sender=%s chat=%s", got.SenderID, got.ChatID)
	}
	if got.ChatType != "group" {
		t.Errorf("chat type = %s, want group", got.ChatType)
	}
	if got.Content != "hello there" {
		t.Errorf("content = %q", got.Content)
	}
	if got.RawBody != "  hello there  " {
		t.Errorf("raw body should preserve pre-normalization text, got %q", got.RawBody)
	}
	if got.CommandBody != "hello there" {
		t.Errorf("command body = %q", got.CommandBody)
	}
	if got.Mentions[0] != "bot" {
		t.Errorf("mentions not stripped: %v", got.Mentions)
	}
	if got.ReceivedAtMs != 1700000000000 {
		t.Errorf("received-at should adopt the provider timestamp, got %d", got.ReceivedAtMs)
	}
}

func TestNormalizeInbound_Idempotent(t *testing.T) {
	msg := bus.InboundMessage{
		Channel:          "discord",
		SenderID:         "discord:u9",
		ChatID:           "c9",
		ChatType:         "GROUP",
		Content:          "  mixed  ",
		Mentions:         []string{"user:bot"},
		ProviderSentAtMs: 42,
	}
	once := NormalizeInbound(msg)
	twice := NormalizeInbound(once)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("normalization is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestNormalizeInbound_StampsReceivedAt(t *testing.T) {
	got := NormalizeInbound(bus.InboundMessage{Channel: "telegram", Content: "hi"})
	if got.ReceivedAtMs == 0 {
		t.Error("ReceivedAtMs should be stamped when the provider supplies none")
	}
}
