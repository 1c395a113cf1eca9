package channels

import (
	"strings"
	"time"

	"github.com/goclaw/gateway/internal/bus"
)

// Provider-specific identifier prefixes stripped during normalization so
// the same human shows up under one id regardless of which transport
// delivered the message.
var peerIDPrefixes = []string{"zalo:", "msteams:", "teams:", "discord:", "user:"}

// StripPeerPrefix removes a known provider prefix from an identifier.
// Applied once; an already-stripped id passes through unchanged.
func StripPeerPrefix(id string) string {
	for _, prefix := range peerIDPrefixes {
		if strings.HasPrefix(id, prefix) {
			return id[len(prefix):]
		}
	}
	return id
}

// NormalizeChatType maps provider chat-type tags onto "direct"/"group".
// Providers disagree loudly here: numeric tags ("1"/"2"), shouty tags
// ("SINGLE"/"GROUP"), Telegram's supergroup/channel split.
func NormalizeChatType(raw string) ChatKind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "2", "group", "supergroup", "channel", "groupchat":
		return ChatGroup
	default:
		return ChatDirect
	}
}

// ComposeBody joins the multi-part content of one inbound message — text,
// caption, recognized-speech transcript, forwarded snapshot — in that
// order, skipping empty parts.
func ComposeBody(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// ResolveMentions decides whether the bot was mentioned. Explicit provider
// mention arrays are authoritative when a bot identifier is known;
// otherwise any @name in the text counts, since without a robot id there
// is nothing to validate against.
func ResolveMentions(text string, explicit []string, botID, botName string) bool {
	if botID != "" {
		for _, m := range explicit {
			if StripPeerPrefix(m) == botID {
				return true
			}
		}
	}
	if botName != "" {
		if strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botName)) {
			return true
		}
	}
	if botID == "" && botName == "" {
		return strings.Contains(text, "@")
	}
	return false
}

// NormalizeInbound canonicalizes an adapter-built envelope: strips provider
// prefixes from identifiers, normalizes the chat type tag, trims the body
// (preserving RawBody as the pre-normalization text), and stamps
// ReceivedAtMs when the adapter didn't. It is pure and idempotent —
// normalizing an already-normalized envelope is a no-op.
func NormalizeInbound(msg bus.InboundMessage) bus.InboundMessage {
	out := msg

	out.SenderID = StripPeerPrefix(msg.SenderID)
	out.ChatID = StripPeerPrefix(msg.ChatID)
	out.UserID = StripPeerPrefix(msg.UserID)

	out.ChatType = string(NormalizeChatType(msg.ChatType))
	if msg.PeerKind != "" {
		out.PeerKind = string(NormalizeChatType(msg.PeerKind))
	}

	if out.RawBody == "" && msg.Content != strings.TrimSpace(msg.Content) {
		out.RawBody = msg.Content
	}
	out.Content = strings.TrimSpace(msg.Content)
	if out.CommandBody == "" {
		out.CommandBody = out.Content
	}

	if len(msg.Mentions) > 0 {
		mentions := make([]string, 0, len(msg.Mentions))
		for _, m := range msg.Mentions {
			mentions = append(mentions, StripPeerPrefix(m))
		}
		out.Mentions = mentions
	}

	if out.ReceivedAtMs == 0 {
		if msg.ProviderSentAtMs > 0 {
			out.ReceivedAtMs = msg.ProviderSentAtMs
		} else {
			out.ReceivedAtMs = time.Now().UnixMilli()
		}
	}
	return out
}
