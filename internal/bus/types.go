package bus

import "context"

// InboundMessage is the normalized form of any inbound channel message —
// the envelope that flows Channel Adapter → Normalizer → Admission → Scheduler.
type InboundMessage struct {
	MessageID         string            `json:"message_id,omitempty"` // adapter-supplied, may be absent
	Channel           string            `json:"channel"`
	AccountID         string            `json:"account_id,omitempty"` // which configured account within the channel
	SenderID          string            `json:"sender_id"`
	SenderDisplayName string            `json:"sender_display_name,omitempty"`
	ChatID            string            `json:"chat_id"`
	ChatType          string            `json:"chat_type,omitempty"` // "direct" or "group"
	Content           string            `json:"content"`
	RawBody           string            `json:"raw_body,omitempty"`
	CommandBody       string            `json:"command_body,omitempty"`
	Media             []string          `json:"media,omitempty"`
	MediaRefs         []MediaAttachment `json:"media_refs,omitempty"`
	Mentions          []string          `json:"mentions,omitempty"`
	ReplyContext      *ReplyContext     `json:"reply_context,omitempty"`
	SessionKey        string            `json:"session_key"`             // deprecated: gateway builds canonical key
	PeerKind          string            `json:"peer_kind,omitempty"`     // "direct" or "group" (used for session key)
	AgentID           string            `json:"agent_id,omitempty"`      // target agent (for multi-agent routing)
	UserID            string            `json:"user_id,omitempty"`       // external user ID for per-user scoping (memory, bootstrap)
	HistoryLimit      int               `json:"history_limit,omitempty"` // max turns to keep in context (0=unlimited, from channel config)
	ReceivedAtMs      int64             `json:"received_at_ms,omitempty"`
	ProviderSentAtMs  int64             `json:"provider_sent_at_ms,omitempty"` // preserved provider timestamp, when reliable
	EnqueueAtMs       int64             `json:"enqueue_at_ms,omitempty"`       // stamped by the scheduler on enqueue
	CommandAuthorized *bool             `json:"command_authorized,omitempty"` // tri-state: nil = unknown

	// OriginatingChannel/OriginatingTo record where a relayed message
	// first entered the system, for replies that must route back to a
	// different surface than the one that delivered the envelope.
	OriginatingChannel string `json:"originating_channel,omitempty"`
	OriginatingTo      string `json:"originating_to,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// ReplyContext carries the message an inbound envelope was sent in reply to.
type ReplyContext struct {
	ID       string `json:"id"`
	Body     string `json:"body,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
}

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel  string            `json:"channel"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Media    []MediaAttachment `json:"media,omitempty"`    // optional media attachments
	Metadata map[string]string `json:"metadata,omitempty"` // channel-specific metadata
}

// MediaAttachment represents a media file to be sent with a message.
type MediaAttachment struct {
	URL         string `json:"url"`                    // file path or URL
	ContentType string `json:"content_type,omitempty"` // MIME type (e.g. "image/jpeg", "video/mp4")
	Caption     string `json:"caption,omitempty"`       // optional caption for media
}

// MessageRouter abstracts inbound/outbound message routing between channels and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(ctx context.Context) (OutboundMessage, bool)
}
