package store

import "time"

// ConversationRef is what a channel adapter needs to address a reply back
// into a conversation it hasn't seen traffic from in a while: the
// platform-specific chat handle plus enough bookkeeping for the scheduler
// to decide whether the conversation is still "warm".
type ConversationRef struct {
	Channel      string    `json:"channel"`
	AccountID    string    `json:"accountId"`
	ChatID       string    `json:"chatId"`
	ChatType     string    `json:"chatType"` // "direct" or "group"
	LastMessage  string    `json:"lastMessageId,omitempty"`
	LastSeenAtMs int64     `json:"lastSeenAtMs"`
	Updated      time.Time `json:"updated"`
}

// ConversationRefStore is an LRU+TTL map {conversationId → ConversationRef}
// per channel. Writes insert-or-update and refresh LastSeenAtMs; reads
// never resurrect an entry past its TTL. Backed in-memory by
// hashicorp/golang-lru/v2, snapshotted to disk for restart durability.
type ConversationRefStore interface {
	// Get returns the ref for conversationID, or (zero, false) if absent
	// or expired.
	Get(channel, conversationID string) (ConversationRef, bool)

	// Put inserts or updates the ref for conversationID, refreshing
	// LastSeenAtMs and triggering eviction of expired/excess entries.
	Put(channel, conversationID string, ref ConversationRef)

	// Len reports the number of live (non-expired) entries for channel.
	Len(channel string) int
}
