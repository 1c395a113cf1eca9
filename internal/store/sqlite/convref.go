package sqlite

import (
	"database/sql"
	"sync"
	"time"

	"github.com/goclaw/gateway/internal/store"
)

// Eviction bounds mirror the file-backed store.
const (
	defaultConvRefCapacity = 1000
	defaultConvRefTTL      = 365 * 24 * time.Hour
)

// ConversationRefStore implements store.ConversationRefStore with the
// eviction policy applied in SQL on each write: expired entries first,
// then oldest-seen past the per-channel capacity.
type ConversationRefStore struct {
	db       *sql.DB
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
}

// NewConversationRefStore creates the store with default bounds.
func NewConversationRefStore(db *sql.DB) *ConversationRefStore {
	return &ConversationRefStore{db: db, capacity: defaultConvRefCapacity, ttl: defaultConvRefTTL}
}

func (s *ConversationRefStore) Get(channel, conversationID string) (store.ConversationRef, bool) {
	var ref store.ConversationRef
	var accountID, chatType, lastMessage sql.NullString
	var lastSeen, updated int64

	err := s.db.QueryRow(
		`SELECT account_id, chat_type, last_message_id, last_seen_at_ms, updated_at
		 FROM conversation_refs WHERE channel = ? AND conversation_id = ?`,
		channel, conversationID,
	).Scan(&accountID, &chatType, &lastMessage, &lastSeen, &updated)
	if err != nil {
		return store.ConversationRef{}, false
	}
	if time.Since(time.UnixMilli(lastSeen)) > s.ttl {
		return store.ConversationRef{}, false
	}

	ref = store.ConversationRef{
		Channel:      channel,
		AccountID:    accountID.String,
		ChatID:       conversationID,
		ChatType:     chatType.String,
		LastMessage:  lastMessage.String,
		LastSeenAtMs: lastSeen,
		Updated:      time.UnixMilli(updated),
	}
	return ref, true
}

func (s *ConversationRefStore) Put(channel, conversationID string, ref store.ConversationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	lastSeen := ref.LastSeenAtMs
	if lastSeen == 0 {
		lastSeen = now.UnixMilli()
	}

	s.db.Exec(
		`INSERT INTO conversation_refs
		   (channel, conversation_id, account_id, chat_type, last_message_id, last_seen_at_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel, conversation_id) DO UPDATE SET
		   account_id      = excluded.account_id,
		   chat_type       = excluded.chat_type,
		   last_message_id = excluded.last_message_id,
		   last_seen_at_ms = excluded.last_seen_at_ms,
		   updated_at      = excluded.updated_at`,
		channel, conversationID, ref.AccountID, ref.ChatType, ref.LastMessage,
		lastSeen, now.UnixMilli(),
	)

	// Evict expired, then the oldest past capacity.
	cutoff := now.Add(-s.ttl).UnixMilli()
	s.db.Exec(`DELETE FROM conversation_refs WHERE channel = ? AND last_seen_at_ms < ?`, channel, cutoff)
	s.db.Exec(
		`DELETE FROM conversation_refs WHERE channel = ?1 AND conversation_id NOT IN (
		   SELECT conversation_id FROM conversation_refs WHERE channel = ?1
		   ORDER BY last_seen_at_ms DESC LIMIT ?2
		 )`,
		channel, s.capacity,
	)
}

func (s *ConversationRefStore) Len(channel string) int {
	cutoff := time.Now().Add(-s.ttl).UnixMilli()
	var n int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM conversation_refs WHERE channel = ? AND last_seen_at_ms >= ?`,
		channel, cutoff,
	).Scan(&n); err != nil {
		return 0
	}
	return n
}
