package pg

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/gateway/internal/store"
)

// PGConversationRefStore implements store.ConversationRefStore backed by
// Postgres. Eviction is TTL-based at read time rather than an in-memory
// LRU: conversation_refs is queried directly, and Get deletes a stale row
// when it finds one. Put evicts nothing and there is no size cap.
type PGConversationRefStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewPGConversationRefStore(db *sql.DB) *PGConversationRefStore {
	return &PGConversationRefStore{db: db, ttl: 365 * 24 * time.Hour}
}

func (s *PGConversationRefStore) Get(channel, conversationID string) (store.ConversationRef, bool) {
	var ref store.ConversationRef
	var lastMessageID *string
	var updated time.Time

	err := s.db.QueryRow(
		`SELECT account_id, chat_id, chat_type, last_message_id, updated_at
		 FROM conversation_refs WHERE session_key = $1 AND channel = $2`,
		conversationID, channel,
	).Scan(&ref.AccountID, &ref.ChatID, &ref.ChatType, &lastMessageID, &updated)
	if err != nil {
		return store.ConversationRef{}, false
	}

	if time.Since(updated) > s.ttl {
		s.db.Exec(`DELETE FROM conversation_refs WHERE session_key = $1 AND channel = $2`, conversationID, channel)
		return store.ConversationRef{}, false
	}

	ref.Channel = channel
	ref.LastMessage = derefStr(lastMessageID)
	ref.LastSeenAtMs = updated.UnixMilli()
	ref.Updated = updated
	return ref, true
}

func (s *PGConversationRefStore) Put(channel, conversationID string, ref store.ConversationRef) {
	now := time.Now()
	s.db.Exec(
		`INSERT INTO conversation_refs (id, session_key, channel, account_id, chat_id, chat_type, last_message_id, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_key) DO UPDATE SET
		   account_id = $4, chat_id = $5, chat_type = $6, last_message_id = $7, updated_at = $8`,
		uuid.Must(uuid.NewV7()), conversationID, channel, ref.AccountID, ref.ChatID, ref.ChatType, nilStr(ref.LastMessage), now,
	)
}

func (s *PGConversationRefStore) Len(channel string) int {
	var n int
	err := s.db.QueryRow(
		`SELECT count(*) FROM conversation_refs WHERE channel = $1 AND updated_at > $2`,
		channel, time.Now().Add(-s.ttl),
	).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}
