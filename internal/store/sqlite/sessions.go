package sqlite

import (
	"database/sql"
	"sync"
	"time"

	"github.com/goclaw/gateway/internal/store"
)

// SessionStore implements store.SessionStore over the embedded database.
// Reads go through an in-memory cache; writes hit both cache and disk.
type SessionStore struct {
	db    *sql.DB
	mu    sync.Mutex
	cache map[string]*store.SessionData
}

// NewSessionStore creates a SessionStore over db.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, cache: make(map[string]*store.SessionData)}
}

func (s *SessionStore) GetOrCreate(key string) *store.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[key]; ok {
		return cached
	}
	if data := s.load(key); data != nil {
		s.cache[key] = data
		return data
	}

	now := time.Now()
	data := &store.SessionData{Key: key, Created: now, Updated: now}
	s.cache[key] = data
	s.db.Exec(
		`INSERT OR IGNORE INTO sessions (session_key, created_at, updated_at) VALUES (?, ?, ?)`,
		key, now.UnixMilli(), now.UnixMilli(),
	)
	return data
}

func (s *SessionStore) Touch(key, sessionID, provider, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.cache[key]
	if !ok {
		if data = s.load(key); data == nil {
			data = &store.SessionData{Key: key, Created: time.Now()}
		}
		s.cache[key] = data
	}
	if sessionID != "" {
		data.SessionID = sessionID
	}
	if provider != "" {
		data.LastProvider = provider
	}
	if to != "" {
		data.LastTo = to
	}
	data.Updated = time.Now()

	s.db.Exec(
		`INSERT INTO sessions (session_key, session_id, provider, last_to, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_key) DO UPDATE SET
		   session_id = excluded.session_id,
		   provider   = excluded.provider,
		   last_to    = excluded.last_to,
		   updated_at = excluded.updated_at`,
		key, data.SessionID, data.LastProvider, data.LastTo,
		data.Created.UnixMilli(), data.Updated.UnixMilli(),
	)
}

func (s *SessionStore) Delete(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	s.db.Exec(`DELETE FROM sessions WHERE session_key = ?`, key)
}

func (s *SessionStore) List(agentID string) []store.SessionInfo {
	query := `SELECT session_key, created_at, updated_at FROM sessions ORDER BY updated_at DESC`
	args := []interface{}{}
	if agentID != "" {
		query = `SELECT session_key, created_at, updated_at FROM sessions
		         WHERE session_key LIKE ? ORDER BY updated_at DESC`
		args = append(args, "agent:"+agentID+":%")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []store.SessionInfo
	for rows.Next() {
		var key string
		var created, updated int64
		if err := rows.Scan(&key, &created, &updated); err != nil {
			continue
		}
		out = append(out, store.SessionInfo{
			Key:     key,
			Created: time.UnixMilli(created),
			Updated: time.UnixMilli(updated),
		})
	}
	return out
}

// Save is a no-op: every Touch is already durable.
func (s *SessionStore) Save() error { return nil }

func (s *SessionStore) load(key string) *store.SessionData {
	var sessionID, provider, lastTo sql.NullString
	var created, updated int64
	err := s.db.QueryRow(
		`SELECT session_id, provider, last_to, created_at, updated_at FROM sessions WHERE session_key = ?`,
		key,
	).Scan(&sessionID, &provider, &lastTo, &created, &updated)
	if err != nil {
		return nil
	}
	return &store.SessionData{
		Key:          key,
		SessionID:    sessionID.String,
		LastProvider: provider.String,
		LastTo:       lastTo.String,
		Created:      time.UnixMilli(created),
		Updated:      time.UnixMilli(updated),
	}
}
