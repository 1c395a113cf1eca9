package pg

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/gateway/internal/store"
)

// PGSessionStore implements store.SessionStore backed by Postgres.
type PGSessionStore struct {
	db *sql.DB
	mu sync.RWMutex
	// In-memory cache for hot sessions (reduces DB reads on the scheduler's
	// per-turn resumption lookup).
	cache map[string]*store.SessionData
}

func NewPGSessionStore(db *sql.DB) *PGSessionStore {
	return &PGSessionStore{
		db:    db,
		cache: make(map[string]*store.SessionData),
	}
}

func (s *PGSessionStore) GetOrCreate(key string) *store.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.cache[key]; ok {
		return cached
	}

	if data := s.loadFromDB(key); data != nil {
		s.cache[key] = data
		return data
	}

	now := time.Now()
	data := &store.SessionData{Key: key, Created: now, Updated: now}
	s.cache[key] = data

	s.db.Exec(
		`INSERT INTO sessions (id, session_key, messages, created_at, updated_at)
		 VALUES ($1, $2, '[]', $3, $4) ON CONFLICT (session_key) DO NOTHING`,
		uuid.Must(uuid.NewV7()), key, now, now,
	)
	return data
}

func (s *PGSessionStore) Touch(key, sessionID, provider, to string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.cache[key]
	if !ok {
		data = s.loadFromDB(key)
		if data == nil {
			now := time.Now()
			data = &store.SessionData{Key: key, Created: now}
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
		`INSERT INTO sessions (id, session_key, messages, model, channel, provider, created_at, updated_at)
		 VALUES ($1, $2, '[]', $3, $4, $3, $5, $5)
		 ON CONFLICT (session_key) DO UPDATE SET provider = $3, channel = $4, updated_at = $5`,
		uuid.Must(uuid.NewV7()), key, nilStr(data.LastProvider), nilStr(data.LastTo), data.Updated,
	)
}

func (s *PGSessionStore) Delete(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	s.db.Exec("DELETE FROM sessions WHERE session_key = $1", key)
}

func (s *PGSessionStore) List(agentID string) []store.SessionInfo {
	var rows *sql.Rows
	var err error
	if agentID != "" {
		rows, err = s.db.Query(
			"SELECT session_key, created_at, updated_at FROM sessions WHERE session_key LIKE $1 ORDER BY updated_at DESC",
			"agent:"+agentID+":%",
		)
	} else {
		rows, err = s.db.Query(
			"SELECT session_key, created_at, updated_at FROM sessions ORDER BY updated_at DESC")
	}
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []store.SessionInfo
	for rows.Next() {
		var key string
		var created, updated time.Time
		if err := rows.Scan(&key, &created, &updated); err != nil {
			continue
		}
		out = append(out, store.SessionInfo{Key: key, Created: created, Updated: updated})
	}
	return out
}

func (s *PGSessionStore) Save() error {
	s.mu.RLock()
	snapshot := make([]*store.SessionData, 0, len(s.cache))
	for _, data := range s.cache {
		cp := *data
		snapshot = append(snapshot, &cp)
	}
	s.mu.RUnlock()

	for _, data := range snapshot {
		if _, err := s.db.Exec(
			`UPDATE sessions SET provider = $1, channel = $2, updated_at = $3 WHERE session_key = $4`,
			nilStr(data.LastProvider), nilStr(data.LastTo), data.Updated, data.Key,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGSessionStore) loadFromDB(key string) *store.SessionData {
	var sessionKey string
	var provider, channel *string
	var created, updated time.Time

	err := s.db.QueryRow(
		`SELECT session_key, provider, channel, created_at, updated_at FROM sessions WHERE session_key = $1`,
		key,
	).Scan(&sessionKey, &provider, &channel, &created, &updated)
	if err != nil {
		return nil
	}

	return &store.SessionData{
		Key:          sessionKey,
		LastProvider: derefStr(provider),
		LastTo:       derefStr(channel),
		Created:      created,
		Updated:      updated,
	}
}
