package pg

import (
	"database/sql"
	"sync"

	"github.com/google/uuid"

	"github.com/goclaw/gateway/internal/store"
)

// PGAllowFromStore implements store.AllowFromStore backed by Postgres.
type PGAllowFromStore struct {
	db *sql.DB
	mu sync.RWMutex
	// cache mirrors PGPairingStore's hot-path cache: allowlist checks run
	// on every admitted message, so a DB round trip per message would be
	// wasteful.
	cache map[string]bool
}

func NewPGAllowFromStore(db *sql.DB) *PGAllowFromStore {
	return &PGAllowFromStore{db: db, cache: make(map[string]bool)}
}

func allowCacheKey(channel string, scope store.AllowFromScope, peerID string) string {
	return channel + "\x00" + string(scope) + "\x00" + peerID
}

func (s *PGAllowFromStore) IsAllowed(channel string, scope store.AllowFromScope, peerID string) bool {
	key := allowCacheKey(channel, scope, peerID)

	s.mu.RLock()
	if allowed, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return allowed
	}
	s.mu.RUnlock()

	var exists bool
	err := s.db.QueryRow(
		`SELECT true FROM allow_from WHERE channel = $1 AND scope = $2 AND peer_id = $3 LIMIT 1`,
		channel, string(scope), peerID,
	).Scan(&exists)

	allowed := err == nil && exists
	s.mu.Lock()
	s.cache[key] = allowed
	s.mu.Unlock()
	return allowed
}

func (s *PGAllowFromStore) Add(channel string, scope store.AllowFromScope, peerID, agentID, addedBy string) error {
	_, err := s.db.Exec(
		`INSERT INTO allow_from (id, channel, scope, peer_id, agent_id, added_by)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (channel, scope, peer_id, agent_id) DO NOTHING`,
		uuid.Must(uuid.NewV7()), channel, string(scope), peerID, agentID, nilStr(addedBy),
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[allowCacheKey(channel, scope, peerID)] = true
	s.mu.Unlock()
	return nil
}

func (s *PGAllowFromStore) Remove(channel string, scope store.AllowFromScope, peerID string) error {
	_, err := s.db.Exec(
		`DELETE FROM allow_from WHERE channel = $1 AND scope = $2 AND peer_id = $3`,
		channel, string(scope), peerID,
	)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, allowCacheKey(channel, scope, peerID))
	s.mu.Unlock()
	return nil
}

func (s *PGAllowFromStore) List(channel string) []store.AllowFromEntry {
	var rows *sql.Rows
	var err error
	if channel != "" {
		rows, err = s.db.Query(
			`SELECT channel, scope, peer_id, agent_id, COALESCE(added_by, '') FROM allow_from WHERE channel = $1`,
			channel,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT channel, scope, peer_id, agent_id, COALESCE(added_by, '') FROM allow_from`,
		)
	}
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []store.AllowFromEntry
	for rows.Next() {
		var e store.AllowFromEntry
		var scope string
		if err := rows.Scan(&e.Channel, &scope, &e.PeerID, &e.AgentID, &e.AddedBy); err != nil {
			continue
		}
		e.Scope = store.AllowFromScope(scope)
		out = append(out, e)
	}
	return out
}
