package pg

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/gateway/internal/store"
)

var (
	errAlreadyPaired = errors.New("pg: sender already paired")
	errCodeNotFound  = errors.New("pg: pairing code not found")
)

const pairingCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
const pairingCodeLength = 7

func newPairingCode() (string, error) {
	buf := make([]byte, pairingCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, pairingCodeLength)
	for i, b := range buf {
		code[i] = pairingCodeAlphabet[int(b)%len(pairingCodeAlphabet)]
	}
	return string(code), nil
}

// PGPairingStore implements store.PairingStore backed by Postgres.
type PGPairingStore struct {
	db *sql.DB
	mu sync.RWMutex
	// paired caches approved (senderId, channel) pairs to avoid a DB round
	// trip on the hot IsPaired path, mirroring PGSessionStore's cache.
	paired map[string]bool
}

func NewPGPairingStore(db *sql.DB) *PGPairingStore {
	return &PGPairingStore{db: db, paired: make(map[string]bool)}
}

func pairingCacheKey(senderID, channel string) string {
	return channel + "\x00" + senderID
}

func (s *PGPairingStore) IsPaired(senderID, channel string) bool {
	key := pairingCacheKey(senderID, channel)

	s.mu.RLock()
	if paired, ok := s.paired[key]; ok {
		s.mu.RUnlock()
		return paired
	}
	s.mu.RUnlock()

	var approved bool
	err := s.db.QueryRow(
		`SELECT approved FROM pairing_requests WHERE sender_id = $1 AND channel = $2 AND approved = true LIMIT 1`,
		senderID, channel,
	).Scan(&approved)

	paired := err == nil && approved
	s.mu.Lock()
	s.paired[key] = paired
	s.mu.Unlock()
	return paired
}

func (s *PGPairingStore) RequestPairing(senderID, channel, chatID, agentID string) (string, error) {
	if s.IsPaired(senderID, channel) {
		return "", errAlreadyPaired
	}

	var existing string
	err := s.db.QueryRow(
		`SELECT code FROM pairing_requests
		 WHERE sender_id = $1 AND channel = $2 AND approved = false AND expires_at > now()
		 ORDER BY requested_at DESC LIMIT 1`,
		senderID, channel,
	).Scan(&existing)
	if err == nil && existing != "" {
		return existing, nil
	}

	code, err := newPairingCode()
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO pairing_requests (id, code, sender_id, channel, chat_id, agent_id, approved, requested_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)`,
		uuid.Must(uuid.NewV7()), code, senderID, channel, chatID, agentID, now, now.Add(24*time.Hour),
	)
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *PGPairingStore) Approve(code string) error {
	var senderID, channel string
	err := s.db.QueryRow(
		`UPDATE pairing_requests SET approved = true, approved_at = now()
		 WHERE code = $1 AND expires_at > now() RETURNING sender_id, channel`,
		code,
	).Scan(&senderID, &channel)
	if err != nil {
		return errCodeNotFound
	}

	s.mu.Lock()
	s.paired[pairingCacheKey(senderID, channel)] = true
	s.mu.Unlock()
	return nil
}

func (s *PGPairingStore) List() []store.PairingRequest {
	rows, err := s.db.Query(
		`SELECT code, sender_id, channel, chat_id, agent_id, approved, requested_at,
		        COALESCE(approved_at, 'epoch'), expires_at
		 FROM pairing_requests ORDER BY requested_at DESC`,
	)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []store.PairingRequest
	for rows.Next() {
		var r store.PairingRequest
		if err := rows.Scan(&r.Code, &r.SenderID, &r.Channel, &r.ChatID, &r.AgentID,
			&r.Approved, &r.RequestedAt, &r.ApprovedAt, &r.ExpiresAt); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}
