// Package pairing implements the one-time pairing handshake unpaired DM
// senders must complete before an admission-gated lane accepts their
// messages: a short code is issued, an operator approves it out of band
// (the `goclaw pairing approve <code>` CLI), and the sender is remembered
// as paired from then on.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultCodeTTL is how long an unapproved pairing code remains valid.
const DefaultCodeTTL = 24 * time.Hour

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I) so codes
// read back cleanly over chat.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const codeLength = 7

// ErrAlreadyPaired is returned by RequestPairing when senderID already has
// an approved pairing on the given channel.
var ErrAlreadyPaired = errors.New("pairing: sender already paired")

// ErrCodeNotFound is returned by Approve when no pending request matches
// the given code.
var ErrCodeNotFound = errors.New("pairing: code not found")

// Record is one pairing request, pending or resolved.
type Record struct {
	Code        string    `json:"code"`
	SenderID    string    `json:"senderId"`
	Channel     string    `json:"channel"`
	ChatID      string    `json:"chatId"`
	AgentID     string    `json:"agentId"`
	Approved    bool      `json:"approved"`
	RequestedAt time.Time `json:"requestedAt"`
	ApprovedAt  time.Time `json:"approvedAt,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (r Record) expired(now time.Time) bool {
	return !r.Approved && now.After(r.ExpiresAt)
}

// Service is the in-memory, file-backed pairing state machine: each sender
// on each channel moves Unknown → PendingCode → Allowed.
type Service struct {
	path    string
	codeTTL time.Duration

	mu       sync.RWMutex
	byCode   map[string]*Record
	pairedBy map[string]string // senderKey -> approved code
}

// NewService creates a Service persisting its state to path (a JSON file).
// Any existing state at path is loaded immediately.
func NewService(path string) *Service {
	s := &Service{
		path:     path,
		codeTTL:  DefaultCodeTTL,
		byCode:   make(map[string]*Record),
		pairedBy: make(map[string]string),
	}
	s.load()
	return s
}

// SetCodeTTL overrides the default pending-code expiry, for tests and
// operator configuration.
func (s *Service) SetCodeTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.codeTTL = ttl
	s.mu.Unlock()
}

func senderKey(senderID, channel string) string {
	return channel + "\x00" + senderID
}

// IsPaired reports whether senderID has an approved pairing on channel.
func (s *Service) IsPaired(senderID, channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pairedBy[senderKey(senderID, channel)]
	return ok
}

// RequestPairing issues a pairing code for senderID on channel/chatID,
// scoped to agentID. If a pending, unexpired code already exists for this
// sender it is re-returned rather than a new one minted, so retries (e.g. a
// debounced burst of DMs) don't spawn a pile of codes the operator has to
// sift through.
func (s *Service) RequestPairing(senderID, channel, chatID, agentID string) (string, error) {
	key := senderKey(senderID, channel)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pairedBy[key]; ok {
		return "", ErrAlreadyPaired
	}

	for _, rec := range s.byCode {
		if rec.SenderID == senderID && rec.Channel == channel && !rec.Approved && !rec.expired(now) {
			return rec.Code, nil
		}
	}

	code, err := s.newCode()
	if err != nil {
		return "", err
	}

	s.byCode[code] = &Record{
		Code:        code,
		SenderID:    senderID,
		Channel:     channel,
		ChatID:      chatID,
		AgentID:     agentID,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.codeTTL),
	}
	s.saveLocked()
	return code, nil
}

// Approve marks the pending request identified by code as approved and
// remembers the sender as paired from now on.
func (s *Service) Approve(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byCode[code]
	if !ok {
		return ErrCodeNotFound
	}
	if rec.expired(time.Now()) {
		delete(s.byCode, code)
		s.saveLocked()
		return ErrCodeNotFound
	}

	rec.Approved = true
	rec.ApprovedAt = time.Now()
	s.pairedBy[senderKey(rec.SenderID, rec.Channel)] = code
	s.saveLocked()
	return nil
}

// List returns all known pairing requests, pending and resolved, newest
// request first.
func (s *Service) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.byCode))
	for _, rec := range s.byCode {
		out = append(out, *rec)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].RequestedAt.After(out[j-1].RequestedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *Service) newCode() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, codeLength)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		code := make([]byte, codeLength)
		for i, b := range buf {
			code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
		}
		if _, exists := s.byCode[string(code)]; !exists {
			return string(code), nil
		}
	}
	return "", errors.New("pairing: failed to generate unique code")
}

// persistedState is the on-disk shape written by saveLocked/load.
type persistedState struct {
	Records []*Record `json:"records"`
}

func (s *Service) saveLocked() {
	if s.path == "" {
		return
	}

	state := persistedState{Records: make([]*Record, 0, len(s.byCode))}
	for _, rec := range s.byCode {
		state.Records = append(state.Records, rec)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	tmpFile, err := os.CreateTemp(dir, "pairing-*.tmp")
	if err != nil {
		return
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return
	}
	cleanup = false
}

func (s *Service) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}

	for _, rec := range state.Records {
		s.byCode[rec.Code] = rec
		if rec.Approved {
			s.pairedBy[senderKey(rec.SenderID, rec.Channel)] = rec.Code
		}
	}
}
