// Package allowfrom is the persisted, file-backed complement to the
// configuration file's static per-channel allowlists: an operator approving
// a sender at runtime (via the pairing flow or a CLI grant) writes here, and
// the Admission Controller unions this store with the config-file list at
// admission time.
package allowfrom

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/goclaw/gateway/internal/store"
)

// Service is the in-memory, file-backed allowlist: one JSON document per
// process holding every channel's persisted entries, following
// internal/pairing.Service's atomic-write discipline.
type Service struct {
	path string

	mu      sync.RWMutex
	entries map[string]*store.AllowFromEntry // key: channel\x00scope\x00peerId
}

// NewService creates a Service persisting its state to path (a JSON file).
// Any existing state at path is loaded immediately.
func NewService(path string) *Service {
	s := &Service{
		path:    path,
		entries: make(map[string]*store.AllowFromEntry),
	}
	s.load()
	return s
}

func entryKey(channel string, scope store.AllowFromScope, peerID string) string {
	return channel + "\x00" + string(scope) + "\x00" + peerID
}

func (s *Service) IsAllowed(channel string, scope store.AllowFromScope, peerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[entryKey(channel, scope, peerID)]
	return ok
}

func (s *Service) Add(channel string, scope store.AllowFromScope, peerID, agentID, addedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entryKey(channel, scope, peerID)] = &store.AllowFromEntry{
		Channel: channel,
		Scope:   scope,
		PeerID:  peerID,
		AgentID: agentID,
		AddedBy: addedBy,
	}
	s.saveLocked()
	return nil
}

func (s *Service) Remove(channel string, scope store.AllowFromScope, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, entryKey(channel, scope, peerID))
	s.saveLocked()
	return nil
}

func (s *Service) List(channel string) []store.AllowFromEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.AllowFromEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if channel != "" && e.Channel != channel {
			continue
		}
		out = append(out, *e)
	}
	return out
}

type persistedState struct {
	Entries []*store.AllowFromEntry `json:"entries"`
}

func (s *Service) saveLocked() {
	if s.path == "" {
		return
	}

	state := persistedState{Entries: make([]*store.AllowFromEntry, 0, len(s.entries))}
	for _, e := range s.entries {
		state.Entries = append(state.Entries, e)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	tmpFile, err := os.CreateTemp(dir, "allow-from-*.tmp")
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
	for _, e := range state.Entries {
		s.entries[entryKey(e.Channel, e.Scope, e.PeerID)] = e
	}
}
