package file

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/goclaw/gateway/internal/store"
)

// DefaultConversationRefCapacity bounds the number of conversations tracked
// per channel before the least-recently-seen are evicted.
const DefaultConversationRefCapacity = 1_000

// DefaultConversationRefTTL is how long a conversation ref survives without
// new traffic before it is considered stale and evicted.
const DefaultConversationRefTTL = 365 * 24 * time.Hour

// FileConversationRefStore is an LRU+TTL map per channel, snapshotted to a
// JSON file on each Put so a restart doesn't forget recently-warm
// conversations. The expirable.LRU instance is the live eviction
// structure; the on-disk file is a best-effort snapshot, not a WAL.
type FileConversationRefStore struct {
	path     string
	capacity int
	ttl      time.Duration

	mu    sync.Mutex
	byChn map[string]*expirable.LRU[string, store.ConversationRef]
}

// NewFileConversationRefStore creates a store persisting snapshots under
// dir (one file per channel: "<channel>-conversations.json").
func NewFileConversationRefStore(dir string) *FileConversationRefStore {
	s := &FileConversationRefStore{
		path:     dir,
		capacity: DefaultConversationRefCapacity,
		ttl:      DefaultConversationRefTTL,
		byChn:    make(map[string]*expirable.LRU[string, store.ConversationRef]),
	}
	return s
}

func (s *FileConversationRefStore) lruFor(channel string) *expirable.LRU[string, store.ConversationRef] {
	if l, ok := s.byChn[channel]; ok {
		return l
	}
	l := expirable.NewLRU[string, store.ConversationRef](s.capacity, nil, s.ttl)
	s.byChn[channel] = l
	s.load(channel, l)
	return l
}

func (s *FileConversationRefStore) Get(channel, conversationID string) (store.ConversationRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lruFor(channel)
	ref, ok := l.Get(conversationID)
	// Entries restored from a snapshot get a fresh LRU expiry, so the
	// last-seen stamp is checked too.
	if ok && time.Since(time.UnixMilli(ref.LastSeenAtMs)) > s.ttl {
		l.Remove(conversationID)
		return store.ConversationRef{}, false
	}
	return ref, ok
}

func (s *FileConversationRefStore) Put(channel, conversationID string, ref store.ConversationRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref.LastSeenAtMs = time.Now().UnixMilli()
	ref.Updated = time.Now()
	l := s.lruFor(channel)
	l.Add(conversationID, ref)
	s.saveLocked(channel, l)
}

func (s *FileConversationRefStore) Len(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lruFor(channel).Len()
}

func (s *FileConversationRefStore) snapshotPath(channel string) string {
	if s.path == "" {
		return ""
	}
	return filepath.Join(s.path, channel+"-conversations.json")
}

type convRefSnapshot struct {
	ID  string               `json:"id"`
	Ref store.ConversationRef `json:"ref"`
}

func (s *FileConversationRefStore) saveLocked(channel string, l *expirable.LRU[string, store.ConversationRef]) {
	target := s.snapshotPath(channel)
	if target == "" {
		return
	}

	keys := l.Keys()
	snapshot := make([]convRefSnapshot, 0, len(keys))
	for _, k := range keys {
		if ref, ok := l.Peek(k); ok {
			snapshot = append(snapshot, convRefSnapshot{ID: k, Ref: ref})
		}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	tmpFile, err := os.CreateTemp(dir, channel+"-conv-*.tmp")
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

	if err := os.Rename(tmpPath, target); err != nil {
		return
	}
	cleanup = false
}

func (s *FileConversationRefStore) load(channel string, l *expirable.LRU[string, store.ConversationRef]) {
	target := s.snapshotPath(channel)
	if target == "" {
		return
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return
	}

	var snapshot []convRefSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return
	}
	for _, entry := range snapshot {
		l.Add(entry.ID, entry.Ref)
	}
}
