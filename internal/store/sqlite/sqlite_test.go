package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/goclaw/gateway/internal/store"
)

func openTestDB(t *testing.T) *SessionStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db)
}

func TestSessionStore_TouchPersistsAcrossCache(t *testing.T) {
	s := openTestDB(t)

	s.GetOrCreate("agent:default:telegram:direct:u1")
	s.Touch("agent:default:telegram:direct:u1", "sess-9", "telegram", "u1")

	// Fresh store over the same db — forces a disk read.
	fresh := NewSessionStore(s.db)
	data := fresh.GetOrCreate("agent:default:telegram:direct:u1")
	if data.SessionID != "sess-9" || data.LastProvider != "telegram" || data.LastTo != "u1" {
		t.Errorf("reloaded session = %+v", data)
	}
}

func TestSessionStore_ListFiltersByAgent(t *testing.T) {
	s := openTestDB(t)
	s.Touch("agent:default:telegram:direct:u1", "a", "", "")
	s.Touch("agent:ops:discord:direct:u2", "b", "", "")

	if got := len(s.List("ops")); got != 1 {
		t.Errorf("List(ops) = %d sessions, want 1", got)
	}
	if got := len(s.List("")); got != 2 {
		t.Errorf("List() = %d sessions, want 2", got)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	s := openTestDB(t)
	s.Touch("agent:default:telegram:direct:u1", "a", "", "")
	s.Delete("agent:default:telegram:direct:u1")

	fresh := NewSessionStore(s.db)
	if len(fresh.List("")) != 0 {
		t.Error("deleted session still listed")
	}
}

func TestConversationRefStore_PutGetRoundTrip(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	s := NewConversationRefStore(db)

	ref := store.ConversationRef{
		Channel:     "teams",
		AccountID:   "acct",
		ChatID:      "c1",
		ChatType:    "group",
		LastMessage: "m1",
	}
	s.Put("teams", "c1", ref)

	got, ok := s.Get("teams", "c1")
	if !ok {
		t.Fatal("ref not found after put")
	}
	if got.AccountID != "acct" || got.ChatType != "group" || got.LastMessage != "m1" {
		t.Errorf("round-tripped ref = %+v", got)
	}
	if got.LastSeenAtMs == 0 {
		t.Error("put should stamp last-seen")
	}

	// Writing twice keeps one entry, same state modulo last-seen.
	s.Put("teams", "c1", ref)
	if n := s.Len("teams"); n != 1 {
		t.Errorf("Len = %d after duplicate put, want 1", n)
	}
}

func TestConversationRefStore_CapacityEviction(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	s := NewConversationRefStore(db)
	s.capacity = 3

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		s.Put("teams", id, store.ConversationRef{
			ChatID:       id,
			LastSeenAtMs: base.Add(time.Duration(i) * time.Minute).UnixMilli(),
		})
	}

	if n := s.Len("teams"); n != 3 {
		t.Errorf("Len = %d after overflow, want capacity 3", n)
	}
	if _, ok := s.Get("teams", "c1"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := s.Get("teams", "c5"); !ok {
		t.Error("newest entry should survive eviction")
	}
}
