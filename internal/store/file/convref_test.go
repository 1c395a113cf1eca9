package file

import (
	"testing"
	"time"

	"github.com/goclaw/gateway/internal/store"
)

func TestFileConversationRefStore_PutGetRoundTrip(t *testing.T) {
	s := NewFileConversationRefStore(t.TempDir())

	ref := store.ConversationRef{
		Channel:     "whatsapp",
		AccountID:   "acct1",
		ChatID:      "c1",
		ChatType:    "direct",
		LastMessage: "m1",
	}
	s.Put("whatsapp", "c1", ref)

	got, ok := s.Get("whatsapp", "c1")
	if !ok {
		t.Fatal("ref missing after put")
	}
	if got.AccountID != "acct1" || got.ChatType != "direct" || got.LastMessage != "m1" {
		t.Errorf("round-tripped ref = %+v", got)
	}
}

func TestFileConversationRefStore_RepeatPutKeepsOneEntry(t *testing.T) {
	s := NewFileConversationRefStore(t.TempDir())
	ref := store.ConversationRef{Channel: "whatsapp", ChatID: "c1"}

	s.Put("whatsapp", "c1", ref)
	first, _ := s.Get("whatsapp", "c1")

	s.Put("whatsapp", "c1", ref)
	second, _ := s.Get("whatsapp", "c1")

	if s.Len("whatsapp") != 1 {
		t.Errorf("Len = %d after duplicate put, want 1", s.Len("whatsapp"))
	}
	// Same state modulo the last-seen stamp.
	first.LastSeenAtMs, second.LastSeenAtMs = 0, 0
	first.Updated, second.Updated = time.Time{}, time.Time{}
	if first != second {
		t.Errorf("duplicate put changed stored state:\n%+v\n%+v", first, second)
	}
}

func TestFileConversationRefStore_SnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s := NewFileConversationRefStore(dir)
	s.Put("whatsapp", "c1", store.ConversationRef{Channel: "whatsapp", ChatID: "c1", ChatType: "group"})

	restarted := NewFileConversationRefStore(dir)
	got, ok := restarted.Get("whatsapp", "c1")
	if !ok {
		t.Fatal("ref lost across restart")
	}
	if got.ChatType != "group" {
		t.Errorf("restored ref = %+v", got)
	}
}

func TestFileConversationRefStore_MissingEntry(t *testing.T) {
	s := NewFileConversationRefStore(t.TempDir())
	if _, ok := s.Get("whatsapp", "nope"); ok {
		t.Error("missing entry reported present")
	}
	if s.Len("whatsapp") != 0 {
		t.Error("empty channel should have zero length")
	}
}
