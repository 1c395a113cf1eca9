package allowfrom

import (
	"path/filepath"
	"testing"

	"github.com/goclaw/gateway/internal/store"
)

func TestService_AddRemoveScoped(t *testing.T) {
	s := NewService("")

	if err := s.Add("telegram", store.AllowFromDM, "u1", "default", "operator"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !s.IsAllowed("telegram", store.AllowFromDM, "u1") {
		t.Error("added peer not allowed")
	}
	if s.IsAllowed("telegram", store.AllowFromGroup, "u1") {
		t.Error("dm grant must not leak into group scope")
	}
	if s.IsAllowed("discord", store.AllowFromDM, "u1") {
		t.Error("grant must not leak across channels")
	}

	if err := s.Remove("telegram", store.AllowFromDM, "u1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.IsAllowed("telegram", store.AllowFromDM, "u1") {
		t.Error("removed peer still allowed")
	}
}

func TestService_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allow-from.json")

	s := NewService(path)
	s.Add("telegram", store.AllowFromDM, "u1", "default", "pairing")
	s.Add("feishu", store.AllowFromGroup, "g9", "ops", "operator")

	reloaded := NewService(path)
	if !reloaded.IsAllowed("telegram", store.AllowFromDM, "u1") {
		t.Error("dm entry lost on reload")
	}
	if !reloaded.IsAllowed("feishu", store.AllowFromGroup, "g9") {
		t.Error("group entry lost on reload")
	}
}

func TestService_ListFiltersByChannel(t *testing.T) {
	s := NewService("")
	s.Add("telegram", store.AllowFromDM, "u1", "default", "")
	s.Add("discord", store.AllowFromDM, "u2", "default", "")

	if got := len(s.List("telegram")); got != 1 {
		t.Errorf("List(telegram) = %d entries, want 1", got)
	}
	if got := len(s.List("")); got != 2 {
		t.Errorf("List() = %d entries, want 2", got)
	}
}

func TestService_AddIsIdempotent(t *testing.T) {
	s := NewService("")
	s.Add("telegram", store.AllowFromDM, "u1", "default", "")
	s.Add("telegram", store.AllowFromDM, "u1", "default", "")

	if got := len(s.List("telegram")); got != 1 {
		t.Errorf("duplicate add produced %d entries, want 1", got)
	}
}
