package channels

import (
	"strings"
	"testing"
	"time"
)

func entry(sender, body string) HistoryEntry {
	return HistoryEntry{Sender: sender, Body: body, Timestamp: time.Now()}
}

func TestPendingHistory_BuildContextPrefixesRecordedMessages(t *testing.T) {
	h := NewPendingHistory()
	h.Record("g1", entry("@alice", "what time is the standup?"), 10)
	h.Record("g1", entry("@bob", "9:30 I think"), 10)

	got := h.BuildContext("g1", "[From: @carol]\n@bot can you confirm?", 10)

	if !strings.HasPrefix(got, "[Recent context]") {
		t.Errorf("context header missing:\n%s", got)
	}
	aliceIdx := strings.Index(got, "@alice")
	bobIdx := strings.Index(got, "@bob")
	trigIdx := strings.Index(got, "@carol")
	if aliceIdx < 0 || bobIdx < 0 || trigIdx < 0 || !(aliceIdx < bobIdx && bobIdx < trigIdx) {
		t.Errorf("history order wrong:\n%s", got)
	}
}

func TestPendingHistory_EmptyBufferPassesThrough(t *testing.T) {
	h := NewPendingHistory()
	if got := h.BuildContext("g1", "hello", 10); got != "hello" {
		t.Errorf("got %q, want triggering message unchanged", got)
	}
}

func TestPendingHistory_LimitDropsOldest(t *testing.T) {
	h := NewPendingHistory()
	for _, body := range []string{"one", "two", "three", "four"} {
		h.Record("g1", entry("@u", body), 2)
	}

	got := h.BuildContext("g1", "trigger", 2)
	if strings.Contains(got, "one") || strings.Contains(got, "two") {
		t.Errorf("overflowed entries should be dropped:\n%s", got)
	}
	if !strings.Contains(got, "three") || !strings.Contains(got, "four") {
		t.Errorf("latest entries should survive:\n%s", got)
	}
}

func TestPendingHistory_ClearDropsBuffer(t *testing.T) {
	h := NewPendingHistory()
	h.Record("g1", entry("@u", "stale"), 10)
	h.Clear("g1")
	if got := h.BuildContext("g1", "fresh", 10); got != "fresh" {
		t.Errorf("cleared history leaked into context:\n%s", got)
	}
}
