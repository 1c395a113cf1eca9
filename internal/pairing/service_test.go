package pairing

import (
	"path/filepath"
	"testing"
	"time"
)

// TestService_RequestThenApprove verifies the Unknown → PendingCode →
// Allowed state machine end to end.
func TestService_RequestThenApprove(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))

	if svc.IsPaired("u1", "telegram") {
		t.Fatal("sender should not be paired before requesting")
	}

	code, err := svc.RequestPairing("u1", "telegram", "chat1", "default")
	if err != nil {
		t.Fatalf("RequestPairing returned error: %v", err)
	}
	if len(code) == 0 {
		t.Fatal("expected a non-empty code")
	}
	if svc.IsPaired("u1", "telegram") {
		t.Fatal("sender should not be paired until code is approved")
	}

	if err := svc.Approve(code); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if !svc.IsPaired("u1", "telegram") {
		t.Fatal("sender should be paired after approval")
	}
}

// TestService_Approve_Idempotent verifies approving the same code twice
// leaves the store in the same state as approving it once.
func TestService_Approve_Idempotent(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))

	code, err := svc.RequestPairing("u1", "telegram", "chat1", "default")
	if err != nil {
		t.Fatalf("RequestPairing returned error: %v", err)
	}
	if err := svc.Approve(code); err != nil {
		t.Fatalf("first Approve returned error: %v", err)
	}
	if err := svc.Approve(code); err != nil {
		t.Fatalf("second Approve should be a no-op, got error: %v", err)
	}
	if !svc.IsPaired("u1", "telegram") {
		t.Fatal("sender should remain paired")
	}
	if got := len(svc.List()); got != 1 {
		t.Fatalf("List returned %d records after double approve, want 1", got)
	}
}

// TestService_RequestPairing_AlreadyPaired verifies requesting a new code
// for an already-paired sender is rejected.
func TestService_RequestPairing_AlreadyPaired(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))

	code, _ := svc.RequestPairing("u1", "discord", "chat1", "default")
	svc.Approve(code)

	if _, err := svc.RequestPairing("u1", "discord", "chat1", "default"); err != ErrAlreadyPaired {
		t.Fatalf("got error %v, want ErrAlreadyPaired", err)
	}
}

// TestService_RequestPairing_ReturnsExistingPendingCode verifies a second
// request from the same unpaired sender re-returns the still-valid code
// rather than minting a new one.
func TestService_RequestPairing_ReturnsExistingPendingCode(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))

	code1, _ := svc.RequestPairing("u1", "zalo", "chat1", "default")
	code2, _ := svc.RequestPairing("u1", "zalo", "chat1", "default")

	if code1 != code2 {
		t.Fatalf("got different codes %q, %q for repeated requests", code1, code2)
	}
}

// TestService_Approve_UnknownCode verifies Approve rejects a code that was
// never issued.
func TestService_Approve_UnknownCode(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))

	if err := svc.Approve("NOSUCHCODE"); err != ErrCodeNotFound {
		t.Fatalf("got error %v, want ErrCodeNotFound", err)
	}
}

// TestService_Approve_ExpiredCode verifies an expired pending code can no
// longer be approved.
func TestService_Approve_ExpiredCode(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))
	svc.SetCodeTTL(10 * time.Millisecond)

	code, _ := svc.RequestPairing("u1", "feishu", "chat1", "default")
	time.Sleep(30 * time.Millisecond)

	if err := svc.Approve(code); err != ErrCodeNotFound {
		t.Fatalf("got error %v, want ErrCodeNotFound for expired code", err)
	}
}

// TestService_PersistsAcrossInstances verifies approved pairings survive a
// reload from disk.
func TestService_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.json")

	svc1 := NewService(path)
	code, _ := svc1.RequestPairing("u1", "whatsapp", "chat1", "default")
	svc1.Approve(code)

	svc2 := NewService(path)
	if !svc2.IsPaired("u1", "whatsapp") {
		t.Fatal("expected pairing to survive reload from disk")
	}
}

// TestService_List_ReturnsAllRequests verifies List surfaces both pending
// and approved requests.
func TestService_List_ReturnsAllRequests(t *testing.T) {
	svc := NewService(filepath.Join(t.TempDir(), "pairing.json"))

	svc.RequestPairing("u1", "telegram", "chat1", "default")
	code2, _ := svc.RequestPairing("u2", "telegram", "chat2", "default")
	svc.Approve(code2)

	records := svc.List()
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	var approvedCount int
	for _, r := range records {
		if r.Approved {
			approvedCount++
		}
	}
	if approvedCount != 1 {
		t.Fatalf("got %d approved records, want 1", approvedCount)
	}
}
