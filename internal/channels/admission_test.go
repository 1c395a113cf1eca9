package channels

import (
	"testing"
	"time"

	"github.com/goclaw/gateway/internal/allowfrom"
	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/pairing"
	"github.com/goclaw/gateway/internal/store/file"
)

func newTestAdmission(t *testing.T) *Admission {
	t.Helper()
	pairingSvc := pairing.NewService("")
	allowSvc := allowfrom.NewService("")
	return NewAdmission(
		bus.NewDedupeCache(time.Minute, 100),
		file.NewFilePairingStore(pairingSvc),
		file.NewFileAllowFromStore(allowSvc),
	)
}

func TestAdmission_DedupeDropsRepeatedMessageID(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "telegram", AccountID: "bot1", ChatID: "c1", SenderID: "u1",
		MessageID: "m1", DMPolicy: DMPolicyOpen,
	}

	first := a.Admit(req)
	if !first.Admitted() {
		t.Fatalf("expected first delivery admitted, got %v (%s)", first.Outcome, first.Reason)
	}

	second := a.Admit(req)
	if second.Outcome != DuplicateDropped {
		t.Fatalf("expected duplicate dropped, got %v", second.Outcome)
	}
}

func TestAdmission_HistoricalBacklogSkipped(t *testing.T) {
	a := newTestAdmission(t)
	connectedAt := time.Now().UnixMilli()
	req := AdmissionRequest{
		Channel: "discord", AccountID: "bot1", ChatID: "c1", SenderID: "u1", MessageID: "m1",
		DMPolicy:         DMPolicyOpen,
		ProviderSentAtMs: connectedAt - HistoricalGraceWindow.Milliseconds() - 1000,
		ConnectedAtMs:    connectedAt,
	}

	res := a.Admit(req)
	if res.Outcome != HistoricalSkipped {
		t.Fatalf("expected historical skip, got %v", res.Outcome)
	}
}

func TestAdmission_SelfMessageDropped(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "whatsapp", AccountID: "bot1", ChatID: "c1", SenderID: "bot1", MessageID: "m1",
		DMPolicy: DMPolicyOpen, SelfMessage: true,
	}

	res := a.Admit(req)
	if res.Outcome != SelfDropped {
		t.Fatalf("expected self-dropped, got %v", res.Outcome)
	}
}

func TestAdmission_PairingIssuedForUnknownDM(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "telegram", AccountID: "bot1", ChatID: "c1", SenderID: "stranger", MessageID: "m1",
		DMPolicy: DMPolicyPairing, AgentID: "main",
	}

	res := a.Admit(req)
	if res.Outcome != PairingPending || res.PairingCode == "" {
		t.Fatalf("expected pairing pending with a code, got %v (%q)", res.Outcome, res.PairingCode)
	}
}

func TestAdmission_PendingPairingStaysSilent(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "telegram", AccountID: "bot1", ChatID: "c1", SenderID: "stranger", MessageID: "m1",
		DMPolicy: DMPolicyPairing, AgentID: "main",
	}

	first := a.Admit(req)
	if first.Outcome != PairingPending || first.PairingCode == "" {
		t.Fatalf("setup: expected fresh code, got %v (%q)", first.Outcome, first.PairingCode)
	}

	req.MessageID = "m2"
	second := a.Admit(req)
	if second.Outcome != PairingPending {
		t.Fatalf("expected still pending, got %v", second.Outcome)
	}
	if second.PairingCode != "" {
		t.Fatalf("re-arrival while pending must not carry a code (no second reply), got %q", second.PairingCode)
	}
}

func TestAdmission_IssuePairingOneCodePerOpenRequest(t *testing.T) {
	a := newTestAdmission(t)

	first := a.IssuePairing("u7", "discord", "dm-7", "")
	if first.Outcome != PairingPending || first.PairingCode == "" {
		t.Fatalf("expected a fresh code, got %v (%q)", first.Outcome, first.PairingCode)
	}

	// Adapters retry on every inbound message; while the request is open
	// they must get no code back, so no second reply is ever sent.
	for i := 0; i < 3; i++ {
		again := a.IssuePairing("u7", "discord", "dm-7", "")
		if again.Outcome != PairingPending {
			t.Fatalf("retry %d: outcome = %v, want pending", i+1, again.Outcome)
		}
		if again.PairingCode != "" {
			t.Fatalf("retry %d returned a code (%q); reply must go out exactly once", i+1, again.PairingCode)
		}
	}
}

func TestAdmission_ApprovedPairingAdmitsFollowUp(t *testing.T) {
	pairingSvc := pairing.NewService("")
	allowSvc := allowfrom.NewService("")
	a := NewAdmission(bus.NewDedupeCache(time.Minute, 100), file.NewFilePairingStore(pairingSvc), file.NewFileAllowFromStore(allowSvc))

	first := a.Admit(AdmissionRequest{
		Channel: "telegram", AccountID: "bot1", ChatID: "c1", SenderID: "u2", MessageID: "m1",
		DMPolicy: DMPolicyPairing, AgentID: "main",
	})
	if first.Outcome != PairingPending {
		t.Fatalf("setup: expected pairing pending, got %v", first.Outcome)
	}

	if err := pairingSvc.Approve(first.PairingCode); err != nil {
		t.Fatalf("approve: %v", err)
	}

	second := a.Admit(AdmissionRequest{
		Channel: "telegram", AccountID: "bot1", ChatID: "c1", SenderID: "u2", MessageID: "m2",
		DMPolicy: DMPolicyPairing, AgentID: "main",
	})
	if !second.Admitted() {
		t.Fatalf("expected admitted after approval, got %v (%s)", second.Outcome, second.Reason)
	}
}

func TestAdmission_GroupAllowlistBlocksUnknownGroup(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "feishu", AccountID: "bot1", ChatID: "group-unknown", SenderID: "u1", MessageID: "m1",
		ChatType: ChatGroup, GroupPolicy: GroupPolicyAllowlist,
		GroupAllowFrom: []string{"group-allowed"},
	}

	res := a.Admit(req)
	if res.Outcome != PolicyDenied {
		t.Fatalf("expected policy denied for unlisted group, got %v", res.Outcome)
	}
}

func TestAdmission_GroupAllowlistPassesListedGroup(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "feishu", AccountID: "bot1", ChatID: "group-allowed", SenderID: "u1", MessageID: "m1",
		ChatType: ChatGroup, GroupPolicy: GroupPolicyAllowlist,
		GroupAllowFrom: []string{"group-allowed"},
	}

	res := a.Admit(req)
	if !res.Admitted() {
		t.Fatalf("expected admitted for listed group, got %v (%s)", res.Outcome, res.Reason)
	}
}

func TestAdmission_RequireMentionBlocksUnmentionedGroupMessage(t *testing.T) {
	a := newTestAdmission(t)
	req := AdmissionRequest{
		Channel: "discord", AccountID: "bot1", ChatID: "g1", SenderID: "u1", MessageID: "m1",
		ChatType: ChatGroup, GroupPolicy: GroupPolicyOpen, RequireMention: true, MentionsBot: false,
	}

	res := a.Admit(req)
	if res.Outcome != PolicyDenied {
		t.Fatalf("expected policy denied without mention, got %v", res.Outcome)
	}
}
