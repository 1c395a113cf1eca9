package channels

import (
	"fmt"
	"time"

	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/store"
)

// HistoricalGraceWindow is how far back (relative to a channel's connect
// time) a provider-reported send timestamp may sit before the message is
// treated as startup backlog rather than a live event, fixed across every
// channel rather than left as a per-adapter knob.
const HistoricalGraceWindow = 30 * time.Second

// AdmissionOutcome is the terminal decision the Admission Controller
// reaches for one inbound envelope.
type AdmissionOutcome string

const (
	Admitted           AdmissionOutcome = "admitted"
	DuplicateDropped   AdmissionOutcome = "duplicate"
	HistoricalSkipped  AdmissionOutcome = "historical"
	SelfDropped        AdmissionOutcome = "self"
	PolicyDenied       AdmissionOutcome = "policy_denied"
	PairingPending     AdmissionOutcome = "pairing_pending"
)

// AdmissionRequest carries everything the admission pipeline needs to
// evaluate one inbound message, independent of which transport produced
// it. Adapters populate this from their own wire types and hand it to
// Admit; adapter-specific concerns (wire parsing, mention syntax) never
// leak into the pipeline itself.
type AdmissionRequest struct {
	Channel   string
	AgentID   string
	AccountID string // bot/session identity on this channel, for dedupe scoping
	ChatID    string
	ChatType  ChatKind
	SenderID  string
	MessageID string

	// SelfMessage is true when the sender is the bot's own account (echo
	// of its own sends, common on bridges like WhatsApp/Zalo).
	SelfMessage bool

	// ProviderSentAtMs is the platform's own timestamp for when the
	// message was sent, used for historical-backlog suppression.
	ProviderSentAtMs int64
	// ConnectedAtMs is when this channel instance finished connecting.
	ConnectedAtMs int64

	DMPolicy      DMPolicy
	GroupPolicy   GroupPolicy
	RequireMention bool
	MentionsBot    bool

	// AllowFrom/GroupAllowFrom are the configuration file's static
	// allowlists, unioned with the persisted AllowFromStore at check time.
	AllowFrom      []string
	GroupAllowFrom []string
}

// ChatKind distinguishes a direct conversation from a group/channel one.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// AdmissionResult is the pipeline's verdict plus whatever an adapter needs
// to render a user-facing reply (pairing code) — actually sending that
// reply is left to the adapter since reply transport is channel-specific.
type AdmissionResult struct {
	Outcome     AdmissionOutcome
	Reason      string
	PairingCode string
}

func (r AdmissionResult) Admitted() bool { return r.Outcome == Admitted }

// Admission is the shared gate every channel adapter's inbound handler
// calls through before publishing to the message bus. It runs a fixed
// pipeline: dedupe → historical suppression → self-message filter →
// group/DM policy gate. Order matters — a duplicate of a historical
// message should be dropped as a duplicate, not re-evaluated for policy.
type Admission struct {
	dedupe  *bus.DedupeCache
	pairing store.PairingStore
	allow   store.AllowFromStore

	graceWindow time.Duration
}

// NewAdmission creates an Admission pipeline. dedupe and pairing are
// required; allow may be nil, in which case only the configuration-file
// allowlists are consulted.
func NewAdmission(dedupe *bus.DedupeCache, pairing store.PairingStore, allow store.AllowFromStore) *Admission {
	return &Admission{
		dedupe:      dedupe,
		pairing:     pairing,
		allow:       allow,
		graceWindow: HistoricalGraceWindow,
	}
}

// Admit runs the fixed pipeline against req.
func (a *Admission) Admit(req AdmissionRequest) AdmissionResult {
	if a.dedupe != nil && req.MessageID != "" {
		if a.dedupe.SeenOrMark(req.AccountID, req.ChatID, req.MessageID) {
			return AdmissionResult{Outcome: DuplicateDropped, Reason: "duplicate message id"}
		}
	}

	if a.isHistorical(req) {
		return AdmissionResult{Outcome: HistoricalSkipped, Reason: "message predates channel connect"}
	}

	if req.SelfMessage {
		return AdmissionResult{Outcome: SelfDropped, Reason: "self-authored message"}
	}

	return a.CheckPolicy(req)
}

// CheckPolicy runs only the group/DM policy gate, including the pairing
// state machine — the tail of the Admit pipeline. Adapters call this at
// the transport edge before a message is ever published to the bus, so
// policy and pairing have exactly one implementation; Admit runs it again
// centrally behind dedupe/historical/self filtering, where it is
// idempotent (edge-admitted senders are paired or allowlisted by then).
func (a *Admission) CheckPolicy(req AdmissionRequest) AdmissionResult {
	if req.ChatType == ChatGroup {
		return a.checkGroupPolicy(req)
	}
	return a.checkDMPolicy(req)
}

func (a *Admission) isHistorical(req AdmissionRequest) bool {
	if req.ProviderSentAtMs <= 0 || req.ConnectedAtMs <= 0 {
		return false
	}
	return req.ProviderSentAtMs < req.ConnectedAtMs-a.graceWindow.Milliseconds()
}

func (a *Admission) checkDMPolicy(req AdmissionRequest) AdmissionResult {
	policy := req.DMPolicy
	if policy == "" {
		policy = DMPolicyPairing
	}

	switch policy {
	case DMPolicyDisabled:
		return AdmissionResult{Outcome: PolicyDenied, Reason: "dm policy disabled"}

	case DMPolicyOpen:
		return AdmissionResult{Outcome: Admitted}

	case DMPolicyAllowlist:
		if a.isAllowed(req.Channel, store.AllowFromDM, req.SenderID, req.AllowFrom) {
			return AdmissionResult{Outcome: Admitted}
		}
		return AdmissionResult{Outcome: PolicyDenied, Reason: "not in dm allowlist"}

	default: // DMPolicyPairing
		if a.pairing != nil && a.pairing.IsPaired(req.SenderID, req.Channel) {
			return AdmissionResult{Outcome: Admitted}
		}
		if a.isAllowed(req.Channel, store.AllowFromDM, req.SenderID, req.AllowFrom) {
			return AdmissionResult{Outcome: Admitted}
		}
		return a.issuePairing(req)
	}
}

func (a *Admission) checkGroupPolicy(req AdmissionRequest) AdmissionResult {
	policy := req.GroupPolicy
	if policy == "" {
		policy = GroupPolicyOpen
	}

	switch policy {
	case GroupPolicyDisabled:
		return AdmissionResult{Outcome: PolicyDenied, Reason: "group messages disabled"}

	case GroupPolicyAllowlist:
		if !a.isAllowed(req.Channel, store.AllowFromGroup, req.ChatID, req.GroupAllowFrom) {
			return AdmissionResult{Outcome: PolicyDenied, Reason: "group not in allowlist"}
		}
	}

	if req.RequireMention && !req.MentionsBot {
		return AdmissionResult{Outcome: PolicyDenied, Reason: "did not mention bot"}
	}

	return AdmissionResult{Outcome: Admitted}
}

// isAllowed unions the configuration file's static allowlist (with the
// same compound "id|username" matching the adapters use) and the
// persisted AllowFromStore: an operator-granted entry augments rather
// than replaces the config file.
func (a *Admission) isAllowed(channel string, scope store.AllowFromScope, id string, configured []string) bool {
	if AllowListContains(configured, id) {
		return true
	}
	if a.allow != nil && a.allow.IsAllowed(channel, scope, id) {
		return true
	}
	return false
}

func (a *Admission) issuePairing(req AdmissionRequest) AdmissionResult {
	return a.IssuePairing(req.SenderID, req.Channel, req.ChatID, req.AgentID)
}

// IssuePairing is the single decision point for pairing-code replies: a
// fresh request returns PairingPending carrying the code to deliver;
// re-arrival while an unexpired request is open returns PairingPending
// with no code, so no caller — adapter or central pipeline — ever sends
// a second reply for the same request.
func (a *Admission) IssuePairing(senderID, channel, chatID, agentID string) AdmissionResult {
	if a.pairing == nil {
		return AdmissionResult{Outcome: PolicyDenied, Reason: "pairing unavailable"}
	}
	if agentID == "" {
		agentID = "default"
	}

	now := time.Now()
	for _, r := range a.pairing.List() {
		if r.SenderID == senderID && r.Channel == channel && !r.Approved && now.Before(r.ExpiresAt) {
			return AdmissionResult{Outcome: PairingPending, Reason: "pairing already pending"}
		}
	}

	code, err := a.pairing.RequestPairing(senderID, channel, chatID, agentID)
	if err != nil {
		// Already paired (race with a concurrent approval) — re-check.
		if a.pairing.IsPaired(senderID, channel) {
			return AdmissionResult{Outcome: Admitted}
		}
		return AdmissionResult{Outcome: PolicyDenied, Reason: fmt.Sprintf("pairing request failed: %v", err)}
	}

	return AdmissionResult{Outcome: PairingPending, Reason: "pairing code issued", PairingCode: code}
}
