package store

import "time"

// PairingRequest is one outstanding or resolved pairing code, issued when an
// unrecognized sender first reaches an admission-gated DM lane.
type PairingRequest struct {
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

// PairingStore tracks which (senderID, channel) pairs have completed the
// one-time pairing handshake, and the codes outstanding awaiting operator
// approval via the CLI.
type PairingStore interface {
	// IsPaired reports whether senderID has an approved pairing on channel.
	IsPaired(senderID, channel string) bool

	// RequestPairing issues (or re-returns, if already pending) a pairing
	// code for senderID on channel/chatID, scoped to agentID. Returns an
	// error if senderID is already paired.
	RequestPairing(senderID, channel, chatID, agentID string) (code string, err error)

	// Approve marks the pairing request identified by code as approved.
	Approve(code string) error

	// List returns all known pairing requests, pending and resolved.
	List() []PairingRequest
}
