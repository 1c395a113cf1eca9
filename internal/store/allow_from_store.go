package store

// AllowFromScope distinguishes a direct-message allowlist entry from a
// group allowlist entry; the same peer id can appear in both scopes with
// different meaning (e.g. a user allowed to DM but not named in any
// group's allowlist).
type AllowFromScope string

const (
	AllowFromDM    AllowFromScope = "dm"
	AllowFromGroup AllowFromScope = "group"
)

// AllowFromStore is the per-channel persisted set of authorized peer
// identifiers. It is consulted alongside (unioned with) the configuration
// file's static allowlists at admission time, so an operator can approve a
// new sender at runtime without restarting the gateway.
type AllowFromStore interface {
	// IsAllowed reports whether peerID is persisted as allowed for channel
	// in the given scope.
	IsAllowed(channel string, scope AllowFromScope, peerID string) bool

	// Add persists peerID as allowed for channel in the given scope,
	// scoped to agentID. addedBy records who approved it (operator id or
	// "pairing" for pairing-flow auto-adds).
	Add(channel string, scope AllowFromScope, peerID, agentID, addedBy string) error

	// Remove revokes a previously persisted allow entry. No-op if absent.
	Remove(channel string, scope AllowFromScope, peerID string) error

	// List returns all persisted entries for channel (all scopes), or all
	// channels if channel is empty.
	List(channel string) []AllowFromEntry
}

// AllowFromEntry is one persisted allowlist entry.
type AllowFromEntry struct {
	Channel string         `json:"channel"`
	Scope   AllowFromScope `json:"scope"`
	PeerID  string         `json:"peerId"`
	AgentID string         `json:"agentId"`
	AddedBy string         `json:"addedBy,omitempty"`
}
