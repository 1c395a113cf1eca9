// Package channels provides the channel abstraction layer for multi-platform messaging.
// Channels connect external platforms (Telegram, Discord, Slack, etc.) to the agent runtime
// via the message bus.
//
// Adapted from PicoClaw's pkg/channels with GoClaw-specific additions:
// - DM/Group policies (pairing, allowlist, open, disabled)
// - Mention gating for group chats
// - Rich MsgContext metadata
package channels

import (
	"context"
	"log/slog"
	"strings"

	"github.com/goclaw/gateway/internal/bus"
)

// InternalChannels are system channels excluded from outbound dispatch.
var InternalChannels = map[string]bool{
	"cli":      true,
	"system":   true,
	"subagent": true,
}

// IsInternalChannel checks if a channel name is internal.
func IsInternalChannel(name string) bool {
	return InternalChannels[name]
}

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"   // Require pairing code
	DMPolicyAllowlist DMPolicy = "allowlist"  // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"       // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"   // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist"  // Only whitelisted groups
	GroupPolicyDisabled  GroupPolicy = "disabled"   // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord", "slack").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	events    *bus.EventBus
	admission *Admission
	running   bool
	allowList []string
	agentID   string // for DB instances: routes to specific agent (empty = use resolveAgentRoute)
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       msgBus,
		allowList: allowList,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// SetName overrides the channel name.
func (c *BaseChannel) SetName(name string) { c.name = name }

// AgentID returns the explicit agent ID for this channel (empty = use resolveAgentRoute).
func (c *BaseChannel) AgentID() string { return c.agentID }

// SetAgentID sets the explicit agent ID for routing.
func (c *BaseChannel) SetAgentID(id string) { c.agentID = id }

// ValidatePolicy logs a warning if dmPolicy or groupPolicy isn't one of the
// recognized values, so a typo in config.json surfaces at startup instead of
// silently falling through CheckPolicy's defaults ("pairing" for DMs,
// "open" for groups).
func (c *BaseChannel) ValidatePolicy(dmPolicy, groupPolicy string) {
	switch DMPolicy(dmPolicy) {
	case "", DMPolicyPairing, DMPolicyAllowlist, DMPolicyOpen, DMPolicyDisabled:
	default:
		slog.Warn("unrecognized dm_policy, falling back to pairing", "channel", c.name, "dm_policy", dmPolicy)
	}
	switch GroupPolicy(groupPolicy) {
	case "", GroupPolicyOpen, GroupPolicyAllowlist, GroupPolicyDisabled:
	default:
		slog.Warn("unrecognized group_policy, falling back to open", "channel", c.name, "group_policy", groupPolicy)
	}
}

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running = running }

// Bus returns the message bus reference.
func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

// SetEventBus attaches the diagnostics bus. Optional; EmitDiagnostic is a
// no-op without it.
func (c *BaseChannel) SetEventBus(events *bus.EventBus) { c.events = events }

// SetAdmission attaches the shared policy/pairing gate. Adapters install
// a pairing-store-only gate at construction; the gateway replaces it with
// the fully wired instance (persisted allowlists included) at startup.
func (c *BaseChannel) SetAdmission(gate *Admission) { c.admission = gate }

// Admission returns the channel's policy/pairing gate, never nil.
func (c *BaseChannel) Admission() *Admission {
	if c.admission == nil {
		c.admission = NewAdmission(nil, nil, nil)
	}
	return c.admission
}

// EmitDiagnostic publishes a diagnostic event, if a bus is attached.
func (c *BaseChannel) EmitDiagnostic(event bus.DiagnosticEvent) {
	if c.events != nil {
		c.events.Emit(event)
	}
}

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// AllowFrom returns the configured allowlist, for building admission
// requests.
func (c *BaseChannel) AllowFrom() []string { return c.allowList }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	return AllowListContains(c.allowList, senderID)
}

// AllowListContains reports whether senderID matches an entry in list,
// with compound "id|username" matching on either side and leading "@"
// stripped from entries. An empty list matches nothing — callers decide
// what "no allowlist configured" means for them.
func AllowListContains(list []string, senderID string) bool {
	// Extract parts from compound senderID like "123456|username"
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range list {
		// Strip leading "@" from allowed value for username matching
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		// Support either side using "id|username" compound form.
		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}

// HandleMessage creates an InboundMessage and publishes it to the bus.
// This is the standard way for channels to forward received messages.
// peerKind should be "direct" or "group" (see sessions.PeerDirect, sessions.PeerGroup).
func (c *BaseChannel) HandleMessage(senderID, chatID, content string, media []string, metadata map[string]string, peerKind string) {
	if !c.IsAllowed(senderID) {
		return
	}

	// Derive userID from senderID: strip "|username" suffix if present (Telegram format).
	// For most channels, senderID == userID (platform user ID).
	userID := senderID
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		userID = senderID[:idx]
	}

	msg := bus.InboundMessage{
		Channel:  c.name,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  content,
		Media:    media,
		PeerKind: peerKind,
		UserID:   userID,
		Metadata: metadata,
		AgentID:  c.agentID,
	}

	c.bus.PublishInbound(msg)
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
