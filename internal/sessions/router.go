package sessions

import (
	"github.com/goclaw/gateway/internal/config"
)

// Route is the outcome of resolving an inbound conversation: which agent
// handles it and under which session key its turns serialize.
type Route struct {
	AgentID    string
	SessionKey string
}

// Router maps a conversation to its agent and session key. Binding
// resolution order: peer-level binding → channel-level binding → default
// agent.
type Router struct {
	cfg *config.Config
}

// NewRouter creates a Router over the live config. Bindings are re-read on
// every resolve so config hot-reload takes effect without rewiring.
func NewRouter(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// ResolveAgent picks the agent for (channel, chatID, peerKind).
func (r *Router) ResolveAgent(channel, chatID, peerKind string) string {
	for _, binding := range r.cfg.Bindings {
		match := binding.Match
		if match.Channel != channel {
			continue
		}

		// Peer-level match (most specific)
		if match.Peer != nil {
			if match.Peer.Kind == peerKind && (match.Peer.ID == chatID || match.Peer.ID == "*") {
				return config.NormalizeAgentID(binding.AgentID)
			}
			continue // has a peer constraint but doesn't match — skip
		}

		// Channel-level match (no peer constraint)
		return config.NormalizeAgentID(binding.AgentID)
	}

	return r.cfg.ResolveDefaultAgentID()
}

// Resolve produces the full route for a conversation. explicitAgent, when
// non-empty, overrides binding resolution (a channel instance pinned to
// one agent). topicID > 0 isolates forum topics into their own lanes.
func (r *Router) Resolve(explicitAgent, channel, chatID string, kind PeerKind, topicID int) Route {
	agentID := explicitAgent
	if agentID == "" {
		agentID = r.ResolveAgent(channel, chatID, string(kind))
	}
	agentID = config.NormalizeAgentID(agentID)

	var key string
	if topicID > 0 && kind == PeerGroup {
		key = BuildGroupTopicSessionKey(agentID, channel, chatID, topicID)
	} else {
		sc := r.cfg.Sessions
		key = BuildScopedSessionKey(agentID, channel, kind, chatID, sc.Scope, sc.DmScope, sc.MainKey)
	}
	return Route{AgentID: agentID, SessionKey: key}
}
