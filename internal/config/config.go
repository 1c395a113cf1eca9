package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the GoClaw Gateway.
type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Messages  MessagesConfig  `json:"messages,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Bindings  []AgentBinding  `json:"bindings,omitempty"`
	mu        sync.RWMutex
}

// DefaultAgentID is the agent every conversation routes to unless a
// binding or per-agent config says otherwise.
const DefaultAgentID = "default"

// NormalizeAgentID maps an empty id to the default agent.
func NormalizeAgentID(id string) string {
	if id == "" {
		return DefaultAgentID
	}
	return id
}

// DatabaseConfig configures Postgres for managed mode.
// PostgresDSN is NEVER read from config.json (secret) — only from env GOCLAW_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`              // from env GOCLAW_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
}

// IsManagedMode returns true if the gateway is running in managed (Postgres-backed) mode.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// AgentBinding maps a channel/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages this binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`             // "telegram", "discord", etc.
	AccountID string       `json:"accountId,omitempty"` // bot account ID
	Peer      *BindingPeer `json:"peer,omitempty"`      // specific DM/group
	GuildID   string       `json:"guildId,omitempty"`   // Discord guild
}

// BindingPeer specifies a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default settings for all agents. The gateway itself
// only consumes Workspace (media staging anchored under it); the rest of
// an agent's runtime configuration lives with the agent runtime.
type AgentDefaults struct {
	Workspace string `json:"workspace"`
}

// AgentSpec is the per-agent configuration override.
// All fields optional — zero values mean "inherit from defaults".
type AgentSpec struct {
	DisplayName string `json:"displayName,omitempty"`
	Workspace   string `json:"workspace,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// MessagesConfig tunes the inbound debouncer and the reply dispatcher's
// text handling, per channel where it matters.
type MessagesConfig struct {
	// DebounceMs merges rapid consecutive messages from the same sender
	// on the same lane into one turn. 0 disables coalescing.
	DebounceMs int `json:"debounce_ms,omitempty"`

	// FlushIntervalMs is how long the dispatcher buffers streamed text
	// blocks before flushing a partial reply (default 2000).
	FlushIntervalMs int `json:"flush_interval_ms,omitempty"`

	// ChunkMode selects the text splitting strategy per channel:
	// "markdown" (default — fence/paragraph aware) or "length".
	ChunkMode map[string]string `json:"chunk_mode,omitempty"`

	// MarkdownTableMode selects per-channel table handling on flush:
	// "code" (wrap in fences), "plain" (strip), "preserve" (default).
	MarkdownTableMode map[string]string `json:"markdown_table_mode,omitempty"`

	// ChunkLimit overrides the per-channel outbound character limit.
	ChunkLimit map[string]int `json:"chunk_limit,omitempty"`

	// MediaMaxMB caps outbound media size per channel (default 5).
	MediaMaxMB map[string]int `json:"media_max_mb,omitempty"`
}

// SchedulerConfig tunes the conversation scheduler.
type SchedulerConfig struct {
	// MaxConcurrent caps turns running across all lanes
	// (default: logical CPUs × 2).
	MaxConcurrent int `json:"max_concurrent,omitempty"`

	// StuckThresholdSec is how long a turn may run before the lane is
	// reported stuck (default 600).
	StuckThresholdSec int `json:"stuck_threshold_sec,omitempty"`

	// StuckGraceSec is how long after the stuck report the turn gets
	// before it is force-cancelled (default 60, 0 = never force-cancel).
	StuckGraceSec int `json:"stuck_grace_sec,omitempty"`

	// LaneIdleSec is how long a lane with no queued or active work is
	// kept before being destroyed (default 300).
	LaneIdleSec int `json:"lane_idle_sec,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export of diagnostic events.
// When enabled, diagnostics-bus events are exported to an OTLP-compatible
// backend (Jaeger, Tempo, Datadog, etc.).
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // skip TLS verification (set true for local dev)
	ServiceName string            `json:"service_name,omitempty"` // OTEL service name (default "goclaw-gateway")
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
// Used by the config watcher on hot reload.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Messages = src.Messages
	c.Scheduler = src.Scheduler
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Bindings = src.Bindings
}
