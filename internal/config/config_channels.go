package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Discord      DiscordConfig      `json:"discord"`
	WhatsApp     WhatsAppConfig     `json:"whatsapp"`
	Zalo         ZaloConfig         `json:"zalo"`
	ZaloPersonal ZaloPersonalConfig `json:"zalo_personal"`
	Feishu       FeishuConfig       `json:"feishu"`
}

type TelegramConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	Proxy          string              `json:"proxy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupAllowFrom FlexibleStringSlice `json:"group_allow_from,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in groups (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // max pending group messages for context (0 = default 20)
	StreamMode     string              `json:"stream_mode,omitempty"`     // "none" (default); only "partial" turns streaming on
	ReactionLevel  string              `json:"reaction_level,omitempty"`  // "full" (default), "minimal", "off"; not read by the Telegram adapter
	Reactions      *bool               `json:"reactions,omitempty"`       // gate agent-requested reactions (default true)
	MediaMaxBytes  int64               `json:"media_max_bytes,omitempty"` // max media download size in bytes (default 20MB)
	LinkPreview    *bool               `json:"link_preview,omitempty"`    // enable URL previews in messages (default true)
	VoiceAgentID   string              `json:"voice_agent_id,omitempty"`  // route voice and audio messages to a dedicated agent
}

type DiscordConfig struct {
	Enabled        bool                `json:"enabled"`
	Token          string              `json:"token"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "open" (default), "allowlist", "disabled"
	GroupAllowFrom FlexibleStringSlice `json:"group_allow_from,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot mention in guild channels (default true)
	Reactions      *bool               `json:"reactions,omitempty"`       // gate agent-requested reactions (default true)
	HistoryLimit   int                 `json:"history_limit,omitempty"`   // max pending group messages for context (0 = default 20)
}

type WhatsAppConfig struct {
	Enabled        bool                `json:"enabled"`
	BridgeURL      string              `json:"bridge_url"`
	AllowFrom      FlexibleStringSlice `json:"allow_from"`
	DMPolicy       string              `json:"dm_policy,omitempty"`    // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	GroupAllowFrom FlexibleStringSlice `json:"group_allow_from,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	Reactions      *bool               `json:"reactions,omitempty"` // gate agent-requested reactions (default true)
	SelfChat       bool                `json:"self_chat,omitempty"` // owner messaging their own number is a conversation, not an echo
}

type ZaloConfig struct {
	Enabled       bool                `json:"enabled"`
	Token         string              `json:"token"`
	AllowFrom     FlexibleStringSlice `json:"allow_from"`
	DMPolicy      string              `json:"dm_policy,omitempty"` // "pairing" (default), "allowlist", "open", "disabled"
	WebhookURL    string              `json:"webhook_url,omitempty"`
	WebhookSecret string              `json:"webhook_secret,omitempty"`
	MediaMaxMB    int                 `json:"media_max_mb,omitempty"` // default 5
}

// ZaloPersonalConfig configures the Zalo personal-account channel, which
// authenticates with saved browser credentials rather than an OA token.
type ZaloPersonalConfig struct {
	Enabled         bool                `json:"enabled"`
	CredentialsPath string              `json:"credentials_path,omitempty"` // default zca-credentials.json in $GOCLAW_DATA_DIR or ~/.goclaw/data
	AllowFrom       FlexibleStringSlice `json:"allow_from"`
	DMPolicy        string              `json:"dm_policy,omitempty"`    // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy     string              `json:"group_policy,omitempty"` // "open" (default), "allowlist", "disabled"
	GroupAllowFrom  FlexibleStringSlice `json:"group_allow_from,omitempty"`
	RequireMention  *bool               `json:"require_mention,omitempty"`
	SelfListen      bool                `json:"self_listen,omitempty"` // passed to the central self check; the Zalo listener and adapter drop own-account messages whatever its value
}

type FeishuConfig struct {
	Enabled           bool                `json:"enabled"`
	AppID             string              `json:"app_id"`
	AppSecret         string              `json:"app_secret"`
	EncryptKey        string              `json:"encrypt_key,omitempty"`
	VerificationToken string              `json:"verification_token,omitempty"`
	Domain            string              `json:"domain,omitempty"`          // "lark" (default/global), "feishu" (China), or custom URL
	ConnectionMode    string              `json:"connection_mode,omitempty"` // "websocket" (default), "webhook"
	WebhookPort       int                 `json:"webhook_port,omitempty"`    // default 3000
	WebhookPath       string              `json:"webhook_path,omitempty"`    // default "/feishu/events"
	AllowFrom         FlexibleStringSlice `json:"allow_from"`
	DMPolicy          string              `json:"dm_policy,omitempty"`    // "pairing" (default)
	GroupPolicy       string              `json:"group_policy,omitempty"` // "open" (default)
	GroupAllowFrom    FlexibleStringSlice `json:"group_allow_from,omitempty"`
	RequireMention    *bool               `json:"require_mention,omitempty"`    // default true (groups)
	TopicSessionMode  string              `json:"topic_session_mode,omitempty"` // "disabled" (default)
	TextChunkLimit    int                 `json:"text_chunk_limit,omitempty"`   // default 4000
	MediaMaxMB        int                 `json:"media_max_mb,omitempty"`       // default 30
	RenderMode        string              `json:"render_mode,omitempty"`        // "auto", "raw", "card"
	Streaming         *bool               `json:"streaming,omitempty"`          // not read; Feishu replies are not streamed
	HistoryLimit      int                 `json:"history_limit,omitempty"`
}

// GatewayConfig controls the gateway server.
type GatewayConfig struct {
	Host              string   `json:"host"`
	Port              int      `json:"port"`
	Token             string   `json:"token,omitempty"`               // loaded from config/env; no admin HTTP surface is served, so nothing checks it
	OwnerIDs          []string `json:"owner_ids,omitempty"`           // sender IDs considered "owner"
	AllowedOrigins    []string `json:"allowed_origins,omitempty"`     // not read; no admin HTTP surface is served
	MaxMessageChars   int      `json:"max_message_chars,omitempty"`   // max inbound message characters (default 32000)
	RateLimitRPM      int      `json:"rate_limit_rpm,omitempty"`      // default 20; not read: WebhookRateLimiter uses its own fixed 30 requests per 60s
	InboundDebounceMs int      `json:"inbound_debounce_ms,omitempty"` // deprecated: use messages.debounce_ms
}

// SessionsConfig controls session key scoping and storage.
type SessionsConfig struct {
	Storage string `json:"storage"`            // directory for session files
	Scope   string `json:"scope,omitempty"`    // "per-sender" (default), "global"
	DmScope string `json:"dm_scope,omitempty"` // "main", "per-peer", "per-channel-peer" (default), "per-account-channel-peer"
	MainKey string `json:"main_key,omitempty"` // main session key suffix (default "main", used when dm_scope="main")
}
