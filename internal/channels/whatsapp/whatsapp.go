package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/channels"
	"github.com/goclaw/gateway/internal/config"
	"github.com/goclaw/gateway/internal/store"
)

// Channel connects to a WhatsApp bridge via WebSocket.
// The bridge (e.g. whatsapp-web.js based) handles the actual WhatsApp
// protocol; this channel just sends/receives JSON messages over WS.
type Channel struct {
	*channels.BaseChannel
	conn            *websocket.Conn
	config          config.WhatsAppConfig
	mu              sync.Mutex
	connected       bool
	connectedAtMs   int64
	ctx             context.Context
	cancel          context.CancelFunc
	breaker         *channels.CircuitBreaker
}

// New creates a new WhatsApp channel from config.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus, pairingSvc store.PairingStore) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}

	base := channels.NewBaseChannel("whatsapp", msgBus, cfg.AllowFrom)
	base.SetAdmission(channels.NewAdmission(nil, pairingSvc, nil))

	c := &Channel{
		BaseChannel: base,
		config:      cfg,
	}
	c.breaker = channels.NewCircuitBreaker(channels.DefaultCircuitThreshold, channels.DefaultCircuitCooldown,
		func(from, to channels.CircuitState) {
			slog.Info("whatsapp bridge circuit breaker", "from", from, "to", to)
			c.EmitDiagnostic(bus.DiagnosticEvent{
				Kind:    "relay.circuit_breaker." + string(to),
				Payload: map[string]string{"channel": "whatsapp", "from": string(from)},
			})
		})
	return c, nil
}

// Start connects to the WhatsApp bridge WebSocket and begins listening.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting whatsapp channel", "bridge_url", c.config.BridgeURL)

	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		// Don't fail hard — reconnect loop will keep trying
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go c.listenLoop()

	c.SetRunning(true)
	return nil
}

// Stop gracefully shuts down the WhatsApp channel.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping whatsapp channel")

	if c.cancel != nil {
		c.cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.SetRunning(false)

	return nil
}

// Send delivers an outbound message to the WhatsApp bridge.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}

	payload := map[string]interface{}{
		"type":    "message",
		"to":      msg.ChatID,
		"content": msg.Content,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}

	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.connectedAtMs = time.Now().UnixMilli()
	c.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads messages from the bridge with automatic reconnection.
func (c *Channel) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			// Not connected — attempt reconnect with backoff
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if !c.breaker.Allow() {
				continue
			}

			if err := c.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				c.breaker.Failure()
				backoff = min(backoff*2, 60*time.Second)
				continue
			}

			c.breaker.Success()
			backoff = time.Second // reset on success
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()

			continue
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			slog.Warn("invalid whatsapp message JSON", "error", err)
			continue
		}

		msgType, _ := msg["type"].(string)
		if msgType == "message" {
			c.handleIncomingMessage(msg)
		}
	}
}

// handleIncomingMessage processes a message received from the bridge.
// Expected format: {"type":"message","from":"...","chat":"...","content":"...","id":"...","from_name":"...","media":[...]}
func (c *Channel) handleIncomingMessage(msg map[string]interface{}) {
	senderID, ok := msg["from"].(string)
	if !ok || senderID == "" {
		return
	}

	// Echoes of our own sends come back from the bridge; drop them unless
	// the account is configured as a self-chat.
	fromMe, _ := msg["from_me"].(bool)
	if fromMe && !c.config.SelfChat {
		return
	}

	chatID, _ := msg["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}

	// WhatsApp groups have chatID ending in "@g.us"
	peerKind := "direct"
	if strings.HasSuffix(chatID, "@g.us") {
		peerKind = "group"
	}

	// DM/Group policy check
	if peerKind == "direct" {
		if !c.checkDMPolicy(senderID, chatID) {
			return
		}
	} else {
		result := c.Admission().CheckPolicy(channels.AdmissionRequest{
			Channel:        c.Name(),
			ChatID:         chatID,
			ChatType:       channels.ChatGroup,
			SenderID:       senderID,
			GroupPolicy:    channels.GroupPolicy(c.config.GroupPolicy),
			GroupAllowFrom: c.config.GroupAllowFrom,
		})
		if !result.Admitted() {
			slog.Debug("whatsapp group message rejected by policy", "sender_id", senderID, "reason", result.Reason)
			return
		}
	}

	// Allowlist check
	if !c.IsAllowed(senderID) {
		slog.Debug("whatsapp message rejected by allowlist", "sender_id", senderID)
		return
	}

	content, _ := msg["content"].(string)
	if content == "" {
		content = "[empty message]"
	}

	var media []string
	if mediaData, ok := msg["media"].([]interface{}); ok {
		media = make([]string, 0, len(mediaData))
		for _, m := range mediaData {
			if path, ok := m.(string); ok {
				media = append(media, path)
			}
		}
	}

	metadata := make(map[string]string)
	if messageID, ok := msg["id"].(string); ok {
		metadata["message_id"] = messageID
	}
	if userName, ok := msg["from_name"].(string); ok {
		metadata["user_name"] = userName
	}
	if fromMe {
		metadata["self_message"] = "true"
	}

	// The bridge replays backlog on reconnect; stamp both timestamps so
	// admission can tell history apart from live traffic.
	if ts, ok := msg["timestamp"].(float64); ok && ts > 0 {
		sentMs := int64(ts)
		if sentMs < 1e12 { // seconds, not milliseconds
			sentMs *= 1000
		}
		metadata["provider_sent_at_ms"] = fmt.Sprintf("%d", sentMs)
	}
	c.mu.Lock()
	connectedAt := c.connectedAtMs
	c.mu.Unlock()
	if connectedAt > 0 {
		metadata["connected_at_ms"] = fmt.Sprintf("%d", connectedAt)
	}

	slog.Debug("whatsapp message received",
		"sender_id", senderID,
		"chat_id", chatID,
		"preview", channels.Truncate(content, 50),
	)

	c.HandleMessage(senderID, chatID, content, media, metadata, peerKind)
}

// checkDMPolicy runs the shared DM gate, delivering the pairing code on a
// fresh request. Messages while a request is pending stay silent — the
// gate hands out a code at most once per open request.
func (c *Channel) checkDMPolicy(senderID, chatID string) bool {
	result := c.Admission().CheckPolicy(channels.AdmissionRequest{
		Channel:   c.Name(),
		AgentID:   c.AgentID(),
		ChatID:    chatID,
		ChatType:  channels.ChatDirect,
		SenderID:  senderID,
		DMPolicy:  channels.DMPolicy(c.config.DMPolicy),
		AllowFrom: c.config.AllowFrom,
	})

	switch result.Outcome {
	case channels.Admitted:
		return true
	case channels.PairingPending:
		if result.PairingCode != "" {
			c.sendPairingReply(senderID, chatID, result.PairingCode)
		}
		return false
	default:
		slog.Debug("whatsapp DM rejected", "sender_id", senderID, "reason", result.Reason)
		return false
	}
}

// sendPairingReply delivers a freshly issued pairing code via the WS bridge.
func (c *Channel) sendPairingReply(senderID, chatID, code string) {
	replyText := fmt.Sprintf(
		"GoClaw: access not configured.\n\nYour WhatsApp ID: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  goclaw pairing approve %s",
		senderID, code, code,
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		slog.Warn("whatsapp bridge not connected, cannot send pairing reply")
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"type":    "message",
		"to":      chatID,
		"content": replyText,
	})

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		slog.Warn("failed to send whatsapp pairing reply", "error", err)
	} else {
		slog.Info("whatsapp pairing reply sent", "sender_id", senderID, "code", code)
	}
}
