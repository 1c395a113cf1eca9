package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goclaw/gateway/internal/channels"
)

// --- Sender name resolution ---

func (c *Channel) resolveSenderName(ctx context.Context, openID string) string {
	if openID == "" {
		return ""
	}

	// Check cache
	if entry, ok := c.senderCache.Load(openID); ok {
		e := entry.(*senderCacheEntry)
		if time.Now().Before(e.expiresAt) {
			return e.name
		}
		c.senderCache.Delete(openID)
	}

	// Fetch from API
	name := c.fetchSenderName(ctx, openID)
	if name != "" {
		c.senderCache.Store(openID, &senderCacheEntry{
			name:      name,
			expiresAt: time.Now().Add(senderCacheTTL),
		})
	}
	return name
}

func (c *Channel) fetchSenderName(ctx context.Context, openID string) string {
	name, err := c.client.GetUser(ctx, openID, "open_id")
	if err != nil {
		slog.Debug("feishu fetch sender name failed", "open_id", openID, "error", err)
		return ""
	}
	return name
}

// --- Policy checks ---

// checkGroupPolicy runs the shared group gate. The configured group
// allowlist and the per-sender allowlist both count, matching how
// operators have historically listed either chat ids or sender open_ids.
func (c *Channel) checkGroupPolicy(senderID, chatID string) bool {
	result := c.Admission().CheckPolicy(channels.AdmissionRequest{
		Channel:        c.Name(),
		ChatID:         chatID,
		ChatType:       channels.ChatGroup,
		SenderID:       senderID,
		GroupPolicy:    channels.GroupPolicy(c.cfg.GroupPolicy),
		GroupAllowFrom: c.cfg.GroupAllowFrom,
	})
	if result.Admitted() {
		return true
	}
	// Legacy shape: a sender named in allow_from may speak in any group.
	if channels.GroupPolicy(c.cfg.GroupPolicy) == channels.GroupPolicyAllowlist && c.HasAllowList() && c.IsAllowed(senderID) {
		return true
	}
	slog.Debug("feishu group message rejected by policy", "chat_id", chatID, "sender_id", senderID, "reason", result.Reason)
	return false
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
		DMPolicy:  channels.DMPolicy(c.cfg.DMPolicy),
		AllowFrom: c.cfg.AllowFrom,
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
		slog.Debug("feishu DM rejected", "sender_id", senderID, "reason", result.Reason)
		return false
	}
}

// sendPairingReply delivers a freshly issued pairing code to the user.
func (c *Channel) sendPairingReply(senderID, chatID, code string) {
	replyText := fmt.Sprintf(
		"GoClaw: access not configured.\n\nYour Feishu open_id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  goclaw pairing approve %s",
		senderID, code, code,
	)

	receiveIDType := resolveReceiveIDType(chatID)
	if err := c.sendText(context.Background(), chatID, receiveIDType, replyText); err != nil {
		slog.Warn("failed to send feishu pairing reply", "error", err)
	} else {
		slog.Info("feishu pairing reply sent", "sender_id", senderID, "code", code)
	}
}
