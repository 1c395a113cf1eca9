package personal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goclaw/gateway/internal/channels"
	"github.com/goclaw/gateway/internal/channels/zalo/personal/protocol"
)

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
		slog.Debug("zca DM rejected", "sender_id", senderID, "reason", result.Reason)
		return false
	}
}

// sendPairingReply delivers a freshly issued pairing code to the user.
func (c *Channel) sendPairingReply(senderID, chatID, code string) {
	if c.sess == nil {
		return
	}

	replyText := fmt.Sprintf(
		"GoClaw: access not configured.\n\nYour Zalo user id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  goclaw pairing approve %s",
		senderID, code, code,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := protocol.SendMessage(ctx, c.sess, chatID, protocol.ThreadTypeUser, replyText); err != nil {
		slog.Warn("zca: failed to send pairing reply", "error", err)
	} else {
		slog.Info("zca pairing reply sent", "sender_id", senderID, "code", code)
	}
}

// checkGroupPolicy runs the shared group gate, then the adapter's own
// @mention gating (mention arrays are wire-format specific, so they stay
// here).
func (c *Channel) checkGroupPolicy(senderID, groupID string, mentions []*protocol.TMention) bool {
	result := c.Admission().CheckPolicy(channels.AdmissionRequest{
		Channel:        c.Name(),
		ChatID:         groupID,
		ChatType:       channels.ChatGroup,
		SenderID:       senderID,
		GroupPolicy:    channels.GroupPolicy(c.config.GroupPolicy),
		GroupAllowFrom: c.config.GroupAllowFrom,
	})
	if !result.Admitted() {
		slog.Debug("zca group message rejected by policy",
			"group_id", groupID,
			"sender_id", senderID,
			"reason", result.Reason,
		)
		return false
	}

	// @mention gating: only process group messages that @mention the bot.
	if c.requireMention {
		if !isBotMentioned(c.sess.UID, mentions) {
			slog.Debug("zca group message skipped: not mentioned",
				"group_id", groupID,
				"sender_id", senderID,
			)
			return false
		}
	}

	return true
}

// isBotMentioned checks if the bot's UID is @mentioned in the message.
// Filters out @all mentions (Type=1, UID="-1") — only targeted @bot counts.
func isBotMentioned(botUID string, mentions []*protocol.TMention) bool {
	if botUID == "" {
		return false
	}

	for _, m := range mentions {
		if m == nil {
			continue
		}
		if m.Type == protocol.MentionAll || m.UID == protocol.MentionAllUID {
			continue
		}
		if m.UID == botUID {
			return true
		}
	}
	return false
}
