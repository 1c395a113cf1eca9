package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/channels"
)

// handleBotCommand intercepts slash commands before they reach the agent.
// Returns true when the message was fully handled here.
func (c *Channel) handleBotCommand(ctx context.Context, message *telego.Message, chatID int64, chatIDStr, localKey, text, senderID string, isGroup, isForum bool, messageThreadID int) bool {
	if !strings.HasPrefix(message.Text, "/") {
		return false
	}

	cmd := strings.TrimPrefix(strings.Fields(message.Text)[0], "/")
	// Strip the @botname suffix groups use to disambiguate.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}

	reply := func(text string) {
		params := tu.Message(tu.ID(chatID), text)
		if sendThreadID := resolveThreadIDForSend(messageThreadID); sendThreadID > 0 {
			params.MessageThreadID = sendThreadID
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			slog.Warn("telegram command reply failed", "command", cmd, "error", err)
		}
	}

	switch cmd {
	case "start":
		reply("Connected. Send a message to start chatting.")
		return true

	case "help":
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, mc := range DefaultMenuCommands() {
			fmt.Fprintf(&b, "/%s — %s\n", mc.Command, mc.Description)
		}
		reply(b.String())
		return true

	case "status":
		reply(fmt.Sprintf("Bot @%s is running.", c.bot.Username()))
		return true

	case "stop", "stopall":
		// Routed through the gateway so the scheduler can cancel the
		// session's active turn(s).
		peerKind := "direct"
		if isGroup {
			peerKind = "group"
		}
		metadata := map[string]string{
			"command":    cmd,
			"message_id": fmt.Sprintf("%d", message.MessageID),
			"local_key":  localKey,
		}
		if isForum {
			metadata["is_forum"] = "true"
			metadata["message_thread_id"] = fmt.Sprintf("%d", messageThreadID)
		}
		c.Bus().PublishInbound(bus.InboundMessage{
			Channel:  c.Name(),
			SenderID: senderID,
			ChatID:   chatIDStr,
			Content:  text,
			PeerKind: peerKind,
			AgentID:  c.AgentID(),
			Metadata: metadata,
		})
		return true
	}

	return false
}

// handleCallbackQuery acknowledges inline-keyboard taps so Telegram stops
// showing the loading spinner. The gateway attaches no inline keyboards of
// its own; this only answers stale buttons from older sessions.
func (c *Channel) handleCallbackQuery(ctx context.Context, query *telego.CallbackQuery) {
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		slog.Debug("telegram callback ack failed", "query_id", query.ID, "error", err)
	}
}

func buildPairingReply(telegramUserID, code string) string {
	return fmt.Sprintf(
		"GoClaw: access not configured.\n\nYour Telegram user id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  goclaw pairing approve %s",
		telegramUserID, code, code,
	)
}

// sendPairingReply delivers a freshly issued pairing code to the user.
func (c *Channel) sendPairingReply(ctx context.Context, chatID int64, userID, username, code string) {
	replyText := buildPairingReply(userID, code)
	msg := tu.Message(tu.ID(chatID), replyText)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		slog.Warn("failed to send pairing reply", "chat_id", chatID, "error", err)
	} else {
		slog.Info("telegram pairing reply sent",
			"user_id", userID, "username", username, "code", code,
		)
	}
}

// sendGroupPairingReply asks the shared gate for a group pairing code and
// sends it. While a request is pending the gate returns no code and the
// group hears nothing — the reply goes out exactly once per request.
func (c *Channel) sendGroupPairingReply(ctx context.Context, chatID int64, chatIDStr, groupSenderID string) {
	result := c.Admission().IssuePairing(groupSenderID, c.Name(), chatIDStr, c.AgentID())
	if result.Outcome != channels.PairingPending || result.PairingCode == "" {
		slog.Debug("group pairing reply suppressed", "chat_id", chatIDStr, "reason", result.Reason)
		return
	}

	replyText := fmt.Sprintf(
		"This group is not approved yet.\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  goclaw pairing approve %s",
		result.PairingCode, result.PairingCode,
	)
	msg := tu.Message(tu.ID(chatID), replyText)
	if _, err := c.bot.SendMessage(ctx, msg); err != nil {
		slog.Warn("failed to send group pairing reply", "chat_id", chatIDStr, "error", err)
	} else {
		slog.Info("telegram group pairing reply sent", "chat_id", chatIDStr, "code", result.PairingCode)
	}
}

// SendPairingApproved sends the approval notification to a user.
func (c *Channel) SendPairingApproved(ctx context.Context, chatID, botName string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	if botName == "" {
		botName = "GoClaw"
	}

	msg := tu.Message(tu.ID(id), fmt.Sprintf("✅ %s access approved. Send a message to start chatting.", botName))
	_, err = c.bot.SendMessage(ctx, msg)
	return err
}

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}

	if len(commands) == 0 {
		return nil
	}

	if len(commands) > 100 {
		commands = commands[:100]
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// DefaultMenuCommands returns the default bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "Start chatting with the bot"},
		{Command: "help", Description: "Show available commands"},
		{Command: "status", Description: "Show bot status"},
		{Command: "stop", Description: "Stop the current task"},
		{Command: "stopall", Description: "Stop all queued tasks"},
	}
}
