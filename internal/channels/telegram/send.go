package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/channels"
	"github.com/goclaw/gateway/internal/channels/typing"
)

// telegramMaxLen is the Bot API hard cap per message.
const telegramMaxLen = 4096

// Send delivers an outbound message. The first chunk edits the
// "Thinking..." placeholder when one exists; the rest are sent as fresh
// messages, threaded into the right forum topic when the conversation has
// one.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	localKey := msg.ChatID
	if lk := msg.Metadata["local_key"]; lk != "" {
		localKey = lk
	}

	chatID, err := parseRawChatID(localKey)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	// The turn is delivering output: stop the typing/thinking indicators.
	if ctrl, ok := c.typingCtrls.LoadAndDelete(localKey); ok {
		ctrl.(*typing.Controller).Stop()
	}
	if stop, ok := c.stopThinking.LoadAndDelete(localKey); ok {
		if cf, ok := stop.(*thinkingCancel); ok {
			cf.Cancel()
		}
	}

	threadID := 0
	if v, ok := c.threadIDs.Load(localKey); ok {
		threadID = resolveThreadIDForSend(v.(int))
	}

	// An empty outbound is a cleanup signal (cancelled or silent turn):
	// remove the placeholder and stop.
	if strings.TrimSpace(msg.Content) == "" && len(msg.Media) == 0 {
		if pid, ok := c.placeholders.LoadAndDelete(localKey); ok {
			c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
				ChatID:    tu.ID(chatID),
				MessageID: pid.(int),
			})
		}
		return nil
	}

	var chunks []string
	if strings.TrimSpace(msg.Content) != "" {
		chunks = splitForTelegram(msg.Content)
	}

	for i, chunk := range chunks {
		// First chunk replaces the placeholder in place when one exists.
		if i == 0 {
			if pid, ok := c.placeholders.LoadAndDelete(localKey); ok {
				if _, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
					ChatID:    tu.ID(chatID),
					MessageID: pid.(int),
					Text:      chunk,
				}); err == nil {
					continue
				}
				// Edit failed (placeholder deleted, too old) — fall through
				// to a regular send.
			}
		}

		params := tu.Message(tu.ID(chatID), chunk)
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		if i == 0 {
			if replyTo := msg.Metadata["reply_to_message_id"]; replyTo != "" {
				var mid int
				if _, err := fmt.Sscanf(replyTo, "%d", &mid); err == nil && mid > 0 {
					params.ReplyParameters = &telego.ReplyParameters{MessageID: mid, AllowSendingWithoutReply: true}
				}
			}
		}
		if c.config.LinkPreview != nil && !*c.config.LinkPreview {
			params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
		}

		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}

	for _, media := range msg.Media {
		if err := c.sendMedia(ctx, chatID, threadID, media); err != nil {
			slog.Warn("telegram media send failed", "chat_id", chatID, "url", media.URL, "error", err)
		}
	}
	return nil
}

// sendMedia delivers one attachment, picking the API call by content type.
func (c *Channel) sendMedia(ctx context.Context, chatID int64, threadID int, media bus.MediaAttachment) error {
	f, err := os.Open(media.URL)
	if err != nil {
		return fmt.Errorf("open media %s: %w", media.URL, err)
	}
	defer f.Close()

	switch {
	case strings.HasPrefix(media.ContentType, "image/"):
		params := tu.Photo(tu.ID(chatID), tu.File(f))
		params.Caption = media.Caption
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendPhoto(ctx, params)
	case strings.HasPrefix(media.ContentType, "audio/"):
		params := tu.Audio(tu.ID(chatID), tu.File(f))
		params.Caption = media.Caption
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendAudio(ctx, params)
	default:
		params := tu.Document(tu.ID(chatID), tu.File(f))
		params.Caption = media.Caption
		if threadID > 0 {
			params.MessageThreadID = threadID
		}
		_, err = c.bot.SendDocument(ctx, params)
	}
	return err
}

// splitForTelegram is the adapter-level safety net for callers that bypass
// the core dispatcher: split at the last newline before the cap, falling
// back to a hard cut.
func splitForTelegram(text string) []string {
	if len(text) <= telegramMaxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > telegramMaxLen {
		cut := strings.LastIndex(text[:telegramMaxLen], "\n")
		if cut <= 0 {
			cut = telegramMaxLen
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

var _ channels.Channel = (*Channel)(nil)
