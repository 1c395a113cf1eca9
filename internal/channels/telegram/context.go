package telegram

import (
	"fmt"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/goclaw/gateway/internal/channels"
)

// MsgContext carries the conversational surroundings of one message:
// what it replied to, where it was forwarded from, an attached location.
type MsgContext struct {
	ReplyInfo   *ReplyInfo
	ForwardFrom string
	Location    string
}

// ReplyInfo describes the message this one replied to.
type ReplyInfo struct {
	Sender     string
	Body       string
	IsBotReply bool
}

// buildMessageContext extracts reply/forward/location context from a
// Telegram message.
func buildMessageContext(msg *telego.Message, botUsername string) MsgContext {
	var ctx MsgContext

	if reply := msg.ReplyToMessage; reply != nil {
		info := &ReplyInfo{Body: reply.Text}
		if info.Body == "" {
			info.Body = reply.Caption
		}
		if reply.From != nil {
			info.Sender = reply.From.FirstName
			if reply.From.Username != "" {
				info.Sender = "@" + reply.From.Username
			}
			info.IsBotReply = botUsername != "" && reply.From.Username == botUsername
		}
		ctx.ReplyInfo = info
	}

	if origin := msg.ForwardOrigin; origin != nil {
		switch o := origin.(type) {
		case *telego.MessageOriginUser:
			ctx.ForwardFrom = o.SenderUser.FirstName
			if o.SenderUser.Username != "" {
				ctx.ForwardFrom = "@" + o.SenderUser.Username
			}
		case *telego.MessageOriginHiddenUser:
			ctx.ForwardFrom = o.SenderUserName
		case *telego.MessageOriginChat:
			ctx.ForwardFrom = o.SenderChat.Title
		case *telego.MessageOriginChannel:
			ctx.ForwardFrom = o.Chat.Title
		}
	}

	if msg.Location != nil {
		ctx.Location = fmt.Sprintf("%.6f,%.6f", msg.Location.Latitude, msg.Location.Longitude)
	}

	return ctx
}

// enrichContentWithContext prefixes content with bracketed context lines
// so the agent sees what the sender was responding to.
func enrichContentWithContext(content string, msgCtx MsgContext) string {
	var parts []string

	if r := msgCtx.ReplyInfo; r != nil && r.Body != "" {
		sender := r.Sender
		if sender == "" {
			sender = "unknown"
		}
		parts = append(parts, fmt.Sprintf("[Replying to %s: %s]", sender, channels.Truncate(r.Body, 200)))
	}
	if msgCtx.ForwardFrom != "" {
		parts = append(parts, fmt.Sprintf("[Forwarded from %s]", msgCtx.ForwardFrom))
	}
	if msgCtx.Location != "" {
		parts = append(parts, fmt.Sprintf("[Location: %s]", msgCtx.Location))
	}

	if len(parts) == 0 {
		return content
	}
	if content == "" {
		return strings.Join(parts, "\n")
	}
	return strings.Join(parts, "\n") + "\n" + content
}
