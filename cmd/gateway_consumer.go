package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/channels"
	"github.com/goclaw/gateway/internal/config"
	"github.com/goclaw/gateway/internal/scheduler"
	"github.com/goclaw/gateway/internal/sessions"
	"github.com/goclaw/gateway/internal/store"
)

type consumerDeps struct {
	cfg       *config.Config
	msgBus    *bus.MessageBus
	events    *bus.EventBus
	admission *channels.Admission
	router    *sessions.Router
	sched     *scheduler.Scheduler
	stores    *store.Stores
}

// channelPolicy is the per-channel slice of config the admission pipeline
// consumes.
type channelPolicy struct {
	dmPolicy       channels.DMPolicy
	groupPolicy    channels.GroupPolicy
	allowFrom      []string
	groupAllowFrom []string
	selfChat       bool
}

func policyFor(cfg *config.Config, channel string) channelPolicy {
	switch channel {
	case "telegram":
		c := cfg.Channels.Telegram
		return channelPolicy{channels.DMPolicy(c.DMPolicy), channels.GroupPolicy(c.GroupPolicy), c.AllowFrom, c.GroupAllowFrom, false}
	case "discord":
		c := cfg.Channels.Discord
		return channelPolicy{channels.DMPolicy(c.DMPolicy), channels.GroupPolicy(c.GroupPolicy), c.AllowFrom, c.GroupAllowFrom, false}
	case "whatsapp":
		c := cfg.Channels.WhatsApp
		return channelPolicy{channels.DMPolicy(c.DMPolicy), channels.GroupPolicy(c.GroupPolicy), c.AllowFrom, c.GroupAllowFrom, c.SelfChat}
	case "zalo":
		c := cfg.Channels.Zalo
		return channelPolicy{channels.DMPolicy(c.DMPolicy), channels.GroupPolicyDisabled, c.AllowFrom, nil, false}
	case "zalo_personal":
		c := cfg.Channels.ZaloPersonal
		return channelPolicy{channels.DMPolicy(c.DMPolicy), channels.GroupPolicy(c.GroupPolicy), c.AllowFrom, c.GroupAllowFrom, c.SelfListen}
	case "feishu":
		c := cfg.Channels.Feishu
		return channelPolicy{channels.DMPolicy(c.DMPolicy), channels.GroupPolicy(c.GroupPolicy), c.AllowFrom, c.GroupAllowFrom, false}
	default:
		return channelPolicy{dmPolicy: channels.DMPolicyOpen, groupPolicy: channels.GroupPolicyOpen}
	}
}

// consumeInboundMessages is the ingress pipeline: it drains the message
// bus, normalizes and admits each envelope, coalesces rapid same-sender
// bursts, and hands the survivors to the lane scheduler.
func consumeInboundMessages(ctx context.Context, deps consumerDeps) {
	slog.Info("inbound message consumer started")

	debounceMs := deps.cfg.Messages.DebounceMs
	if debounceMs == 0 {
		debounceMs = deps.cfg.Gateway.InboundDebounceMs
	}
	debouncer := bus.NewInboundDebouncer(
		time.Duration(debounceMs)*time.Millisecond,
		func(msg bus.InboundMessage) { scheduleMessage(ctx, deps, msg) },
	)
	defer debouncer.Stop()
	slog.Info("inbound debounce configured", "debounce_ms", debounceMs)

	for {
		msg, ok := deps.msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		msg = channels.NormalizeInbound(msg)
		if max := deps.cfg.Gateway.MaxMessageChars; max > 0 && len(msg.Content) > max {
			msg.Content = msg.Content[:max]
		}

		// --- Commands bypass admission ordering concerns: they operate on
		// the session, not the conversation content. ---
		if cmd := msg.Metadata["command"]; cmd == "stop" || cmd == "stopall" {
			handleStopCommand(deps, msg, cmd)
			continue
		}

		result := deps.admission.Admit(admissionRequest(deps.cfg, msg))
		if !result.Admitted() {
			handleDenied(deps, msg, result)
			continue
		}

		// Remember how to reach this conversation for proactive sends.
		deps.stores.ConversationRefs.Put(msg.Channel, msg.ChatID, store.ConversationRef{
			Channel:     msg.Channel,
			AccountID:   msg.AccountID,
			ChatID:      msg.ChatID,
			ChatType:    msg.ChatType,
			LastMessage: msg.MessageID,
		})

		route := routeFor(deps.router, msg)
		debouncer.Offer(route.SessionKey, msg)
	}
}

func admissionRequest(cfg *config.Config, msg bus.InboundMessage) channels.AdmissionRequest {
	pol := policyFor(cfg, msg.Channel)

	kind := channels.ChatDirect
	if msg.PeerKind == string(sessions.PeerGroup) || msg.ChatType == "group" {
		kind = channels.ChatGroup
	}

	var connectedAt int64
	if v := msg.Metadata["connected_at_ms"]; v != "" {
		connectedAt, _ = strconv.ParseInt(v, 10, 64)
	}
	sentAt := msg.ProviderSentAtMs
	if sentAt == 0 {
		if v := msg.Metadata["provider_sent_at_ms"]; v != "" {
			sentAt, _ = strconv.ParseInt(v, 10, 64)
		}
	}

	selfMessage := msg.Metadata["self_message"] == "true" && !pol.selfChat

	// Mention gating is absent here on purpose: it runs at the adapter
	// edge, where provider mention arrays and reply-to-bot semantics
	// live; an envelope on the bus has already satisfied its mention
	// requirement.
	return channels.AdmissionRequest{
		Channel:          msg.Channel,
		AgentID:          msg.AgentID,
		AccountID:        msg.AccountID,
		ChatID:           msg.ChatID,
		ChatType:         kind,
		SenderID:         msg.SenderID,
		MessageID:        msg.MessageID,
		SelfMessage:      selfMessage,
		ProviderSentAtMs: sentAt,
		ConnectedAtMs:    connectedAt,
		DMPolicy:         pol.dmPolicy,
		GroupPolicy:      pol.groupPolicy,
		AllowFrom:        pol.allowFrom,
		GroupAllowFrom:   pol.groupAllowFrom,
	}
}

// handleDenied emits the terminal diagnostic for a non-admitted envelope
// and, for a fresh pairing request, sends the sender their one-time code.
func handleDenied(deps consumerDeps, msg bus.InboundMessage, result channels.AdmissionResult) {
	deps.events.Emit(bus.DiagnosticEvent{
		Kind: bus.DiagnosticMessageProcessed,
		Payload: bus.MessageEventPayload{
			MessageID: msg.MessageID,
			Channel:   msg.Channel,
			Outcome:   string(result.Outcome),
		},
	})

	switch result.Outcome {
	case channels.PairingPending:
		if result.PairingCode == "" {
			return // request already pending; stay silent
		}
		deps.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: pairingReplyText(deps.cfg, msg, result.PairingCode),
		})
	case channels.PolicyDenied:
		// Silent to the sender; the reason stays in diagnostics.
		slog.Debug("message denied", "channel", msg.Channel, "sender", msg.SenderID, "reason", result.Reason)
	}
}

func pairingReplyText(cfg *config.Config, msg bus.InboundMessage, code string) string {
	botName := cfg.ResolveDisplayName(cfg.ResolveDefaultAgentID())
	return fmt.Sprintf("%s (%s: %s)\nPairing code: %s\nAsk the operator to run: goclaw pairing approve %s",
		botName, msg.Channel, msg.SenderID, code, code)
}

func routeFor(router *sessions.Router, msg bus.InboundMessage) sessions.Route {
	kind := sessions.PeerDirect
	if msg.PeerKind == string(sessions.PeerGroup) || msg.ChatType == "group" {
		kind = sessions.PeerGroup
	}

	topicID := 0
	if msg.Metadata["is_forum"] == "true" {
		topicID, _ = strconv.Atoi(msg.Metadata["message_thread_id"])
	}
	return router.Resolve(msg.AgentID, msg.Channel, msg.ChatID, kind, topicID)
}

// scheduleMessage enqueues one (possibly coalesced) envelope on its lane
// and delivers failure feedback when the turn errors out.
func scheduleMessage(ctx context.Context, deps consumerDeps, msg bus.InboundMessage) {
	route := routeFor(deps.router, msg)
	runID := fmt.Sprintf("inbound-%s-%s", msg.Channel, uuid.NewString()[:8])

	msg.AgentID = route.AgentID
	outCh := deps.sched.Schedule(ctx, scheduler.RunRequest{
		SessionKey:   route.SessionKey,
		ChannelClass: msg.Channel,
		RunID:        runID,
		Message:      msg,
	})

	slog.Info("inbound: scheduled",
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"agent", route.AgentID,
		"session", route.SessionKey,
	)

	go func() {
		outcome := <-outCh
		if outcome.Err == nil {
			return
		}
		if errors.Is(outcome.Err, context.Canceled) {
			slog.Info("inbound: turn cancelled", "session", route.SessionKey)
			return
		}
		slog.Error("inbound: turn failed", "session", route.SessionKey, "error", outcome.Err)
		deps.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "Something went wrong handling that message. Please try again.",
		})
	}()
}

func handleStopCommand(deps consumerDeps, msg bus.InboundMessage, cmd string) {
	route := routeFor(deps.router, msg)

	var cancelled bool
	if cmd == "stopall" {
		cancelled = deps.sched.CancelSession(route.SessionKey)
	} else {
		cancelled = deps.sched.CancelOneSession(route.SessionKey)
	}
	slog.Info("inbound: stop command", "command", cmd, "session", route.SessionKey, "cancelled", cancelled)

	feedback := map[bool]map[string]string{
		true:  {"stop": "Task stopped.", "stopall": "All tasks stopped."},
		false: {"stop": "No active task to stop.", "stopall": "No active tasks to stop."},
	}[cancelled][cmd]

	deps.msgBus.PublishOutbound(bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  feedback,
		Metadata: msg.Metadata,
	})
}
