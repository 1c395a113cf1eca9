package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/goclaw/gateway/internal/allowfrom"
	"github.com/goclaw/gateway/internal/bus"
	"github.com/goclaw/gateway/internal/channels"
	"github.com/goclaw/gateway/internal/channels/discord"
	"github.com/goclaw/gateway/internal/channels/feishu"
	"github.com/goclaw/gateway/internal/channels/telegram"
	"github.com/goclaw/gateway/internal/channels/whatsapp"
	"github.com/goclaw/gateway/internal/channels/zalo"
	zalopersonal "github.com/goclaw/gateway/internal/channels/zalo/personal"
	"github.com/goclaw/gateway/internal/config"
	"github.com/goclaw/gateway/internal/dispatch"
	"github.com/goclaw/gateway/internal/pairing"
	"github.com/goclaw/gateway/internal/scheduler"
	"github.com/goclaw/gateway/internal/sessions"
	"github.com/goclaw/gateway/internal/store"
	"github.com/goclaw/gateway/internal/store/file"
	"github.com/goclaw/gateway/internal/store/pg"
	"github.com/goclaw/gateway/internal/store/sqlite"
	"github.com/goclaw/gateway/internal/telemetry"
)

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot-reload: policy and tuning changes apply without a restart.
	if watcher, werr := config.NewWatcher(cfgPath, cfg, nil); werr != nil {
		slog.Warn("config watcher unavailable", "error", werr)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// Data directory for persisted state
	dataDir := os.Getenv("GOCLAW_DATA_DIR")
	if dataDir == "" {
		dataDir = config.ExpandHome("~/.goclaw/data")
	}
	os.MkdirAll(dataDir, 0755)

	// Diagnostics bus + optional OTLP export
	events := bus.NewEventBus()
	exporter, err := telemetry.Start(ctx, cfg.Telemetry, events)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	} else if exporter != nil {
		defer exporter.Stop(context.Background())
		slog.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "protocol", cfg.Telemetry.Protocol)
	}

	// Message bus
	msgBus := bus.New()

	// Stores: Postgres in managed mode, embedded SQLite for the high-churn
	// stores under database.mode=sqlite, plain JSON files otherwise.
	stores, err := openStores(cfg, dataDir)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}

	// Shared admission pipeline: dedupe → historical → self → policy.
	admission := channels.NewAdmission(
		bus.NewDedupeCache(bus.DefaultDedupeTTL, bus.DefaultDedupeCapacity),
		stores.Pairing,
		stores.AllowFrom,
	)

	// Session routing (bindings → scoped session keys)
	router := sessions.NewRouter(cfg)

	// Channel manager + config-enabled channels
	channelMgr := channels.NewManager(msgBus)
	registerChannels(channelMgr, cfg, msgBus, events, admission, stores.Pairing)

	// Agent turn runner. The gateway treats the agent runtime as an
	// external collaborator; replace newTurnRunner's wiring to attach one.
	runner := newTurnRunner(cfg)

	// Lane scheduler driving the runner through the reply dispatcher.
	schedCfg := scheduler.DefaultConfig()
	if cfg.Scheduler.MaxConcurrent > 0 {
		schedCfg.MaxConcurrent = cfg.Scheduler.MaxConcurrent
	}
	if cfg.Scheduler.StuckThresholdSec > 0 {
		schedCfg.StuckThreshold = time.Duration(cfg.Scheduler.StuckThresholdSec) * time.Second
	}
	if cfg.Scheduler.StuckGraceSec > 0 {
		schedCfg.StuckGrace = time.Duration(cfg.Scheduler.StuckGraceSec) * time.Second
	}
	if cfg.Scheduler.LaneIdleSec > 0 {
		schedCfg.LaneIdle = time.Duration(cfg.Scheduler.LaneIdleSec) * time.Second
	}
	sched := scheduler.New(schedCfg, events, makeSchedulerRunFunc(runner, cfg, msgBus, events, stores.Sessions))
	defer sched.Stop()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start channels
	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	// Inbound pipeline: normalize → admit → debounce → schedule
	go consumeInboundMessages(ctx, consumerDeps{
		cfg:       cfg,
		msgBus:    msgBus,
		events:    events,
		admission: admission,
		router:    router,
		sched:     sched,
		stores:    stores,
	})

	slog.Info("goclaw gateway started",
		"version", Version,
		"mode", storageMode(cfg),
		"channels", channelMgr.GetEnabledChannels(),
		"max_concurrent", schedCfg.MaxConcurrent,
	)

	sig := <-sigCh
	slog.Info("graceful shutdown initiated", "signal", sig)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	channelMgr.StopAll(stopCtx)
	cancel()
	if err := stores.Sessions.Save(); err != nil {
		slog.Warn("session store save failed", "error", err)
	}
	sweepTempMedia()
}

// sweepTempMedia is the shutdown fallback for inbound media temp files:
// the normal path removes them when the owning turn's send completes, but
// turns cut short by shutdown leave theirs behind.
func sweepTempMedia() {
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "goclaw_*"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			slog.Debug("removed orphaned media temp file", "path", path)
		}
	}
}

func storageMode(cfg *config.Config) string {
	switch {
	case cfg.IsManagedMode():
		return "managed"
	case cfg.Database.Mode == "sqlite":
		return "sqlite"
	default:
		return "standalone"
	}
}

// openStores builds the four persisted stores for the configured mode.
func openStores(cfg *config.Config, dataDir string) (*store.Stores, error) {
	if cfg.IsManagedMode() {
		return pg.NewPGStores(store.StoreConfig{PostgresDSN: cfg.Database.PostgresDSN})
	}

	pairingStore := file.NewFilePairingStore(pairing.NewService(filepath.Join(dataDir, "pairing.json")))
	allowStore := file.NewFileAllowFromStore(allowfrom.NewService(filepath.Join(dataDir, "allow-from.json")))

	if cfg.Database.Mode == "sqlite" {
		db, err := sqlite.OpenDB(filepath.Join(dataDir, "gateway.db"))
		if err != nil {
			return nil, err
		}
		return &store.Stores{
			Sessions:         sqlite.NewSessionStore(db),
			Pairing:          pairingStore,
			AllowFrom:        allowStore,
			ConversationRefs: sqlite.NewConversationRefStore(db),
		}, nil
	}

	sessPath := filepath.Join(config.ExpandHome(cfg.Sessions.Storage), "sessions.json")
	return &store.Stores{
		Sessions:         file.NewFileSessionStore(sessions.NewManager(sessPath)),
		Pairing:          pairingStore,
		AllowFrom:        allowStore,
		ConversationRefs: file.NewFileConversationRefStore(dataDir),
	}, nil
}

// registerChannels wires every config-enabled channel adapter.
func registerChannels(mgr *channels.Manager, cfg *config.Config, msgBus *bus.MessageBus, events *bus.EventBus, admission *channels.Admission, pairingStore store.PairingStore) {
	register := func(name string, ch channels.Channel) {
		if d, ok := ch.(interface{ SetEventBus(*bus.EventBus) }); ok {
			d.SetEventBus(events)
		}
		// Replace the adapter's construction-time gate with the fully
		// wired one (shared dedupe + persisted allowlists).
		if a, ok := ch.(interface{ SetAdmission(*channels.Admission) }); ok {
			a.SetAdmission(admission)
		}
		mgr.RegisterChannel(name, ch)
		slog.Info("channel enabled", "channel", name)
	}
	if c := cfg.Channels.Telegram; c.Enabled && c.Token != "" {
		if ch, err := telegram.New(c, msgBus, pairingStore); err != nil {
			slog.Error("failed to initialize telegram channel", "error", err)
		} else {
			register("telegram", ch)
		}
	}
	if c := cfg.Channels.Discord; c.Enabled && c.Token != "" {
		if ch, err := discord.New(c, msgBus, pairingStore); err != nil {
			slog.Error("failed to initialize discord channel", "error", err)
		} else {
			register("discord", ch)
		}
	}
	if c := cfg.Channels.WhatsApp; c.Enabled && c.BridgeURL != "" {
		if ch, err := whatsapp.New(c, msgBus, pairingStore); err != nil {
			slog.Error("failed to initialize whatsapp channel", "error", err)
		} else {
			register("whatsapp", ch)
		}
	}
	if c := cfg.Channels.Zalo; c.Enabled && c.Token != "" {
		if ch, err := zalo.New(c, msgBus, pairingStore); err != nil {
			slog.Error("failed to initialize zalo channel", "error", err)
		} else {
			register("zalo", ch)
		}
	}
	if c := cfg.Channels.ZaloPersonal; c.Enabled {
		if ch, err := zalopersonal.New(c, msgBus, pairingStore); err != nil {
			slog.Error("failed to initialize zalo personal channel", "error", err)
		} else {
			register("zalo_personal", ch)
		}
	}
	if c := cfg.Channels.Feishu; c.Enabled && c.AppID != "" {
		if ch, err := feishu.New(c, msgBus, pairingStore); err != nil {
			slog.Error("failed to initialize feishu channel", "error", err)
		} else {
			register("feishu", ch)
		}
	}
}

// makeSchedulerRunFunc bridges the scheduler to the turn runner: each
// dequeued envelope gets a per-conversation dispatcher as its reply sink,
// and the session store is touched once the turn completes.
func makeSchedulerRunFunc(runner dispatch.TurnRunner, cfg *config.Config, msgBus *bus.MessageBus, events *bus.EventBus, sessStore store.SessionStore) scheduler.RunFunc {
	return func(ctx context.Context, req scheduler.RunRequest) (*scheduler.RunResult, error) {
		msg := req.Message

		outMeta := make(map[string]string)
		if mid := msg.Metadata["message_id"]; mid != "" {
			outMeta["reply_to_message_id"] = mid
		}
		for _, k := range []string{"message_thread_id", "local_key"} {
			if v := msg.Metadata[k]; v != "" {
				outMeta[k] = v
			}
		}

		d := dispatch.New(ctx, dispatch.TransportFuncs{
			Text: func(ctx context.Context, text string) error {
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel:  msg.Channel,
					ChatID:   msg.ChatID,
					Content:  text,
					Metadata: outMeta,
				})
				return nil
			},
			Media: func(ctx context.Context, item bus.MediaAttachment, caption string) error {
				item.Caption = caption
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel:  msg.Channel,
					ChatID:   msg.ChatID,
					Media:    []bus.MediaAttachment{item},
					Metadata: outMeta,
				})
				return nil
			},
		}, dispatch.Options{
			Channel:          msg.Channel,
			Chunker:          dispatch.NewChunker(msg.Channel, dispatch.ChunkLimitFor(msg.Channel, cfg.Messages.ChunkLimit)),
			TableMode:        dispatch.TableModeFor(msg.Channel, cfg.Messages.MarkdownTableMode),
			FlushInterval:    time.Duration(cfg.Messages.FlushIntervalMs) * time.Millisecond,
			MediaMaxBytes:    dispatch.MediaMaxFor(msg.Channel, cfg.Messages.MediaMaxMB),
			ReactionsEnabled: reactionsEnabled(cfg, msg.Channel),
			Events:           events,
		})

		result, err := runner.RunTurn(ctx, req.SessionKey, msg, d)
		d.Finalize()

		if err == nil {
			sessStore.Touch(req.SessionKey, "", msg.Channel, msg.ChatID)
		}
		if result == nil {
			return nil, err
		}
		return &scheduler.RunResult{
			Model:        result.Model,
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			DurationMs:   result.DurationMs,
		}, err
	}
}

func reactionsEnabled(cfg *config.Config, channel string) bool {
	enabled := func(v *bool) bool { return v == nil || *v }
	switch channel {
	case "telegram":
		return enabled(cfg.Channels.Telegram.Reactions)
	case "discord":
		return enabled(cfg.Channels.Discord.Reactions)
	case "whatsapp":
		return enabled(cfg.Channels.WhatsApp.Reactions)
	default:
		return false
	}
}

// newTurnRunner returns the configured agent runner. Without an attached
// agent runtime the gateway still serves its dispatch core: the loopback
// runner acknowledges each turn so pairing, policy, scheduling, and
// delivery can be exercised end to end.
func newTurnRunner(cfg *config.Config) dispatch.TurnRunner {
	botName := cfg.ResolveDisplayName(cfg.ResolveDefaultAgentID())
	return dispatch.TurnRunnerFunc(func(ctx context.Context, sessionKey string, msg bus.InboundMessage, reply dispatch.ReplySink) (*dispatch.TurnResult, error) {
		started := time.Now()
		if err := reply.SendBlock(botName + " received: " + msg.Content); err != nil {
			return nil, err
		}
		if err := reply.Finalize(); err != nil {
			return nil, err
		}
		return &dispatch.TurnResult{DurationMs: time.Since(started).Milliseconds()}, nil
	})
}
