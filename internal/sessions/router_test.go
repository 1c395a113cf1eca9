package sessions

import (
	"testing"

	"github.com/goclaw/gateway/internal/config"
)

func routerWithBindings(bindings []config.AgentBinding) *Router {
	cfg := config.Default()
	cfg.Bindings = bindings
	return NewRouter(cfg)
}

func TestRouter_PeerBindingWinsOverChannelBinding(t *testing.T) {
	r := routerWithBindings([]config.AgentBinding{
		{AgentID: "support", Match: config.BindingMatch{
			Channel: "telegram",
			Peer:    &config.BindingPeer{Kind: "group", ID: "-100555"},
		}},
		{AgentID: "generalist", Match: config.BindingMatch{Channel: "telegram"}},
	})

	if got := r.ResolveAgent("telegram", "-100555", "group"); got != "support" {
		t.Errorf("peer-bound group routed to %s, want support", got)
	}
	if got := r.ResolveAgent("telegram", "other-chat", "group"); got != "generalist" {
		t.Errorf("unbound group routed to %s, want channel-level generalist", got)
	}
	if got := r.ResolveAgent("discord", "anything", "direct"); got != config.DefaultAgentID {
		t.Errorf("unbound channel routed to %s, want default", got)
	}
}

func TestRouter_WildcardPeerBinding(t *testing.T) {
	r := routerWithBindings([]config.AgentBinding{
		{AgentID: "groups", Match: config.BindingMatch{
			Channel: "discord",
			Peer:    &config.BindingPeer{Kind: "group", ID: "*"},
		}},
	})
	if got := r.ResolveAgent("discord", "g1", "group"); got != "groups" {
		t.Errorf("wildcard group binding routed to %s", got)
	}
	if got := r.ResolveAgent("discord", "u1", "direct"); got != config.DefaultAgentID {
		t.Errorf("DM matched a group-only wildcard, routed to %s", got)
	}
}

func TestRouter_ResolveBuildsScopedKeys(t *testing.T) {
	r := routerWithBindings(nil)

	tests := []struct {
		name     string
		explicit string
		channel  string
		chatID   string
		kind     PeerKind
		topicID  int
		wantKey  string
	}{
		{"dm", "", "telegram", "u42", PeerDirect, 0, "agent:default:telegram:direct:u42"},
		{"group", "", "telegram", "-100123", PeerGroup, 0, "agent:default:telegram:group:-100123"},
		{"forum topic", "", "telegram", "-100123", PeerGroup, 7, "agent:default:telegram:group:-100123:topic:7"},
		{"explicit agent", "ops", "discord", "c9", PeerDirect, 0, "agent:ops:discord:direct:c9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := r.Resolve(tt.explicit, tt.channel, tt.chatID, tt.kind, tt.topicID)
			if route.SessionKey != tt.wantKey {
				t.Errorf("session key = %s, want %s", route.SessionKey, tt.wantKey)
			}
		})
	}
}

func TestRouter_MainDmScopeSharesOneSession(t *testing.T) {
	cfg := config.Default()
	cfg.Sessions.DmScope = "main"
	r := NewRouter(cfg)

	a := r.Resolve("", "telegram", "u1", PeerDirect, 0)
	b := r.Resolve("", "discord", "u2", PeerDirect, 0)
	if a.SessionKey != b.SessionKey {
		t.Errorf("dm_scope=main should share one session: %s vs %s", a.SessionKey, b.SessionKey)
	}
	g := r.Resolve("", "telegram", "-1", PeerGroup, 0)
	if g.SessionKey == a.SessionKey {
		t.Error("groups must keep their full key under dm_scope=main")
	}
}

func TestCronRunSessionKey(t *testing.T) {
	key, err := CronRunSessionKey("default", CronSpec{JobID: "daily-digest", Expr: "0 9 * * *"}, "run1")
	if err != nil {
		t.Fatalf("valid cron spec rejected: %v", err)
	}
	if key != "agent:default:cron:daily-digest:run:run1" {
		t.Errorf("cron key = %s", key)
	}

	if _, err := CronRunSessionKey("default", CronSpec{JobID: "bad", Expr: "not a cron"}, "run1"); err == nil {
		t.Error("invalid cron expression accepted")
	}
	if _, err := CronRunSessionKey("default", CronSpec{Expr: "* * * * *"}, "run1"); err == nil {
		t.Error("missing job id accepted")
	}
}

func TestParseSessionKeyRoundTrip(t *testing.T) {
	key := BuildSessionKey("ops", "telegram", PeerGroup, "-1009")
	agentID, rest := ParseSessionKey(key)
	if agentID != "ops" || rest != "telegram:group:-1009" {
		t.Errorf("parse(%s) = (%s, %s)", key, agentID, rest)
	}
	if IsCronSession(key) || IsSubagentSession(key) {
		t.Error("group key misclassified as cron/subagent")
	}
	if !IsCronSession(BuildCronSessionKey("ops", "job", "r1")) {
		t.Error("cron key not recognized")
	}
}
