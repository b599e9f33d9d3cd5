package main

import (
	"testing"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/settings"
	"github.com/zulandar/signalbox/internal/telegraph/discord"
	"github.com/zulandar/signalbox/internal/telegraph/slack"
	"github.com/zulandar/signalbox/internal/telegraph/telegram"
	"go.uber.org/zap"
)

func testEnv(t *testing.T, yaml string) *env {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := &env{cfg: cfg, db: gormDB, log: zap.NewNop()}
	t.Cleanup(e.Close)
	return e
}

func TestNewTransport_TelegramNeedsToken(t *testing.T) {
	e := testEnv(t, "transport:\n  platform: telegram\n")
	if _, err := newTransport(e); err == nil {
		t.Error("expected error without a bot token")
	}
}

func TestNewTransport_TelegramTokenFromSettings(t *testing.T) {
	e := testEnv(t, "transport:\n  platform: telegram\n")
	settings.Set(e.db, settings.KeyBotToken, "123:abc")

	tr, err := newTransport(e)
	if err != nil {
		t.Fatalf("newTransport: %v", err)
	}
	if _, ok := tr.(*telegram.Transport); !ok {
		t.Errorf("transport = %T, want *telegram.Transport", tr)
	}
}

func TestNewTransport_Slack(t *testing.T) {
	e := testEnv(t, "transport:\n  platform: slack\n  slack:\n    app_token: xapp-1\n    bot_token: xoxb-1\n    channel: C1\n")
	tr, err := newTransport(e)
	if err != nil {
		t.Fatalf("newTransport: %v", err)
	}
	if _, ok := tr.(*slack.Transport); !ok {
		t.Errorf("transport = %T, want *slack.Transport", tr)
	}
}

func TestNewTransport_SlackMissingAppToken(t *testing.T) {
	e := testEnv(t, "transport:\n  platform: slack\n  slack:\n    bot_token: xoxb-1\n")
	if _, err := newTransport(e); err == nil {
		t.Error("expected error without an app token")
	}
}

func TestNewTransport_Discord(t *testing.T) {
	e := testEnv(t, "transport:\n  platform: discord\n  discord:\n    bot_token: tok\n    channel: \"42\"\n")
	tr, err := newTransport(e)
	if err != nil {
		t.Fatalf("newTransport: %v", err)
	}
	if _, ok := tr.(*discord.Transport); !ok {
		t.Errorf("transport = %T, want *discord.Transport", tr)
	}
}

func TestChatID_FallsBackToSettings(t *testing.T) {
	e := testEnv(t, "")
	if got := chatID(e); got != "" {
		t.Errorf("chatID = %q, want empty", got)
	}
	settings.Set(e.db, settings.KeyChatID, "777")
	if got := chatID(e); got != "777" {
		t.Errorf("chatID = %q, want 777", got)
	}

	e = testEnv(t, "transport:\n  telegram:\n    chat_id: \"100\"\n")
	settings.Set(e.db, settings.KeyChatID, "777")
	if got := chatID(e); got != "100" {
		t.Errorf("chatID = %q, want config value 100", got)
	}
}
