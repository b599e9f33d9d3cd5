package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/settings"
	"github.com/zulandar/signalbox/internal/telegraph"
	"github.com/zulandar/signalbox/internal/telegraph/discord"
	"github.com/zulandar/signalbox/internal/telegraph/slack"
	"github.com/zulandar/signalbox/internal/telegraph/telegram"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// env is what every command needs: config, store and logger.
type env struct {
	cfg *config.Config
	db  *gorm.DB
	log *zap.Logger
}

// loadEnv reads the config (a missing file means defaults), opens the store
// and builds the file logger.
func loadEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	gormDB, err := db.Open(cfg.Store)
	if err != nil {
		log.Sync()
		return nil, err
	}
	return &env{cfg: cfg, db: gormDB, log: log.With(zap.String("cmd", cmd.CommandPath()))}, nil
}

// Close flushes the logger and closes the store.
func (e *env) Close() {
	e.log.Sync()
	if sqlDB, err := e.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// transportFactory builds the configured chat transport. Tests replace it.
var transportFactory = newTransport

// newTransport builds a transport for the configured platform. Telegram
// credentials fall back to the values stored by sb setup.
func newTransport(e *env) (telegraph.Transport, error) {
	switch e.cfg.Transport.Platform {
	case config.PlatformSlack:
		return slack.New(slack.Opts{
			AppToken:  e.cfg.Transport.Slack.AppToken,
			BotToken:  e.cfg.Transport.Slack.BotToken,
			ChannelID: e.cfg.Transport.Slack.Channel,
			Logger:    e.log,
		})
	case config.PlatformDiscord:
		return discord.New(discord.Opts{
			BotToken:  e.cfg.Transport.Discord.BotToken,
			ChannelID: e.cfg.Transport.Discord.Channel,
			Logger:    e.log,
		})
	case config.PlatformTelegram:
		token := e.cfg.Transport.Telegram.BotToken
		if token == "" {
			token, _ = settings.Get(e.db, settings.KeyBotToken)
		}
		if token == "" {
			return nil, fmt.Errorf("telegram bot token not configured (run sb setup)")
		}
		return telegram.New(telegram.Opts{
			BotToken: token,
			ChatID:   chatID(e),
			Logger:   e.log,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", e.cfg.Transport.Platform)
	}
}

// chatID is the operator chat: from config, else the stored setting.
func chatID(e *env) string {
	if id := e.cfg.Transport.ChatID(); id != "" {
		return id
	}
	id, _ := settings.Get(e.db, settings.KeyChatID)
	return id
}
