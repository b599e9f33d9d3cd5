// Package config provides YAML-based configuration loading for signalbox.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Transport platforms.
const (
	PlatformTelegram = "telegram"
	PlatformSlack    = "slack"
	PlatformDiscord  = "discord"
)

// cronParser matches the listener's maintenance schedule syntax.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "SIGNALBOX_CONFIG"

// Config is the top-level signalbox configuration, loaded from signalbox.yaml.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Transport TransportConfig `yaml:"transport"`
	Listener  ListenerConfig  `yaml:"listener"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Approvals ApprovalsConfig `yaml:"approvals"`
	Questions QuestionsConfig `yaml:"questions"`
	Hooks     HooksConfig     `yaml:"hooks"`
	Status    StatusConfig    `yaml:"status"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig selects and locates the shared store.
type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig holds connection settings for a MySQL-compatible store.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`
}

// TransportConfig selects the chat platform and holds its credentials.
// Telegram credentials may instead live in the store (sb setup).
type TransportConfig struct {
	Platform string         `yaml:"platform"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"` // xapp-...
	BotToken string `yaml:"bot_token"` // xoxb-...
	Channel  string `yaml:"channel"`
}

// ChatID returns the channel the selected platform posts to and accepts
// operator messages from.
func (t TransportConfig) ChatID() string {
	switch t.Platform {
	case PlatformSlack:
		return t.Slack.Channel
	case PlatformDiscord:
		return t.Discord.Channel
	default:
		return t.Telegram.ChatID
	}
}

// DiscordConfig holds Discord bot settings.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// ListenerConfig tunes the polling listener.
type ListenerConfig struct {
	PollTimeoutSec         int    `yaml:"poll_timeout_sec"`
	BackoffFloorSec        int    `yaml:"backoff_floor_sec"`
	BackoffCapSec          int    `yaml:"backoff_cap_sec"`
	MaintenanceCron        string `yaml:"maintenance_cron"`
	ApprovalRetentionHours int    `yaml:"approval_retention_hours"`
	PruneBudgetSec         int    `yaml:"prune_budget_sec"`
}

// SessionsConfig controls session expiry. MaxAgeHours of 0 disables
// age-based cleanup.
type SessionsConfig struct {
	MaxAgeHours int `yaml:"max_age_hours"`
}

// ApprovalsConfig controls approval waits.
type ApprovalsConfig struct {
	PollIntervalMs    int `yaml:"poll_interval_ms"`
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// QuestionsConfig controls blocking question waits.
type QuestionsConfig struct {
	PollIntervalMs    int `yaml:"poll_interval_ms"`
	DefaultTimeoutSec int `yaml:"default_timeout_sec"`
}

// HooksConfig lists the tools whose use requires operator approval.
type HooksConfig struct {
	ApprovalTools []string `yaml:"approval_tools"`
}

// StatusConfig enables the read-only status HTTP server. Empty Listen
// disables it.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig controls the zap logger. Logs never go to stdout because
// hook stdout is protocol.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultPath returns the config path from $SIGNALBOX_CONFIG or
// ~/.config/signalbox/signalbox.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(homeDir(), ".config", "signalbox", "signalbox.yaml")
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except a missing file yields the defaults. Hooks use
// it so an unconfigured machine never blocks the agent.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return Parse(nil)
	}
	return cfg, err
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	dataDir := filepath.Join(homeDir(), ".local", "share", "signalbox")

	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(dataDir, "signalbox.db")
	}
	c.Store.Path = expandHome(c.Store.Path)
	if c.Store.MySQL.Host == "" {
		c.Store.MySQL.Host = "127.0.0.1"
	}
	if c.Store.MySQL.Port == 0 {
		c.Store.MySQL.Port = 3306
	}
	if c.Store.MySQL.User == "" {
		c.Store.MySQL.User = "root"
	}
	if c.Store.MySQL.Database == "" {
		c.Store.MySQL.Database = "signalbox"
	}

	if c.Transport.Platform == "" {
		c.Transport.Platform = PlatformTelegram
	}

	if c.Listener.PollTimeoutSec == 0 {
		c.Listener.PollTimeoutSec = 30
	}
	if c.Listener.BackoffFloorSec == 0 {
		c.Listener.BackoffFloorSec = 1
	}
	if c.Listener.BackoffCapSec == 0 {
		c.Listener.BackoffCapSec = 60
	}
	if c.Listener.MaintenanceCron == "" {
		c.Listener.MaintenanceCron = "@hourly"
	}
	if c.Listener.ApprovalRetentionHours == 0 {
		c.Listener.ApprovalRetentionHours = 7 * 24
	}
	if c.Listener.PruneBudgetSec == 0 {
		c.Listener.PruneBudgetSec = 5
	}

	if c.Approvals.PollIntervalMs == 0 {
		c.Approvals.PollIntervalMs = 500
	}
	if c.Approvals.DefaultTimeoutSec == 0 {
		c.Approvals.DefaultTimeoutSec = 300
	}
	if c.Questions.PollIntervalMs == 0 {
		c.Questions.PollIntervalMs = 1000
	}
	if c.Questions.DefaultTimeoutSec == 0 {
		c.Questions.DefaultTimeoutSec = 600
	}

	if c.Hooks.ApprovalTools == nil {
		c.Hooks.ApprovalTools = []string{"Bash"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(dataDir, "signalbox.log")
	}
	c.Logging.File = expandHome(c.Logging.File)
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store.Driver {
	case DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or mysql", c.Store.Driver))
	}
	switch c.Transport.Platform {
	case PlatformTelegram, PlatformSlack, PlatformDiscord:
	default:
		errs = append(errs, fmt.Sprintf("transport.platform %q must be telegram, slack or discord", c.Transport.Platform))
	}
	if c.Listener.PollTimeoutSec < 0 {
		errs = append(errs, "listener.poll_timeout_sec must not be negative")
	}
	if c.Listener.BackoffFloorSec < 0 || c.Listener.BackoffCapSec < c.Listener.BackoffFloorSec {
		errs = append(errs, "listener.backoff_cap_sec must be >= backoff_floor_sec >= 0")
	}
	if _, err := cronParser.Parse(c.Listener.MaintenanceCron); err != nil {
		errs = append(errs, fmt.Sprintf("listener.maintenance_cron %q: %v", c.Listener.MaintenanceCron, err))
	}
	if c.Sessions.MaxAgeHours < 0 {
		errs = append(errs, "sessions.max_age_hours must not be negative")
	}
	if c.Approvals.PollIntervalMs < 0 || c.Questions.PollIntervalMs < 0 {
		errs = append(errs, "poll_interval_ms must not be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PollTimeout is the long-poll window per Updates call.
func (l ListenerConfig) PollTimeout() time.Duration {
	return time.Duration(l.PollTimeoutSec) * time.Second
}

// BackoffFloor is the first retry delay after a transport error.
func (l ListenerConfig) BackoffFloor() time.Duration {
	return time.Duration(l.BackoffFloorSec) * time.Second
}

// BackoffCap bounds the retry delay.
func (l ListenerConfig) BackoffCap() time.Duration {
	return time.Duration(l.BackoffCapSec) * time.Second
}

// ApprovalRetention is how long resolved approvals are kept.
func (l ListenerConfig) ApprovalRetention() time.Duration {
	return time.Duration(l.ApprovalRetentionHours) * time.Hour
}

// PruneBudget time-boxes one maintenance prune.
func (l ListenerConfig) PruneBudget() time.Duration {
	return time.Duration(l.PruneBudgetSec) * time.Second
}

// MaxAge is the session age limit, or 0 when disabled.
func (s SessionsConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

// PollInterval is the approval status poll interval.
func (a ApprovalsConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalMs) * time.Millisecond
}

// DefaultTimeout is used when a request does not set its own timeout.
func (a ApprovalsConfig) DefaultTimeout() time.Duration {
	return time.Duration(a.DefaultTimeoutSec) * time.Second
}

// PollInterval is the answer poll interval.
func (q QuestionsConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

// DefaultTimeout is used when a question does not set its own timeout.
func (q QuestionsConfig) DefaultTimeout() time.Duration {
	return time.Duration(q.DefaultTimeoutSec) * time.Second
}

// RequiresApproval reports whether tool is listed in approval_tools.
func (h HooksConfig) RequiresApproval(tool string) bool {
	for _, t := range h.ApprovalTools {
		if t == "*" || strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}
