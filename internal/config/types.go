package config

import (
	"strings"
	"time"
)

const (
	DefaultSchedule       = "every:5m"
	DefaultLookahead      = 4
	MaxLookahead          = 12
	DefaultLedgerCap      = 50
	DefaultFetchTimeout   = 20 * time.Second
	DefaultTickTimeout    = 60 * time.Second
	DefaultPollTimeout    = 10 * time.Second
	DefaultPort           = 8080
	DefaultDataDir        = "./data"
	DefaultCommandPrefix  = "/"
	DefaultMessagePrefix  = "📸 New Instagram post!"
	DefaultSourceKind     = "instagram"
	DefaultStorageDriver  = "file"
	DefaultFetchPerMinute = 6
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Source   SourceConfig   `json:"source"`
	Watch    WatchConfig    `json:"watch"`
	Commands CommandsConfig `json:"commands"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Liveness LivenessConfig `json:"liveness"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// SourceConfig describes the monitored profile.
//
// Kind selects the fetcher:
//   - "instagram": web profile JSON endpoint (default)
//   - "html": scrape post links from a profile page (mirrors, tests)
type SourceConfig struct {
	Account string `json:"account"`
	Kind    string `json:"kind,omitempty"`
	// BaseURL overrides the endpoint host, e.g. for a mirror.
	BaseURL string `json:"base_url,omitempty"`
	AppID   string `json:"app_id,omitempty"`
	// Lookahead caps how many posts are inspected per tick (1..12).
	Lookahead int `json:"lookahead,omitempty"`
	// Timeout is a per-request Go duration string.
	Timeout    string `json:"timeout,omitempty"`
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

// WatchConfig controls the poll-and-notify cycle.
//
// Schedule accepts anything the scheduler understands:
// "every:5m", "5m", "00:05", "cron:*/5 * * * *".
type WatchConfig struct {
	Schedule    string `json:"schedule,omitempty"`
	TickTimeout string `json:"tick_timeout,omitempty"`
	LedgerCap   int    `json:"ledger_cap,omitempty"`
	// MessagePrefix is the line placed above the post URL.
	// nil means the default; an empty string sends the URL only.
	MessagePrefix *string `json:"message_prefix,omitempty"`
	// ChannelID seeds the notification target when none is persisted yet.
	ChannelID  int64 `json:"channel_id,omitempty"`
	RunOnStart *bool `json:"run_on_start,omitempty"`
}

type CommandsConfig struct {
	Prefix string `json:"prefix,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// LivenessConfig controls the HTTP health-check listener.
type LivenessConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Port    int   `json:"port,omitempty"`
}

// ApplyDefaults fills zero values. It never overrides explicit settings.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Source.Kind) == "" {
		c.Source.Kind = DefaultSourceKind
	}
	if c.Source.Lookahead == 0 {
		c.Source.Lookahead = DefaultLookahead
	}
	if c.Source.RatePerMin == 0 {
		c.Source.RatePerMin = DefaultFetchPerMinute
	}
	if strings.TrimSpace(c.Watch.Schedule) == "" {
		c.Watch.Schedule = DefaultSchedule
	}
	if c.Watch.LedgerCap == 0 {
		c.Watch.LedgerCap = DefaultLedgerCap
	}
	if c.Watch.MessagePrefix == nil {
		p := DefaultMessagePrefix
		c.Watch.MessagePrefix = &p
	}
	if c.Commands.Prefix == "" {
		c.Commands.Prefix = DefaultCommandPrefix
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultDataDir
	}
	if c.Liveness.Port == 0 {
		c.Liveness.Port = DefaultPort
	}
}

func (s SourceConfig) FetchTimeout() time.Duration {
	d, err := ParseDurationOrDefault("source.timeout", s.Timeout, DefaultFetchTimeout)
	if err != nil {
		return DefaultFetchTimeout
	}
	return d
}

func (w WatchConfig) TickTimeoutDuration() time.Duration {
	d, err := ParseDurationOrDefault("watch.tick_timeout", w.TickTimeout, DefaultTickTimeout)
	if err != nil {
		return DefaultTickTimeout
	}
	return d
}

func (w WatchConfig) Prefix() string {
	if w.MessagePrefix == nil {
		return DefaultMessagePrefix
	}
	return *w.MessagePrefix
}

func (w WatchConfig) ShouldRunOnStart() bool {
	return w.RunOnStart == nil || *w.RunOnStart
}

func (t TelegramConfig) PollTimeoutDuration() time.Duration {
	d, err := ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
	if err != nil {
		return DefaultPollTimeout
	}
	return d
}

func (l LivenessConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}
