package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverlay lists the process environment that overrides the config file.
// Empty values leave the file setting untouched.
type envOverlay struct {
	TelegramToken string  `env:"TELEGRAM_TOKEN"`
	DiscordToken  string  `env:"DISCORD_TOKEN"`
	Account       string  `env:"INSTAGRAM_USERNAME"`
	ChannelID     int64   `env:"CHANNEL_ID"`
	Port          int     `env:"PORT"`
	DataDir       string  `env:"DATA_DIR"`
	OwnerIDs      []int64 `env:"OWNER_IDS" envSeparator:","`
	LogLevel      string  `env:"LOG_LEVEL"`
}

// ApplyEnv overlays environment variables onto cfg. A nil environ reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var ov envOverlay
	var err error
	if environ == nil {
		err = env.Parse(&ov)
	} else {
		err = env.ParseWithOptions(&ov, env.Options{Environment: environ})
	}
	if err != nil {
		return fmt.Errorf("env: %w", err)
	}

	// TELEGRAM_TOKEN wins; DISCORD_TOKEN is accepted for older deployments.
	switch {
	case strings.TrimSpace(ov.TelegramToken) != "":
		cfg.Telegram.Token = strings.TrimSpace(ov.TelegramToken)
	case strings.TrimSpace(ov.DiscordToken) != "":
		cfg.Telegram.Token = strings.TrimSpace(ov.DiscordToken)
	}
	if v := strings.TrimSpace(ov.Account); v != "" {
		cfg.Source.Account = strings.TrimPrefix(v, "@")
	}
	if ov.ChannelID != 0 {
		cfg.Watch.ChannelID = ov.ChannelID
	}
	if ov.Port != 0 {
		cfg.Liveness.Port = ov.Port
	}
	if v := strings.TrimSpace(ov.DataDir); v != "" {
		cfg.Storage.Path = v
	}
	if len(ov.OwnerIDs) > 0 {
		cfg.Telegram.OwnerUserIDs = ov.OwnerIDs
	}
	if v := strings.TrimSpace(ov.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// EnvPresence reports which startup variables are set, masking secrets.
func EnvPresence(environ map[string]string) map[string]string {
	out := make(map[string]string, 4)
	for _, k := range []string{"TELEGRAM_TOKEN", "DISCORD_TOKEN", "INSTAGRAM_USERNAME", "CHANNEL_ID"} {
		v, ok := environ[k]
		switch {
		case !ok || strings.TrimSpace(v) == "":
			out[k] = "<unset>"
		case strings.HasSuffix(k, "_TOKEN"):
			out[k] = "set"
		default:
			out[k] = v
		}
	}
	return out
}

// Environ snapshots the process environment as a map.
func Environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}
