package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseYAMLAndJSONAgree(t *testing.T) {
	t.Parallel()
	y := writeFile(t, "config.yaml", `
telegram:
  token: abc
  owner_user_ids: [1, 2]
source:
  account: natgeo
  lookahead: 3
watch:
  schedule: every:2m
  message_prefix: ""
`)
	j := writeFile(t, "config.json", `{
  "telegram": {"token": "abc", "owner_user_ids": [1, 2]},
  "source": {"account": "natgeo", "lookahead": 3},
  "watch": {"schedule": "every:2m", "message_prefix": ""}
}`)

	env := map[string]string{}
	fromYAML, err := NewManager(y, env).Load()
	require.NoError(t, err)
	fromJSON, err := NewManager(j, env).Load()
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
	assert.Equal(t, "", fromYAML.Watch.Prefix())
	assert.Equal(t, 3, fromYAML.Source.Lookahead)
	assert.Equal(t, DefaultLedgerCap, fromYAML.Watch.LedgerCap)
	assert.Equal(t, []int64{1, 2}, fromYAML.Telegram.OwnerUserIDs)
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"unknown":  `{"telegram": {"token": "x", "group_log": "y"}}`,
		"trailing": `{"telegram": {"token": "x"}} {}`,
	}
	for name, body := range tests {
		p := writeFile(t, "config.json", body)
		if _, err := NewManager(p, map[string]string{}).Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEnvOnlyWhenFileMissing(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"DISCORD_TOKEN":      "legacy",
		"INSTAGRAM_USERNAME": "@nasa",
		"CHANNEL_ID":         "-1001234",
		"PORT":               "9090",
		"DATA_DIR":           "/data",
		"OWNER_IDS":          "10,20",
	}
	cfg, err := NewManager(filepath.Join(t.TempDir(), "missing.yaml"), env).Load()
	require.NoError(t, err)

	assert.Equal(t, "legacy", cfg.Telegram.Token)
	assert.Equal(t, "nasa", cfg.Source.Account)
	assert.Equal(t, int64(-1001234), cfg.Watch.ChannelID)
	assert.Equal(t, 9090, cfg.Liveness.Port)
	assert.Equal(t, "/data", cfg.Storage.Path)
	assert.Equal(t, []int64{10, 20}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, DefaultMessagePrefix, cfg.Watch.Prefix())
	assert.Equal(t, DefaultFetchTimeout, cfg.Source.FetchTimeout())
	assert.True(t, cfg.Liveness.IsEnabled())
}

func TestTelegramTokenWinsOverDiscordToken(t *testing.T) {
	t.Parallel()
	var cfg Config
	require.NoError(t, ApplyEnv(&cfg, map[string]string{"TELEGRAM_TOKEN": "tg", "DISCORD_TOKEN": "dc"}))
	assert.Equal(t, "tg", cfg.Telegram.Token)
}

func TestBadChannelIDFailsEnv(t *testing.T) {
	t.Parallel()
	var cfg Config
	assert.Error(t, ApplyEnv(&cfg, map[string]string{"CHANNEL_ID": "general"}))
}

func TestValidateMissingRequired(t *testing.T) {
	t.Parallel()
	_, err := NewManager("", map[string]string{"INSTAGRAM_USERNAME": "nasa"}).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRequired))
}

func TestValidateFieldErrors(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := &Config{Telegram: TelegramConfig{Token: "t"}, Source: SourceConfig{Account: "a"}}
		c.ApplyDefaults()
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"lookahead too large", func(c *Config) { c.Source.Lookahead = 50 }},
		{"negative cap", func(c *Config) { c.Watch.LedgerCap = -1 }},
		{"bad schedule", func(c *Config) { c.Watch.Schedule = "soon" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "redis" }},
		{"bad kind", func(c *Config) { c.Source.Kind = "tiktok" }},
		{"bad port", func(c *Config) { c.Liveness.Port = 70000 }},
		{"bad duration", func(c *Config) { c.Watch.TickTimeout = "forever" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	require.NoError(t, base().Validate())
	for _, tt := range tests {
		c := base()
		tt.mutate(c)
		if err := c.Validate(); err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
	}
}

func TestLoadRejectsConfigInSettingsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	body := func(driver string) []byte {
		return []byte(`{"telegram": {"token": "t"}, "source": {"account": "natgeo"}, "storage": {"driver": "` + driver + `", "path": "` + filepath.ToSlash(dir) + `"}}`)
	}
	env := map[string]string{}

	shared := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(shared, body("file"), 0o600))
	_, err := NewManager(shared, env).Load()
	require.ErrorIs(t, err, ErrSettingsCollision)

	require.NoError(t, os.WriteFile(shared, body("sqlite"), 0o600))
	_, err = NewManager(shared, env).Load()
	require.NoError(t, err)

	other := filepath.Join(dir, "postwatch.json")
	require.NoError(t, os.WriteFile(other, body("file"), 0o600))
	_, err = NewManager(other, env).Load()
	require.NoError(t, err)
}

func TestReloadRejectsConfigInSettingsFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"telegram": {"token": "t"}, "source": {"account": "natgeo"}, "storage": {"path": "/elsewhere"}}`), 0o600))
	m := NewManager(p, map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte(`{"telegram": {"token": "t"}, "source": {"account": "natgeo"}, "storage": {"path": "`+filepath.ToSlash(dir)+`"}}`), 0o600))
	published, err := m.Reload()
	require.ErrorIs(t, err, ErrSettingsCollision)
	assert.False(t, published)
	assert.Equal(t, "/elsewhere", m.Get().Storage.Path)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationField("x", "-1s")
	assert.Error(t, err)
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", `{"telegram":{"token":"a"},"source":{"account":"x"}}`)
	m := NewManager(p, map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload()
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"source":{"account":"y"}}`), 0o600))
	published, err = m.Reload()
	require.NoError(t, err)
	assert.True(t, published)

	got := <-sub
	assert.Equal(t, "y", got.Source.Account)
	assert.Equal(t, "y", m.Get().Source.Account)

	require.NoError(t, os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"source":{"account":""}}`), 0o600))
	_, err = m.Reload()
	assert.Error(t, err)
	assert.Equal(t, "y", m.Get().Source.Account)
}
