package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"postwatch/internal/scheduler"
	"postwatch/internal/storage"
	"postwatch/pkg/logx"
)

var (
	// ErrMissingRequired marks a configuration that cannot start the bot.
	ErrMissingRequired = errors.New("missing required configuration")
	// ErrSettingsCollision marks a config file the file driver would write its settings into.
	ErrSettingsCollision = errors.New("config file is the storage settings file")
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks a defaulted config. Missing token or account wrap
// ErrMissingRequired; everything else is a plain field error.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Telegram.Token) == "" {
		missing = append(missing, "telegram.token (TELEGRAM_TOKEN or DISCORD_TOKEN)")
	}
	if strings.TrimSpace(c.Source.Account) == "" {
		missing = append(missing, "source.account (INSTAGRAM_USERNAME)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	var errs []error
	switch c.Source.Kind {
	case "instagram", "html":
	default:
		errs = append(errs, fmt.Errorf("source.kind: unknown kind %q", c.Source.Kind))
	}
	if c.Source.Lookahead < 1 || c.Source.Lookahead > MaxLookahead {
		errs = append(errs, fmt.Errorf("source.lookahead: must be within 1..%d", MaxLookahead))
	}
	if c.Source.RatePerMin < 0 {
		errs = append(errs, fmt.Errorf("source.rate_per_min: must be >= 0"))
	}
	if c.Watch.LedgerCap < 1 {
		errs = append(errs, fmt.Errorf("watch.ledger_cap: must be >= 1"))
	}
	if _, err := scheduler.ParseSchedule(c.Watch.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("watch.schedule: %w", err))
	}
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Liveness.Port < 1 || c.Liveness.Port > 65535 {
		errs = append(errs, fmt.Errorf("liveness.port: out of range: %d", c.Liveness.Port))
	}
	if strings.ContainsAny(c.Commands.Prefix, " \t\n") {
		errs = append(errs, fmt.Errorf("commands.prefix: must not contain whitespace"))
	}
	if !logx.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"source.timeout":        c.Source.Timeout,
		"watch.tick_timeout":    c.Watch.TickTimeout,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckFile rejects a config file at path that is also the file driver's
// settings file, since setchannel would write channel_id into it.
func (c *Config) CheckFile(path string) error {
	if strings.TrimSpace(path) == "" || c.Storage.Driver != "file" {
		return nil
	}
	settings := filepath.Join(c.Storage.Path, storage.SettingsFileName)
	if !samePath(path, settings) {
		return nil
	}
	return fmt.Errorf("%w: %s; move the config file or set storage.path (DATA_DIR) elsewhere", ErrSettingsCollision, path)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	// symlinked or bind-mounted dirs
	fa, errA := os.Stat(a)
	fb, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(fa, fb)
}
