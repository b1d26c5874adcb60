package app

import (
	"context"
	"fmt"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/ledger"
	"postwatch/internal/source"
	"postwatch/internal/state"
	"postwatch/internal/storage"
	"postwatch/internal/transport"
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

// Pipeline is the poll-and-notify stack shared by the daemon and the
// one-shot CLI commands.
type Pipeline struct {
	Store   storage.Store
	State   *state.State
	Watcher *watch.Watcher
}

// NewPipeline opens storage, restores the ledger and target, and builds the
// watcher. A nil fetcher is built from cfg.Source.
func NewPipeline(ctx context.Context, cfg *config.Config, sender transport.Sender, f source.Fetcher, log logx.Logger) (*Pipeline, error) {
	sc, err := storageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.Named("storage"))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	if f == nil {
		f, err = source.New(sourceOptions(cfg, log))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	led := ledger.Load(ctx, store, cfg.Watch.LedgerCap, log.Named("ledger"))
	st := state.New(store, led, time.Now())
	if err := st.Load(ctx, cfg.Watch.ChannelID, log.Named("state")); err != nil {
		_ = store.Close()
		return nil, err
	}

	w := watch.New(f, sender, st, watchOptions(cfg), log.Named("watch"))
	return &Pipeline{Store: store, State: st, Watcher: w}, nil
}

func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

func storageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func sourceOptions(cfg *config.Config, log logx.Logger) source.Options {
	return source.Options{
		Kind:       cfg.Source.Kind,
		BaseURL:    cfg.Source.BaseURL,
		AppID:      cfg.Source.AppID,
		Timeout:    cfg.Source.FetchTimeout(),
		RatePerMin: cfg.Source.RatePerMin,
		Log:        log.Named("source"),
	}
}

func watchOptions(cfg *config.Config) watch.Options {
	return watch.Options{
		Account:   cfg.Source.Account,
		Lookahead: cfg.Source.Lookahead,
		Prefix:    cfg.Watch.Prefix(),
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Logging.Telegram.ChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// restartRequired lists changed settings that only take effect on restart.
func restartRequired(old, cur *config.Config) []string {
	if old == nil || cur == nil {
		return nil
	}
	var out []string
	add := func(changed bool, name string) {
		if changed {
			out = append(out, name)
		}
	}
	add(old.Telegram.Token != cur.Telegram.Token, "telegram.token")
	add(old.Telegram.PollTimeout != cur.Telegram.PollTimeout, "telegram.poll_timeout")
	add(old.Source.Kind != cur.Source.Kind || old.Source.BaseURL != cur.Source.BaseURL ||
		old.Source.AppID != cur.Source.AppID || old.Source.Timeout != cur.Source.Timeout ||
		old.Source.RatePerMin != cur.Source.RatePerMin, "source")
	add(old.Storage != cur.Storage, "storage")
	add(old.Watch.LedgerCap != cur.Watch.LedgerCap, "watch.ledger_cap")
	add(old.Watch.TickTimeout != cur.Watch.TickTimeout, "watch.tick_timeout")
	add(old.Liveness.Port != cur.Liveness.Port || old.Liveness.IsEnabled() != cur.Liveness.IsEnabled(), "liveness")
	return out
}

// describeTarget is used by the ledger CLI output.
func describeTarget(st *state.State) string {
	if id, ok := st.Target(); ok {
		return fmt.Sprintf("%d", id)
	}
	return "unset"
}
