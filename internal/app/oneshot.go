package app

import (
	"context"
	"time"

	"postwatch/internal/config"
	"postwatch/internal/ledger"
	"postwatch/internal/state"
	"postwatch/internal/storage"
	"postwatch/internal/transport/telegram"
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

// CheckOnce runs a single poll against the configured storage and chat,
// without starting the event loop or long polling.
func CheckOnce(ctx context.Context, cfg *config.Config, log logx.Logger) (watch.Result, error) {
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
	}, log)
	if err != nil {
		return watch.Result{}, err
	}
	pipe, err := NewPipeline(ctx, cfg, ad, nil, log)
	if err != nil {
		return watch.Result{}, err
	}
	defer pipe.Close()

	tctx, cancel := context.WithTimeout(ctx, cfg.Watch.TickTimeoutDuration())
	defer cancel()
	return pipe.Watcher.Tick(tctx), nil
}

type LedgerReport struct {
	Target  string
	Cap     int
	Entries []string // oldest first
}

// ReadLedger loads the persisted ledger and target without modifying them.
func ReadLedger(ctx context.Context, cfg *config.Config, log logx.Logger) (LedgerReport, error) {
	sc, err := storageConfig(cfg)
	if err != nil {
		return LedgerReport{}, err
	}
	store, err := storage.Open(sc, log.Named("storage"))
	if err != nil {
		return LedgerReport{}, err
	}
	defer store.Close()

	led := ledger.Load(ctx, store, cfg.Watch.LedgerCap, log)
	st := state.New(store, led, time.Now())
	if err := st.Load(ctx, 0, log); err != nil {
		return LedgerReport{}, err
	}
	return LedgerReport{
		Target:  describeTarget(st),
		Cap:     led.Cap(),
		Entries: led.Snapshot(),
	}, nil
}
