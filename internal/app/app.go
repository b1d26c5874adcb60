// Package app wires configuration, storage, the Telegram adapter, the event
// loop and the poll trigger into a running bot.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"postwatch/internal/bot"
	"postwatch/internal/commands"
	"postwatch/internal/config"
	"postwatch/internal/liveness"
	"postwatch/internal/scheduler"
	"postwatch/internal/supervisor"
	"postwatch/internal/transport/telegram"
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

// fetchFailureWarnAfter is how many failed polls in a row escalate to a warning.
const fetchFailureWarnAfter = 3

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	adapter *telegram.Adapter
	pipe    *Pipeline
	loop    *bot.Loop
	router  *commands.Router
	trigger *scheduler.Trigger
	live    *liveness.Server

	fetchFailures int
}

// New builds the app from the committed config of cfgm (loading it if
// needed). Nothing runs until Start.
func New(cfgm *config.Manager, environ map[string]string) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.PollTimeoutDuration(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg), ad)
	cfgm.SetLogger(log.Named("config"))
	log = log.Named("app")
	if environ != nil {
		log.Debug("startup environment", logx.Any("env", config.EnvPresence(environ)))
	}

	pipe, err := NewPipeline(context.Background(), cfg, ad, nil, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		adapter: ad,
		pipe:    pipe,
	}

	a.loop = bot.New(pipe.Watcher, cfg.Watch.TickTimeoutDuration(), log)
	a.loop.OnResult(a.onResult)
	a.trigger = scheduler.New(func() {
		if !a.loop.RequestTick() {
			a.log.Debug("tick already pending; merged")
		}
	}, time.Local, log.Named("scheduler"))

	a.router = commands.NewRouter(ad, pipe.Store, log.Named("commands"))
	a.router.SetPrefix(cfg.Commands.Prefix)
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.router.SetBotUsername(ad.Username())
	a.router.Register(commands.Builtin(commands.Deps{
		State:    pipe.State,
		Poller:   a.loop,
		Schedule: a.trigger,
	})...)
	a.loop.SetDispatcher(a.router)

	if cfg.Liveness.IsEnabled() {
		a.live = liveness.New(cfg.Liveness.Port, log)
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		log.Warn("no owner_user_ids configured; owner-only commands are disabled")
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	spec, err := scheduler.ParseSchedule(cfg.Watch.Schedule)
	if err != nil {
		return err
	}

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.adapter.Start(a.sup.Context(), a.loop.Updates()); err != nil {
		return err
	}
	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.router.Menu()); err != nil {
		a.log.Warn("menu commands not updated", logx.Err(err))
	}
	cancel()

	a.sup.GoRestart("loop", a.loop.Run, time.Second, 30*time.Second)
	if a.live != nil {
		a.sup.Go("liveness", a.live.Run)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if err := a.trigger.Start(spec); err != nil {
		return err
	}
	if cfg.Watch.ShouldRunOnStart() {
		a.loop.RequestTick()
	}

	a.log.Info("app started",
		logx.String("account", cfg.Source.Account),
		logx.String("schedule", spec.String()),
		logx.Time("next", a.trigger.Next()),
		logx.String("target", describeTarget(a.pipe.State)),
		logx.Int("ledger", a.pipe.State.Ledger().Len()),
	)
	return nil
}

// onResult tracks consecutive fetch failures across scheduled and manual ticks.
func (a *App) onResult(res watch.Result) {
	switch res.Outcome {
	case watch.OutcomeFetchError:
		a.fetchFailures++
		if a.fetchFailures == fetchFailureWarnAfter {
			a.log.Warn("profile fetch failing repeatedly", logx.Int("consecutive", a.fetchFailures), logx.Err(res.Err))
		}
	case watch.OutcomeNoTarget:
	default:
		if a.fetchFailures >= fetchFailureWarnAfter {
			a.log.Info("profile fetch recovered", logx.Int("after", a.fetchFailures))
		}
		a.fetchFailures = 0
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(last, cfg)
			last = cfg
		}
	}
}

// apply pushes the live-reloadable parts of cfg into running components.
func (a *App) apply(old, cfg *config.Config) {
	a.logs.Apply(logConfig(cfg))
	a.router.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.router.SetPrefix(cfg.Commands.Prefix)
	a.pipe.Watcher.Apply(watchOptions(cfg))

	if spec, err := scheduler.ParseSchedule(cfg.Watch.Schedule); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	} else if spec.String() != a.trigger.Spec().String() {
		if err := a.trigger.Reschedule(spec); err != nil {
			a.log.Warn("reschedule failed", logx.Err(err))
		} else {
			a.log.Info("schedule changed", logx.String("schedule", spec.String()), logx.Time("next", a.trigger.Next()))
		}
	}

	if pending := restartRequired(old, cfg); len(pending) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("changed", strings.Join(pending, ",")))
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := stepRunner(ctx, a.log)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.trigger.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	// the loop finishes its current tick (and ledger write) before returning
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("storage", 1*time.Second, func(context.Context) error { return a.pipe.Close() })

	run, merged := a.loop.Stats()
	a.log.Info("stopped", logx.Int64("ticks", int64(run)), logx.Int64("merged", int64(merged)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	if err := a.sup.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) closeResources() error {
	err := a.pipe.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
