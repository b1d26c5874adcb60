// Package bot runs the single event loop that serializes operator commands
// and scheduled polls.
package bot

import (
	"context"
	"sync/atomic"
	"time"

	"postwatch/internal/transport"
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

// Dispatcher handles one chat message. *commands.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg transport.Message) bool
}

// Watcher runs one poll. *watch.Watcher satisfies it.
type Watcher interface {
	Tick(ctx context.Context) watch.Result
	Options() watch.Options
}

const updateBuffer = 64

// Loop owns all user-visible work. Updates and tick requests are handled
// one at a time on the goroutine running Run.
type Loop struct {
	updates chan transport.Update
	ticks   chan struct{}

	dispatch    Dispatcher
	watcher     Watcher
	tickTimeout time.Duration
	log         logx.Logger

	ticksRun    atomic.Uint64
	ticksMerged atomic.Uint64
	onResult    func(watch.Result)
}

func New(w Watcher, tickTimeout time.Duration, log logx.Logger) *Loop {
	return &Loop{
		updates:     make(chan transport.Update, updateBuffer),
		ticks:       make(chan struct{}, 1),
		watcher:     w,
		tickTimeout: tickTimeout,
		log:         log.Named("loop"),
	}
}

// SetDispatcher wires the command router. It must be called before Run.
func (l *Loop) SetDispatcher(d Dispatcher) { l.dispatch = d }

// OnResult registers a hook called after every tick, scheduled or manual.
// It runs on the loop goroutine.
func (l *Loop) OnResult(fn func(watch.Result)) { l.onResult = fn }

// Updates is the channel adapters publish incoming messages to.
func (l *Loop) Updates() chan<- transport.Update { return l.updates }

// RequestTick asks the loop to poll. A request made while another is
// already pending is merged into it. Never blocks.
func (l *Loop) RequestTick() bool {
	select {
	case l.ticks <- struct{}{}:
		return true
	default:
		l.ticksMerged.Add(1)
		return false
	}
}

// Tick runs one poll bounded by the tick timeout and reports the result to
// the OnResult hook. Command handlers call it from within the loop.
func (l *Loop) Tick(ctx context.Context) watch.Result {
	if l.tickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.tickTimeout)
		defer cancel()
	}
	start := time.Now()
	res := l.watcher.Tick(ctx)
	l.ticksRun.Add(1)
	l.log.Debug("tick done",
		logx.String("outcome", res.Outcome.String()),
		logx.Duration("took", time.Since(start)),
	)
	if l.onResult != nil {
		l.onResult(res)
	}
	return res
}

func (l *Loop) Options() watch.Options { return l.watcher.Options() }

// Stats reports how many ticks ran and how many requests were merged.
func (l *Loop) Stats() (run, merged uint64) {
	return l.ticksRun.Load(), l.ticksMerged.Load()
}

func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("event loop started")
	defer l.log.Info("event loop stopped")
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-l.updates:
			l.handleUpdate(ctx, up)
		case <-l.ticks:
			l.Tick(ctx)
		}
	}
}

func (l *Loop) handleUpdate(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil || l.dispatch == nil {
		return
	}
	l.dispatch.Dispatch(ctx, *up.Message)
}
