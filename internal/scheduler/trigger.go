package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"postwatch/pkg/logx"
)

// Trigger owns one cron entry that calls fire on schedule. It never runs the
// poll itself; fire is expected to hand the request off and return.
type Trigger struct {
	mu   sync.Mutex
	c    *cron.Cron
	id   cron.EntryID
	spec Spec
	fire func()

	loc *time.Location
	log logx.Logger
}

func New(fire func(), loc *time.Location, log logx.Logger) *Trigger {
	if loc == nil {
		loc = time.Local
	}
	return &Trigger{fire: fire, loc: loc, log: log}
}

func (t *Trigger) Start(spec Spec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c != nil {
		return fmt.Errorf("scheduler already started")
	}

	cl := cronLogger{log: t.log}
	t.c = cron.New(
		cron.WithLocation(t.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if err := t.addLocked(spec); err != nil {
		t.c = nil
		return err
	}
	t.c.Start()
	t.log.Info("scheduler started", logx.String("schedule", spec.String()), logx.Time("next", t.nextLocked()))
	return nil
}

// Reschedule swaps the entry for a new spec without restarting cron.
func (t *Trigger) Reschedule(spec Spec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return fmt.Errorf("scheduler not started")
	}
	if spec == t.spec {
		return nil
	}
	old := t.id
	if err := t.addLocked(spec); err != nil {
		return err
	}
	t.c.Remove(old)
	t.log.Info("schedule changed", logx.String("schedule", spec.String()), logx.Time("next", t.nextLocked()))
	return nil
}

func (t *Trigger) addLocked(spec Spec) error {
	sched, err := spec.Schedule()
	if err != nil {
		return err
	}
	t.id = t.c.Schedule(sched, cron.FuncJob(t.fire))
	t.spec = spec
	return nil
}

func (t *Trigger) Spec() Spec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spec
}

// Next reports the next planned trigger, or zero when stopped.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextLocked()
}

func (t *Trigger) nextLocked() time.Time {
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.id).Next
}

func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	t.log.Info("scheduler stopped")
}

// cronLogger routes robfig/cron's logr-style output into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
