package scheduler

import (
	"context"
	"testing"
	"time"

	"postwatch/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		kind  SpecKind
		every time.Duration
		cron  string
	}{
		{raw: "5m", kind: SpecInterval, every: 5 * time.Minute},
		{raw: "every:300s", kind: SpecInterval, every: 5 * time.Minute},
		{raw: "Interval: 00:05", kind: SpecInterval, every: 5 * time.Minute},
		{raw: "02:30", kind: SpecInterval, every: 2*time.Hour + 30*time.Minute},
		{raw: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{raw: "0 */5 * * * *", kind: SpecCron, cron: "0 */5 * * * *"},
		{raw: "@every 10m", kind: SpecCron, cron: "@every 10m"},
		{raw: "cron:@hourly", kind: SpecCron, cron: "@hourly"},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
		}
		if got.Kind != tt.kind || got.Every != tt.every || got.Cron != tt.cron {
			t.Fatalf("ParseSchedule(%q) = %+v", tt.raw, got)
		}
		if _, err := got.Schedule(); err != nil {
			t.Fatalf("Schedule() for %q: %v", tt.raw, err)
		}
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "every:", "1s", "00:75", "cron:", "cron:61 * * * *", "every:-5m"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) expected error", raw)
		}
	}
}

func TestTriggerFiresAndReschedules(t *testing.T) {
	t.Parallel()
	fired := make(chan struct{}, 8)
	tr := New(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, time.UTC, logx.Nop())

	// @every bypasses the interval floor so the test stays fast.
	spec, err := ParseSchedule("@every 1s")
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Start(spec); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	if err := tr.Start(spec); err == nil {
		t.Fatal("second Start should fail")
	}
	if tr.Next().IsZero() {
		t.Fatal("Next() should be set while running")
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}

	hourly, _ := ParseSchedule("every:1h")
	if err := tr.Reschedule(hourly); err != nil {
		t.Fatal(err)
	}
	if got := tr.Spec(); got != hourly {
		t.Fatalf("Spec() = %+v, want %+v", got, hourly)
	}
	if until := time.Until(tr.Next()); until < 59*time.Minute {
		t.Fatalf("next trigger in %s, want about an hour", until)
	}
}
