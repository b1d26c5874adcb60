package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"postwatch/internal/transport"
)

type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.raw, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
	if ValidLevel("verbose") {
		t.Fatal("expected verbose to be rejected")
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	line := []byte(`{"level":"warn","time":"x","message":"fetch failed","comp":"watch","err":"boom"}` + "\n")
	got := formatTelegramJSON(line)
	want := "[WARN] fetch failed\n- comp=watch\n- err=boom"
	if got != want {
		t.Fatalf("formatTelegramJSON = %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("not json")); got != "not json" {
		t.Fatalf("raw passthrough = %q", got)
	}
}

func TestTelegramSinkRespectsMinLevel(t *testing.T) {
	snd := &captureSender{}
	svc, log := New(Config{
		Level: "debug",
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -100,
			MinLevel:   "warn",
			RatePerSec: 10,
		},
	}, snd)
	defer svc.Close()

	log.Info("quiet")
	log.Warn("loud", String("k", "v"))

	deadline := time.Now().Add(2 * time.Second)
	for snd.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := snd.count(); n != 1 {
		t.Fatalf("sent %d messages, want 1", n)
	}
	snd.mu.Lock()
	defer snd.mu.Unlock()
	if !strings.HasPrefix(snd.sent[0], "[WARN] loud") {
		t.Fatalf("unexpected message: %q", snd.sent[0])
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("should not panic")
	l.With(String("a", "b")).Error("still fine")
}

func TestNamedReplacesComponent(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := Logger{base: zerolog.New(&buf), hasBase: true}

	l.Named("app").Named("loop").Info("tick", Int("n", 1))
	out := buf.String()
	if strings.Count(out, `"comp"`) != 1 || !strings.Contains(out, `"comp":"loop"`) {
		t.Fatalf("unexpected line: %s", out)
	}
}
