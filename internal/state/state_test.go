package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"postwatch/internal/storage"
	"postwatch/pkg/logx"
)

type brokenStore struct{ getErr, setErr error }

func (b brokenStore) GetSetting(ctx context.Context, key string, out any) error { return b.getErr }
func (b brokenStore) SetSetting(ctx context.Context, key string, v any) error   { return b.setErr }

func TestLoadPrefersPersistedTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	if err := st.SetSetting(ctx, KeyChannelID, int64(-100)); err != nil {
		t.Fatal(err)
	}
	s := New(st, nil, time.Now())
	if err := s.Load(ctx, -200, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if id, ok := s.Target(); !ok || id != -100 {
		t.Fatalf("Target() = %d, %v; want -100, true", id, ok)
	}
}

func TestLoadSeedsWhenUnset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	s := New(st, nil, time.Now())
	if err := s.Load(ctx, -200, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	var persisted int64
	if err := st.GetSetting(ctx, KeyChannelID, &persisted); err != nil || persisted != -200 {
		t.Fatalf("persisted = %d, %v", persisted, err)
	}
}

func TestLoadWithoutSeedLeavesUnset(t *testing.T) {
	t.Parallel()
	s := New(storage.NewMemory(), nil, time.Now())
	if err := s.Load(context.Background(), 0, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Target(); ok {
		t.Fatal("target should be unset")
	}
}

func TestLoadCorruptSettingsIsNotFatal(t *testing.T) {
	t.Parallel()
	s := New(brokenStore{getErr: storage.ErrCorrupt}, nil, time.Now())
	if err := s.Load(context.Background(), 0, logx.Nop()); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if _, ok := s.Target(); ok {
		t.Fatal("target should be unset")
	}
}

func TestSetTargetFailureKeepsOldTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(brokenStore{getErr: storage.ErrNotFound, setErr: errors.New("disk full")}, nil, time.Now())
	if err := s.SetTarget(ctx, 5); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := s.Target(); ok {
		t.Fatal("target should stay unset after failed persist")
	}
	if err := s.SetTarget(ctx, 0); err == nil {
		t.Fatal("zero id must be rejected")
	}
}

func TestTickBookkeeping(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(storage.NewMemory(), nil, start)
	if got := s.Uptime(start.Add(90 * time.Second)); got != 90*time.Second {
		t.Fatalf("Uptime = %s", got)
	}
	if _, ok := s.LastTick(); ok {
		t.Fatal("no tick yet")
	}
	s.RecordTick(TickRecord{At: start, Outcome: "sent", PostURL: "https://www.instagram.com/p/X/"})
	s.RecordTick(TickRecord{At: start.Add(time.Minute), Outcome: "no_new_post"})

	last, _ := s.LastTick()
	if last.Outcome != "no_new_post" {
		t.Fatalf("LastTick = %+v", last)
	}
	sent, ok := s.LastSent()
	if !ok || sent.PostURL == "" {
		t.Fatalf("LastSent = %+v, %v", sent, ok)
	}
}
