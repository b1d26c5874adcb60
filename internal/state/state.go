// Package state holds the bot's shared runtime state: the notification
// target, the seen-posts ledger and bookkeeping about the last poll.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"postwatch/internal/ledger"
	"postwatch/internal/storage"
	"postwatch/pkg/logx"
)

// KeyChannelID is the settings key for the notification target.
const KeyChannelID = "channel_id"

type SettingsStore interface {
	GetSetting(ctx context.Context, key string, out any) error
	SetSetting(ctx context.Context, key string, v any) error
}

// TickRecord summarizes one poll for status reporting.
type TickRecord struct {
	At      time.Time
	Outcome string
	PostURL string
	Err     string
}

type State struct {
	store   SettingsStore
	ledger  *ledger.Ledger
	started time.Time

	mu        sync.RWMutex
	target    int64
	hasTarget bool
	last      TickRecord
	hasLast   bool
	lastSent  TickRecord
}

func New(store SettingsStore, led *ledger.Ledger, started time.Time) *State {
	return &State{store: store, ledger: led, started: started}
}

// Load reads the persisted target. When none is stored and seed is non-zero
// the seed becomes the target and is persisted. Unreadable settings leave
// the target unset.
func (s *State) Load(ctx context.Context, seed int64, log logx.Logger) error {
	var id int64
	err := s.store.GetSetting(ctx, KeyChannelID, &id)
	switch {
	case err == nil && id != 0:
		s.mu.Lock()
		s.target, s.hasTarget = id, true
		s.mu.Unlock()
		log.Info("notification target loaded", logx.Int64("channel_id", id))
		return nil
	case err == nil, errors.Is(err, storage.ErrNotFound):
	default:
		log.Warn("settings unreadable; target unset", logx.Err(err))
	}

	if seed == 0 {
		log.Info("no notification target set; use the setchannel command")
		return nil
	}
	if err := s.SetTarget(ctx, seed); err != nil {
		return fmt.Errorf("seed target: %w", err)
	}
	log.Info("notification target seeded from config", logx.Int64("channel_id", seed))
	return nil
}

// Target returns the configured chat id, if any.
func (s *State) Target() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.target, s.hasTarget
}

// SetTarget persists id and then makes it the active target.
func (s *State) SetTarget(ctx context.Context, id int64) error {
	if id == 0 {
		return fmt.Errorf("invalid channel id 0")
	}
	if err := s.store.SetSetting(ctx, KeyChannelID, id); err != nil {
		return fmt.Errorf("persist %s: %w", KeyChannelID, err)
	}
	s.mu.Lock()
	s.target, s.hasTarget = id, true
	s.mu.Unlock()
	return nil
}

func (s *State) Ledger() *ledger.Ledger { return s.ledger }

func (s *State) Uptime(now time.Time) time.Duration { return now.Sub(s.started) }

func (s *State) RecordTick(r TickRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last, s.hasLast = r, true
	if r.PostURL != "" {
		s.lastSent = r
	}
}

// LastTick returns the most recent poll, if one ran.
func (s *State) LastTick() (TickRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// LastSent returns the most recent poll that produced a notification.
func (s *State) LastSent() (TickRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSent, s.lastSent.PostURL != ""
}
