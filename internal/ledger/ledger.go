// Package ledger tracks which posts have already been announced.
//
// The ledger is an ordered, duplicate-free list of post ids bounded to the
// most recent Cap entries. Every successful Record persists the whole list.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"postwatch/internal/storage"
	"postwatch/pkg/logx"
)

const DefaultCap = 50

// Store is the slice of storage.Store the ledger needs.
type Store interface {
	LoadSeen(ctx context.Context) ([]string, error)
	SaveSeen(ctx context.Context, ids []string) error
}

type Ledger struct {
	mu    sync.Mutex
	ids   []string
	index map[string]struct{}
	cap   int
	store Store
}

// New returns an empty ledger writing through to store. A nil store keeps
// the ledger in memory only.
func New(store Store, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Ledger{
		index: make(map[string]struct{}, capacity),
		cap:   capacity,
		store: store,
	}
}

// Load restores the ledger from store. Missing or unreadable data yields an
// empty ledger; startup never fails because of it. Stored duplicates are
// collapsed and anything beyond capacity keeps only the newest entries.
func Load(ctx context.Context, store Store, capacity int, log logx.Logger) *Ledger {
	l := New(store, capacity)
	if store == nil {
		return l
	}
	ids, err := store.LoadSeen(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Info("no seen-posts ledger yet; starting empty")
		return l
	case err != nil:
		log.Warn("seen-posts ledger unreadable; starting empty", logx.Err(err))
		return l
	}

	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := l.index[id]; dup {
			continue
		}
		l.index[id] = struct{}{}
		l.ids = append(l.ids, id)
	}
	l.trimLocked()
	log.Info("seen-posts ledger loaded", logx.Int("entries", len(l.ids)), logx.Int("cap", l.cap))
	return l
}

func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

// Record appends id, evicts the oldest entries beyond capacity and persists.
// A known id is a no-op. If persisting fails the id stays recorded in memory
// and the error is returned.
func (l *Ledger) Record(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("ledger: empty id")
	}
	l.mu.Lock()
	if _, ok := l.index[id]; ok {
		l.mu.Unlock()
		return nil
	}
	l.index[id] = struct{}{}
	l.ids = append(l.ids, id)
	l.trimLocked()
	snap := append([]string(nil), l.ids...)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.SaveSeen(ctx, snap); err != nil {
		return fmt.Errorf("ledger: persist: %w", err)
	}
	return nil
}

func (l *Ledger) trimLocked() {
	if over := len(l.ids) - l.cap; over > 0 {
		for _, id := range l.ids[:over] {
			delete(l.index, id)
		}
		l.ids = append([]string(nil), l.ids[over:]...)
	}
}

// Snapshot returns the ids, oldest first.
func (l *Ledger) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *Ledger) Cap() int { return l.cap }
