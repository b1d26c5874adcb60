package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postwatch/internal/ledger"
	"postwatch/internal/source"
	"postwatch/internal/state"
	"postwatch/internal/storage"
	"postwatch/internal/transport"
	"postwatch/pkg/logx"
)

type fakeFetcher struct {
	posts []source.Post
	err   error
	calls int
	limit int
}

func (f *fakeFetcher) Recent(ctx context.Context, account string, limit int) ([]source.Post, error) {
	f.calls++
	f.limit = limit
	return f.posts, f.err
}

type sent struct {
	to   int64
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (s *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return transport.MessageRef{}, s.err
	}
	s.sent = append(s.sent, sent{to: to.ChatID, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

type fixture struct {
	store   *storage.Memory
	state   *state.State
	fetcher *fakeFetcher
	sender  *fakeSender
	watcher *Watcher
}

func newFixture(t *testing.T, seen []string, capacity int, target int64) *fixture {
	t.Helper()
	ctx := context.Background()
	st := storage.NewMemory()
	if seen != nil {
		require.NoError(t, st.SaveSeen(ctx, seen))
	}
	led := ledger.Load(ctx, st, capacity, logx.Nop())
	s := state.New(st, led, time.Now())
	if target != 0 {
		require.NoError(t, s.SetTarget(ctx, target))
	}
	f := &fixture{store: st, state: s, fetcher: &fakeFetcher{}, sender: &fakeSender{}}
	f.watcher = New(f.fetcher, f.sender, s, Options{Account: "natgeo", Lookahead: 4, Prefix: "📸 New Instagram post!"}, logx.Nop())
	return f
}

func posts(codes ...string) []source.Post {
	out := make([]source.Post, 0, len(codes))
	for _, c := range codes {
		out = append(out, source.Post{Shortcode: c})
	}
	return out
}

func TestFirstSightingSendsOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, 50, -100)
	f.fetcher.posts = posts("P123")

	res := f.watcher.Tick(context.Background())
	require.Equal(t, OutcomeSent, res.Outcome)
	require.NoError(t, res.Err)
	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, int64(-100), f.sender.sent[0].to)
	assert.Equal(t, "📸 New Instagram post!\nhttps://www.instagram.com/p/P123/", f.sender.sent[0].text)
	assert.True(t, f.state.Ledger().Contains("P123"))

	res = f.watcher.Tick(context.Background())
	assert.Equal(t, OutcomeNoNewPost, res.Outcome)
	assert.Len(t, f.sender.sent, 1)
}

func TestEvictionScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"A1", "A2"}, 2, -100)
	f.fetcher.posts = posts("A3", "A2", "A1")

	res := f.watcher.Tick(ctx)
	require.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, "A3", res.Post.Shortcode)
	assert.Contains(t, f.sender.sent[0].text, "https://www.instagram.com/p/A3/")

	persisted, err := f.store.LoadSeen(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A2", "A3"}, persisted)
}

func TestPinnedPostsAreSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, 50, -100)
	f.fetcher.posts = []source.Post{
		{Shortcode: "PIN1", Pinned: true},
		{Shortcode: "PIN2", Pinned: true},
		{Shortcode: "REAL1"},
	}

	res := f.watcher.Tick(context.Background())
	require.Equal(t, OutcomeSent, res.Outcome)
	assert.Equal(t, "REAL1", res.Post.Shortcode)
	assert.False(t, f.state.Ledger().Contains("PIN1"))
	assert.Equal(t, 4, f.fetcher.limit)
}

func TestLookaheadExhausted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, 50, -100)
	f.watcher.Apply(Options{Account: "natgeo", Lookahead: 2})
	f.fetcher.posts = []source.Post{
		{Shortcode: "PIN1", Pinned: true},
		{Shortcode: "PIN2", Pinned: true},
		{Shortcode: "REAL1"},
	}

	res := f.watcher.Tick(context.Background())
	assert.Equal(t, OutcomeNoNewPost, res.Outcome)
	assert.Empty(t, f.sender.sent)
	assert.Equal(t, 0, f.state.Ledger().Len())
}

func TestOnlyNewestIsConsidered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []string{"NEW"}, 50, -100)
	f.fetcher.posts = posts("NEW", "UNSEEN_OLDER")

	res := f.watcher.Tick(context.Background())
	assert.Equal(t, OutcomeNoNewPost, res.Outcome)
	assert.Empty(t, f.sender.sent)
}

func TestNoTargetNeverFetchesOrSends(t *testing.T) {
	t.Parallel()
	for _, fetchErr := range []error{nil, errors.New("down")} {
		f := newFixture(t, nil, 50, 0)
		f.fetcher.posts = posts("P1")
		f.fetcher.err = fetchErr

		res := f.watcher.Tick(context.Background())
		assert.Equal(t, OutcomeNoTarget, res.Outcome)
		assert.Zero(t, f.fetcher.calls)
		assert.Empty(t, f.sender.sent)
	}
}

func TestFetchErrorLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, []string{"A1"}, 50, -100)
	f.fetcher.err = fmt.Errorf("wrap: %w", source.ErrRateLimited)

	res := f.watcher.Tick(ctx)
	require.Equal(t, OutcomeFetchError, res.Outcome)
	assert.ErrorIs(t, res.Err, source.ErrRateLimited)
	assert.Equal(t, []string{"A1"}, f.state.Ledger().Snapshot())
	id, ok := f.state.Target()
	assert.True(t, ok)
	assert.Equal(t, int64(-100), id)
	assert.Empty(t, f.sender.sent)

	last, ok := f.state.LastTick()
	require.True(t, ok)
	assert.Equal(t, "fetch_error", last.Outcome)
}

func TestSendErrorDoesNotRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, 50, -100)
	f.fetcher.posts = posts("P1")
	f.sender.err = errors.New("chat not found")

	res := f.watcher.Tick(context.Background())
	assert.Equal(t, OutcomeSendError, res.Outcome)
	assert.False(t, f.state.Ledger().Contains("P1"))

	f.sender.err = nil
	res = f.watcher.Tick(context.Background())
	assert.Equal(t, OutcomeSent, res.Outcome)
}

type readOnlyStore struct{ *storage.Memory }

func (readOnlyStore) SaveSeen(ctx context.Context, ids []string) error {
	return errors.New("read-only fs")
}

func TestPersistErrorStillCountsAsSent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := storage.NewMemory()
	led := ledger.New(readOnlyStore{mem}, 50)
	s := state.New(mem, led, time.Now())
	require.NoError(t, s.SetTarget(ctx, -100))
	fetcher := &fakeFetcher{posts: posts("P1")}
	sender := &fakeSender{}
	w := New(fetcher, sender, s, Options{Account: "x"}, logx.Nop())

	res := w.Tick(ctx)
	assert.Equal(t, OutcomeSent, res.Outcome)
	assert.Error(t, res.Err)

	res = w.Tick(ctx)
	assert.Equal(t, OutcomeNoNewPost, res.Outcome)
	assert.Len(t, sender.sent, 1)
}

func TestMessageWithoutPrefix(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://www.instagram.com/p/X1/", Message("", source.Post{Shortcode: "X1"}))
}

func TestLedgerInvariantsAcrossTicks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, nil, 3, -100)
	for i := 0; i < 20; i++ {
		f.fetcher.posts = posts(fmt.Sprintf("P%d", i%5))
		f.watcher.Tick(ctx)

		snap := f.state.Ledger().Snapshot()
		require.LessOrEqual(t, len(snap), 3)
		uniq := map[string]bool{}
		for _, id := range snap {
			require.False(t, uniq[id])
			uniq[id] = true
		}
	}
}
