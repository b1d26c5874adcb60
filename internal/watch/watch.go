// Package watch runs one poll-and-notify cycle per Tick.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postwatch/internal/source"
	"postwatch/internal/state"
	"postwatch/internal/transport"
	"postwatch/pkg/logx"
)

type Outcome int

const (
	OutcomeNoTarget Outcome = iota
	OutcomeNoNewPost
	OutcomeSent
	OutcomeFetchError
	OutcomeSendError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoTarget:
		return "no_target"
	case OutcomeNoNewPost:
		return "no_new_post"
	case OutcomeSent:
		return "sent"
	case OutcomeFetchError:
		return "fetch_error"
	case OutcomeSendError:
		return "send_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one tick. Post is set whenever a candidate was found.
// Err is set for fetch and send failures, and on OutcomeSent when the ledger
// could not be persisted.
type Result struct {
	Outcome Outcome
	Post    source.Post
	Err     error
	At      time.Time
}

type Options struct {
	Account   string
	Lookahead int
	// Prefix is the line above the URL; empty sends the URL alone.
	Prefix string
}

type Watcher struct {
	fetcher source.Fetcher
	sender  transport.Sender
	state   *state.State
	log     logx.Logger
	now     func() time.Time

	mu   sync.RWMutex
	opts Options
}

func New(f source.Fetcher, s transport.Sender, st *state.State, opts Options, log logx.Logger) *Watcher {
	w := &Watcher{
		fetcher: f,
		sender:  s,
		state:   st,
		log:     log.Named("watch"),
		now:     time.Now,
	}
	w.Apply(opts)
	return w
}

// Apply swaps options; used on config reload.
func (w *Watcher) Apply(opts Options) {
	if opts.Lookahead <= 0 {
		opts.Lookahead = 4
	}
	w.mu.Lock()
	w.opts = opts
	w.mu.Unlock()
}

func (w *Watcher) Options() Options {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.opts
}

// Tick fetches the profile's newest posts and announces the newest
// non-pinned one if it has not been announced before. It sends at most one
// message and never panics on remote failures.
func (w *Watcher) Tick(ctx context.Context) Result {
	res := w.tick(ctx)
	res.At = w.now()

	rec := state.TickRecord{At: res.At, Outcome: res.Outcome.String()}
	if res.Err != nil {
		rec.Err = res.Err.Error()
	}
	if res.Outcome == OutcomeSent {
		rec.PostURL = res.Post.URL()
	}
	w.state.RecordTick(rec)
	return res
}

func (w *Watcher) tick(ctx context.Context) Result {
	target, ok := w.state.Target()
	if !ok {
		w.log.Debug("no notification target; skipping poll")
		return Result{Outcome: OutcomeNoTarget}
	}
	opts := w.Options()

	posts, err := w.fetcher.Recent(ctx, opts.Account, opts.Lookahead)
	if err != nil {
		w.log.Warn("fetch failed", logx.String("account", opts.Account), logx.Err(err))
		return Result{Outcome: OutcomeFetchError, Err: err}
	}

	post, found := newestUnpinned(posts, opts.Lookahead)
	if !found {
		w.log.Debug("no unpinned post in lookahead", logx.Int("fetched", len(posts)))
		return Result{Outcome: OutcomeNoNewPost}
	}
	led := w.state.Ledger()
	if led.Contains(post.Shortcode) {
		w.log.Debug("newest post already announced", logx.String("shortcode", post.Shortcode))
		return Result{Outcome: OutcomeNoNewPost, Post: post}
	}

	text := Message(opts.Prefix, post)
	if _, err := w.sender.SendText(ctx, transport.ChatTarget{ChatID: target}, text, nil); err != nil {
		w.log.Error("notification failed",
			logx.Int64("channel_id", target),
			logx.String("shortcode", post.Shortcode),
			logx.Err(err),
		)
		return Result{Outcome: OutcomeSendError, Post: post, Err: err}
	}

	res := Result{Outcome: OutcomeSent, Post: post}
	// the message is out; record it even if the tick is being canceled
	if err := led.Record(context.WithoutCancel(ctx), post.Shortcode); err != nil {
		w.log.Error("ledger persist failed after send", logx.String("shortcode", post.Shortcode), logx.Err(err))
		res.Err = err
	}
	w.log.Info("new post announced",
		logx.String("url", post.URL()),
		logx.Int64("channel_id", target),
	)
	return res
}

// newestUnpinned returns the first non-pinned post within the first
// lookahead entries.
func newestUnpinned(posts []source.Post, lookahead int) (source.Post, bool) {
	for i, p := range posts {
		if i >= lookahead {
			break
		}
		if !p.Pinned {
			return p, true
		}
	}
	return source.Post{}, false
}

// Message renders the notification text.
func Message(prefix string, p source.Post) string {
	if prefix == "" {
		return p.URL()
	}
	return prefix + "\n" + p.URL()
}
