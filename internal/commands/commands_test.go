package commands

import (
	"context"
	"errors"
	"strings"
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
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

const (
	ownerID    = int64(7)
	strangerID = int64(99)
	groupChat  = int64(-100500)
)

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	opts []*transport.SendOptions
}

func (c *captureSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.opts = append(c.opts, opt)
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) last(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.msgs)
	return c.msgs[len(c.msgs)-1]
}

type fakePoller struct {
	res         watch.Result
	calls       int
	hadDeadline bool
}

func (f *fakePoller) Tick(ctx context.Context) watch.Result {
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	return f.res
}

func (f *fakePoller) Options() watch.Options { return watch.Options{Account: "natgeo", Lookahead: 4} }

type env struct {
	router *Router
	sender *captureSender
	store  *storage.Memory
	state  *state.State
	poller *fakePoller
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := storage.NewMemory()
	s := state.New(st, ledger.New(st, 50), time.Now().Add(-time.Hour))
	snd := &captureSender{}
	p := &fakePoller{res: watch.Result{Outcome: watch.OutcomeNoNewPost}}

	r := NewRouter(snd, st, logx.Nop())
	r.SetOwners([]int64{ownerID})
	r.SetBotUsername("postwatch_bot")
	r.Register(Builtin(Deps{State: s, Poller: p})...)
	return &env{router: r, sender: snd, store: st, state: s, poller: p}
}

func (e *env) send(from int64, text string) bool {
	return e.router.Dispatch(context.Background(), transport.Message{ChatID: groupChat, FromID: from, Text: text, IsGroup: true})
}

func TestSetChannelDefaultsToCurrentChat(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	require.True(t, e.send(ownerID, "/setchannel"))

	id, ok := e.state.Target()
	require.True(t, ok)
	assert.Equal(t, groupChat, id)
	assert.Contains(t, e.sender.last(t), "-100500")

	var persisted int64
	require.NoError(t, e.store.GetSetting(context.Background(), state.KeyChannelID, &persisted))
	assert.Equal(t, groupChat, persisted)
}

func TestSetChannelExplicitNegativeID(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.send(ownerID, "/setchannel -1009876543210")
	id, _ := e.state.Target()
	assert.Equal(t, int64(-1009876543210), id)
}

func TestSetChannelRejectsNonOwner(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.send(strangerID, "/setchannel")

	_, ok := e.state.Target()
	assert.False(t, ok)
	assert.Contains(t, e.sender.last(t), "restricted")

	audit := e.store.Audit()
	require.Len(t, audit, 1)
	assert.False(t, audit[0].OK)
	assert.Equal(t, strangerID, audit[0].ActorID)
	assert.Equal(t, "setchannel", audit[0].Action)
}

func TestSetChannelInvalidID(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.send(ownerID, "/setchannel general")
	_, ok := e.state.Target()
	assert.False(t, ok)
	assert.Contains(t, e.sender.last(t), "invalid chat id")
}

func TestCheckRunsTickAndReports(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.poller.res = watch.Result{Outcome: watch.OutcomeSent, Post: source.Post{Shortcode: "ABCDE"}}
	e.send(ownerID, "/check")
	assert.Equal(t, 1, e.poller.calls)
	assert.False(t, e.poller.hadDeadline, "the poller owns the tick timeout")
	assert.Equal(t, "✅ announced https://www.instagram.com/p/ABCDE/", e.sender.last(t))

	e.send(strangerID, "/check")
	assert.Equal(t, 1, e.poller.calls)
}

func TestDescribeResult(t *testing.T) {
	t.Parallel()
	tests := []struct {
		res  watch.Result
		want string
	}{
		{watch.Result{Outcome: watch.OutcomeNoTarget}, "no channel set. use !setchannel"},
		{watch.Result{Outcome: watch.OutcomeNoNewPost}, "no new post"},
		{watch.Result{Outcome: watch.OutcomeFetchError, Err: source.ErrRateLimited}, "⚠️ fetch failed: source: rate limited"},
		{watch.Result{Outcome: watch.OutcomeSendError, Err: errors.New("forbidden")}, "⚠️ could not post to the channel: forbidden"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DescribeResult(tt.res, "!"))
	}
}

func TestStatusReportsState(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.send(strangerID, "/uptime")
	out := e.sender.last(t)
	assert.True(t, strings.HasPrefix(out, "🟢 up 1h"), out)
	assert.Contains(t, out, "account: @natgeo")
	assert.Contains(t, out, "channel: not set (use /setchannel)")
	assert.Contains(t, out, "seen posts: 0/50")
	assert.Contains(t, out, "last check: never")
}

func TestSayEchoesRawText(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.send(strangerID, "/echo  hello   \"world\"")
	assert.Equal(t, "hello   \"world\"", e.sender.last(t))

	e.send(strangerID, "/say")
	assert.Equal(t, "usage: /say <text>", e.sender.last(t))
}

func TestHelpListsCommands(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.send(strangerID, "/commands")
	out := e.sender.last(t)
	for _, name := range []string{"/setchannel", "/status", "/check", "/say", "/help"} {
		assert.Contains(t, out, name)
	}
	e.sender.mu.Lock()
	assert.Equal(t, "HTML", e.sender.opts[len(e.sender.opts)-1].ParseMode)
	e.sender.mu.Unlock()

	e.send(strangerID, "/help setchannel")
	assert.Contains(t, e.sender.last(t), "owner only")
	assert.Contains(t, e.sender.last(t), "Channel posts have no sender")
}

func TestChannelPostGetsSetChannelHint(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	post := func(text string) bool {
		return e.router.Dispatch(context.Background(), transport.Message{ChatID: -1001234, Text: text, IsGroup: true, IsChannel: true})
	}

	require.True(t, post("/setchannel"))
	_, ok := e.state.Target()
	assert.False(t, ok)
	assert.Equal(t, "owner commands cannot run from channel posts. to announce here, send /setchannel -1001234 to the bot in a private chat.", e.sender.last(t))
	assert.Empty(t, e.store.Audit())

	e.sender.mu.Lock()
	n := len(e.sender.msgs)
	e.sender.mu.Unlock()
	assert.False(t, post("/dance"))
	assert.True(t, post("/status"))
	assert.False(t, post("just a caption"))
	e.sender.mu.Lock()
	defer e.sender.mu.Unlock()
	assert.Len(t, e.sender.msgs, n)
}

func TestUnknownAndNonCommands(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	assert.False(t, e.send(strangerID, "hello there"))
	assert.False(t, e.send(strangerID, "/status@someotherbot"))

	assert.True(t, e.send(strangerID, "/dance"))
	assert.Equal(t, "unknown command. try /help", e.sender.last(t))

	assert.True(t, e.send(strangerID, "/STATUS@PostWatch_Bot"))
}

func TestCustomPrefix(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.router.SetPrefix("!")
	assert.False(t, e.send(strangerID, "/status"))
	assert.True(t, e.send(strangerID, "!say hi"))
	assert.Equal(t, "hi", e.sender.last(t))
}

func TestMenuEntries(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	menu := e.router.Menu()
	names := make([]string, 0, len(menu))
	for _, m := range menu {
		names = append(names, m.Command)
		assert.NotEmpty(t, m.Description)
	}
	assert.Equal(t, []string{"check", "help", "say", "setchannel", "status"}, names)
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	got := tokenize(`a "b c" 'd e' f\ g`)
	assert.Equal(t, []string{"a", "b c", "d e", "f g"}, got)
	assert.Nil(t, tokenize("   "))
}

func TestPanickingHandlerIsContained(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.router.Register(Command{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("x") }})
	assert.NotPanics(t, func() { e.send(strangerID, "/boom") })
}
