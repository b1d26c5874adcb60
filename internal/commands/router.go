// Package commands routes operator chat commands to handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"postwatch/internal/storage"
	"postwatch/internal/transport"
	"postwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string // without the prefix, e.g. "setchannel [chat_id]"
	Notes       string // extra line for "help <command>"
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Request carries one parsed command invocation.
type Request struct {
	Message transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	// RawArgs is the text after the command word, whitespace preserved.
	RawArgs string
	Prefix  string
	ReqID   string
	Logger  logx.Logger

	sender transport.Sender
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// ReplyHTML is Reply with Telegram HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true, ParseMode: "HTML"})
	return err
}

// Auditor records privileged command outcomes.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

var ErrUnauthorized = errors.New("unauthorized")

type Router struct {
	sender transport.Sender
	audit  Auditor
	log    logx.Logger

	mu      sync.RWMutex
	prefix  string
	owners  []int64
	botName string
	cmds    map[string]*Command // name -> command
	alias   map[string]*Command
}

func NewRouter(sender transport.Sender, audit Auditor, log logx.Logger) *Router {
	return &Router{
		sender: sender,
		audit:  audit,
		log:    log.Named("commands"),
		prefix: "/",
		cmds:   map[string]*Command{},
		alias:  map[string]*Command{},
	}
}

// SetPrefix changes the command prefix. Safe to call during hot-reload.
func (r *Router) SetPrefix(p string) {
	if p == "" {
		return
	}
	r.mu.Lock()
	r.prefix = p
	r.mu.Unlock()
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetBotUsername makes the router ignore "/cmd@otherbot" in groups.
func (r *Router) SetBotUsername(name string) {
	r.mu.Lock()
	r.botName = strings.TrimPrefix(strings.TrimSpace(name), "@")
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Register replaces the command registry. help is always injected.
func (r *Router) Register(cmds ...Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"commands"},
		Description: "list commands",
		Usage:       "help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.ReplyHTML(ctx, r.helpText(req.Prefix, req.Args))
		},
	})

	byName := map[string]*Command{}
	alias := map[string]*Command{}
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = &c
	}
	for _, c := range byName {
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			if _, taken := byName[a]; !taken {
				alias[a] = c
			}
		}
	}

	r.mu.Lock()
	r.cmds = byName
	r.alias = alias
	r.mu.Unlock()
}

func (r *Router) lookup(word string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[word]; ok {
		return c, true
	}
	c, ok := r.alias[word]
	return c, ok
}

// Commands returns registered commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, *c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Menu returns the Telegram command menu entries.
func (r *Router) Menu() []transport.BotCommand {
	cmds := r.Commands()
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeMenuName(c.Name)
		if name == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = name
		}
		out = append(out, transport.BotCommand{Command: name, Description: desc})
	}
	return out
}

// Dispatch routes one incoming message. It runs the handler synchronously
// and reports whether the message was a command for this bot.
func (r *Router) Dispatch(ctx context.Context, msg transport.Message) bool {
	r.mu.RLock()
	prefix, botName := r.prefix, r.botName
	r.mu.RUnlock()

	word, bot, rest, ok := splitCommand(msg.Text, prefix)
	if !ok {
		return false
	}
	if bot != "" && botName != "" && !strings.EqualFold(bot, botName) {
		return false
	}
	chat := transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := r.lookup(word)
	if msg.IsChannel {
		// channel posts carry no sender; owner commands get a hint, the rest are ignored
		if ok && cmd.Access == AccessOwnerOnly {
			_, _ = r.sender.SendText(ctx, chat, channelHint(prefix, msg.ChatID), nil)
		}
		return ok
	}
	if !ok {
		_, _ = r.sender.SendText(ctx, chat, fmt.Sprintf("unknown command. try %shelp", prefix), nil)
		return true
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    tokenize(rest),
		RawArgs: rest,
		Prefix:  prefix,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.sender,
	}

	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWAccess(cmd.Access, r.isOwner),
		MWTimeout(cmd.Timeout),
	)
	if cmd.Access == AccessOwnerOnly && r.audit != nil {
		h = MWAudit(r.audit)(h)
	}
	_ = h(ctx, req)
	return true
}

func channelHint(prefix string, chatID int64) string {
	return fmt.Sprintf("owner commands cannot run from channel posts. to announce here, send %ssetchannel %d to the bot in a private chat.", prefix, chatID)
}

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// MWAccess rejects non-owners for owner-only commands with a chat reply.
func MWAccess(a Access, isOwner func(int64) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if a == AccessOwnerOnly && !isOwner(req.FromID) {
				_ = req.Reply(ctx, "⛔ this command is restricted to the bot owner")
				return ErrUnauthorized
			}
			return next(ctx, req)
		}
	}
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", rec),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", rec)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)
			switch {
			case errors.Is(err, ErrUnauthorized):
				logger.Warn("request denied", logx.Duration("dur", d))
			case err != nil:
				logger.Warn("request failed", logx.Duration("dur", d), logx.Err(err))
			case d >= 750*time.Millisecond:
				logger.Info("request ok", logx.Duration("dur", d))
			default:
				logger.Debug("request ok", logx.Duration("dur", d))
			}
			return err
		}
	}
}

// MWAudit appends one audit row per invocation, including denied ones.
func MWAudit(a Auditor) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			e := storage.AuditEntry{
				At:            start,
				ReqID:         req.ReqID,
				ActorID:       req.FromID,
				ActorUsername: req.Message.FromUsername,
				ChatID:        req.Chat.ChatID,
				Action:        req.Command,
				Target:        req.RawArgs,
				OK:            err == nil,
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			if aerr := a.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
				req.Logger.Warn("audit append failed", logx.Err(aerr))
			}
			return err
		}
	}
}
