package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"postwatch/internal/scheduler"
	"postwatch/internal/state"
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

// Poller runs one poll-and-notify cycle on behalf of the check command.
type Poller interface {
	Tick(ctx context.Context) watch.Result
	Options() watch.Options
}

// ScheduleInfo reports the active poll schedule. *scheduler.Trigger satisfies it.
type ScheduleInfo interface {
	Spec() scheduler.Spec
	Next() time.Time
}

// Deps are the collaborators of the builtin commands. The Poller owns the
// tick timeout; check passes the request context through unchanged.
type Deps struct {
	State    *state.State
	Poller   Poller
	Schedule ScheduleInfo // optional
	Now      func() time.Time
}

// Builtin returns the operator commands.
func Builtin(d Deps) []Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []Command{
		{
			Name:        "setchannel",
			Description: "send new-post notifications to a chat",
			Usage:       "setchannel [chat_id]",
			Notes:       "Channel posts have no sender, so run this in a private chat or group and pass the channel's id (-100...) as chat_id.",
			Access:      AccessOwnerOnly,
			Handle:      d.setChannel,
		},
		{
			Name:        "status",
			Aliases:     []string{"uptime"},
			Description: "show uptime and watch status",
			Usage:       "status",
			Handle:      d.status,
		},
		{
			Name:        "check",
			Description: "poll the profile now",
			Usage:       "check",
			Access:      AccessOwnerOnly,
			Handle:      d.check,
		},
		{
			Name:        "say",
			Aliases:     []string{"echo"},
			Description: "echo text back",
			Usage:       "say <text>",
			Handle:      say,
		},
	}
}

func (d Deps) setChannel(ctx context.Context, req *Request) error {
	id := req.Chat.ChatID
	if len(req.Args) > 0 {
		v, err := strconv.ParseInt(req.Args[0], 10, 64)
		if err != nil || v == 0 {
			_ = req.Reply(ctx, fmt.Sprintf("invalid chat id %q\nusage: %ssetchannel [chat_id]", req.Args[0], req.Prefix))
			return fmt.Errorf("invalid chat id %q", req.Args[0])
		}
		id = v
	}
	if err := d.State.SetTarget(ctx, id); err != nil {
		_ = req.Reply(ctx, "⚠️ could not save the channel: "+err.Error())
		return err
	}
	req.Logger.Info("notification target changed", logx.Int64("channel_id", id))
	return req.Reply(ctx, fmt.Sprintf("✅ new posts will be announced in %d", id))
}

func (d Deps) status(ctx context.Context, req *Request) error {
	now := d.Now()
	opts := d.Poller.Options()

	var b strings.Builder
	fmt.Fprintf(&b, "🟢 up %s\n", durRel(d.State.Uptime(now)))
	fmt.Fprintf(&b, "account: @%s\n", opts.Account)
	if id, ok := d.State.Target(); ok {
		fmt.Fprintf(&b, "channel: %d\n", id)
	} else {
		fmt.Fprintf(&b, "channel: not set (use %ssetchannel)\n", req.Prefix)
	}
	if led := d.State.Ledger(); led != nil {
		fmt.Fprintf(&b, "seen posts: %d/%d\n", led.Len(), led.Cap())
	}
	if d.Schedule != nil {
		fmt.Fprintf(&b, "schedule: %s", d.Schedule.Spec())
		if next := d.Schedule.Next(); !next.IsZero() {
			fmt.Fprintf(&b, " (next in %s)", durRel(next.Sub(now)))
		}
		b.WriteString("\n")
	}
	if last, ok := d.State.LastTick(); ok {
		fmt.Fprintf(&b, "last check: %s, %s", humanize.RelTime(last.At, now, "ago", "from now"), last.Outcome)
		if last.Err != "" {
			fmt.Fprintf(&b, " (%s)", last.Err)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("last check: never\n")
	}
	if sent, ok := d.State.LastSent(); ok {
		fmt.Fprintf(&b, "last sent: %s", sent.PostURL)
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (d Deps) check(ctx context.Context, req *Request) error {
	res := d.Poller.Tick(ctx)
	return req.Reply(context.WithoutCancel(ctx), DescribeResult(res, req.Prefix))
}

// DescribeResult renders a tick result for operators.
func DescribeResult(res watch.Result, prefix string) string {
	switch res.Outcome {
	case watch.OutcomeSent:
		msg := "✅ announced " + res.Post.URL()
		if res.Err != nil {
			msg += "\n⚠️ ledger not saved: " + res.Err.Error()
		}
		return msg
	case watch.OutcomeNoNewPost:
		if res.Post.Shortcode != "" {
			return "no new post (latest: " + res.Post.URL() + ")"
		}
		return "no new post"
	case watch.OutcomeNoTarget:
		return "no channel set. use " + prefix + "setchannel"
	case watch.OutcomeFetchError:
		return "⚠️ fetch failed: " + errString(res.Err)
	case watch.OutcomeSendError:
		return "⚠️ could not post to the channel: " + errString(res.Err)
	default:
		return res.Outcome.String()
	}
}

func say(ctx context.Context, req *Request) error {
	if strings.TrimSpace(req.RawArgs) == "" {
		return req.Reply(ctx, "usage: "+req.Prefix+"say <text>")
	}
	return req.Reply(ctx, req.RawArgs)
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
