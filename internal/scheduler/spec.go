package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type SpecKind int

const (
	SpecInterval SpecKind = iota
	SpecCron
)

func (k SpecKind) String() string {
	if k == SpecCron {
		return "cron"
	}
	return "interval"
}

// Spec is a parsed poll schedule.
//
// Accepted forms:
//   - Interval: "5m", "every:5m", "interval:90s", "00:05" (HH:MM, 5 minutes)
//   - Cron: "*/5 * * * *", "0 */5 * * * *", "@hourly", "@every 5m", "cron:..."
type Spec struct {
	Kind  SpecKind
	Cron  string
	Every time.Duration
}

// SecondOptional accepts both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// MinInterval guards against accidental hammering of the profile endpoint.
const MinInterval = 10 * time.Second

func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}

	spec, err := parseInterval(s)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use a duration like '5m', HH:MM like '00:05', or cron like '*/5 * * * *')", raw)
	}
	return spec, nil
}

// Schedule returns the robfig schedule for s.
func (s Spec) Schedule() (cron.Schedule, error) {
	if s.Kind == SpecCron {
		return cronParser.Parse(s.Cron)
	}
	return cron.Every(s.Every), nil
}

func (s Spec) String() string {
	if s.Kind == SpecCron {
		return "cron:" + s.Cron
	}
	return "every:" + s.Every.String()
}

func parseCron(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Cron: expr}, nil
}

func parseInterval(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("interval required")
	}

	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Spec{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
	}
	if d < MinInterval {
		return Spec{}, fmt.Errorf("interval %s is below the minimum of %s", d, MinInterval)
	}
	return Spec{Kind: SpecInterval, Every: d}, nil
}
