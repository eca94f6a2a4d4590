package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FallbackExpr is installed whenever a configured expression is rejected.
const FallbackExpr = "0 2 * * *"

// Rejection reasons.
const (
	ReasonFieldCount  = "field-count"
	ReasonUnsupported = "unsupported-pattern"
)

// TriggerKind is the resolved shape of a schedule expression.
type TriggerKind int

const (
	KindNone TriggerKind = iota
	KindEveryMinute
	KindHourlyAtZero
	KindDailyAt
)

func (k TriggerKind) String() string {
	switch k {
	case KindEveryMinute:
		return "every-minute"
	case KindHourlyAtZero:
		return "hourly"
	case KindDailyAt:
		return "daily"
	default:
		return "none"
	}
}

// Trigger is a resolved recurring-fire rule. It is immutable once built.
type Trigger struct {
	Kind   TriggerKind
	Hour   int
	Minute int

	sched cron.Schedule
}

// RejectedError reports an expression the resolver does not accept.
type RejectedError struct {
	Expr   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("schedule %q rejected: %s", e.Expr, e.Reason)
}

func (t Trigger) IsZero() bool { return t.Kind == KindNone }

// Expr returns the canonical 5-field expression for the trigger.
func (t Trigger) Expr() string {
	switch t.Kind {
	case KindEveryMinute:
		return "* * * * *"
	case KindHourlyAtZero:
		return "0 * * * *"
	case KindDailyAt:
		return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour)
	default:
		return ""
	}
}

func (t Trigger) String() string {
	switch t.Kind {
	case KindEveryMinute:
		return "every minute"
	case KindHourlyAtZero:
		return "hourly at minute 0"
	case KindDailyAt:
		return fmt.Sprintf("daily at %02d:%02d", t.Hour, t.Minute)
	default:
		return "none"
	}
}

// Next returns the first fire time strictly after the given instant,
// evaluated in after's location. Zero for a zero trigger.
func (t Trigger) Next(after time.Time) time.Time {
	if t.sched == nil {
		return time.Time{}
	}
	return t.sched.Next(after)
}

// NextN returns the next n fire times after the given instant.
func (t Trigger) NextN(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	at := after
	for i := 0; i < n; i++ {
		at = t.Next(at)
		if at.IsZero() {
			break
		}
		out = append(out, at)
	}
	return out
}

type rule struct {
	match func(f []string) bool
	build func(f []string) Trigger
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{
		match: func(f []string) bool { return f[0] == "*/1" && restWildcard(f[1:]) },
		build: func([]string) Trigger { return newTrigger(KindEveryMinute, 0, 0) },
	},
	{
		match: func(f []string) bool { return f[0] == "0" && restWildcard(f[1:]) },
		build: func([]string) Trigger { return newTrigger(KindHourlyAtZero, 0, 0) },
	},
	{
		match: func(f []string) bool { return isPlainInt(f[0]) && isPlainInt(f[1]) && restWildcard(f[2:]) },
		build: func(f []string) Trigger {
			m, _ := strconv.Atoi(f[0])
			h, _ := strconv.Atoi(f[1])
			return newTrigger(KindDailyAt, h%24, m%60)
		},
	},
}

// Resolve turns a 5-field cron-style expression into a Trigger.
//
// Only a practical subset is accepted: every minute ("*/1 * * * *"), hourly
// at minute 0 ("0 * * * *") and daily at a fixed time ("M H * * *", values
// wrapped modulo 60 and 24). Anything else yields a *RejectedError.
func Resolve(expr string) (Trigger, error) {
	f := strings.Fields(expr)
	if len(f) != 5 {
		return Trigger{}, &RejectedError{Expr: expr, Reason: ReasonFieldCount}
	}
	for _, r := range rules {
		if r.match(f) {
			return r.build(f), nil
		}
	}
	return Trigger{}, &RejectedError{Expr: expr, Reason: ReasonUnsupported}
}

// MustResolve is Resolve for expressions known to be valid.
func MustResolve(expr string) Trigger {
	t, err := Resolve(expr)
	if err != nil {
		panic(err)
	}
	return t
}

func newTrigger(kind TriggerKind, hour, minute int) Trigger {
	t := Trigger{Kind: kind, Hour: hour, Minute: minute}
	// Canonical expressions always parse.
	sched, err := cron.ParseStandard(t.Expr())
	if err != nil {
		panic(fmt.Sprintf("scheduler: canonical expression %q: %v", t.Expr(), err))
	}
	t.sched = sched
	return t
}

func restWildcard(f []string) bool {
	for _, v := range f {
		if v != "*" {
			return false
		}
	}
	return true
}

func isPlainInt(s string) bool {
	if s == "" || len(s) > 9 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
