package scheduler

import (
	"context"
	"time"
)

// State is the scheduler's current mode.
type State int

const (
	// StateNone means Configure has not been called yet.
	StateNone State = iota
	StateDisabled
	StateActive
	StateFallback
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateActive:
		return "active"
	case StateFallback:
		return "fallback"
	default:
		return "none"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Runner executes one task run. Run must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, source string)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, source string)

func (f RunnerFunc) Run(ctx context.Context, source string) { f(ctx, source) }

// Spawner starts fire-and-forget units of work. The triggering path never
// waits on them.
type Spawner interface {
	Go(name string, fn func(ctx context.Context))
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(name string, fn func(ctx context.Context))

func (f SpawnerFunc) Go(name string, fn func(ctx context.Context)) { f(name, fn) }

// Config controls the scheduler service.
type Config struct {
	Timezone string        // IANA TZ, e.g. "Asia/Shanghai"; empty means Local
	Tick     time.Duration // polling granularity; default 1s
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	State    State     `json:"state"`
	Expr     string    `json:"expr"`
	Trigger  string    `json:"trigger,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Next     time.Time `json:"next"`
	Timezone string    `json:"timezone"`
	Fired    uint64    `json:"fired"`
}
