package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bwkeeper/internal/eventbus"
	logx "bwkeeper/pkg/logx"
)

// Service holds at most one trigger and fires the runner when it is due.
//
// Configure replaces the trigger wholesale under a single lock. Runs are
// spawned asynchronously; reconfiguration never cancels a run in flight.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	tick   time.Duration
	now    func() time.Time
	runner Runner
	spawn  Spawner
	bus    eventbus.Bus

	state  State
	expr   string
	reason string
	trig   Trigger
	next   time.Time

	fired atomic.Uint64
}

type Option func(*Service)

// WithSpawner makes the service start runs through sp (e.g. a supervisor).
func WithSpawner(sp Spawner) Option { return func(s *Service) { s.spawn = sp } }

// WithBus publishes a schedule.changed event with the new Snapshot after
// every Configure.
func WithBus(b eventbus.Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, runner Runner, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		tick:   cfg.Tick,
		now:    time.Now,
		runner: runner,
		bus:    eventbus.Nop(),
	}
	if s.tick <= 0 {
		s.tick = time.Second
	}
	s.loc = loadLocation(cfg.Timezone, log)
	for _, o := range opts {
		o(s)
	}
	if s.spawn == nil {
		s.spawn = SpawnerFunc(func(name string, fn func(ctx context.Context)) {
			go func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error("run panicked", logx.String("name", name), logx.Any("panic", r))
					}
				}()
				fn(context.Background())
			}()
		})
	}
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Location() *time.Location { return s.loc }

// Configure tears down the current trigger and installs the one described by
// expr. An empty expression disables scheduling; a rejected one installs
// FallbackExpr. It returns the resulting state.
func (s *Service) Configure(expr string) State {
	st := s.configure(expr)
	s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleChange, Data: s.Snapshot()})
	return st
}

func (s *Service) configure(expr string) State {
	expr = strings.TrimSpace(expr)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trig = Trigger{}
	s.next = time.Time{}
	s.reason = ""
	s.expr = expr

	if expr == "" {
		s.state = StateDisabled
		s.log.Info("schedule disabled (empty cron)")
		return s.state
	}

	trig, err := Resolve(expr)
	if err != nil {
		var rej *RejectedError
		if errors.As(err, &rej) {
			s.reason = rej.Reason
		}
		s.log.Warn("cron rejected; falling back to daily 02:00",
			logx.String("cron", expr),
			logx.String("reason", s.reason),
		)
		s.install(MustResolve(FallbackExpr))
		s.state = StateFallback
		return s.state
	}

	s.install(trig)
	s.state = StateActive
	return s.state
}

// install must be called with s.mu held.
func (s *Service) install(t Trigger) {
	s.trig = t
	s.next = t.Next(s.now().In(s.loc))
	s.log.Info("schedule installed",
		logx.String("cron", s.expr),
		logx.String("trigger", t.String()),
		logx.Time("next", s.next),
	)
}

// Run polls the trigger until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick()
		}
	}
}

// Tick fires the runner if the trigger is due and reports whether it did.
func (s *Service) Tick() bool {
	now := s.now().In(s.loc)

	s.mu.Lock()
	if s.trig.IsZero() || s.next.IsZero() || now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	due := s.next
	s.next = s.trig.Next(now)
	next := s.next
	s.mu.Unlock()

	s.fired.Add(1)
	s.log.Info("schedule fired", logx.Time("due", due), logx.Time("next", next))
	s.RunNow("schedule")
	return true
}

// RunNow starts a run without waiting for it. Overlapping runs are allowed.
func (s *Service) RunNow(source string) {
	if s.runner == nil {
		return
	}
	r := s.runner
	s.spawn.Go("run."+source, func(ctx context.Context) {
		r.Run(ctx, source)
	})
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Trigger() Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trig
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:    s.state,
		Expr:     s.expr,
		Reason:   s.reason,
		Next:     s.next,
		Timezone: s.loc.String(),
	}
	if !s.trig.IsZero() {
		snap.Trigger = s.trig.String()
	}
	s.mu.Unlock()
	snap.Fired = s.fired.Load()
	return snap
}
