package runner

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"bwkeeper/internal/config"
	"bwkeeper/internal/eventbus"
	"bwkeeper/internal/fetcher"
	logx "bwkeeper/pkg/logx"
)

// ConfigSource yields the task document. Load is called at the start of
// every run so edits apply to the next run without a restart.
type ConfigSource interface {
	Load() (*config.Config, error)
}

type Fetcher interface {
	FetchWithProgress(ctx context.Context, rawURL string, ceiling int64, progress fetcher.Progress) fetcher.Result
}

// Notifier delivers a message somewhere. It must not block for long and
// reports nothing back.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Picker chooses the link for a run from a non-empty list.
type Picker func(links []string) string

// RandomPicker picks uniformly.
func RandomPicker(links []string) string { return links[rand.IntN(len(links))] }

// Override alters a single run (used by the run-once command).
type Override struct {
	URL      string
	Limit    string
	Progress fetcher.Progress
	// Silent suppresses notifications.
	Silent bool
}

// Runner performs one traffic run per call. Calls are independent and may
// overlap.
type Runner struct {
	cfg    ConfigSource
	fetch  Fetcher
	notify Notifier
	bus    eventbus.Bus
	log    logx.Logger
	pick   Picker
	now    func() time.Time
}

type Option func(*Runner)

func WithBus(b eventbus.Bus) Option { return func(r *Runner) { r.bus = b } }
func WithPicker(p Picker) Option    { return func(r *Runner) { r.pick = p } }

func New(cfg ConfigSource, f Fetcher, n Notifier, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		cfg:    cfg,
		fetch:  f,
		notify: n,
		bus:    eventbus.Nop(),
		log:    log,
		pick:   RandomPicker,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run satisfies scheduler.Runner.
func (r *Runner) Run(ctx context.Context, source string) {
	r.Execute(ctx, source, Override{})
}

func (r *Runner) Execute(ctx context.Context, source string, ov Override) Outcome {
	out := Outcome{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: r.now(),
	}
	log := r.log.With(logx.String("run_id", out.RunID), logx.String("source", source))

	cfg, err := r.cfg.Load()
	if err != nil {
		log.Warn("config load failed, using returned document", logx.Err(err))
	}
	if cfg == nil {
		cfg = config.Default()
	}

	links := cfg.ValidLinks()
	if u := strings.TrimSpace(ov.URL); u != "" {
		links = []string{u}
	}
	if len(links) == 0 {
		out.Skipped = true
		out.Report = SkipMessage
		log.Warn(SkipMessage)
		r.bus.Publish(eventbus.Event{Type: eventbus.RunSkipped, Data: out})
		if !ov.Silent {
			r.notify.Notify(ctx, SkipMessage)
		}
		return out
	}

	out.URL = r.pick(links)
	out.SpeedLimit = cfg.SpeedLimit
	if ov.Limit != "" {
		out.SpeedLimit = ov.Limit
	}
	if out.SpeedLimit == "" {
		out.SpeedLimit = string(config.TierUnlimited)
	}
	tier, _ := config.ParseTier(out.SpeedLimit)

	log.Info("task started",
		logx.String("limit", out.SpeedLimit),
		logx.String("url", head(out.URL, 50)+"..."),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.RunStarted, Data: out})

	res := r.fetch.FetchWithProgress(ctx, out.URL, tier.BytesPerSecond(), ov.Progress)
	out.Bytes = res.Bytes
	out.Duration = res.Duration
	out.StatusCode = res.StatusCode
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	out.Report = FormatReport(out.URL, out.SpeedLimit, res)

	log.Info("task finished | "+logx.Flatten(out.Report),
		logx.String("traffic", humanize.IBytes(uint64(max(res.Bytes, 0)))),
		logx.Int("status", res.StatusCode),
	)
	r.bus.Publish(eventbus.Event{Type: eventbus.RunFinished, Data: out})
	if !ov.Silent {
		r.notify.Notify(ctx, out.Report)
	}
	return out
}
