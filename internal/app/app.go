package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/afero"

	"bwkeeper/internal/config"
	"bwkeeper/internal/eventbus"
	"bwkeeper/internal/fetcher"
	"bwkeeper/internal/httpapi"
	"bwkeeper/internal/notifier"
	"bwkeeper/internal/probe"
	rtsup "bwkeeper/internal/runtime/supervisor"
	"bwkeeper/internal/storage"
	"bwkeeper/internal/task/runner"
	"bwkeeper/internal/task/scheduler"
	logx "bwkeeper/pkg/logx"
)

type App struct {
	settings Settings

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sup  *rtsup.Supervisor

	cfg     *config.Store
	history storage.Store
	notif   *notifier.Service
	runner  *runner.Runner
	sched   *scheduler.Service
	probe   *probe.Service
	http    *httpapi.Server
}

func NewApp(s Settings) (*App, error) {
	logSvc, log := logx.New(logx.Config{
		Level:   s.LogLevel,
		Console: true,
		File:    logx.FileConfig{Enabled: true, Path: s.LogPath},
		Stream:  logx.StreamConfig{Enabled: true, MinLevel: "info", RatePerSec: 20},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()
	fs := afero.NewOsFs()
	cfgStore := config.NewStore(fs, s.ConfigPath, log.With(logx.String("comp", "config")))

	var history storage.Store
	if sc, enabled, err := mapStorageConfig(s); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		history = st
		log.Info("run history enabled", logx.String("driver", sc.Driver))
	}

	notif := notifier.New(notifier.Config{}, cfgStore, []notifier.Sink{
		notifier.NewDingTalk(&http.Client{Timeout: 5 * time.Second}),
		notifier.NewTelegram("", &http.Client{Timeout: 10 * time.Second}),
	}, log.With(logx.String("comp", "notifier")), bus)

	f := fetcher.New(fetcher.Config{}, log.With(logx.String("comp", "fetcher")))
	run := runner.New(cfgStore, f, notif, log.With(logx.String("comp", "runner")), runner.WithBus(bus))

	a := &App{
		settings: s,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		cfg:      cfgStore,
		history:  history,
		notif:    notif,
		runner:   run,
		probe:    probe.New(nil, log.With(logx.String("comp", "probe")), bus),
	}
	a.sched = scheduler.New(scheduler.Config{Timezone: s.Timezone}, run,
		log.With(logx.String("comp", "scheduler")),
		scheduler.WithSpawner(scheduler.SpawnerFunc(a.spawn)),
		scheduler.WithBus(bus),
	)
	return a, nil
}

// spawn runs task work under the supervisor once Start has been called.
func (a *App) spawn(name string, fn func(ctx context.Context)) {
	if a.sup == nil {
		go fn(context.Background())
		return
	}
	a.sup.Go0(name, fn)
}

// Done is closed when the app context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	a.http = httpapi.New(httpapi.Config{
		Addr:             a.settings.ListenAddr,
		AuthUser:         a.settings.AuthUser,
		AuthPasswordHash: a.settings.AuthPasswordHash,
		Pprof:            a.settings.Pprof,
	}, httpapi.Deps{
		Config:     a.cfg,
		Scheduler:  a.sched,
		Logs:       a.logs,
		History:    a.history,
		Notifier:   a.notif,
		Probe:      a.probe,
		Supervisor: a.sup,
	}, a.log.With(logx.String("comp", "http")))

	a.notif.Start(a.sup)

	cfg, err := a.cfg.Load()
	if err != nil {
		a.log.Warn("config load at startup failed; defaults in effect", logx.Err(err))
	}
	a.sched.Configure(cfg.Cron)

	a.sup.GoRestart("config.watch", a.cfg.Watch, time.Second, 30*time.Second)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, cfg) })
	a.sup.GoRestart("scheduler", a.sched.Run, time.Second, 30*time.Second)
	if a.history != nil {
		a.sup.GoRestart("history.record", func(c context.Context) error {
			return storage.Record(c, a.bus, a.history, a.log.With(logx.String("comp", "history")))
		}, time.Second, 30*time.Second)
	}
	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.GoRestart("http", a.http.Run, time.Second, 30*time.Second)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	snap := a.sched.Snapshot()
	a.log.Info("started",
		logx.String("config", a.cfg.Path()),
		logx.String("schedule", snap.State.String()),
		logx.String("trigger", snap.Trigger),
		logx.String("timezone", snap.Timezone),
	)
	return nil
}

// reloadLoop applies documents published by the config watcher.
func (a *App) reloadLoop(ctx context.Context, last *config.Config) {
	sub := a.cfg.Subscribe(8)
	defer a.cfg.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			// Compare with the installed expression; API saves reconfigure directly.
			if installed := a.sched.Snapshot().Expr; installed != strings.TrimSpace(next.Cron) {
				a.log.Info("schedule changed on disk", logx.String("from", installed), logx.String("to", next.Cron))
				a.sched.Configure(next.Cron)
			}
			keys, fields := config.SummarizeChange(last, next)
			last = next
			if len(keys) == 0 {
				a.log.Debug("config reload received without effective changes")
				continue
			}
			a.log.Info("config changed on disk", append([]logx.Field{logx.String("changed", strings.Join(keys, ","))}, fields...)...)
			a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: keys})
		}
	}
}

func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Each step is bounded so one component cannot stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// Queued reports are delivered before the worker context goes away.
	step("notifier", 3*time.Second, a.notif.Stop)
	step("supervisor", 5*time.Second, a.sup.Stop)
	step("history", time.Second, func(context.Context) error {
		if a.history != nil {
			return a.history.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
