package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"bwkeeper/internal/config"
	"bwkeeper/internal/eventbus"
	"bwkeeper/internal/fetcher"
	"bwkeeper/internal/notifier"
	rtsup "bwkeeper/internal/runtime/supervisor"
	"bwkeeper/internal/task/runner"
	logx "bwkeeper/pkg/logx"
)

// discard is used when --notify is not given; the run is also marked silent.
type discard struct{}

func (discard) Notify(context.Context, string) {}

func runOnce(ctx *cli.Context) error {
	limit := ctx.String("limit")
	if limit != "" {
		if _, ok := config.ParseTier(limit); !ok {
			return fmt.Errorf("unknown tier %q", limit)
		}
	}

	log := logx.NewConsole(flagString(ctx, "log-level")).With(logx.String("comp", "run-once"))
	cfg := config.NewStore(afero.NewOsFs(), flagString(ctx, "config"), log)

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var n runner.Notifier = discard{}
	notify := ctx.Bool("notify")
	var sup *rtsup.Supervisor
	var notif *notifier.Service
	if notify {
		sup = rtsup.New(runCtx, rtsup.WithLogger(log))
		notif = notifier.New(notifier.Config{}, cfg, []notifier.Sink{
			notifier.NewDingTalk(&http.Client{Timeout: 5 * time.Second}),
			notifier.NewTelegram("", &http.Client{Timeout: 10 * time.Second}),
		}, log, eventbus.Nop())
		notif.Start(sup)
		n = notif
	}

	p := mpb.New(mpb.WithWidth(64), mpb.WithRefreshRate(150*time.Millisecond))
	bar := newFetchBar(p, "fetch")

	r := runner.New(cfg, fetcher.New(fetcher.Config{}, log), n, log)
	out := r.Execute(runCtx, "cli", runner.Override{
		URL:      ctx.String("url"),
		Limit:    limit,
		Progress: bar.progress,
		Silent:   !notify,
	})
	bar.finish(out.OK())
	p.Wait()

	fmt.Println(out.Report)

	if notif != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := notif.Stop(stopCtx); err != nil {
			log.Warn("notifier stop", logx.Err(err))
		}
		_ = sup.Stop(stopCtx)
	}

	if !out.OK() {
		return cli.NewExitError("", 1)
	}
	return nil
}

type fetchBar struct {
	bar      *mpb.Bar
	totalSet bool
	last     time.Time
}

func newFetchBar(p *mpb.Progress, name string) *fetchBar {
	bar := p.New(0,
		mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟"),
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.OnComplete(
				decor.EwmaETA(decor.ET_STYLE_GO, 30, decor.WC{W: 4}), "done",
			),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .2f / % .2f"),
			decor.Name(" "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
		),
	)
	return &fetchBar{bar: bar, last: time.Now()}
}

// progress is called from the single fetching goroutine.
func (b *fetchBar) progress(n int, total int64) {
	if !b.totalSet && total > 0 {
		b.bar.SetTotal(total, false)
		b.totalSet = true
	}
	now := time.Now()
	b.bar.EwmaIncrBy(n, now.Sub(b.last))
	b.last = now
}

func (b *fetchBar) finish(ok bool) {
	if ok {
		b.bar.SetTotal(-1, true)
		return
	}
	b.bar.Abort(false)
}
