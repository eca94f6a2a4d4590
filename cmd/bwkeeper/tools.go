package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"bwkeeper/internal/eventbus"
	"bwkeeper/internal/httpapi"
	"bwkeeper/internal/probe"
	"bwkeeper/internal/task/scheduler"
	logx "bwkeeper/pkg/logx"
)

func checkCron(ctx *cli.Context) error {
	expr := strings.Join(ctx.Args(), " ")
	if strings.TrimSpace(expr) == "" {
		return cli.NewExitError("usage: bwkeeper check-cron EXPR", 2)
	}
	loc, err := time.LoadLocation(flagString(ctx, "tz"))
	if err != nil {
		loc = time.Local
	}
	return describeSchedule(os.Stdout, expr, time.Now().In(loc))
}

// describeSchedule prints how expr resolves and the next five fire times after now.
func describeSchedule(w io.Writer, expr string, now time.Time) error {
	t, err := scheduler.Resolve(expr)
	var rej *scheduler.RejectedError
	switch {
	case errors.As(err, &rej):
		fmt.Fprintf(w, "rejected (%s); fallback %q applies\n", rej.Reason, scheduler.FallbackExpr)
		t = scheduler.MustResolve(scheduler.FallbackExpr)
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "accepted: %s\n", t)
	}
	for _, at := range t.NextN(now, 5) {
		fmt.Fprintf(w, "  %s  (%s)\n", at.Format("2006-01-02 15:04 MST"), humanize.RelTime(now, at, "ago", "from now"))
	}
	return nil
}

func speedtest(ctx *cli.Context) error {
	log := logx.NewConsole(flagString(ctx, "log-level")).With(logx.String("comp", "speedtest"))
	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := probe.New(nil, log, eventbus.Nop()).Run(runCtx)
	if err != nil {
		return err
	}
	printProbe(os.Stdout, res)
	return nil
}

func printProbe(w io.Writer, res probe.Result) {
	fmt.Fprintf(w, "server:    %s (%s)\n", res.ServerName, res.ServerCountry)
	fmt.Fprintf(w, "isp:       %s\n", res.ISP)
	fmt.Fprintf(w, "ping:      %.1f ms\n", res.PingMs)
	fmt.Fprintf(w, "download:  %.2f Mbps (%s/s)\n", res.DownloadMbps, humanize.Bytes(uint64(res.DownloadMbps*125000)))
	fmt.Fprintf(w, "upload:    %.2f Mbps (%s/s)\n", res.UploadMbps, humanize.Bytes(uint64(res.UploadMbps*125000)))
	fmt.Fprintf(w, "suggested: %s\n", res.SuggestedTier)
}

func hashPassword(ctx *cli.Context) error {
	pw := ctx.Args().First()
	if pw == "" {
		return cli.NewExitError("usage: bwkeeper hash-password PASSWORD", 2)
	}
	h, err := httpapi.HashPassword(pw)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}
