package main

import (
	"bytes"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/urfave/cli"

	"bwkeeper/internal/app"
)

func TestDescribeSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		expr  string
		first string
		next  string
	}{
		{name: "daily", expr: "30 2 * * *", first: "accepted: daily at 02:30", next: "2026-01-01 02:30 UTC"},
		{name: "wrapped", expr: "90 26 * * *", first: "accepted: daily at 02:30", next: "2026-01-01 02:30 UTC"},
		{name: "hourly", expr: "0 * * * *", first: "accepted: hourly at minute 0", next: "2026-01-01 01:00 UTC"},
		{name: "rejected", expr: "0 2 * * 1", first: `rejected (unsupported-pattern); fallback "0 2 * * *" applies`, next: "2026-01-01 02:00 UTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := describeSchedule(&buf, tt.expr, now); err != nil {
				t.Fatalf("describeSchedule: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if len(lines) != 6 {
				t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
			}
			if lines[0] != tt.first {
				t.Fatalf("first line = %q, want %q", lines[0], tt.first)
			}
			if !strings.Contains(lines[1], tt.next) {
				t.Fatalf("next fire = %q, want %q", lines[1], tt.next)
			}
		})
	}
}

func TestSettingsFromFlagsAndEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("PPROF", "true")

	var got app.Settings
	a := cli.NewApp()
	a.Flags = serveFlags
	a.Action = func(ctx *cli.Context) error {
		got = settingsFrom(ctx)
		return nil
	}
	if err := a.Run([]string{"bwkeeper", "--config", "/tmp/task.yaml", "--listen", ":8080"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got.ConfigPath != "/tmp/task.yaml" || got.ListenAddr != ":8080" {
		t.Fatalf("flags not applied: %+v", got)
	}
	if got.StoreDriver != "sqlite" || !got.Pprof {
		t.Fatalf("env not applied: %+v", got)
	}
	if got.LogPath != "execution.log" || got.Timezone != "Asia/Shanghai" || got.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestStopReasonFor(t *testing.T) {
	t.Parallel()

	if got := stopReasonFor(os.Interrupt); got != app.StopSIGINT {
		t.Fatalf("interrupt = %q", got)
	}
	if got := stopReasonFor(syscall.SIGTERM); got != app.StopSIGTERM {
		t.Fatalf("sigterm = %q", got)
	}
	if got := stopReasonFor(syscall.SIGHUP); got != app.StopUnknown {
		t.Fatalf("sighup = %q", got)
	}
}
