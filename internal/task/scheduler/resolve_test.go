package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		expr   string
		kind   TriggerKind
		hour   int
		minute int
		reason string
	}{
		{name: "every minute", expr: "*/1 * * * *", kind: KindEveryMinute},
		{name: "hourly", expr: "0 * * * *", kind: KindHourlyAtZero},
		{name: "daily", expr: "30 2 * * *", kind: KindDailyAt, hour: 2, minute: 30},
		{name: "daily wraps", expr: "90 26 * * *", kind: KindDailyAt, hour: 2, minute: 30},
		{name: "midnight", expr: "0 0 * * *", kind: KindDailyAt, hour: 0, minute: 0},
		{name: "extra spaces", expr: "  15\t23 * *   * ", kind: KindDailyAt, hour: 23, minute: 15},
		{name: "day of week", expr: "0 2 * * 1", reason: ReasonUnsupported},
		{name: "day of month", expr: "0 2 1 * *", reason: ReasonUnsupported},
		{name: "step minutes", expr: "*/5 * * * *", reason: ReasonUnsupported},
		{name: "names", expr: "a b * * *", reason: ReasonUnsupported},
		{name: "negative", expr: "-1 2 * * *", reason: ReasonUnsupported},
		{name: "four fields", expr: "0 2 * *", reason: ReasonFieldCount},
		{name: "six fields", expr: "0 0 2 * * *", reason: ReasonFieldCount},
		{name: "empty", expr: "", reason: ReasonFieldCount},
		{name: "descriptor", expr: "@daily", reason: ReasonFieldCount},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Resolve(tt.expr)
			if tt.reason != "" {
				var rej *RejectedError
				if !errors.As(err, &rej) {
					t.Fatalf("Resolve(%q) err = %v, want RejectedError", tt.expr, err)
				}
				if rej.Reason != tt.reason || rej.Expr != tt.expr {
					t.Fatalf("rejection = %+v, want reason %q", rej, tt.reason)
				}
				if !got.IsZero() {
					t.Fatalf("rejected trigger should be zero, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error: %v", tt.expr, err)
			}
			if got.Kind != tt.kind || got.Hour != tt.hour || got.Minute != tt.minute {
				t.Fatalf("Resolve(%q) = %v %02d:%02d, want %v %02d:%02d", tt.expr, got.Kind, got.Hour, got.Minute, tt.kind, tt.hour, tt.minute)
			}
		})
	}
}

func TestTriggerNext(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("CST", 8*3600)
	base := time.Date(2026, 3, 1, 10, 0, 30, 0, loc)

	tests := []struct {
		expr string
		want time.Time
	}{
		{expr: "*/1 * * * *", want: time.Date(2026, 3, 1, 10, 1, 0, 0, loc)},
		{expr: "0 * * * *", want: time.Date(2026, 3, 1, 11, 0, 0, 0, loc)},
		{expr: "30 2 * * *", want: time.Date(2026, 3, 2, 2, 30, 0, 0, loc)},
		{expr: "5 10 * * *", want: time.Date(2026, 3, 2, 10, 5, 0, 0, loc)},
		{expr: "59 10 * * *", want: time.Date(2026, 3, 1, 10, 59, 0, 0, loc)},
	}
	for _, tt := range tests {
		got := MustResolve(tt.expr).Next(base)
		if !got.Equal(tt.want) {
			t.Fatalf("Next(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestTriggerNextN(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	got := MustResolve("0 2 * * *").NextN(base, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, at := range got {
		want := time.Date(2026, 3, 1+i, 2, 0, 0, 0, time.UTC)
		if !at.Equal(want) {
			t.Fatalf("NextN[%d] = %v, want %v", i, at, want)
		}
	}
	if n := (Trigger{}).NextN(base, 3); len(n) != 0 {
		t.Fatalf("zero trigger NextN = %v", n)
	}
}

func TestTriggerStrings(t *testing.T) {
	t.Parallel()
	tr := MustResolve("7 9 * * *")
	if tr.String() != "daily at 09:07" || tr.Expr() != "7 9 * * *" {
		t.Fatalf("got %q / %q", tr.String(), tr.Expr())
	}
	if MustResolve("*/1 * * * *").Expr() != "* * * * *" {
		t.Fatal("every-minute canonical expression")
	}
}
