package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExternalEditAfterAPISaveReconfigures(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	a, err := NewApp(Settings{
		ConfigPath: cfgPath,
		LogPath:    filepath.Join(dir, "execution.log"),
		LogLevel:   "error",
		ListenAddr: "127.0.0.1:0",
		Timezone:   "UTC",
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopUnknown)
	}()
	if got := a.sched.Snapshot().Expr; got != "0 2 * * *" {
		t.Fatalf("startup expr = %q", got)
	}
	time.Sleep(200 * time.Millisecond)

	body := `{"download_links":["http://127.0.0.1:1/x.iso"],"cron":"*/1 * * * *","speed_limit":"1mbps"}`
	req := httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.http.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/config = %d %s", rec.Code, rec.Body.String())
	}
	if got := a.sched.Snapshot().Trigger; got != "every minute" {
		t.Fatalf("after save trigger = %q", got)
	}

	// Hand edit back to the startup schedule.
	edited := `{"download_links":["http://127.0.0.1:1/x.iso"],"cron":"0 2 * * *","speed_limit":"1mbps"}`
	if err := os.WriteFile(cfgPath, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := a.sched.Snapshot()
		if snap.Expr == "0 2 * * *" && snap.Trigger == "daily at 02:00" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("file says 0 2 * * *, scheduler has %q (%s)", snap.Expr, snap.Trigger)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
