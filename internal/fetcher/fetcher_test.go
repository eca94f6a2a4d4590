package fetcher

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "bwkeeper/pkg/logx"
)

func payloadServer(t *testing.T, size int) (*httptest.Server, *atomic.Value) {
	t.Helper()
	body := bytes.Repeat([]byte("x"), size)
	var ua atomic.Value
	ua.Store("")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			_, _ = w.Write(body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &ua
}

func TestFetchUnlimitedNeverSleeps(t *testing.T) {
	t.Parallel()
	srv, ua := payloadServer(t, 100*1024+7)
	f := New(Config{}, logx.Nop())
	var sleeps atomic.Int32
	f.sleep = func(context.Context, time.Duration) error {
		sleeps.Add(1)
		return nil
	}

	res := f.Fetch(context.Background(), srv.URL+"/file.iso", 0)
	if !res.OK() || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Bytes != 100*1024+7 {
		t.Fatalf("bytes = %d", res.Bytes)
	}
	if sleeps.Load() != 0 {
		t.Fatalf("slept %d times with no ceiling", sleeps.Load())
	}
	if got := ua.Load().(string); got != UserAgent {
		t.Fatalf("User-Agent = %q", got)
	}
}

func TestFetchRespectsCeiling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		size    int
		ceiling int64
	}{
		{name: "whole chunks", size: 4 * ChunkSize, ceiling: 256 * 1024},
		{name: "partial tail chunk", size: 3*ChunkSize + 100, ceiling: 200 * 1024},
		{name: "single small chunk", size: 1000, ceiling: 4000},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, _ := payloadServer(t, tt.size)
			f := New(Config{}, logx.Nop())

			start := time.Now()
			res := f.Fetch(context.Background(), srv.URL, tt.ceiling)
			wall := time.Since(start)
			if !res.OK() {
				t.Fatalf("result = %+v", res)
			}
			if res.Bytes != int64(tt.size) {
				t.Fatalf("bytes = %d, want %d", res.Bytes, tt.size)
			}
			floor := time.Duration(float64(tt.size) / float64(tt.ceiling) * float64(time.Second))
			if res.Duration < floor || wall < floor {
				t.Fatalf("finished in %v (wall %v), floor %v", res.Duration, wall, floor)
			}
		})
	}
}

func TestFetchNeverSpeedsUpAfterSlowChunk(t *testing.T) {
	t.Parallel()
	srv, _ := payloadServer(t, 2*ChunkSize)
	f := New(Config{}, logx.Nop())

	var asked []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		asked = append(asked, d)
		return nil
	}
	// Clock advances 1s per call: every chunk looks slower than its budget.
	var tick atomic.Int64
	base := time.Now()
	f.now = func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }

	res := f.Fetch(context.Background(), srv.URL, 1024*1024)
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if len(asked) != 0 {
		t.Fatalf("slept %v although every chunk was over budget", asked)
	}
}

func TestFetchFailuresUseSentinel(t *testing.T) {
	t.Parallel()
	srv, _ := payloadServer(t, 10)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedAddr := ln.Addr().String()
	_ = ln.Close()

	tests := []struct {
		name string
		url  string
	}{
		{name: "not found", url: srv.URL + "/missing"},
		{name: "bad gateway", url: srv.URL + "/boom"},
		{name: "connection refused", url: "http://" + closedAddr + "/x"},
		{name: "unsupported scheme", url: "gopher://example.com/x"},
		{name: "garbage", url: "://nope"},
		{name: "ftp without path", url: "ftp://127.0.0.1/"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := New(Config{Timeout: 2 * time.Second}, logx.Nop())
			res := f.Fetch(context.Background(), tt.url, 0)
			if res.StatusCode != FailureStatus || res.Bytes != 0 || res.Err == nil {
				t.Fatalf("result = %+v", res)
			}
			if res.OK() {
				t.Fatal("failure reported as OK")
			}
		})
	}
}

func TestFetchIdleTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write(bytes.Repeat([]byte("y"), ChunkSize))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 150 * time.Millisecond}, logx.Nop())
	start := time.Now()
	res := f.Fetch(context.Background(), srv.URL, 0)
	if res.StatusCode != FailureStatus || !errors.Is(res.Err, ErrIdleTimeout) {
		t.Fatalf("result = %+v", res)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("idle timeout did not abort the transfer")
	}
}

func TestFetchContextCanceled(t *testing.T) {
	t.Parallel()
	srv, _ := payloadServer(t, 8*ChunkSize)
	f := New(Config{}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// 1 KiB/s would take minutes; cancellation must cut it short.
	res := f.Fetch(ctx, srv.URL, 1024)
	if res.StatusCode != FailureStatus || res.Bytes != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", res.Err)
	}
}

func TestFetchProgress(t *testing.T) {
	t.Parallel()
	const size = 5*ChunkSize + 3
	srv, _ := payloadServer(t, size)
	f := New(Config{}, logx.Nop())

	var seen, calls int
	var total int64
	res := f.FetchWithProgress(context.Background(), srv.URL, 0, func(n int, tot int64) {
		seen += n
		calls++
		total = tot
	})
	if !res.OK() || seen != size || calls != 6 || total != size {
		t.Fatalf("res=%+v seen=%d calls=%d total=%d", res, seen, calls, total)
	}
}

func TestShortenKeepsRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "http://h/f", n: 60, want: "http://h/f"},
		{in: "http://h/abcdef", n: 10, want: "http://h/a"},
		{in: "http://h/下载镜像", n: 11, want: "http://h/下载"},
	}
	for _, tt := range tests {
		if got := shorten(tt.in, tt.n); got != tt.want {
			t.Fatalf("shorten(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestFetchFailureLogsOneWarning(t *testing.T) {
	t.Parallel()
	srv, _ := payloadServer(t, 10)
	var buf bytes.Buffer
	f := New(Config{}, logx.NewWriter(&buf, "debug"))

	res := f.Fetch(context.Background(), srv.URL+"/missing", 0)
	if res.StatusCode != FailureStatus {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if got := strings.Count(buf.String(), `"level":"warn"`); got != 1 {
		t.Fatalf("warn lines = %d, log:\n%s", got, buf.String())
	}
}
