package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	logx "bwkeeper/pkg/logx"
)

const (
	ChunkSize      = 16 * 1024
	DefaultTimeout = 120 * time.Second
	FailureStatus  = http.StatusInternalServerError

	UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 " +
		"BandwidthKeeper/2.1"
)

var ErrIdleTimeout = errors.New("no data received within timeout")

// Result describes one fetch attempt.
type Result struct {
	Bytes      int64
	Duration   time.Duration
	StatusCode int
	Err        error
}

func (r Result) OK() bool { return r.StatusCode == http.StatusOK }

// Progress is called after every chunk with the chunk size and the expected
// total (-1 when unknown).
type Progress func(n int, total int64)

type Config struct {
	// Timeout bounds connecting, waiting for response headers and each
	// individual read. The whole transfer is not capped.
	Timeout   time.Duration
	UserAgent string
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Fetcher)

// WithHTTPClient replaces the default client (used by tests).
func WithHTTPClient(c *http.Client) Option { return func(f *Fetcher) { f.client = c } }

func New(cfg Config, log logx.Logger, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = UserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(f)
	}
	if f.client == nil {
		f.client = newHTTPClient(cfg.Timeout)
	}
	return f
}

func newHTTPClient(timeout time.Duration) *http.Client {
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           d.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          4,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: tr}
}

// Fetch downloads rawURL, discarding the body, with an average ceiling in
// bytes per second (0 = no ceiling).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, ceiling int64) Result {
	return f.FetchWithProgress(ctx, rawURL, ceiling, nil)
}

func (f *Fetcher) FetchWithProgress(ctx context.Context, rawURL string, ceiling int64, progress Progress) Result {
	start := f.now()
	n, status, err := f.fetch(ctx, rawURL, ceiling, progress)
	elapsed := f.now().Sub(start)
	if err != nil {
		f.log.Warn("fetch failed",
			logx.String("url", shorten(rawURL, 60)),
			logx.Duration("elapsed", elapsed),
			logx.Int64("bytes_before_failure", n),
			logx.Err(err),
		)
		return Result{Bytes: 0, Duration: elapsed, StatusCode: FailureStatus, Err: err}
	}
	return Result{Bytes: n, Duration: elapsed, StatusCode: status}
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string, ceiling int64, progress Progress) (int64, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return 0, 0, fmt.Errorf("parse url: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		body   io.ReadCloser
		status int
		total  int64
	)
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		body, status, total, err = f.openHTTP(ctx, u)
	case "ftp":
		body, total, err = f.openFTP(ctx, u)
		status = http.StatusOK
	default:
		err = fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return 0, 0, err
	}

	wd := newWatchdog(f.cfg.Timeout, func() {
		cancel()
		_ = body.Close()
	})
	defer wd.stop()
	defer body.Close()

	n, err := f.drain(ctx, body, ceiling, total, progress, wd)
	if err != nil {
		if wd.fired() {
			err = ErrIdleTimeout
		}
		return n, 0, err
	}
	return n, status, nil
}

func (f *Fetcher) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, int, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, 0, 0, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, 0, 0, fmt.Errorf("unexpected status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.Body, resp.StatusCode, resp.ContentLength, nil
}

// drain reads body to EOF in ChunkSize pieces, throttling to ceiling.
func (f *Fetcher) drain(ctx context.Context, body io.Reader, ceiling, total int64, progress Progress, wd *watchdog) (int64, error) {
	buf := make([]byte, ChunkSize)
	var n int64
	last := f.now()
	for {
		m, err := io.ReadFull(body, buf)
		if m > 0 {
			wd.reset()
			n += int64(m)
			if progress != nil {
				progress(m, total)
			}
			if ceiling > 0 {
				expected := time.Duration(float64(m) / float64(ceiling) * float64(time.Second))
				if elapsed := f.now().Sub(last); elapsed < expected {
					if serr := f.sleep(ctx, expected-elapsed); serr != nil {
						return n, serr
					}
				}
				last = f.now()
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return n, nil
		default:
			return n, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// watchdog fires fn when reset has not been called within d.
type watchdog struct {
	t    *time.Timer
	d    time.Duration
	done atomic.Bool
}

func newWatchdog(d time.Duration, fn func()) *watchdog {
	w := &watchdog{d: d}
	w.t = time.AfterFunc(d, func() {
		w.done.Store(true)
		fn()
	})
	return w
}

func (w *watchdog) reset()      { w.t.Reset(w.d) }
func (w *watchdog) stop()       { w.t.Stop() }
func (w *watchdog) fired() bool { return w.done.Load() }

func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
