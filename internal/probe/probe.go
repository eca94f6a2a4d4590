// Package probe measures the link with a public speedtest server so an
// operator can pick a sensible speed tier.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"bwkeeper/internal/config"
	"bwkeeper/internal/eventbus"
	logx "bwkeeper/pkg/logx"
)

var ErrBusy = errors.New("probe already running")

type Result struct {
	At            time.Time     `json:"at"`
	DownloadMbps  float64       `json:"download_mbps"`
	UploadMbps    float64       `json:"upload_mbps"`
	PingMs        float64       `json:"ping_ms"`
	ISP           string        `json:"isp"`
	ServerName    string        `json:"server_name"`
	ServerCountry string        `json:"server_country"`
	Duration      time.Duration `json:"duration"`
	SuggestedTier string        `json:"suggested_tier"`
}

// Measurer performs one measurement.
type Measurer func(ctx context.Context) (Result, error)

// SuggestTier returns the largest tier using at most half of downMbps.
func SuggestTier(downMbps float64) config.SpeedLimitTier {
	best := config.Tier1MBps
	for _, t := range config.Tiers() {
		bps := t.BytesPerSecond()
		if bps == 0 {
			continue
		}
		if float64(bps)*8/1e6 <= downMbps/2 && bps > best.BytesPerSecond() {
			best = t
		}
	}
	return best
}

// Service runs at most one probe at a time and remembers the last result.
type Service struct {
	measure Measurer
	log     logx.Logger
	bus     eventbus.Bus
	timeout time.Duration

	mu      sync.Mutex
	running bool
	last    *Result
	lastErr string
}

func New(m Measurer, log logx.Logger, bus eventbus.Bus) *Service {
	if m == nil {
		m = Speedtest(4)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{measure: m, log: log, bus: bus, timeout: 2 * time.Minute}
}

// Status is the last outcome and whether a probe is in flight.
type Status struct {
	Running bool    `json:"running"`
	Last    *Result `json:"last,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Running: s.running, Last: s.last, Error: s.lastErr}
}

// Run measures synchronously.
func (s *Service) Run(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrBusy
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.log.Info("probe started")
	res, err := s.measure(ctx)

	s.mu.Lock()
	s.running = false
	if err != nil {
		s.lastErr = err.Error()
	} else {
		res.SuggestedTier = string(SuggestTier(res.DownloadMbps))
		s.last, s.lastErr = &res, ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("probe failed", logx.Err(err))
		return Result{}, err
	}
	s.log.Info("probe finished",
		logx.Float64("down_mbps", res.DownloadMbps),
		logx.Float64("up_mbps", res.UploadMbps),
		logx.Float64("ping_ms", res.PingMs),
		logx.String("server", res.ServerName),
		logx.String("suggested_tier", res.SuggestedTier),
	)
	s.bus.Publish(eventbus.Event{Type: eventbus.ProbeFinished, Data: res})
	return res, nil
}

// Speedtest measures against the nearest responsive speedtest.net server,
// choosing the lowest latency among the candidates closest by distance.
func Speedtest(candidates int) Measurer {
	if candidates <= 0 {
		candidates = 4
	}
	return func(ctx context.Context) (Result, error) {
		start := time.Now()
		tr := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     10 * time.Second,
		}
		defer tr.CloseIdleConnections()

		stc := st.New(st.WithUserConfig(&st.UserConfig{MaxConnections: 4}), st.WithDoer(&http.Client{Transport: tr}))
		stc.SetNThread(4)
		defer func() {
			stc.Snapshots().Clean()
			stc.Reset()
		}()

		user, err := stc.FetchUserInfoContext(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("fetch user info: %w", err)
		}
		servers, err := stc.FetchServerListContext(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("fetch server list: %w", err)
		}
		if a := servers.Available(); a != nil {
			servers = *a
		}
		if len(servers) == 0 {
			return Result{}, errors.New("no servers available")
		}
		sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
		servers = servers[:min(candidates, len(servers))]

		var best *st.Server
		for _, sv := range servers {
			if err := sv.PingTestContext(ctx, nil); err != nil || sv.Latency <= 0 {
				continue
			}
			if best == nil || sv.Latency < best.Latency {
				best = sv
			}
		}
		if best == nil {
			return Result{}, errors.New("all latency tests failed")
		}
		if err := best.DownloadTestContext(ctx); err != nil {
			return Result{}, fmt.Errorf("download test: %w", err)
		}
		if err := best.UploadTestContext(ctx); err != nil {
			return Result{}, fmt.Errorf("upload test: %w", err)
		}
		return Result{
			At:            time.Now(),
			DownloadMbps:  best.DLSpeed.Mbps(),
			UploadMbps:    best.ULSpeed.Mbps(),
			PingMs:        float64(best.Latency.Microseconds()) / 1000,
			ISP:           user.Isp,
			ServerName:    best.Sponsor,
			ServerCountry: best.Country,
			Duration:      time.Since(start),
		}, nil
	}
}
