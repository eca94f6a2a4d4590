package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	logx "bwkeeper/pkg/logx"

	"github.com/spf13/afero"
)

func TestLoadMissingWritesDefaults(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	st := NewStore(fs, "/config/config.json", logx.Nop())

	cfg, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("Load = %+v, want defaults", cfg)
	}
	onDisk, err := st.Parse()
	if err != nil {
		t.Fatalf("defaults were not persisted: %v", err)
	}
	if !reflect.DeepEqual(onDisk, Default()) {
		t.Fatalf("persisted = %+v", onDisk)
	}
}

func TestLoadCorruptRegeneratesDefaults(t *testing.T) {
	t.Parallel()
	for _, path := range []string{"/c/config.json", "/c/config.yaml"} {
		path := path
		t.Run(filepath.Ext(path), func(t *testing.T) {
			t.Parallel()
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, path, []byte("{not: [valid"), 0o644); err != nil {
				t.Fatal(err)
			}
			st := NewStore(fs, path, logx.Nop())
			cfg, err := st.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Cron != "0 2 * * *" || len(cfg.ValidLinks()) != 3 {
				t.Fatalf("unexpected defaults %+v", cfg)
			}
			if _, err := st.Parse(); err != nil {
				t.Fatalf("corrupt file was not replaced: %v", err)
			}
		})
	}
}

func TestSaveRejectsTooManyLinks(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	st := NewStore(fs, "/config.json", logx.Nop())
	prev := &Config{DownloadLinks: []string{"https://a.example/x.iso"}, Cron: "0 * * * *", SpeedLimit: "1mbps"}
	if err := st.Save(prev); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before, _ := afero.ReadFile(fs, "/config.json")

	six := &Config{DownloadLinks: []string{"a", "b", "c", "d", "e", "f"}}
	err := st.Save(six)
	if !errors.Is(err, ErrTooManyLinks) {
		t.Fatalf("err = %v, want ErrTooManyLinks", err)
	}
	after, _ := afero.ReadFile(fs, "/config.json")
	if string(before) != string(after) {
		t.Fatalf("file changed after rejected save")
	}

	// Blank entries do not count.
	padded := &Config{DownloadLinks: []string{"a", " ", "b", "", "c", "d", "e", "\t"}}
	if err := st.Save(padded); err != nil {
		t.Fatalf("Save with blanks: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		path string
		cfg  *Config
	}{
		{
			name: "json",
			path: "/data/config.json",
			cfg: &Config{
				DownloadLinks:   []string{"https://m.example/a.iso?x=1&y=2", "  ", "ftp://f.example/b.iso"},
				Cron:            "30 2 * * *",
				SpeedLimit:      "3mbps",
				DingTalkWebhook: "https://oapi.dingtalk.com/robot/send?access_token=t",
				DingTalkSecret:  "SEC带宽",
			},
		},
		{
			name: "yaml",
			path: "/data/config.yml",
			cfg: &Config{
				DownloadLinks: []string{"https://m.example/a.iso"},
				Cron:          "",
				SpeedLimit:    "unlimited",
				Telegram:      &TelegramConfig{Token: "123:abc", ChatID: -1001234567890, ThreadID: 7},
			},
		},
		{
			name: "empty",
			path: "/data/empty.json",
			cfg:  &Config{},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fs := afero.NewMemMapFs()
			st := NewStore(fs, tt.path, logx.Nop())
			if err := st.Save(tt.cfg); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := st.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if !reflect.DeepEqual(got, tt.cfg) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, tt.cfg)
			}
		})
	}
}

func TestSaveKeepsTextUnescaped(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	st := NewStore(fs, "/config.json", logx.Nop())
	cfg := &Config{DownloadLinks: []string{"https://m.example/a?x=1&y=<2>"}, DingTalkSecret: "密钥"}
	if err := st.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, _ := afero.ReadFile(fs, "/config.json")
	for _, want := range []string{"密钥", "&y=<2>", "\n  \"cron\""} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("expected %q in %s", want, b)
		}
	}
}

func TestValidLinksAndTier(t *testing.T) {
	t.Parallel()
	cfg := &Config{DownloadLinks: []string{"", "  https://a  ", "\t", "b"}, SpeedLimit: " 5MBPS "}
	if got := cfg.ValidLinks(); !reflect.DeepEqual(got, []string{"https://a", "b"}) {
		t.Fatalf("ValidLinks = %q", got)
	}
	if got := cfg.Tier(); got != Tier5MBps {
		t.Fatalf("Tier = %v", got)
	}
	var nilCfg *Config
	if nilCfg.ValidLinks() != nil || nilCfg.Tier() != TierUnlimited {
		t.Fatal("nil config should be empty and unlimited")
	}
}

func TestParseTier(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		tier  SpeedLimitTier
		bytes int64
		ok    bool
	}{
		{in: "unlimited", tier: TierUnlimited, bytes: 0, ok: true},
		{in: "1mbps", tier: Tier1MBps, bytes: 1 << 20, ok: true},
		{in: "3mbps", tier: Tier3MBps, bytes: 3 << 20, ok: true},
		{in: "5mbps", tier: Tier5MBps, bytes: 5 << 20, ok: true},
		{in: "", tier: TierUnlimited, bytes: 0, ok: false},
		{in: "10mbps", tier: TierUnlimited, bytes: 0, ok: false},
	}
	for _, tt := range tests {
		got, ok := ParseTier(tt.in)
		if got != tt.tier || ok != tt.ok || got.BytesPerSecond() != tt.bytes {
			t.Fatalf("ParseTier(%q) = %v/%v/%d, want %v/%v/%d", tt.in, got, ok, got.BytesPerSecond(), tt.tier, tt.ok, tt.bytes)
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := a.Clone()
	b.Cron = "0 * * * *"
	b.DingTalkSecret = "new"
	b.Telegram = &TelegramConfig{Token: "t", ChatID: 1}

	changed, attrs := SummarizeChange(a, b)
	want := []string{"cron", "dingtalk", "telegram"}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if c, _ := SummarizeChange(a, a.Clone()); len(c) != 0 {
		t.Fatalf("unexpected changes %v", c)
	}
}

func TestWatchPublishesExternalEdits(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.json")
	st := NewStore(afero.NewOsFs(), path, logx.Nop())
	if _, err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := st.Subscribe(1)
	defer st.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = st.Watch(ctx)
	}()
	time.Sleep(200 * time.Millisecond)

	if err := os.WriteFile(path, []byte(`{"download_links":[],"cron":"*/1 * * * *","speed_limit":"1mbps"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-ch:
		if cfg.Cron != "*/1 * * * *" {
			t.Fatalf("published cron = %q", cfg.Cron)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	cancel()
	<-done
}

func startWatch(t *testing.T) (*Store, string, chan *Config) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	st := NewStore(afero.NewOsFs(), path, logx.Nop())
	if _, err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := st.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = st.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		st.Unsubscribe(ch)
	})
	time.Sleep(200 * time.Millisecond)
	return st, path, ch
}

func TestWatchPublishesEditReadDuringDebounce(t *testing.T) {
	t.Parallel()
	st, path, ch := startWatch(t)

	if err := os.WriteFile(path, []byte(`{"download_links":[],"cron":"30 3 * * *","speed_limit":"3mbps"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	// A run or an API read landing inside the debounce window.
	time.Sleep(20 * time.Millisecond)
	if cfg, err := st.Load(); err != nil || cfg.Cron != "30 3 * * *" {
		t.Fatalf("Load = %+v, %v", cfg, err)
	}

	select {
	case cfg := <-ch:
		if cfg.Cron != "30 3 * * *" {
			t.Fatalf("published cron = %q", cfg.Cron)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("edit read during debounce was never published")
	}
}

func TestWatchIgnoresOwnSaves(t *testing.T) {
	t.Parallel()
	st, _, ch := startWatch(t)

	cfg := Default()
	cfg.Cron = "*/1 * * * *"
	if err := st.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	select {
	case got := <-ch:
		t.Fatalf("own save republished: %+v", got)
	case <-time.After(time.Second):
	}
}
