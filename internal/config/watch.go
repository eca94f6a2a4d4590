package config

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "bwkeeper/pkg/logx"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

const (
	watchDebounce      = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watch publishes documents changed outside this process (hand edits, config
// management) to subscribers. Writes made through Save are not republished.
// It only works on the OS filesystem and returns immediately otherwise.
func (s *Store) Watch(ctx context.Context) error {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		s.log.Debug("config watch skipped (not an OS filesystem)")
		return nil
	}

	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	// Seed the echo filter; afterwards only write and reloadFromDisk update it.
	if s.hash() == 0 {
		if _, raw, err := s.read(); err == nil {
			s.setHash(hashBytes(raw))
		}
	}

	backoff := restartBackoffBase
	nextWait := func() time.Duration {
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, restartBackoffMax)
		return wait
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() { s.reloadFromDisk() })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(nextWait()):
				continue
			}
		}

		backoff = restartBackoffBase
		s.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					s.log.Warn("config watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				s.log.Warn("config watch error", logx.Err(err), logx.String("dir", dir))
			}
		}

		_ = w.Close()
		wait := nextWait()
		s.log.Warn("config watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (s *Store) reloadFromDisk() {
	cfg, raw, err := s.read()
	if err != nil {
		// Half-written or removed files are ignored; the next Load repairs them.
		s.log.Debug("config reload skipped", logx.String("path", s.path), logx.Err(err))
		return
	}
	h := hashBytes(raw)
	if h == s.hash() {
		return
	}
	s.setHash(h)
	s.publish(cfg)
	s.log.Info("config changed on disk", logx.String("path", s.path), logx.String("hash", fmt.Sprintf("%x", h)))
}
