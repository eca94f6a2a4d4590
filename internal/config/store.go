package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"

	logx "bwkeeper/pkg/logx"

	"github.com/spf13/afero"
)

var ErrTooManyLinks = errors.New("too many download links")

// Store persists the task document as a whole. There is no in-memory cache:
// every Load reads the file so concurrent edits are picked up on the next run.
type Store struct {
	fs   afero.Fs
	path string
	log  logx.Logger

	// wmu serializes writers inside this process; across processes the
	// rename makes the last writer win.
	wmu sync.Mutex

	subsMu sync.Mutex
	subs   []chan *Config

	hmu      sync.Mutex
	lastHash uint64
}

func NewStore(fs afero.Fs, path string, log logx.Logger) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{fs: fs, path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Parse reads and decodes the file without any fallback.
func (s *Store) Parse() (*Config, error) {
	cfg, _, err := s.read()
	return cfg, err
}

func (s *Store) read() (*Config, []byte, error) {
	b, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := decode(s.path, b)
	if err != nil {
		return nil, b, err
	}
	return cfg, b, nil
}

func decode(path string, b []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// Load returns the persisted document. A missing or corrupt file is replaced
// by Default(), which is persisted before returning. The returned config is
// never nil; a non-nil error means the file could not be read or rewritten
// and the defaults are in effect for this call only.
func (s *Store) Load() (*Config, error) {
	cfg, _, err := s.read()
	if err == nil {
		return cfg, nil
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		s.log.Info("config not found; writing defaults", logx.String("path", s.path))
	case isDecodeError(err):
		s.log.Warn("config unreadable; regenerating defaults", logx.String("path", s.path), logx.Err(err))
	default:
		s.log.Error("config read failed", logx.String("path", s.path), logx.Err(err))
		return Default(), fmt.Errorf("read config: %w", err)
	}

	def := Default()
	if werr := s.write(def); werr != nil {
		s.log.Error("config save failed", logx.String("path", s.path), logx.Err(werr))
		return def, werr
	}
	return def, nil
}

// isDecodeError treats everything that is not a filesystem error as corruption.
func isDecodeError(err error) bool {
	var pe *os.PathError
	return !errors.As(err, &pe)
}

// Save validates and writes cfg. Documents with more than MaxLinks non-empty
// links are rejected before anything touches the file.
func (s *Store) Save(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if n := len(cfg.ValidLinks()); n > MaxLinks {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyLinks, n, MaxLinks)
	}
	if err := s.write(cfg); err != nil {
		s.log.Error("config save failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	s.log.Info("config saved", logx.String("path", s.path))
	return nil
}

func (s *Store) write(cfg *Config) error {
	b, err := encode(s.path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return err
	}
	s.setHash(hashBytes(b))
	return nil
}

func (s *Store) setHash(h uint64) {
	s.hmu.Lock()
	s.lastHash = h
	s.hmu.Unlock()
}

func (s *Store) hash() uint64 {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return s.lastHash
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (s *Store) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan *Config) {
	if ch == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			last := len(s.subs) - 1
			s.subs[i] = s.subs[last]
			s.subs[last] = nil
			s.subs = s.subs[:last]
			close(ch)
			return
		}
	}
}

func (s *Store) publish(cfg *Config) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		// Deliver the latest document; drop the oldest queued one if full.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
				s.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
			}
		}
	}
}
