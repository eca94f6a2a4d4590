package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	logx "bwkeeper/pkg/logx"
)

// fileStore appends one JSON object per line. Reads scan the whole file and
// keep the newest records; run volume is a few per day.
type fileStore struct {
	fs   afero.Fs
	path string
	log  logx.Logger

	mu sync.Mutex
	f  afero.File
}

func OpenFile(fs afero.Fs, path string, log logx.Logger) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage path is required for file driver")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{fs: fs, path: path, log: log, f: f}, nil
}

func (s *fileStore) AppendRun(_ context.Context, r RunRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrDisabled
	}
	_, err = s.f.Write(b)
	return err
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	limit = clampLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrDisabled
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]RunRecord, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping malformed history line", logx.Err(err))
			continue
		}
		if len(ring) < limit {
			ring = append(ring, r)
			continue
		}
		ring[next] = r
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]RunRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
