package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string        // file and sqlite
	DSN         string        // mysql
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one finished or skipped run.
type RunRecord struct {
	ID         int64     `json:"id,omitempty" gorm:"primaryKey;autoIncrement"`
	RunID      string    `json:"run_id" gorm:"size:36;uniqueIndex"`
	Source     string    `json:"source" gorm:"size:32"`
	StartedAt  time.Time `json:"started_at" gorm:"index"`
	URL        string    `json:"url,omitempty" gorm:"size:2048"`
	SpeedLimit string    `json:"speed_limit,omitempty" gorm:"size:32"`
	Bytes      int64     `json:"bytes"`
	DurationMS int64     `json:"duration_ms"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty" gorm:"size:1024"`
	Skipped    bool      `json:"skipped,omitempty"`
}

func (RunRecord) TableName() string { return "run_history" }

// Store persists run records.
type Store interface {
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

const (
	DefaultLimit = 20
	MaxLimit     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	default:
		return n
	}
}
