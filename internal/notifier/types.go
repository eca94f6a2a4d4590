package notifier

import (
	"context"
	"time"

	"bwkeeper/internal/config"
)

// Config controls the queue and its worker.
type Config struct {
	QueueSize   int
	RatePerSec  int
	HistorySize int
	SendTimeout time.Duration
}

// ConfigSource yields the task document holding sink credentials.
type ConfigSource interface {
	Load() (*config.Config, error)
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	// Configured reports whether cfg carries what the sink needs.
	Configured(cfg *config.Config) bool
	Send(ctx context.Context, cfg *config.Config, text string) error
}

// HistoryItem records what happened to one message.
type HistoryItem struct {
	At      time.Time `json:"at"`
	Text    string    `json:"text"`
	Sent    []string  `json:"sent,omitempty"`
	Failed  []string  `json:"failed,omitempty"`
	Skipped bool      `json:"skipped,omitempty"`
}

// Event is the data of notifier.* bus events.
type Event struct {
	Sink  string    `json:"sink,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
