package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bwkeeper/internal/eventbus"
	rtsup "bwkeeper/internal/runtime/supervisor"
	logx "bwkeeper/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	cfg     Config
	src     ConfigSource
	sinks   []Sink
	log     logx.Logger
	bus     eventbus.Bus
	limiter *rate.Limiter

	queue     chan string
	accepting bool
	done      chan struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, src ConfigSource, sinks []Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:     cfg,
		src:     src,
		sinks:   sinks,
		log:     log,
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start launches the worker under sup. Calling it twice is a no-op.
func (s *Service) Start(sup *rtsup.Supervisor) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	q := make(chan string, s.cfg.QueueSize)
	done := make(chan struct{})
	s.queue = q
	s.done = done
	s.accepting = true
	s.mu.Unlock()

	sup.Go0("notifier.worker", func(ctx context.Context) {
		defer close(done)
		s.work(ctx, q)
	})
}

// Stop refuses new messages and waits for queued ones to be delivered.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	close(s.queue)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues text for delivery and returns immediately.
func (s *Service) Notify(_ context.Context, text string) {
	if err := s.Enqueue(text); err != nil {
		s.log.Warn("notification dropped", logx.Err(err), logx.String("text", logx.Flatten(text)))
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyDropped, Data: Event{At: time.Now(), Error: err.Error()}})
	}
}

func (s *Service) Enqueue(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.accepting {
		return ErrStopped
	}
	select {
	case s.queue <- text:
		return nil
	default:
		return ErrQueueFull
	}
}

// History returns the most recent messages, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) work(ctx context.Context, q <-chan string) {
	for {
		select {
		case text, ok := <-q:
			if !ok {
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			s.deliver(ctx, text)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) deliver(ctx context.Context, text string) {
	cfg, err := s.src.Load()
	if err != nil {
		s.log.Warn("notifier could not load config", logx.Err(err))
	}
	item := HistoryItem{At: time.Now(), Text: text}

	for _, sink := range s.sinks {
		if !sink.Configured(cfg) {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
		err := sink.Send(sctx, cfg, text)
		cancel()
		ev := Event{Sink: sink.Name(), At: time.Now()}
		if err != nil {
			item.Failed = append(item.Failed, sink.Name())
			ev.Error = err.Error()
			s.log.Warn("notification failed", logx.String("sink", sink.Name()), logx.Err(err))
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Data: ev})
			continue
		}
		item.Sent = append(item.Sent, sink.Name())
		s.log.Info("notification sent", logx.String("sink", sink.Name()), logx.String("text", logx.Flatten(text)))
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Data: ev})
	}
	if len(item.Sent) == 0 && len(item.Failed) == 0 {
		item.Skipped = true
		s.log.Info("no notification sink configured, message not sent")
	}
	s.remember(item)
}

func (s *Service) remember(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}
